// Package finalize implements the finalizer: it drives the child
// process lifecycles to completion, resolves exported marks into object
// ids, writes commit-map/ref-map, applies the deferred ref-update batch,
// and repairs HEAD.
package finalize

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/kesvarga/histsplice/internal/config"
	"github.com/kesvarga/histsplice/internal/gitproc"
)

const zeroOID = "0000000000000000000000000000000000000000"

// CommitPair is one original-id/mark pairing accumulated by the commit
// assembler, consumed here to produce commit-map.
type CommitPair struct {
	OriginalOID string
	Mark        int // 0 means the commit was pruned, whether or not an alias was emitted
}

// RefRename is one (old, new) ref pair recorded by the commit assembler or
// tag/reset handler.
type RefRename struct {
	Old string
	New string
}

// BranchResetTarget is a queued branch reset whose target still needs
// resolving against mark_to_id or the target repository.
type BranchResetTarget struct {
	Ref    string // "refs/heads/<name>", already renamed
	Target string // ":N", 40-hex, or a revision spec
}

// LoadTargetMarks reads a "git fast-import --export-marks" file (lines of
// ":<mark> <new-id>") into a mark -> object-id table.
func LoadTargetMarks(path string) (map[int]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[int]string)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 || !strings.HasPrefix(fields[0], ":") {
			continue
		}
		mark, err := strconv.Atoi(fields[0][1:])
		if err != nil {
			continue
		}
		out[mark] = fields[1]
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// WriteRefMap writes every rename with Old != New, one "<old> <new>" line
// per record. The equality check is enforced upstream by
// marks.MarkState.RecordRefRename, but filtered again here defensively.
func WriteRefMap(path string, renames []RefRename) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, r := range renames {
		if r.Old == r.New {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s %s\n", r.Old, r.New); err != nil {
			return err
		}
	}
	return w.Flush()
}

// WriteCommitMap writes "<original-id> <new-id>" for every commit pair,
// using 40 zeros for commits with no surviving mark or an unresolved mark.
// The file is always created, even with zero pairs.
func WriteCommitMap(path string, pairs []CommitPair, markToID map[int]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, p := range pairs {
		newID := zeroOID
		if p.Mark != 0 {
			if id, ok := markToID[p.Mark]; ok {
				newID = id
			}
		}
		if _, err := fmt.Fprintf(w, "%s %s\n", p.OriginalOID, newID); err != nil {
			return err
		}
	}
	return w.Flush()
}

// RescanCommitPairs reconstructs commit pairs from a filtered-stream mirror
// when the in-memory list collected during assembly is empty. It scans for
// "commit" blocks and pairs
// each block's "mark :N" with its "original-oid <hex>" line, skipping
// "data <n>" payloads by their exact byte count so binary message content
// can never be misread as a header line.
func RescanCommitPairs(r io.Reader) ([]CommitPair, error) {
	var pairs []CommitPair
	br := bufio.NewReaderSize(r, 64*1024)

	inCommit := false
	var curMark int
	var curOriginal string
	haveMark, haveOriginal := false, false

	flush := func() {
		if haveMark && haveOriginal {
			pairs = append(pairs, CommitPair{OriginalOID: curOriginal, Mark: curMark})
		}
		curMark, curOriginal = 0, ""
		haveMark, haveOriginal = false, false
	}

	for {
		line, err := br.ReadString('\n')
		if len(line) == 0 && err != nil {
			break
		}
		trimmed := strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "commit "):
			inCommit = true
			haveMark, haveOriginal = false, false
		case !inCommit:
		case strings.HasPrefix(line, "mark :"):
			if n, err := strconv.Atoi(strings.TrimSpace(trimmed[len("mark :"):])); err == nil {
				curMark = n
				haveMark = true
			}
		case strings.HasPrefix(line, "original-oid "):
			curOriginal = strings.TrimSpace(trimmed[len("original-oid "):])
			haveOriginal = true
		case strings.HasPrefix(line, "data "):
			n, perr := strconv.Atoi(strings.TrimSpace(trimmed[len("data "):]))
			if perr == nil && n > 0 {
				if _, err := io.CopyN(io.Discard, br, int64(n)); err != nil {
					return pairs, err
				}
			}
		case trimmed == "":
			flush()
			inCommit = false
		}
		if err != nil {
			break
		}
	}
	return pairs, nil
}

// resolveResetTarget resolves one branch-reset target against mark_to_id,
// a bare hex id, or the target repository's own resolver. A false result
// means the target could not be resolved and the caller should skip it; a
// missing mark or a failed resolver call is logged as a warning here.
func resolveResetTarget(ctx context.Context, targetDir string, target string, markToID map[int]string) (string, bool) {
	if target == "" {
		return "", false
	}
	if target[0] == ':' {
		n, err := strconv.Atoi(target[1:])
		if err != nil {
			return "", false
		}
		oid, ok := markToID[n]
		if !ok {
			fmt.Fprintf(os.Stderr, "warning: mark %s not found in target marks; skipping ref update\n", target)
			return "", false
		}
		return oid, true
	}
	if len(target) == 40 && isHex(target) {
		return strings.ToLower(target), true
	}
	out, err := gitproc.New(ctx, "", "git", "-C", targetDir, "rev-parse", "--verify", target).Raw.Output()
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not resolve %q for ref update: %v\n", target, err)
		return "", false
	}
	oid := strings.TrimSpace(string(out))
	if oid == "" {
		return "", false
	}
	return oid, true
}

func isHex(s string) bool {
	for _, b := range []byte(s) {
		if !((b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')) {
			return false
		}
	}
	return true
}

// ApplyRefUpdates resolves every branch-reset target, decides which old
// renamed refs are safe to delete, and applies the whole batch to the
// target repository with a single "git update-ref --stdin" transaction.
// It returns the set of branch refs that were actually updated, needed
// for HEAD repair. Resolution and deletion failures, and a non-zero exit of
// the update-ref transaction itself, are logged as warnings; only a failure
// to start update-ref or to feed it its input is returned as an error.
func ApplyRefUpdates(ctx context.Context, targetDir string, resets []BranchResetTarget, renames []RefRename, markToID map[int]string) ([]string, error) {
	type update struct{ ref, oid string }
	var updates []update
	var updatedBranches []string

	for _, rt := range resets {
		oid, ok := resolveResetTarget(ctx, targetDir, rt.Target, markToID)
		if !ok {
			continue
		}
		updates = append(updates, update{rt.Ref, oid})
		if strings.HasPrefix(rt.Ref, "refs/heads/") {
			updatedBranches = append(updatedBranches, rt.Ref)
		}
	}

	var deletes []string
	for _, rn := range renames {
		if rn.Old == rn.New {
			continue
		}
		resolved, ok := resolveRefName(ctx, targetDir, rn.Old)
		switch {
		case ok && resolved == rn.Old:
			deletes = append(deletes, rn.Old)
		case ok:
			fmt.Fprintf(os.Stderr, "warning: not deleting %s because repository resolves to %s\n", rn.Old, resolved)
		default:
			fmt.Fprintf(os.Stderr, "warning: not deleting %s because it does not exist\n", rn.Old)
		}
	}

	if len(updates) == 0 && len(deletes) == 0 {
		return updatedBranches, nil
	}

	var payload bytes.Buffer
	for _, u := range updates {
		fmt.Fprintf(&payload, "update %s %s\n", u.ref, u.oid)
	}
	for _, d := range deletes {
		fmt.Fprintf(&payload, "delete %s\n", d)
	}

	cmd := gitproc.New(ctx, "", "git", "-C", targetDir, "update-ref", "--no-deref", "--stdin")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return updatedBranches, err
	}
	if err := cmd.Start(); err != nil {
		return updatedBranches, err
	}
	if _, err := stdin.Write(payload.Bytes()); err != nil {
		stdin.Close()
		_ = cmd.Wait()
		return updatedBranches, err
	}
	stdin.Close()
	if err := cmd.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: git update-ref operations failed: %v\n", err)
	}
	return updatedBranches, nil
}

// resolveRefName queries "git for-each-ref" for the canonical name a ref
// spec resolves to, used to decide whether an old renamed ref still points
// to itself (and is therefore safe to delete) or has already been claimed
// by something else.
func resolveRefName(ctx context.Context, targetDir, ref string) (string, bool) {
	out, err := gitproc.New(ctx, "", "git", "-C", targetDir, "for-each-ref", "--format=%(refname)", ref).Raw.Output()
	if err != nil {
		return "", false
	}
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimRight(line, "\r")
		if line != "" {
			return line, true
		}
	}
	return "", false
}

// RepairHEAD fixes up a symbolic HEAD that now targets a nonexistent ref,
// or a detached HEAD, once all branch resets and deletions have landed.
func RepairHEAD(ctx context.Context, targetDir string, branchRename *config.Rename, updatedBranches []string) {
	headRef, ok := symbolicRef(ctx, targetDir, "HEAD")
	if !ok {
		// Detached HEAD: if any branch was updated, point HEAD at the first.
		if len(updatedBranches) > 0 {
			sorted := append([]string(nil), updatedBranches...)
			sort.Strings(sorted)
			setSymbolicRef(ctx, targetDir, sorted[0])
		}
		return
	}
	if refExists(ctx, targetDir, headRef) {
		return
	}

	var fallback string
	if branchRename != nil {
		if tail, ok := strings.CutPrefix(headRef, "refs/heads/"); ok && strings.HasPrefix(tail, string(branchRename.Old)) {
			candidate := "refs/heads/" + string(branchRename.New) + tail[len(branchRename.Old):]
			if refExists(ctx, targetDir, candidate) {
				fallback = candidate
			}
		}
	}
	if fallback == "" && len(updatedBranches) > 0 {
		sorted := append([]string(nil), updatedBranches...)
		sort.Strings(sorted)
		fallback = sorted[0]
	}
	if fallback == "" {
		fallback, _ = firstExistingBranch(ctx, targetDir)
	}
	if fallback == "" {
		return
	}
	setSymbolicRef(ctx, targetDir, fallback)
}

func symbolicRef(ctx context.Context, targetDir, name string) (string, bool) {
	out, err := gitproc.New(ctx, "", "git", "-C", targetDir, "symbolic-ref", "-q", name).Raw.Output()
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(out)), true
}

func setSymbolicRef(ctx context.Context, targetDir, target string) {
	if err := gitproc.New(ctx, "", "git", "-C", targetDir, "symbolic-ref", "HEAD", target).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to update HEAD to %s: %v\n", target, err)
	}
}

func refExists(ctx context.Context, targetDir, ref string) bool {
	return gitproc.New(ctx, "", "git", "-C", targetDir, "show-ref", "--verify", ref).Run() == nil
}

func firstExistingBranch(ctx context.Context, targetDir string) (string, bool) {
	out, err := gitproc.New(ctx, "", "git", "-C", targetDir, "for-each-ref", "--count=1", "--format=%(refname)", "refs/heads").Raw.Output()
	if err != nil {
		return "", false
	}
	name := strings.TrimSpace(string(out))
	return name, name != ""
}
