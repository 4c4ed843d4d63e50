// Package commitassembler implements the commit assembler: it buffers
// a single "commit" record from the producer, applies path filtering and
// renaming to its filechanges, rewrites its message, finalises its parent
// list against the alias map, and decides whether the commit survives.
package commitassembler

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/kesvarga/histsplice/internal/config"
	"github.com/kesvarga/histsplice/internal/marks"
	"github.com/kesvarga/histsplice/internal/pathrule"
	"github.com/kesvarga/histsplice/internal/stream"
)

// ParentKind distinguishes a "from" parent from a "merge" parent.
type ParentKind int

const (
	ParentFrom ParentKind = iota
	ParentMerge
)

// Parent is one buffered from/merge line.
type Parent struct {
	Kind ParentKind
	Mark int // 0 if the parent is a bare hex id, kept verbatim
	Raw  []byte
}

func (p Parent) rebuild(mark int) []byte {
	verb := "from"
	if p.Kind == ParentMerge {
		verb = "merge"
	}
	return []byte(fmt.Sprintf("%s :%d\n", verb, mark))
}

// Commit is the in-progress buffer for one commit record.
type Commit struct {
	HeaderLine  []byte // "commit <ref>\n", possibly rewritten by a branch/tag rename
	Mark        int
	OriginalOID string
	AuthorLines [][]byte // author/committer lines, buffered verbatim
	Message     []byte
	Parents     []Parent
	FileChanges [][]byte
	HasChanges  bool

	firstParentMark int // 0 means none
	hasFirstParent  bool
}

// Assembler owns the configuration needed to assemble and finalise commits:
// path rules, renames, message replacement, and the shared mark state.
type Assembler struct {
	Rules        *pathrule.Rules
	BranchRename *config.Rename
	TagRename    *config.Rename
	MessageRepl  *config.Replacer
	ShortHashes  ShortHashMapper
	Marks        *marks.MarkState
}

// ShortHashMapper rewrites 7-40 hex-character old-commit-id prefixes found
// in commit/tag message text to their corresponding new id, built from a
// previous run's commit-map.
type ShortHashMapper interface {
	Rewrite(message []byte) []byte
}

// StartCommit begins buffering a new commit, applying the branch/tag rename
// to the ref named in headerLine and recording the rename if it fired.
func (a *Assembler) StartCommit(headerLine []byte) *Commit {
	return &Commit{HeaderLine: a.renameHeaderRef(headerLine)}
}

func (a *Assembler) renameHeaderRef(line []byte) []byte {
	const prefix = "commit "
	if !bytes.HasPrefix(line, []byte(prefix)) {
		return line
	}
	refName := bytes.TrimSuffix(line[len(prefix):], []byte("\n"))
	if rewritten, ok := a.renamedRef(refName, "refs/tags/", a.TagRename); ok {
		return append([]byte(prefix), append(rewritten, '\n')...)
	}
	if rewritten, ok := a.renamedRef(refName, "refs/heads/", a.BranchRename); ok {
		return append([]byte(prefix), append(rewritten, '\n')...)
	}
	return line
}

func (a *Assembler) renamedRef(refName []byte, namespace string, rn *config.Rename) (newRef []byte, ok bool) {
	if rn == nil || !bytes.HasPrefix(refName, []byte(namespace)) {
		return nil, false
	}
	name := refName[len(namespace):]
	if !bytes.HasPrefix(name, rn.Old) {
		return nil, false
	}
	newRef = append([]byte(namespace), append(append([]byte{}, rn.New...), name[len(rn.Old):]...)...)
	a.Marks.RecordRefRename(string(refName), string(newRef))
	return newRef, true
}

// AddParent buffers a from/merge line. Mark extraction happens eagerly so
// FinalizeParents doesn't need to re-parse; "first parent" bookkeeping is
// entirely owned by FinalizeParents, which runs once the whole parent list
// is known (a commit with, say, only a dropped first parent needs the same
// root-like treatment as one with none at all).
func (c *Commit) AddParent(kind ParentKind, raw []byte) {
	c.Parents = append(c.Parents, Parent{Kind: kind, Mark: parsePrefixedMark(raw, kind), Raw: raw})
}

func parsePrefixedMark(raw []byte, kind ParentKind) int {
	prefix := "from :"
	if kind == ParentMerge {
		prefix = "merge :"
	}
	if !bytes.HasPrefix(raw, []byte(prefix)) {
		return 0
	}
	s := raw[len(prefix):]
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			break
		}
		n = n*10 + int(s[i]-'0')
	}
	return n
}

// SetMessage applies literal/regex substitution and short-hash remapping to
// the commit message payload.
func (a *Assembler) SetMessage(c *Commit, payload []byte) {
	msg := a.MessageRepl.Apply(payload)
	if a.ShortHashes != nil {
		msg = a.ShortHashes.Rewrite(msg)
	}
	c.Message = msg
}

// FilterFileChange applies path inclusion/renaming to one buffered
// filechange line, returning the (possibly rewritten) line and whether it
// should be kept. "deleteall" always passes through unchanged.
func (a *Assembler) FilterFileChange(line []byte) (out []byte, keep bool) {
	trimmed := bytes.TrimSuffix(line, []byte("\n"))
	switch {
	case bytes.Equal(trimmed, []byte("deleteall")):
		return line, true
	case bytes.HasPrefix(line, []byte("D ")):
		return a.filterSinglePath(line, "D ")
	case bytes.HasPrefix(line, []byte("M ")):
		return a.filterModify(line)
	case bytes.HasPrefix(line, []byte("C ")), bytes.HasPrefix(line, []byte("R ")):
		return a.filterTwoPath(line)
	default:
		return line, true
	}
}

func (a *Assembler) filterSinglePath(line []byte, verb string) ([]byte, bool) {
	path := bytes.TrimSuffix(line[len(verb):], []byte("\n"))
	unquoted := pathrule.MaybeUnquote(path)
	if !a.Rules.Keep(unquoted) {
		return nil, false
	}
	rewritten := a.Rules.Rewrite(unquoted)
	return rebuildLine(verb, rewritten), true
}

func (a *Assembler) filterModify(line []byte) ([]byte, bool) {
	rest := line[len("M "):]
	sp1 := bytes.IndexByte(rest, ' ')
	if sp1 < 0 {
		return line, true
	}
	mode := rest[:sp1]
	rest2 := rest[sp1+1:]
	sp2 := bytes.IndexByte(rest2, ' ')
	if sp2 < 0 {
		return line, true
	}
	ref := rest2[:sp2]
	path := bytes.TrimSuffix(rest2[sp2+1:], []byte("\n"))
	unquoted := pathrule.MaybeUnquote(path)
	if !a.Rules.Keep(unquoted) {
		return nil, false
	}
	rewritten := a.Rules.Rewrite(unquoted)
	quoted := pathrule.QuoteIfNeeded(rewritten)
	out := make([]byte, 0, 2+len(mode)+1+len(ref)+1+len(quoted)+1)
	out = append(out, 'M', ' ')
	out = append(out, mode...)
	out = append(out, ' ')
	out = append(out, ref...)
	out = append(out, ' ')
	out = append(out, quoted...)
	out = append(out, '\n')
	return out, true
}

func (a *Assembler) filterTwoPath(line []byte) ([]byte, bool) {
	verb := line[:2]
	rest := bytes.TrimSuffix(line[2:], []byte("\n"))
	sp := bytes.IndexByte(rest, ' ')
	if sp < 0 {
		return line, true
	}
	src := pathrule.MaybeUnquote(rest[:sp])
	dst := pathrule.MaybeUnquote(rest[sp+1:])
	keepSrc, keepDst := a.Rules.Keep(src), a.Rules.Keep(dst)
	if !keepSrc && !keepDst {
		return nil, false
	}
	newSrc := pathrule.QuoteIfNeeded(a.Rules.Rewrite(src))
	newDst := pathrule.QuoteIfNeeded(a.Rules.Rewrite(dst))
	out := make([]byte, 0, len(verb)+1+len(newSrc)+1+len(newDst)+1)
	out = append(out, verb...)
	out = append(out, newSrc...)
	out = append(out, ' ')
	out = append(out, newDst...)
	out = append(out, '\n')
	return out, true
}

// InlineFileChange is a detected "M <mode> inline <path>" header: content
// immediately follows as a "data" record rather than referencing a mark or
// object id. The engine reads the data payload itself — Mode/Path only
// cover the header.
type InlineFileChange struct {
	Mode []byte
	Path []byte
}

// DetectInlineFileChange reports whether line is an "M <mode> inline
// <path>" header, distinct from a normal mark/id-referencing M-line.
func DetectInlineFileChange(line []byte) (InlineFileChange, bool) {
	if !bytes.HasPrefix(line, []byte("M ")) {
		return InlineFileChange{}, false
	}
	rest := line[len("M "):]
	sp1 := bytes.IndexByte(rest, ' ')
	if sp1 < 0 {
		return InlineFileChange{}, false
	}
	mode := rest[:sp1]
	rest2 := rest[sp1+1:]
	if !bytes.HasPrefix(rest2, []byte("inline ")) {
		return InlineFileChange{}, false
	}
	path := bytes.TrimSuffix(rest2[len("inline "):], []byte("\n"))
	return InlineFileChange{Mode: mode, Path: path}, true
}

// FilterInlinePath applies path inclusion/renaming to an inline
// filechange's path only, ahead of the blob-level size/content decision
// the engine makes once it has read the data payload that follows.
func (a *Assembler) FilterInlinePath(path []byte) (rewritten []byte, keep bool) {
	unquoted := pathrule.MaybeUnquote(path)
	if !a.Rules.Keep(unquoted) {
		return nil, false
	}
	return a.Rules.Rewrite(unquoted), true
}

// BuildInlineFileChange assembles the final filechange bytes for an inline
// blob once the engine has read and decided its payload: a bare "D <path>"
// line if the blob-level decision dropped it (oversize), otherwise the
// "M <mode> inline <path>" header followed by the (possibly
// content-rewritten) "data" record.
func BuildInlineFileChange(mode, path []byte, emit bool, payload []byte) []byte {
	if !emit {
		return rebuildLine("D ", path)
	}
	quoted := pathrule.QuoteIfNeeded(path)
	header := fmt.Sprintf("M %s inline %s\n", mode, quoted)
	data := fmt.Sprintf("data %d\n", len(payload))
	out := make([]byte, 0, len(header)+len(data)+len(payload))
	out = append(out, header...)
	out = append(out, data...)
	out = append(out, payload...)
	return out
}

func rebuildLine(verb string, path []byte) []byte {
	quoted := pathrule.QuoteIfNeeded(path)
	out := make([]byte, 0, len(verb)+len(quoted)+1)
	out = append(out, verb...)
	out = append(out, quoted...)
	out = append(out, '\n')
	return out
}

// FinalizeParents canonicalises and deduplicates the commit's buffered
// parents against the alias map and emitted-marks set, rewriting surviving
// mark-based parent lines in place.
func (a *Assembler) FinalizeParents(c *Commit) {
	if len(c.Parents) == 0 {
		c.hasFirstParent = false
		return
	}
	seen := map[int]bool{}
	kept := make([]Parent, 0, len(c.Parents))
	first := -1
	for _, p := range c.Parents {
		if p.Mark == 0 {
			// bare hex-id parent: never pruned, always kept verbatim.
			kept = append(kept, p)
			continue
		}
		canon := a.Marks.Canonical(p.Mark)
		if !a.Marks.IsEmitted(canon) {
			continue
		}
		if seen[canon] {
			continue
		}
		seen[canon] = true
		if first == -1 {
			first = canon
		}
		kept = append(kept, Parent{Kind: p.Kind, Mark: canon, Raw: p.rebuild(canon)})
	}
	c.Parents = kept
	c.hasFirstParent = first != -1
	c.firstParentMark = first
}

// ShouldKeep reports whether the commit survives filtering.
func (c *Commit) ShouldKeep() bool {
	isMerge := len(c.Parents) >= 2
	return c.HasChanges || !c.hasFirstParent || c.Mark == 0 || isMerge
}

// Alias returns the "alias mark :old to :new" stanza for a pruned commit
// whose mark and canonical first parent both exist, and records the alias
// in the shared mark state. ok is false when no alias can be formed (the
// commit simply vanishes).
func (c *Commit) Alias(m *marks.MarkState) (stanza []byte, ok bool) {
	if c.Mark == 0 || !c.hasFirstParent {
		return nil, false
	}
	canon := m.Canonical(c.firstParentMark)
	if !m.IsEmitted(canon) {
		return nil, false
	}
	m.SetAlias(c.Mark, canon)
	return []byte("alias\nmark :" + strconv.Itoa(c.Mark) + "\nto :" + strconv.Itoa(canon) + "\n\n"), true
}

// Write serialises the kept commit back into the consumer stream in
// producer order: header, mark, original-oid, author lines, message,
// parents, filechanges, trailing blank line.
func (c *Commit) Write(w *stream.Sink) error {
	if _, err := w.Write(c.HeaderLine); err != nil {
		return err
	}
	if c.Mark != 0 {
		if _, err := w.Write([]byte(fmt.Sprintf("mark :%d\n", c.Mark))); err != nil {
			return err
		}
	}
	if c.OriginalOID != "" {
		if _, err := w.Write([]byte("original-oid " + c.OriginalOID + "\n")); err != nil {
			return err
		}
	}
	for _, l := range c.AuthorLines {
		if _, err := w.Write(l); err != nil {
			return err
		}
	}
	if c.Message != nil {
		header := fmt.Sprintf("data %d\n", len(c.Message))
		if _, err := w.Write(append([]byte(header), c.Message...)); err != nil {
			return err
		}
	}
	for _, p := range c.Parents {
		if _, err := w.Write(p.Raw); err != nil {
			return err
		}
	}
	for _, fc := range c.FileChanges {
		if _, err := w.Write(fc); err != nil {
			return err
		}
	}
	_, err := w.Write([]byte("\n"))
	return err
}
