// Package engine wires the path engine, stream codec, blob filter, commit
// assembler, tag/reset handler, and finalizer into one run: it owns the
// producer/consumer child processes, the record-dispatch loop that drives
// the other five components record by record, and the finalisation pass
// once the producer signals `done`.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kesvarga/histsplice/internal/blobfilter"
	"github.com/kesvarga/histsplice/internal/commitassembler"
	"github.com/kesvarga/histsplice/internal/config"
	"github.com/kesvarga/histsplice/internal/finalize"
	"github.com/kesvarga/histsplice/internal/gitproc"
	"github.com/kesvarga/histsplice/internal/marks"
	"github.com/kesvarga/histsplice/internal/pathrule"
	"github.com/kesvarga/histsplice/internal/report"
	"github.com/kesvarga/histsplice/internal/shorthash"
	"github.com/kesvarga/histsplice/internal/stream"
	"github.com/kesvarga/histsplice/internal/tagreset"
)

// Engine owns one run's configuration and shared state. It is not safe for
// concurrent use: the dispatch loop is single-threaded by design.
type Engine struct {
	Opts  *config.Options
	Caps  gitproc.Capabilities
	Marks *marks.MarkState

	Blobs   *blobfilter.Filter
	Commits *commitassembler.Assembler
	Tags    *tagreset.Handler
	Report  *report.Data

	debugDir        string
	commitPairs     []finalize.CommitPair
	updatedBranches map[string]struct{}
}

// New builds an Engine from opts, loading the message/content replacement
// files and constructing the component set. It does not touch either
// repository; that happens in Run, once the target's git directory (and
// hence the debug directory) is known.
func New(ctx context.Context, opts *config.Options) (*Engine, error) {
	msgRepl, err := config.LoadReplacer(opts.ReplaceMessageFile)
	if err != nil {
		return nil, wrap(KindConfig, err)
	}
	contentRepl, err := config.LoadReplacer(opts.ReplaceTextFile)
	if err != nil {
		return nil, wrap(KindConfig, err)
	}

	m := marks.NewMarkState()
	caps := gitproc.DetectCapabilities(ctx)

	bf, err := blobfilter.New(opts.MaxBlobSize, opts.StripBlobsWithIDs, contentRepl, sourceBlobSize(ctx, opts.Source), m)
	if err != nil {
		return nil, wrap(KindConfig, err)
	}

	asm := &commitassembler.Assembler{
		Rules:        opts.PathRules(),
		BranchRename: opts.BranchRename,
		TagRename:    opts.TagRename,
		MessageRepl:  msgRepl,
		Marks:        m,
	}

	return &Engine{
		Opts:            opts,
		Caps:            caps,
		Marks:           m,
		Blobs:           bf,
		Commits:         asm,
		Tags:            tagreset.New(opts.TagRename, msgRepl, nil, m),
		Report:          report.New(),
		updatedBranches: make(map[string]struct{}),
	}, nil
}

// sourceBlobSize builds a blobfilter.SizeLookup that asks the source
// repository for a bare hex id's blob size via "git cat-file -s", for a
// blob referenced only by hex id rather than by mark.
func sourceBlobSize(ctx context.Context, source string) blobfilter.SizeLookup {
	return func(id string) (int64, error) {
		out, err := gitproc.New(ctx, "", "git", "-C", source, "cat-file", "-s", id).Raw.Output()
		if err != nil {
			return 0, err
		}
		return strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	}
}

// Run spawns the producer and (unless DryRun) the consumer, streams the
// fast-export protocol through the component pipeline, and drives
// finalisation once the producer signals `done`.
func (e *Engine) Run(ctx context.Context) error {
	targetGitDir, err := gitDir(ctx, e.Opts.Target)
	if err != nil {
		return wrap(KindConfig, fmt.Errorf("target %q is not a git repository: %w", e.Opts.Target, err))
	}
	if _, err := gitDir(ctx, e.Opts.Source); err != nil {
		return wrap(KindConfig, fmt.Errorf("source %q is not a git repository: %w", e.Opts.Source, err))
	}

	e.debugDir = e.Opts.DebugDir
	if e.debugDir == "" {
		e.debugDir = filepath.Join(targetGitDir, "filter-repo")
	}
	if err := os.MkdirAll(e.debugDir, 0o755); err != nil {
		return wrap(KindIO, err)
	}

	// A prior run's commit-map, if any, seeds short-hash remapping in commit
	// and tag messages before this run overwrites it.
	mapper, err := shorthash.Load(filepath.Join(e.debugDir, "commit-map"))
	if err != nil {
		return wrap(KindIO, err)
	}
	e.Commits.ShortHashes = mapper
	e.Tags.ShortHashes = mapper

	origFile, err := os.Create(filepath.Join(e.debugDir, "fast-export.original"))
	if err != nil {
		return wrap(KindIO, err)
	}
	defer origFile.Close()
	filtFile, err := os.Create(filepath.Join(e.debugDir, "fast-export.filtered"))
	if err != nil {
		return wrap(KindIO, err)
	}
	defer filtFile.Close()

	exportCmd, err := gitproc.BuildFastExport(ctx, gitproc.ExportSpec{
		Source:    e.Opts.Source,
		Refs:      e.Opts.Refs,
		QuotePath: true,
		NoData:    e.Opts.NoData,
		Caps:      e.Caps,
	})
	if err != nil {
		return wrap(KindConfig, err)
	}
	producerOut, err := exportCmd.StdoutPipe()
	if err != nil {
		return wrap(KindIO, err)
	}
	if err := exportCmd.Start(); err != nil {
		return wrap(KindChild, err)
	}
	logrus.Debugf("engine: spawned producer: %s", exportCmd.Quoted())

	var importCmd *gitproc.Command
	var consumerIn io.WriteCloser
	if !e.Opts.DryRun {
		importCmd = gitproc.BuildFastImport(ctx, gitproc.ImportSpec{Target: e.Opts.Target, GitDir: targetGitDir, Caps: e.Caps})
		consumerIn, err = importCmd.StdinPipe()
		if err != nil {
			return wrap(KindIO, err)
		}
		if err := importCmd.Start(); err != nil {
			return wrap(KindChild, err)
		}
		logrus.Debugf("engine: spawned consumer: %s", importCmd.Quoted())
	}

	broken := false
	var sinkOut io.Writer
	if consumerIn != nil {
		sinkOut = consumerIn
	}
	reader := stream.NewReader(producerOut, origFile)
	sink := stream.NewSink(sinkOut, filtFile, &broken)

	// A small watchdog goroutine kills the producer on external
	// cancellation; the main loop otherwise runs entirely synchronously.
	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			if exportCmd.Raw.Process != nil {
				_ = exportCmd.Raw.Process.Kill()
			}
			return gctx.Err()
		case <-done:
			return nil
		}
	})

	runErr := e.dispatch(reader, sink)
	close(done)
	_ = g.Wait()

	if waitErr := finalize.WaitChildren(consumerIn, exportCmd, importCmd, broken); waitErr != nil {
		if runErr == nil {
			runErr = wrap(KindChild, waitErr)
		}
	}
	if runErr != nil {
		return runErr
	}

	return e.finish(ctx, targetGitDir)
}

// dispatch is the main record loop: it reads one top-level record header
// at a time and hands it to the matching component: blob, commit, tag,
// reset, done.
func (e *Engine) dispatch(r *stream.Reader, sink *stream.Sink) error {
	for {
		line, err := r.ReadLine()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return wrap(KindIO, err)
		}
		if len(line) == 0 {
			return nil
		}
		switch {
		case bytes.Equal(line, []byte("done\n")):
			if err := e.Tags.FlushLightweightResets(sink); err != nil {
				return wrap(KindIO, err)
			}
			if _, err := sink.Write(line); err != nil {
				return wrap(KindIO, err)
			}
			return nil
		case bytes.Equal(line, []byte("blob\n")):
			if err := e.handleBlob(r, sink); err != nil {
				return err
			}
		case bytes.HasPrefix(line, []byte("tag ")):
			if err := e.handleTag(r, sink, line); err != nil {
				return err
			}
		case bytes.HasPrefix(line, []byte("reset ")):
			if err := e.handleReset(r, sink, line); err != nil {
				return wrap(KindIO, err)
			}
		case bytes.HasPrefix(line, []byte("commit ")):
			if err := e.handleCommit(r, sink, line); err != nil {
				return err
			}
		case bytes.Equal(line, []byte("\n")):
			// A stray separator between top-level records carries nothing
			// to forward, so it's dropped rather than echoed to the consumer.
		default:
			if _, err := sink.Write(line); err != nil {
				return wrap(KindIO, err)
			}
		}
	}
}

func (e *Engine) handleBlob(r *stream.Reader, sink *stream.Sink) error {
	b, err := blobfilter.ParseBlob(r)
	if err != nil {
		return wrap(KindProtocol, err)
	}
	emit, payload := e.Blobs.Decide(b)
	if !emit {
		return nil
	}
	var buf bytes.Buffer
	buf.WriteString("blob\n")
	if b.Mark != 0 {
		fmt.Fprintf(&buf, "mark :%d\n", b.Mark)
	}
	fmt.Fprintf(&buf, "data %d\n", len(payload))
	buf.Write(payload)
	if _, err := sink.Write(buf.Bytes()); err != nil {
		return wrap(KindIO, err)
	}
	return nil
}

func (e *Engine) handleTag(r *stream.Reader, sink *stream.Sink, firstLine []byte) error {
	tag, emit, err := e.Tags.ProcessTag(r, firstLine)
	if err != nil {
		return wrap(KindProtocol, err)
	}
	if !emit {
		return nil
	}
	if err := tag.Write(sink); err != nil {
		return wrap(KindIO, err)
	}
	return nil
}

// handleReset applies tag/branch reset semantics: lightweight tag resets
// are buffered for emission just before `done`; branch resets are renamed
// and forwarded immediately; anything else passes through untouched.
func (e *Engine) handleReset(r *stream.Reader, sink *stream.Sink, line []byte) error {
	name := strings.TrimSuffix(string(line[len("reset "):]), "\n")
	switch {
	case strings.HasPrefix(name, "refs/tags/"):
		fromLine, _, err := peekFromLine(r)
		if err != nil {
			return err
		}
		e.Tags.BufferLightweightReset(name, fromLine)
		return nil
	case strings.HasPrefix(name, "refs/heads/"):
		newRef := tagreset.RenameBranchReset(name, e.Opts.BranchRename, e.Marks)
		e.updatedBranches[newRef] = struct{}{}
		_, err := sink.Write([]byte("reset " + newRef + "\n"))
		return err
	default:
		_, err := sink.Write(line)
		return err
	}
}

// peekFromLine looks ahead for a "from ...\n" line following a lightweight
// reset header without consuming anything when it isn't one — a bare
// "reset <ref>\n" (no from line) means the ref is reset to nothing.
func peekFromLine(r *stream.Reader) ([]byte, bool, error) {
	peek, _ := r.Peek(5)
	if string(peek) != "from " {
		return nil, false, nil
	}
	line, err := r.ReadLine()
	if err != nil {
		return nil, false, err
	}
	return line, true, nil
}

// handleCommit buffers one full commit record, finalises its parents and
// keep-or-prune decision, writes it (or its alias stanza) to the consumer,
// and accumulates its original-id/mark pair for commit-map.
func (e *Engine) handleCommit(r *stream.Reader, sink *stream.Sink, headerLine []byte) error {
	c, err := e.readCommit(r, headerLine)
	if err != nil {
		return wrap(KindProtocol, err)
	}
	e.Commits.FinalizeParents(c)
	kept := c.ShouldKeep()
	if kept {
		if c.Mark != 0 {
			e.Marks.MarkEmitted(c.Mark)
		}
		if err := c.Write(sink); err != nil {
			return wrap(KindIO, err)
		}
	} else if stanza, ok := c.Alias(e.Marks); ok {
		if _, err := sink.Write(stanza); err != nil {
			return wrap(KindIO, err)
		}
	}
	if c.OriginalOID != "" {
		mark := 0
		if kept {
			mark = c.Mark
		}
		e.commitPairs = append(e.commitPairs, finalize.CommitPair{OriginalOID: c.OriginalOID, Mark: mark})
	}
	return nil
}

// readCommit buffers one commit record body up to its terminating blank
// line, dispatching each sub-line to the assembler.
func (e *Engine) readCommit(r *stream.Reader, headerLine []byte) (*commitassembler.Commit, error) {
	c := e.Commits.StartCommit(headerLine)
	if ref, ok := strings.CutPrefix(strings.TrimSuffix(string(c.HeaderLine), "\n"), "commit "); ok {
		if strings.HasPrefix(ref, "refs/heads/") {
			e.updatedBranches[ref] = struct{}{}
		}
	}

	for {
		line, err := r.ReadLine()
		if err != nil {
			return nil, err
		}
		if len(line) == 0 {
			return nil, io.ErrUnexpectedEOF
		}
		switch {
		case bytes.Equal(line, []byte("\n")):
			return c, nil
		case bytes.HasPrefix(line, []byte("mark :")):
			n, err := parseMark(line, "mark :")
			if err != nil {
				return nil, err
			}
			if c.Mark != 0 {
				return nil, fmt.Errorf("engine: duplicate mark in commit record: %w", stream.ErrMalformedData)
			}
			c.Mark = n
		case bytes.HasPrefix(line, []byte("original-oid ")):
			if c.OriginalOID != "" {
				return nil, stream.ErrDuplicateOriginalOID
			}
			c.OriginalOID = strings.ToLower(strings.TrimSpace(string(line[len("original-oid "):])))
		case bytes.HasPrefix(line, []byte("data ")):
			n, err := stream.ParseDataHeader(line)
			if err != nil {
				return nil, err
			}
			payload, err := r.ReadData(n)
			if err != nil {
				return nil, err
			}
			e.Commits.SetMessage(c, payload)
		case bytes.HasPrefix(line, []byte("from ")):
			c.AddParent(commitassembler.ParentFrom, line)
		case bytes.HasPrefix(line, []byte("merge ")):
			c.AddParent(commitassembler.ParentMerge, line)
		case isFileChangeLine(line):
			if err := e.appendFileChange(r, c, line); err != nil {
				return nil, err
			}
		default:
			c.AuthorLines = append(c.AuthorLines, line)
		}
	}
}

func isFileChangeLine(line []byte) bool {
	switch {
	case bytes.HasPrefix(line, []byte("M ")),
		bytes.HasPrefix(line, []byte("D ")),
		bytes.HasPrefix(line, []byte("C ")),
		bytes.HasPrefix(line, []byte("R ")):
		return true
	default:
		return bytes.Equal(bytes.TrimSuffix(line, []byte("\n")), []byte("deleteall"))
	}
}

// appendFileChange applies path filtering (and, for a referenced blob,
// the blob filter's size/strip decision) to one filechange line, buffering
// the surviving (possibly rewritten) line onto c.
func (e *Engine) appendFileChange(r *stream.Reader, c *commitassembler.Commit, line []byte) error {
	if inline, ok := commitassembler.DetectInlineFileChange(line); ok {
		return e.appendInlineFileChange(r, c, inline)
	}

	if bytes.HasPrefix(line, []byte("M ")) {
		if id, rawPath, ok := parseModifyRef(line); ok {
			unquoted := pathrule.MaybeUnquote(rawPath)
			drop, bySize, modified := e.blobDisposition(id)
			if drop {
				if !e.Commits.Rules.Keep(unquoted) {
					return nil
				}
				rewritten := e.Commits.Rules.Rewrite(unquoted)
				c.FileChanges = append(c.FileChanges, rebuildDeleteLine(rewritten))
				c.HasChanges = true
				if bySize {
					e.Report.RecordStrippedBySize(rewritten)
				} else {
					e.Report.RecordStrippedBySHA(rewritten)
				}
				return nil
			}
			if modified && e.Commits.Rules.Keep(unquoted) {
				e.Report.RecordModified(e.Commits.Rules.Rewrite(unquoted))
			}
		}
	}

	out, keep := e.Commits.FilterFileChange(line)
	if !keep {
		return nil
	}
	c.FileChanges = append(c.FileChanges, out)
	c.HasChanges = true
	return nil
}

func (e *Engine) appendInlineFileChange(r *stream.Reader, c *commitassembler.Commit, inline commitassembler.InlineFileChange) error {
	path, keep := e.Commits.FilterInlinePath(inline.Path)

	dataLine, err := r.ReadLine()
	if err != nil {
		return err
	}
	n, err := stream.ParseDataHeader(dataLine)
	if err != nil {
		return err
	}
	payload, err := r.ReadData(n)
	if err != nil {
		return err
	}
	if !keep {
		return nil
	}

	emit, out := e.Blobs.DecideInline(payload)
	c.FileChanges = append(c.FileChanges, commitassembler.BuildInlineFileChange(inline.Mode, path, emit, out))
	c.HasChanges = true
	if !emit {
		e.Report.RecordStrippedBySize(path)
	}
	return nil
}

// parseModifyRef splits an "M <mode> <id> <path>\n" line into its id token
// (a ":N" mark or a 40-hex id) and its raw, still-quoted path.
func parseModifyRef(line []byte) (id, path []byte, ok bool) {
	rest := line[len("M "):]
	sp1 := bytes.IndexByte(rest, ' ')
	if sp1 < 0 {
		return nil, nil, false
	}
	rest2 := rest[sp1+1:]
	sp2 := bytes.IndexByte(rest2, ' ')
	if sp2 < 0 {
		return nil, nil, false
	}
	id = rest2[:sp2]
	path = bytes.TrimSuffix(rest2[sp2+1:], []byte("\n"))
	return id, path, true
}

// blobDisposition reports whether the blob named by id (a ":N" mark or a
// 40-hex id) was already dropped or content-modified by the blob filter,
// so the owning filechange line can be converted to a deletion or sampled
// for the report.
func (e *Engine) blobDisposition(id []byte) (drop, bySize, modified bool) {
	if len(id) > 0 && id[0] == ':' {
		n, err := strconv.Atoi(string(id[1:]))
		if err != nil {
			return false, false, false
		}
		switch {
		case e.Marks.OversizeMarks.Contains(n):
			return true, true, false
		case e.Marks.SuppressedBySHA.Contains(n):
			return true, false, false
		case e.Marks.ModifiedMarks.Contains(n):
			return false, false, true
		}
		return false, false, false
	}
	hexID := strings.ToLower(string(id))
	if len(hexID) != 40 {
		return false, false, false
	}
	if e.Blobs.IsStrippedID(hexID) {
		return true, false, false
	}
	oversize, err := e.Blobs.HexIDOversize(hexID)
	if err != nil {
		logrus.Warnf("engine: blob size lookup for %s failed: %v", hexID, err)
		return false, false, false
	}
	return oversize, oversize, false
}

func rebuildDeleteLine(path []byte) []byte {
	quoted := pathrule.QuoteIfNeeded(path)
	out := make([]byte, 0, 2+len(quoted)+1)
	out = append(out, 'D', ' ')
	out = append(out, quoted...)
	out = append(out, '\n')
	return out
}

func parseMark(line []byte, prefix string) (int, error) {
	s := strings.TrimSpace(string(line))
	s = strings.TrimPrefix(s, prefix)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("engine: malformed %s%q: %w", prefix, line, stream.ErrMalformedData)
	}
	return n, nil
}

// finish drives the finalizer once the record loop and child processes
// have completed: commit-map/ref-map, ref updates, HEAD repair, optional
// reset/cleanup, and the optional report.
func (e *Engine) finish(ctx context.Context, targetGitDir string) error {
	commitMapPath := filepath.Join(e.debugDir, "commit-map")
	refMapPath := filepath.Join(e.debugDir, "ref-map")

	pairs := e.commitPairs
	if len(pairs) == 0 {
		if mirror, err := os.Open(filepath.Join(e.debugDir, "fast-export.filtered")); err == nil {
			rescanned, rerr := finalize.RescanCommitPairs(mirror)
			mirror.Close()
			if rerr != nil {
				return wrap(KindIO, rerr)
			}
			pairs = rescanned
		}
	}

	markToID := map[int]string{}
	if !e.Opts.DryRun {
		loaded, err := finalize.LoadTargetMarks(filepath.Join(targetGitDir, "filter-repo", "target-marks"))
		if err != nil && !os.IsNotExist(err) {
			return wrap(KindIO, err)
		}
		if loaded != nil {
			markToID = loaded
		}
	}

	if err := finalize.WriteCommitMap(commitMapPath, pairs, markToID); err != nil {
		return wrap(KindIO, err)
	}

	var refRenames []finalize.RefRename
	for _, k := range e.Marks.RefRenames.Keys() {
		v, _ := e.Marks.RefRenames.Get(k)
		refRenames = append(refRenames, finalize.RefRename{Old: k.(string), New: v.(string)})
	}
	if err := finalize.WriteRefMap(refMapPath, refRenames); err != nil {
		return wrap(KindIO, err)
	}

	var updatedBranches []string
	for ref := range e.updatedBranches {
		updatedBranches = append(updatedBranches, ref)
	}

	if !e.Opts.DryRun {
		resolved, err := finalize.ApplyRefUpdates(ctx, e.Opts.Target, nil, refRenames, markToID)
		if err != nil {
			return wrap(KindResolve, err)
		}
		updatedBranches = append(updatedBranches, resolved...)
		finalize.RepairHEAD(ctx, e.Opts.Target, e.Opts.BranchRename, updatedBranches)

		if e.Opts.Reset {
			if err := gitproc.New(ctx, "", "git", "-C", e.Opts.Target, "reset", "--hard").Run(); err != nil {
				logrus.Warnf("engine: git reset --hard failed: %v", err)
			}
		}
		if err := e.runCleanup(ctx); err != nil {
			logrus.Warnf("engine: post-import cleanup failed: %v", err)
		}
	}

	if e.Opts.WriteReport {
		if err := report.Write(filepath.Join(e.debugDir, "report.txt"), e.Report); err != nil {
			return wrap(KindIO, err)
		}
	}
	return nil
}

func (e *Engine) runCleanup(ctx context.Context) error {
	switch e.Opts.Cleanup {
	case config.CleanupStandard:
		return gitproc.New(ctx, "", "git", "-C", e.Opts.Target, "gc", "--prune=now").Run()
	case config.CleanupAggressive:
		return gitproc.New(ctx, "", "git", "-C", e.Opts.Target, "gc", "--aggressive", "--prune=now").Run()
	default:
		return nil
	}
}

func gitDir(ctx context.Context, path string) (string, error) {
	out, err := gitproc.New(ctx, "", "git", "-C", path, "rev-parse", "--absolute-git-dir").Raw.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
