// Package tagreset implements the tag/reset handler: it deduplicates
// and renames annotated tags and defers lightweight tag resets until
// end-of-stream.
package tagreset

import (
	"bytes"
	"fmt"

	"github.com/kesvarga/histsplice/internal/config"
	"github.com/kesvarga/histsplice/internal/marks"
	"github.com/kesvarga/histsplice/internal/stream"
)

// Handler owns the rename configuration and the shared mark/ref-rename
// state (tag_refs_touched lives here as annotatedTagRefs).
type Handler struct {
	TagRename   *config.Rename
	MessageRepl *config.Replacer
	ShortHashes ShortHashMapper
	Marks       *marks.MarkState

	annotatedTagRefs map[string]struct{}
	bufferedResets   []bufferedReset
}

// ShortHashMapper matches the one used by commitassembler; duplicated here
// to keep the two packages independent of each other.
type ShortHashMapper interface {
	Rewrite(message []byte) []byte
}

type bufferedReset struct {
	ref  string
	from []byte // the raw "from ...\n" line
}

// New returns a ready-to-use Handler.
func New(tagRename *config.Rename, replacer *config.Replacer, shortHashes ShortHashMapper, m *marks.MarkState) *Handler {
	return &Handler{
		TagRename:        tagRename,
		MessageRepl:      replacer,
		ShortHashes:      shortHashes,
		Marks:            m,
		annotatedTagRefs: make(map[string]struct{}),
	}
}

func (h *Handler) renameTagName(name []byte) string {
	if h.TagRename == nil || !bytes.HasPrefix(name, h.TagRename.Old) {
		return "refs/tags/" + string(name)
	}
	return "refs/tags/" + string(h.TagRename.New) + string(name[len(h.TagRename.Old):])
}

// AnnotatedTag is one fully-read "tag" record.
type AnnotatedTag struct {
	OriginalRef string // "refs/tags/<name>" before renaming
	NewRef      string
	HeaderLines [][]byte // sub-headers between "tag <name>" and "data", e.g. "from :N", "tagger ..."
	Message     []byte
}

// ProcessTag reads one full tag record from r (the "tag <name>\n" line has
// already been consumed by the caller and is passed as firstLine), applies
// the rename and dedup rules, and reports whether it should be emitted. A
// duplicate tag's entire record — header and payload — is still consumed
// from r so the stream stays in sync, but emit is false and Write must not
// be called.
func (h *Handler) ProcessTag(r *stream.Reader, firstLine []byte) (tag *AnnotatedTag, emit bool, err error) {
	name := bytes.TrimSuffix(firstLine[len("tag "):], []byte("\n"))
	newRef := h.renameTagName(name)
	originalRef := "refs/tags/" + string(name)

	var headers [][]byte
	for {
		line, err := r.ReadLine()
		if err != nil {
			return nil, false, err
		}
		if bytes.HasPrefix(line, []byte("data ")) {
			n, err := stream.ParseDataHeader(line)
			if err != nil {
				return nil, false, err
			}
			payload, err := r.ReadData(n)
			if err != nil {
				return nil, false, err
			}
			if _, touched := h.annotatedTagRefs[newRef]; touched {
				return nil, false, nil
			}
			h.annotatedTagRefs[newRef] = struct{}{}
			if originalRef != newRef {
				h.Marks.RecordRefRename(originalRef, newRef)
			}
			msg := h.MessageRepl.Apply(payload)
			if h.ShortHashes != nil {
				msg = h.ShortHashes.Rewrite(msg)
			}
			for _, hl := range headers {
				if mark, ok := parseMarkLine(hl); ok {
					h.Marks.MarkEmitted(mark)
				}
			}
			return &AnnotatedTag{
				OriginalRef: originalRef,
				NewRef:      newRef,
				HeaderLines: headers,
				Message:     msg,
			}, true, nil
		}
		headers = append(headers, line)
	}
}

func parseMarkLine(line []byte) (int, bool) {
	if !bytes.HasPrefix(line, []byte("mark :")) {
		return 0, false
	}
	s := bytes.TrimSpace(line[len("mark :"):])
	n := 0
	seen := false
	for _, c := range s {
		if c < '0' || c > '9' {
			break
		}
		seen = true
		n = n*10 + int(c-'0')
	}
	return n, seen
}

// Write serialises an emitted annotated tag back to the consumer stream.
func (t *AnnotatedTag) Write(w *stream.Sink) error {
	if _, err := w.Write([]byte("tag " + t.NewRef[len("refs/tags/"):] + "\n")); err != nil {
		return err
	}
	for _, hl := range t.HeaderLines {
		if _, err := w.Write(hl); err != nil {
			return err
		}
	}
	header := fmt.Sprintf("data %d\n", len(t.Message))
	if _, err := w.Write(append([]byte(header), t.Message...)); err != nil {
		return err
	}
	return nil
}

// BufferLightweightReset records a "reset refs/tags/<name>" + "from ..."
// pair for emission at end-of-stream, applying the tag rename to the ref.
func (h *Handler) BufferLightweightReset(resetRef string, fromLine []byte) {
	const prefix = "refs/tags/"
	name := []byte(resetRef[len(prefix):])
	newRef := h.renameTagName(name)
	if newRef != resetRef {
		h.Marks.RecordRefRename(resetRef, newRef)
	}
	h.bufferedResets = append(h.bufferedResets, bufferedReset{ref: newRef, from: fromLine})
}

// FlushLightweightResets writes every buffered reset whose ref was not
// already touched by an annotated tag, in buffering order, then clears the
// buffer. Call once, just before emitting "done".
func (h *Handler) FlushLightweightResets(w *stream.Sink) error {
	flushed := make(map[string]struct{}, len(h.bufferedResets))
	for _, br := range h.bufferedResets {
		if _, touched := h.annotatedTagRefs[br.ref]; touched {
			continue
		}
		if _, already := flushed[br.ref]; already {
			continue
		}
		flushed[br.ref] = struct{}{}
		if _, err := w.Write([]byte("reset " + br.ref + "\n")); err != nil {
			return err
		}
		if _, err := w.Write(br.from); err != nil {
			return err
		}
	}
	h.bufferedResets = nil
	return nil
}

// RenameBranchReset renames a "reset refs/heads/<name>" ref per
// branch_rename for immediate forwarding — branch resets, unlike tag
// resets, are never buffered.
func RenameBranchReset(resetRef string, rn *config.Rename, m *marks.MarkState) string {
	const prefix = "refs/heads/"
	if rn == nil || !bytes.HasPrefix([]byte(resetRef), []byte(prefix)) {
		return resetRef
	}
	name := []byte(resetRef[len(prefix):])
	if !bytes.HasPrefix(name, rn.Old) {
		return resetRef
	}
	newRef := prefix + string(rn.New) + string(name[len(rn.Old):])
	m.RecordRefRename(resetRef, newRef)
	return newRef
}
