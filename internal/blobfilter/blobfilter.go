// Package blobfilter implements the blob filter: it buffers a blob's
// header sub-fields, evaluates the size/SHA/content-substitution rules once
// the payload is known, and decides whether the blob is emitted or dropped.
package blobfilter

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/kesvarga/histsplice/internal/config"
	"github.com/kesvarga/histsplice/internal/marks"
	"github.com/kesvarga/histsplice/internal/stream"
)

// Blob is one parsed "blob" record: the mark and original-oid sub-headers
// are optional and may appear in either order.
type Blob struct {
	Mark        int
	OriginalOID string // lower-cased 40-hex, "" if absent
	Payload     []byte
}

// ParseBlob reads a full blob record (everything after the "blob\n" header
// line has already been consumed by the caller) from r: an optional mark
// line, an optional original-oid line, then the data header and payload.
func ParseBlob(r *stream.Reader) (*Blob, error) {
	b := &Blob{}
	for {
		line, err := r.ReadLine()
		if err != nil {
			return nil, err
		}
		switch {
		case bytes.HasPrefix(line, []byte("mark :")):
			n, err := parseMarkNumber(line)
			if err != nil {
				return nil, err
			}
			if b.Mark != 0 {
				return nil, fmt.Errorf("blobfilter: duplicate mark in blob record: %w", stream.ErrMalformedData)
			}
			b.Mark = n
		case bytes.HasPrefix(line, []byte("original-oid ")):
			if b.OriginalOID != "" {
				return nil, stream.ErrDuplicateOriginalOID
			}
			b.OriginalOID = strings.ToLower(strings.TrimSpace(string(line[len("original-oid "):])))
		case bytes.HasPrefix(line, []byte("data ")):
			n, err := stream.ParseDataHeader(line)
			if err != nil {
				return nil, err
			}
			payload, err := r.ReadData(n)
			if err != nil {
				return nil, err
			}
			b.Payload = payload
			return b, nil
		default:
			return nil, fmt.Errorf("blobfilter: unexpected line in blob record %q: %w", line, stream.ErrMalformedData)
		}
	}
}

func parseMarkNumber(line []byte) (int, error) {
	s := strings.TrimSpace(string(line))
	s = strings.TrimPrefix(s, "mark :")
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("blobfilter: malformed mark %q: %w", line, stream.ErrMalformedData)
	}
	return n, nil
}

// SizeLookup queries the source repository for the size in bytes of a
// 40-hex object id not accompanied by a mark.
type SizeLookup func(id string) (int64, error)

// Filter holds the configured blob-dropping and content-substitution rules
// for one run.
type Filter struct {
	maxBlobSize *int64
	stripIDs    map[string]struct{}
	replacer    *config.Replacer
	lookup      SizeLookup
	sizeCache   *ristretto.Cache[string, int64]
	Marks       *marks.MarkState
}

// New builds a Filter. stripIDs should already be lower-cased 40-hex
// strings; lookup may be nil if no unmarked hex-id filechanges are expected
// (e.g. --no-data runs). The size cache is small: one entry per distinct
// hex id ever referenced without a mark, which in practice is a tiny
// fraction of a history's blob count.
func New(maxBlobSize *int64, stripIDs [][]byte, replacer *config.Replacer, lookup SizeLookup, m *marks.MarkState) (*Filter, error) {
	ids := make(map[string]struct{}, len(stripIDs))
	for _, id := range stripIDs {
		ids[strings.ToLower(string(id))] = struct{}{}
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, int64]{
		NumCounters: 1e5,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("blobfilter: initialize blob size cache: %w", err)
	}
	return &Filter{
		maxBlobSize: maxBlobSize,
		stripIDs:    ids,
		replacer:    replacer,
		lookup:      lookup,
		sizeCache:   cache,
		Marks:       m,
	}, nil
}

// Decide evaluates a fully-read blob and returns whether it should be
// emitted, and — when emitted — its (possibly content-rewritten) payload.
// Rule order: size, then strip-by-id, then content substitution.
func (f *Filter) Decide(b *Blob) (emit bool, payload []byte) {
	n := int64(len(b.Payload))
	if f.maxBlobSize != nil && n > *f.maxBlobSize {
		if b.Mark != 0 {
			f.Marks.OversizeMarks.Add(b.Mark)
		}
		if b.OriginalOID != "" {
			f.Marks.OversizeSHAs.Add(b.OriginalOID)
		}
		return false, nil
	}
	if b.OriginalOID != "" {
		if _, stripped := f.stripIDs[b.OriginalOID]; stripped {
			if b.Mark != 0 {
				f.Marks.SuppressedBySHA.Add(b.Mark)
			}
			return false, nil
		}
	}
	rewritten := f.replacer.Apply(b.Payload)
	if b.Mark != 0 {
		f.Marks.MarkEmitted(b.Mark)
		if config.Changed(b.Payload, rewritten) {
			f.Marks.ModifiedMarks.Add(b.Mark)
		}
	}
	return true, rewritten
}

// DecideInline evaluates an inline blob's payload — one embedded directly
// in a commit's filechange rather than referenced by mark or id. There is
// no mark or
// original-oid to record bookkeeping against, so only the size cap and
// content-substitution rules apply; strip-by-id never matches an inline
// blob since it has no id of its own.
func (f *Filter) DecideInline(payload []byte) (emit bool, out []byte) {
	if f.maxBlobSize != nil && int64(len(payload)) > *f.maxBlobSize {
		return false, nil
	}
	return true, f.replacer.Apply(payload)
}

// HexIDOversize reports whether the blob referenced by a bare 40-hex id
// (no mark) exceeds cfg.max_blob_size, querying and caching the source
// repository's reported size for ids not seen before in this run.
func (f *Filter) HexIDOversize(id string) (bool, error) {
	if f.maxBlobSize == nil {
		return false, nil
	}
	id = strings.ToLower(id)
	if f.Marks.OversizeSHAs.Contains(id) {
		return true, nil
	}
	if sz, ok := f.sizeCache.Get(id); ok {
		return sz > *f.maxBlobSize, nil
	}
	if f.lookup == nil {
		return false, nil
	}
	sz, err := f.lookup(id)
	if err != nil {
		return false, err
	}
	f.sizeCache.Set(id, sz, 1)
	oversize := sz > *f.maxBlobSize
	if oversize {
		f.Marks.OversizeSHAs.Add(id)
	}
	return oversize, nil
}

// IsStrippedID reports whether a bare 40-hex id (no mark) is configured for
// removal by content id.
func (f *Filter) IsStrippedID(id string) bool {
	_, ok := f.stripIDs[strings.ToLower(id)]
	return ok
}
