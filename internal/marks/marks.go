// Package marks owns the run-wide mark bookkeeping that is genuinely shared
// across the blob filter, commit assembler, tag/reset handler, and
// finalizer: emitted marks, the alias map, and the oversize/suppressed/
// modified blob sets ("Shared mutable configuration" in the design notes).
// It has no knowledge of the stream protocol itself.
package marks

import (
	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/sets/treeset"
)

// MarkState tracks marks across the whole run. It is owned exclusively by
// the Engine and passed by reference into each component; the engine is
// single-threaded so no locking is needed.
//
// Ordered containers (rather than plain Go maps) are used deliberately:
// emitting ref-map rows needs deterministic iteration order.
type MarkState struct {
	// Emitted is the set of marks that reached the consumer.
	Emitted *treeset.Set
	// Alias maps a pruned commit's mark to the canonical mark it collapses
	// into.
	Alias *treemap.Map
	// OversizeMarks and SuppressedBySHA record blob marks dropped for each
	// reason, for report.txt.
	OversizeMarks   *treeset.Set
	SuppressedBySHA *treeset.Set
	// OversizeSHAs mirrors OversizeMarks for blobs dropped by size but
	// referenced later in the stream by bare hex id rather than by mark
	// so a repeated hex-id reference doesn't need re-deciding.
	OversizeSHAs *treeset.Set
	// ModifiedMarks records blob marks whose payload changed under content
	// substitution rules.
	ModifiedMarks *treeset.Set
	// RefRenames maps an old fully-qualified ref name to the new one, for
	// ref-map at finalisation. Keyed on the
	// old name so a given ref is only ever renamed once per run.
	RefRenames *treemap.Map
}

// NewMarkState returns an empty MarkState ready for a single run.
func NewMarkState() *MarkState {
	return &MarkState{
		Emitted:         treeset.NewWithIntComparator(),
		Alias:           treemap.NewWithIntComparator(),
		OversizeMarks:   treeset.NewWithIntComparator(),
		SuppressedBySHA: treeset.NewWithIntComparator(),
		OversizeSHAs:    treeset.NewWithStringComparator(),
		ModifiedMarks:   treeset.NewWithIntComparator(),
		RefRenames:      treemap.NewWithStringComparator(),
	}
}

// RecordRefRename registers that oldRef now resolves to newRef, unless they
// are equal — a ref that rewrites to itself is not a rename worth recording.
func (m *MarkState) RecordRefRename(oldRef, newRef string) {
	if oldRef == newRef {
		return
	}
	m.RefRenames.Put(oldRef, newRef)
}

// MarkEmitted records that mark reached the consumer.
func (m *MarkState) MarkEmitted(mark int) {
	m.Emitted.Add(mark)
}

// IsEmitted reports whether mark reached the consumer.
func (m *MarkState) IsEmitted(mark int) bool {
	return m.Emitted.Contains(mark)
}

// SetAlias records that references to old should resolve to canonical.
func (m *MarkState) SetAlias(old, canonical int) {
	m.Alias.Put(old, canonical)
}

// Canonical resolves mark through the alias chain, treating it as a DAG:
// resolution stops at a fixed point, a self-loop, or a repeated visit. It
// never trusts producer input to be acyclic.
func (m *MarkState) Canonical(mark int) int {
	current := mark
	visited := map[int]bool{}
	for {
		next, ok := m.Alias.Get(current)
		if !ok {
			return current
		}
		nextMark := next.(int)
		if nextMark == current {
			return current
		}
		if visited[current] {
			return current
		}
		visited[current] = true
		current = nextMark
	}
}
