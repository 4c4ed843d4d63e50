package marks

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalFixedPoint(t *testing.T) {
	m := NewMarkState()
	m.MarkEmitted(10)
	require.Equal(t, 10, m.Canonical(10))
}

func TestCanonicalChain(t *testing.T) {
	m := NewMarkState()
	m.MarkEmitted(10)
	m.SetAlias(11, 10)
	m.SetAlias(12, 11)
	require.Equal(t, 10, m.Canonical(12))
}

func TestCanonicalCycleDoesNotHang(t *testing.T) {
	m := NewMarkState()
	m.SetAlias(1, 2)
	m.SetAlias(2, 1)
	// Must terminate; exact returned value only needs to be stable.
	got := m.Canonical(1)
	require.Contains(t, []int{1, 2}, got)
}

func TestRecordRefRenameSkipsNoop(t *testing.T) {
	m := NewMarkState()
	m.RecordRefRename("refs/heads/main", "refs/heads/main")
	require.Equal(t, 0, m.RefRenames.Size())
	m.RecordRefRename("refs/heads/old", "refs/heads/new")
	v, ok := m.RefRenames.Get("refs/heads/old")
	require.True(t, ok)
	require.Equal(t, "refs/heads/new", v)
}

func TestDedupIdempotence(t *testing.T) {
	// canonicalising twice must equal canonicalising once.
	m := NewMarkState()
	m.MarkEmitted(1)
	m.SetAlias(2, 1)
	once := m.Canonical(2)
	twice := m.Canonical(once)
	require.Equal(t, once, twice)
}
