package blobfilter

import (
	"strings"
	"testing"

	"github.com/kesvarga/histsplice/internal/marks"
	"github.com/kesvarga/histsplice/internal/stream"
	"github.com/stretchr/testify/require"
)

func newFilter(t *testing.T, maxSize *int64, stripIDs [][]byte) (*Filter, *marks.MarkState) {
	t.Helper()
	m := marks.NewMarkState()
	f, err := New(maxSize, stripIDs, nil, nil, m)
	require.NoError(t, err)
	return f, m
}

func TestParseBlobMarkThenData(t *testing.T) {
	input := "mark :7\ndata 5\nhello"
	r := stream.NewReader(strings.NewReader(input), nil)
	b, err := ParseBlob(r)
	require.NoError(t, err)
	require.Equal(t, 7, b.Mark)
	require.Equal(t, "hello", string(b.Payload))
}

func TestParseBlobOriginalOidThenMark(t *testing.T) {
	input := "original-oid ABCDEF0000000000000000000000000000000000\nmark :3\ndata 0\n"
	r := stream.NewReader(strings.NewReader(input), nil)
	b, err := ParseBlob(r)
	require.NoError(t, err)
	require.Equal(t, 3, b.Mark)
	require.Equal(t, "abcdef0000000000000000000000000000000000", b.OriginalOID)
	require.Empty(t, b.Payload)
}

func TestParseBlobDuplicateOriginalOid(t *testing.T) {
	input := "original-oid " + strings.Repeat("a", 40) + "\noriginal-oid " + strings.Repeat("b", 40) + "\ndata 0\n"
	r := stream.NewReader(strings.NewReader(input), nil)
	_, err := ParseBlob(r)
	require.ErrorIs(t, err, stream.ErrDuplicateOriginalOID)
}

func TestDecideOversizeDropsAndRecordsMark(t *testing.T) {
	max := int64(3)
	f, m := newFilter(t, &max, nil)
	b := &Blob{Mark: 5, Payload: []byte("too long")}
	emit, _ := f.Decide(b)
	require.False(t, emit)
	require.True(t, m.OversizeMarks.Contains(5))
}

func TestDecideStripByOriginalOid(t *testing.T) {
	id := strings.Repeat("a", 40)
	f, m := newFilter(t, nil, [][]byte{[]byte(id)})
	b := &Blob{Mark: 9, OriginalOID: id, Payload: []byte("secret")}
	emit, _ := f.Decide(b)
	require.False(t, emit)
	require.True(t, m.SuppressedBySHA.Contains(9))
}

func TestDecideEmitsAndMarksEmitted(t *testing.T) {
	f, m := newFilter(t, nil, nil)
	b := &Blob{Mark: 2, Payload: []byte("hi")}
	emit, payload := f.Decide(b)
	require.True(t, emit)
	require.Equal(t, "hi", string(payload))
	require.True(t, m.IsEmitted(2))
	require.False(t, m.ModifiedMarks.Contains(2))
}

func TestHexIDOversizeUsesLookupAndCaches(t *testing.T) {
	max := int64(10)
	calls := 0
	lookup := func(id string) (int64, error) {
		calls++
		return 20, nil
	}
	m := marks.NewMarkState()
	f, err := New(&max, nil, nil, lookup, m)
	require.NoError(t, err)

	oversize, err := f.HexIDOversize(strings.Repeat("c", 40))
	require.NoError(t, err)
	require.True(t, oversize)

	oversize, err = f.HexIDOversize(strings.Repeat("C", 40))
	require.NoError(t, err)
	require.True(t, oversize)
	require.Equal(t, 1, calls, "second lookup of same id (any case) should hit the cache")
}

func TestIsStrippedID(t *testing.T) {
	id := strings.Repeat("d", 40)
	f, _ := newFilter(t, nil, [][]byte{[]byte(strings.ToUpper(id))})
	require.True(t, f.IsStrippedID(id))
	require.False(t, f.IsStrippedID(strings.Repeat("e", 40)))
}

func TestDecideNilReplacerLeavesPayloadUnmodified(t *testing.T) {
	// content substitution is exercised at the config.Replacer layer and
	// through the commit assembler's inline-content path; here we only
	// confirm a nil replacer is a no-op.
	f, m := newFilter(t, nil, nil)
	b := &Blob{Mark: 1, Payload: []byte("unchanged")}
	emit, payload := f.Decide(b)
	require.True(t, emit)
	require.Equal(t, "unchanged", string(payload))
	require.False(t, m.ModifiedMarks.Contains(1))
}

func TestDecideInlineOversizeDrops(t *testing.T) {
	max := int64(10)
	f, _ := newFilter(t, &max, nil)
	emit, _ := f.DecideInline([]byte("this payload is definitely too long"))
	require.False(t, emit)
}

func TestDecideInlineEmitsRewritten(t *testing.T) {
	f, _ := newFilter(t, nil, nil)
	emit, out := f.DecideInline([]byte("hello"))
	require.True(t, emit)
	require.Equal(t, "hello", string(out))
}
