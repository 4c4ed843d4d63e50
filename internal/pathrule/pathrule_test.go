package pathrule

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeepNoFilters(t *testing.T) {
	r := &Rules{}
	require.True(t, r.Keep([]byte("anything/at/all")))
}

func TestKeepPrefixAndInvert(t *testing.T) {
	r := &Rules{Paths: [][]byte{[]byte("src/")}}
	require.True(t, r.Keep([]byte("src/main.go")))
	require.False(t, r.Keep([]byte("docs/readme.md")))

	inv := &Rules{Paths: [][]byte{[]byte("src/")}, Invert: true}
	require.False(t, inv.Keep([]byte("src/main.go")))
	require.True(t, inv.Keep([]byte("docs/readme.md")))
}

func TestKeepRegex(t *testing.T) {
	re := regexp.MustCompile(`\.secret$`)
	r := &Rules{Regexes: []*regexp.Regexp{re}}
	require.True(t, r.Keep([]byte("a/b.secret")))
	require.False(t, r.Keep([]byte("a/b.txt")))
}

func TestRenameChaining(t *testing.T) {
	// Chaining two renames [(a,b),(b,c)] must equal the direct rename
	// [(a,c)] on inputs that start with a.
	chained := &Rules{Renames: []Rename{
		{Old: []byte("a/"), New: []byte("b/")},
		{Old: []byte("b/"), New: []byte("c/")},
	}}
	direct := &Rules{Renames: []Rename{{Old: []byte("a/"), New: []byte("c/")}}}

	in := []byte("a/file.txt")
	require.Equal(t, string(direct.Rewrite(in)), string(chained.Rewrite(in)))
}

func TestRenameEmptyOldPrepends(t *testing.T) {
	r := &Rules{Renames: []Rename{{Old: nil, New: []byte("prefix/")}}}
	require.Equal(t, "prefix/file.txt", string(r.Rewrite([]byte("file.txt"))))
}

func TestRenameEmptyNewStrips(t *testing.T) {
	r := &Rules{Renames: []Rename{{Old: []byte("vendor/"), New: nil}}}
	require.Equal(t, "lib.go", string(r.Rewrite([]byte("vendor/lib.go"))))
}

func TestGlobMatch(t *testing.T) {
	cases := []struct {
		pat, text string
		want      bool
	}{
		{"*.go", "main.go", true},
		{"*.go", "a/main.go", false},
		{"**/*.go", "a/b/main.go", true},
		{"**.go", "main.go", true},
		{"a?c", "abc", true},
		{"a?c", "a/c", false},
		{"**", "anything/at/all", true},
	}
	for _, c := range cases {
		require.Equal(t, c.want, GlobMatch([]byte(c.pat), []byte(c.text)), "pattern %q vs %q", c.pat, c.text)
	}
}

func TestQuoteRoundTrip(t *testing.T) {
	// Unquote of Quote(x), without the surrounding quotes, must give back x.
	samples := [][]byte{
		[]byte("plain/path.txt"),
		[]byte("has space.txt"),
		[]byte("quote\"here.txt"),
		[]byte("back\\slash.txt"),
		[]byte("tab\ttab.txt"),
		{0x01, 0x02, 'x', 0x7F},
		[]byte("newline\nhere"),
	}
	for _, s := range samples {
		got := Unquote(Quote(s)[1 : len(Quote(s))-1])
		require.Equal(t, s, got)
	}
}

func TestNeedsQuote(t *testing.T) {
	require.False(t, NeedsQuote([]byte("plain.txt")))
	require.True(t, NeedsQuote([]byte("has space.txt")))
	require.True(t, NeedsQuote([]byte{0x7F}))
}

func TestSanitizeForTargetPlatform(t *testing.T) {
	require.Equal(t, "a/b.txt", string(SanitizeForTargetPlatform([]byte("a/b.txt"), true)))
	got := SanitizeForTargetPlatform([]byte(`a<b>/c:d"e|f?g*h/trailing. `), false)
	require.Equal(t, "a_b_/c_d_e_f_g_h/trailing", string(got))
}

func TestSanitizeForImport(t *testing.T) {
	got := SanitizeForImport([]byte{'a', 0x01, 'b', 0x7F, 'c'})
	require.Equal(t, []byte("a_b_c"), got)
}
