package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "replacements.txt")
	require.NoError(t, os.WriteFile(p, []byte(contents), 0o644))
	return p
}

func TestLoadReplacerNilOnEmptyPath(t *testing.T) {
	r, err := LoadReplacer("")
	require.NoError(t, err)
	require.Nil(t, r)
	require.Equal(t, []byte("unchanged"), r.Apply([]byte("unchanged")))
}

func TestLoadReplacerLiteralWithArrow(t *testing.T) {
	p := writeTemp(t, "foo==>bar\n# a comment\n\nbaz==>\n")
	r, err := LoadReplacer(p)
	require.NoError(t, err)
	require.Equal(t, "bar quux ", string(r.Apply([]byte("foo quux baz"))))
}

func TestLoadReplacerBareLineUsesSentinel(t *testing.T) {
	p := writeTemp(t, "secret-token\n")
	r, err := LoadReplacer(p)
	require.NoError(t, err)
	require.Equal(t, "***REMOVED*** leaked", string(r.Apply([]byte("secret-token leaked"))))
}

func TestLoadReplacerRegexRule(t *testing.T) {
	p := writeTemp(t, `regex:[0-9]{3}-[0-9]{4}==>***PHONE***`+"\n")
	r, err := LoadReplacer(p)
	require.NoError(t, err)
	require.Equal(t, "call ***PHONE*** now", string(r.Apply([]byte("call 555-1234 now"))))
}

func TestLoadReplacerRegexBareUsesSentinel(t *testing.T) {
	p := writeTemp(t, `regex:(?i)password=\S+`+"\n")
	r, err := LoadReplacer(p)
	require.NoError(t, err)
	require.Equal(t, "***REMOVED***", string(r.Apply([]byte("password=hunter2"))))
}

func TestLoadReplacerOrderIsLiteralsThenRegexes(t *testing.T) {
	p := writeTemp(t, "AAA==>BBB\nregex:BBB==>CCC\n")
	r, err := LoadReplacer(p)
	require.NoError(t, err)
	require.Equal(t, "CCC", string(r.Apply([]byte("AAA"))))
}

func TestLoadReplacerMissingFile(t *testing.T) {
	_, err := LoadReplacer(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}

func TestChanged(t *testing.T) {
	require.True(t, Changed([]byte("a"), []byte("b")))
	require.False(t, Changed([]byte("a"), []byte("a")))
}
