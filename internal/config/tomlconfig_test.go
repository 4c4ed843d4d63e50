package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadFileConfigAndMerge(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "histsplice.toml")
	contents := `
source = "/repo/src"
target = "/repo/dst"
refs = ["refs/heads/main"]
paths = ["src/"]
invert_paths = true
tag_rename_old = "v"
tag_rename_new = "release-"
max_blob_size = 1048576
quiet = true
cleanup = "aggressive"
`
	require.NoError(t, os.WriteFile(p, []byte(contents), 0o644))

	fc, err := LoadFileConfig(p)
	require.NoError(t, err)
	o, err := fc.Merge()
	require.NoError(t, err)

	require.Equal(t, "/repo/src", o.Source)
	require.Equal(t, "/repo/dst", o.Target)
	require.Equal(t, []string{"refs/heads/main"}, o.Refs)
	require.Equal(t, [][]byte{[]byte("src/")}, o.Paths)
	require.True(t, o.InvertPaths)
	require.Equal(t, "v", string(o.TagRename.Old))
	require.Equal(t, "release-", string(o.TagRename.New))
	require.NotNil(t, o.MaxBlobSize)
	require.Equal(t, int64(1048576), *o.MaxBlobSize)
	require.True(t, o.Quiet)
	require.Equal(t, CleanupAggressive, o.Cleanup)
}

func TestFileConfigInvalidRegex(t *testing.T) {
	fc := &FileConfig{PathRegexes: []string{"["}}
	_, err := fc.Merge()
	require.Error(t, err)
}
