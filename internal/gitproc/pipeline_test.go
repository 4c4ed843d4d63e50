package gitproc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildFastExportMarkTagsRequiresCapability(t *testing.T) {
	spec := ExportSpec{
		Source:   "/repo",
		Refs:     []string{"--all"},
		Reencode: false,
		MarkTags: true,
		Caps:     Capabilities{FastExportMarkTags: false},
	}
	_, err := BuildFastExport(context.Background(), spec)
	require.Error(t, err)
	require.Contains(t, err.Error(), "git >= 2.24.0")
}

func TestBuildFastExportReencodeRequiresCapability(t *testing.T) {
	spec := ExportSpec{Source: "/repo", Reencode: true, Caps: Capabilities{FastExportReencode: false}}
	_, err := BuildFastExport(context.Background(), spec)
	require.Error(t, err)
	require.Contains(t, err.Error(), "git >= 2.23.0")
}

func TestBuildFastExportArgs(t *testing.T) {
	spec := ExportSpec{
		Source: "/repo",
		Refs:   []string{"--all"},
		Caps:   Capabilities{FastExportReencode: true, FastExportMarkTags: true},
	}
	cmd, err := BuildFastExport(context.Background(), spec)
	require.NoError(t, err)
	require.Contains(t, cmd.Raw.Args, "fast-export")
	require.Contains(t, cmd.Raw.Args, "--show-original-ids")
	require.NotContains(t, cmd.Raw.Args, "--reencode=yes")
}

func TestBuildFastImportArgs(t *testing.T) {
	cmd := BuildFastImport(context.Background(), ImportSpec{Target: "/repo", Caps: Capabilities{FastImportRawPermissive: true}})
	require.Contains(t, cmd.Raw.Args, "fast-import")
	require.Contains(t, cmd.Raw.Args, "--date-format=raw-permissive")
}

func TestAtoiOr(t *testing.T) {
	require.Equal(t, 23, atoiOr([]byte("23"), 0))
	require.Equal(t, 0, atoiOr([]byte("x"), 0))
}
