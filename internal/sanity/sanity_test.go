package sanity

import (
	"bytes"
	"testing"

	"github.com/kesvarga/histsplice/internal/config"
	"github.com/stretchr/testify/require"
)

func TestCheckPassesDefaults(t *testing.T) {
	require.Empty(t, Check(config.Default()))
}

func TestCheckRejectsZeroMaxBlobSize(t *testing.T) {
	o := config.Default()
	zero := int64(0)
	o.MaxBlobSize = &zero
	require.Len(t, Check(o), 1)
}

func TestCheckRejectsIdenticalTagRename(t *testing.T) {
	o := config.Default()
	o.TagRename = &config.Rename{Old: []byte("v"), New: []byte("v")}
	require.Len(t, Check(o), 1)
}

func TestCheckRejectsSensitiveWithCustomSource(t *testing.T) {
	o := config.Default()
	o.Sensitive = true
	o.Source = "/custom"
	require.Len(t, Check(o), 1)
}

func TestCheckRejectsOverlongPath(t *testing.T) {
	o := config.Default()
	o.Paths = [][]byte{bytes.Repeat([]byte("a"), maxPathLen+1)}
	require.Len(t, Check(o), 1)
}

func TestCheckAccumulatesMultipleErrors(t *testing.T) {
	o := config.Default()
	zero := int64(0)
	o.MaxBlobSize = &zero
	o.TagRename = &config.Rename{Old: []byte("v"), New: []byte("v")}
	require.Len(t, Check(o), 2)
}
