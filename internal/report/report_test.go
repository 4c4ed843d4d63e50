package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNilDataRecordIsNoOp(t *testing.T) {
	var d *Data
	require.NotPanics(t, func() {
		d.RecordStrippedBySize([]byte("a.bin"))
	})
}

func TestRecordDedupsSamples(t *testing.T) {
	d := New()
	d.RecordStrippedBySize([]byte("a.bin"))
	d.RecordStrippedBySize([]byte("a.bin"))
	d.RecordStrippedBySize([]byte("b.bin"))
	require.Equal(t, 3, d.StrippedBySize)
	require.Len(t, d.samplesSize, 2)
}

func TestRecordCapsSamplesAt20(t *testing.T) {
	d := New()
	for i := 0; i < 30; i++ {
		d.RecordStrippedBySize([]byte{byte('a' + i)})
	}
	require.Equal(t, 30, d.StrippedBySize)
	require.Len(t, d.samplesSize, 20)
}

func TestWriteNilData(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "report.txt")
	require.NoError(t, Write(p, nil))
	got, err := os.ReadFile(p)
	require.NoError(t, err)
	require.Equal(t, "No report data collected.\n", string(got))
}

func TestWriteWithSamples(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "report.txt")
	d := New()
	d.RecordStrippedBySize([]byte("big.bin"))
	d.RecordModified([]byte("secrets.txt"))
	require.NoError(t, Write(p, d))

	got, err := os.ReadFile(p)
	require.NoError(t, err)
	s := string(got)
	require.True(t, strings.Contains(s, "Stripped by size: 1"))
	require.True(t, strings.Contains(s, "Sample paths (size):\nbig.bin"))
	require.True(t, strings.Contains(s, "Sample paths (modified):\nsecrets.txt"))
}
