package analyze

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseKeyValue(t *testing.T) {
	out := "count: 12\nsize: 48\nin-pack: 100\nsize-pack: 2048\nprune-packable: 0\n"
	fields := parseKeyValue(out)
	require.Equal(t, int64(12), fields["count"])
	require.Equal(t, int64(2048), fields["size-pack"])
}

func TestMarkOverThreshold(t *testing.T) {
	m := &Metrics{LargestBlobs: []ObjectStat{
		{OID: "a", Size: 1 << 20},
		{OID: "b", Size: 20 << 20},
	}}
	t2 := DefaultThresholds()
	m.MarkOverThreshold(t2)
	require.Len(t, m.BlobsOverThreshold, 1)
	require.Equal(t, "b", m.BlobsOverThreshold[0].OID)
}

func TestEvaluateCriticalSize(t *testing.T) {
	th := DefaultThresholds()
	m := &Metrics{TotalSizeBytes: th.CritTotalBytes + 1}
	findings := Evaluate(m, th)
	require.Equal(t, Critical, findings[0].Level)
}

func TestEvaluateNoIssues(t *testing.T) {
	th := DefaultThresholds()
	m := &Metrics{}
	findings := Evaluate(m, th)
	require.Len(t, findings, 1)
	require.Equal(t, Info, findings[0].Level)
}
