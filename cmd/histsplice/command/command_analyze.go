package command

import (
	"context"
	"fmt"

	"github.com/kesvarga/histsplice/internal/analyze"
)

// Analyze reports repository size/shape metrics without touching history.
type Analyze struct {
	Repo            string `arg:"" name:"repo" optional:"" help:"Repository to analyze; defaults to the current repository" type:"path"`
	BlobSampleLimit int    `help:"Number of largest blobs to list" default:"20"`
}

// Run executes the analyze subcommand.
func (a *Analyze) Run(g *Globals) error {
	repo := a.Repo
	if repo == "" {
		repo = "."
	}

	ctx := context.Background()
	var bar *progressBar
	progress := func(scanned, total int64) {
		if bar == nil {
			bar = newProgressBar("scanning blobs", total, false)
		}
		bar.setCurrent(scanned)
	}
	m, err := analyze.Collect(ctx, repo, a.BlobSampleLimit, progress)
	if bar != nil {
		bar.done()
	}
	if err != nil {
		return fmt.Errorf("histsplice analyze: %w", err)
	}
	t := analyze.DefaultThresholds()
	m.MarkOverThreshold(t)
	findings := analyze.Evaluate(m, t)

	printMetrics(m)
	fmt.Println()
	printFindings(findings)
	return nil
}

func printMetrics(m *analyze.Metrics) {
	fmt.Printf("objects:  %d loose, %d packed, %d total (%s)\n",
		m.LooseObjects, m.PackedObjects, m.TotalObjects, humanBytes(m.TotalSizeBytes))
	fmt.Printf("refs:     %d heads, %d tags, %d remotes, %d other (%d total)\n",
		m.RefsHeads, m.RefsTags, m.RefsRemotes, m.RefsOther, m.RefsTotal)
	if len(m.LargestBlobs) == 0 {
		return
	}
	fmt.Println("largest blobs:")
	for _, b := range m.LargestBlobs {
		fmt.Printf("  %s  %s\n", b.OID, humanBytes(b.Size))
	}
}

func printFindings(findings []analyze.Finding) {
	for _, f := range findings {
		level := "info"
		switch f.Level {
		case analyze.Warning:
			level = "warning"
		case analyze.Critical:
			level = "critical"
		}
		fmt.Printf("[%s] %s\n", level, f.Message)
		if f.Recommendation != "" {
			fmt.Printf("  -> %s\n", f.Recommendation)
		}
	}
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
