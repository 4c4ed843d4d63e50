// Package analyze collects repository size/shape metrics and evaluates
// them against configurable warning thresholds, grounded on
// a repository-size-reporting walker. Analysis is a peripheral,
// read-only concern: it never mutates history.
package analyze

import (
	"bufio"
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/kesvarga/histsplice/internal/gitproc"
)

// ObjectStat is one oversize object sample (largest blobs, blobs over the
// configured threshold).
type ObjectStat struct {
	OID  string
	Size int64
	Path string
}

// Metrics is the subset of repository-wide counters worth surfacing from
// a single git process invocation per concern, rather than a full
// tree/worktree walk.
type Metrics struct {
	LooseObjects    int64
	LooseSizeBytes  int64
	PackedObjects   int64
	PackedSizeBytes int64
	TotalObjects    int64
	TotalSizeBytes  int64

	RefsTotal   int
	RefsHeads   int
	RefsTags    int
	RefsRemotes int
	RefsOther   int

	LargestBlobs      []ObjectStat
	BlobsOverThreshold []ObjectStat
}

// Thresholds holds the configurable warning levels.
type Thresholds struct {
	WarnTotalBytes  int64
	CritTotalBytes  int64
	WarnRefCount    int
	WarnObjectCount int
	WarnBlobBytes   int64
}

// DefaultThresholds returns reasonable defaults: 1 GiB warn / 5 GiB
// critical repository size, 5000 refs, 2,000,000 objects, 10 MiB blobs.
func DefaultThresholds() Thresholds {
	const (
		gib = 1 << 30
		mib = 1 << 20
	)
	return Thresholds{
		WarnTotalBytes:  1 * gib,
		CritTotalBytes:  5 * gib,
		WarnRefCount:    5000,
		WarnObjectCount: 2_000_000,
		WarnBlobBytes:   10 * mib,
	}
}

// WarningLevel is a three-tier severity.
type WarningLevel int

const (
	Info WarningLevel = iota
	Warning
	Critical
)

// Finding is one evaluated warning with an optional recommendation.
type Finding struct {
	Level          WarningLevel
	Message        string
	Recommendation string
}

// ProgressFunc is called once per object seen during the largest-blobs scan,
// with the running count and the total object count already known from the
// footprint pass (0 if that pass found none). A nil ProgressFunc disables
// progress reporting entirely.
type ProgressFunc func(scanned, total int64)

// Collect gathers Metrics for repoPath via "git count-objects -v",
// "git for-each-ref", and a "git rev-list --objects | cat-file
// --batch-check" pass for the largest blobs. progress, if non-nil, is
// invoked periodically during the (potentially slow) blob-scanning pass.
func Collect(ctx context.Context, repoPath string, blobSampleLimit int, progress ProgressFunc) (*Metrics, error) {
	m := &Metrics{}
	if err := gatherFootprint(ctx, repoPath, m); err != nil {
		return nil, err
	}
	if err := gatherRefs(ctx, repoPath, m); err != nil {
		return nil, err
	}
	if err := gatherLargestBlobs(ctx, repoPath, blobSampleLimit, m, progress); err != nil {
		return nil, err
	}
	return m, nil
}

func gatherFootprint(ctx context.Context, repoPath string, m *Metrics) error {
	out, err := gitproc.New(ctx, "", "git", "-C", repoPath, "count-objects", "-v").Raw.Output()
	if err != nil {
		return err
	}
	fields := parseKeyValue(string(out))
	m.LooseObjects = fields["count"]
	m.LooseSizeBytes = fields["size"] * 1024
	m.PackedObjects = fields["in-pack"]
	m.PackedSizeBytes = fields["size-pack"] * 1024
	m.TotalObjects = m.LooseObjects + m.PackedObjects
	m.TotalSizeBytes = m.LooseSizeBytes + m.PackedSizeBytes
	return nil
}

func parseKeyValue(out string) map[string]int64 {
	fields := make(map[string]int64)
	for _, line := range strings.Split(out, "\n") {
		parts := strings.Fields(line)
		if len(parts) != 2 {
			continue
		}
		n, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			continue
		}
		fields[strings.TrimSuffix(parts[0], ":")] = n
	}
	return fields
}

func gatherRefs(ctx context.Context, repoPath string, m *Metrics) error {
	out, err := gitproc.New(ctx, "", "git", "-C", repoPath, "for-each-ref", "--format=%(refname)").Raw.Output()
	if err != nil {
		return err
	}
	sc := bufio.NewScanner(strings.NewReader(string(out)))
	for sc.Scan() {
		ref := sc.Text()
		if ref == "" {
			continue
		}
		m.RefsTotal++
		switch {
		case strings.HasPrefix(ref, "refs/heads/"):
			m.RefsHeads++
		case strings.HasPrefix(ref, "refs/tags/"):
			m.RefsTags++
		case strings.HasPrefix(ref, "refs/remotes/"):
			m.RefsRemotes++
		default:
			m.RefsOther++
		}
	}
	return sc.Err()
}

func gatherLargestBlobs(ctx context.Context, repoPath string, limit int, m *Metrics, progress ProgressFunc) error {
	revList := gitproc.New(ctx, "", "git", "-C", repoPath, "rev-list", "--objects", "--all")
	revOut, err := revList.StdoutPipe()
	if err != nil {
		return err
	}
	if err := revList.Start(); err != nil {
		return err
	}

	catFile := gitproc.New(ctx, "", "git", "-C", repoPath, "cat-file", "--batch-check=%(objectname) %(objecttype) %(objectsize)")
	catFile.Raw.Stdin = revOut
	catOut, err := catFile.StdoutPipe()
	if err != nil {
		return err
	}
	if err := catFile.Start(); err != nil {
		return err
	}

	var stats []ObjectStat
	var scanned int64
	sc := bufio.NewScanner(catOut)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		scanned++
		if progress != nil {
			progress(scanned, m.TotalObjects)
		}
		fields := strings.Fields(sc.Text())
		if len(fields) != 3 || fields[1] != "blob" {
			continue
		}
		size, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			continue
		}
		stats = append(stats, ObjectStat{OID: fields[0], Size: size})
	}
	scErr := sc.Err()

	_ = revList.Wait()
	if err := catFile.Wait(); err != nil {
		return err
	}
	if scErr != nil {
		return scErr
	}

	sort.Slice(stats, func(i, j int) bool { return stats[i].Size > stats[j].Size })
	if len(stats) > limit {
		stats = stats[:limit]
	}
	m.LargestBlobs = stats
	return nil
}

// MarkOverThreshold populates BlobsOverThreshold from LargestBlobs by
// filtering against the configured warn_blob_bytes threshold.
func (m *Metrics) MarkOverThreshold(t Thresholds) {
	m.BlobsOverThreshold = m.BlobsOverThreshold[:0]
	for _, b := range m.LargestBlobs {
		if b.Size >= t.WarnBlobBytes {
			m.BlobsOverThreshold = append(m.BlobsOverThreshold, b)
		}
	}
}

// Evaluate turns metrics into findings against thresholds, limited to the
// repository-footprint checks this package actually collects.
func Evaluate(m *Metrics, t Thresholds) []Finding {
	var findings []Finding

	switch {
	case m.TotalSizeBytes >= t.CritTotalBytes:
		findings = append(findings, Finding{
			Level:          Critical,
			Message:        "repository size exceeds the critical threshold",
			Recommendation: "avoid storing generated files or large media in git; consider an external object store",
		})
	case m.TotalSizeBytes >= t.WarnTotalBytes:
		findings = append(findings, Finding{
			Level:          Warning,
			Message:        "repository size exceeds the warning threshold",
			Recommendation: "prune large assets or split the project to keep git operations fast",
		})
	}

	if m.RefsTotal >= t.WarnRefCount {
		findings = append(findings, Finding{
			Level:          Warning,
			Message:        "ref count exceeds the warning threshold",
			Recommendation: "delete stale branches/tags or move rarely-needed refs to a separate remote",
		})
	}
	if m.TotalObjects >= int64(t.WarnObjectCount) {
		findings = append(findings, Finding{
			Level:          Warning,
			Message:        "object count exceeds the warning threshold",
			Recommendation: "consider sharding the project or aggregating many tiny files to reduce object churn",
		})
	}
	for _, b := range m.BlobsOverThreshold {
		findings = append(findings, Finding{
			Level:          Warning,
			Message:        "blob " + b.OID + " exceeds the size threshold",
			Recommendation: "track large files with an LFS-style mechanism or store them outside the repository",
		})
	}
	if len(findings) == 0 {
		findings = append(findings, Finding{Level: Info, Message: "no size-related issues detected above configured thresholds"})
	}
	return findings
}
