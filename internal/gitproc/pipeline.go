package gitproc

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
)

// Capabilities records which optional git fast-export/fast-import flags the
// installed git binary supports, so the engine can degrade gracefully on
// older git versions instead of failing with an opaque "unknown option".
type Capabilities struct {
	FastExportReencode      bool // --reencode=yes, git >= 2.23.0
	FastExportMarkTags      bool // --mark-tags, git >= 2.24.0
	FastImportRawPermissive bool // --date-format=raw-permissive
}

var versionRe = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

// DetectCapabilities runs "git version" and derives the capability set from
// the reported version. Unknown or unparsable output is treated as the
// oldest supported baseline (no optional flags).
func DetectCapabilities(ctx context.Context) Capabilities {
	out, err := exec.CommandContext(ctx, "git", "version").Output()
	if err != nil {
		return Capabilities{}
	}
	m := versionRe.FindSubmatch(out)
	if m == nil {
		return Capabilities{}
	}
	major := atoiOr(m[1], 0)
	minor := atoiOr(m[2], 0)
	ge := func(wantMajor, wantMinor int) bool {
		if major != wantMajor {
			return major > wantMajor
		}
		return minor >= wantMinor
	}
	return Capabilities{
		FastExportReencode:      ge(2, 23),
		FastExportMarkTags:      ge(2, 24),
		FastImportRawPermissive: ge(2, 29),
	}
}

func atoiOr(b []byte, fallback int) int {
	n := 0
	if len(b) == 0 {
		return fallback
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return fallback
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// ExportSpec describes how to build the "git fast-export" producer.
type ExportSpec struct {
	Source    string
	Refs      []string
	QuotePath bool
	DateOrder bool
	NoData    bool
	Reencode  bool
	MarkTags  bool
	Caps      Capabilities
}

// BuildFastExport constructs (but does not start) the fast-export command,
// rejecting capability-gated flags the installed git can't honor rather
// than letting git itself fail with an opaque error.
func BuildFastExport(ctx context.Context, spec ExportSpec) (*Command, error) {
	args := []string{"-C", spec.Source}
	if spec.QuotePath {
		args = append(args, "-c", "core.quotepath=false")
	}
	args = append(args, "fast-export")
	args = append(args, spec.Refs...)
	args = append(args,
		"--show-original-ids",
		"--signed-tags=strip",
		"--tag-of-filtered-object=rewrite",
		"--fake-missing-tagger",
		"--reference-excluded-parents",
		"--use-done-feature",
	)
	if spec.DateOrder {
		args = append(args, "--date-order")
	}
	if spec.NoData {
		args = append(args, "--no-data")
	}
	if spec.Reencode {
		if !spec.Caps.FastExportReencode {
			return nil, fmt.Errorf("gitproc: git fast-export lacks --reencode; need git >= 2.23.0")
		}
		args = append(args, "--reencode=yes")
	}
	if spec.MarkTags {
		if !spec.Caps.FastExportMarkTags {
			return nil, fmt.Errorf("gitproc: git fast-export lacks --mark-tags; need git >= 2.24.0")
		}
		args = append(args, "--mark-tags")
	}
	cmd := New(ctx, "", "git", args...)
	return cmd, nil
}

// ImportSpec describes how to build the "git fast-import" consumer.
type ImportSpec struct {
	Target string
	GitDir string // used to place the export-marks file under <gitdir>/filter-repo
	Caps   Capabilities
}

// BuildFastImport constructs (but does not start) the fast-import command.
func BuildFastImport(ctx context.Context, spec ImportSpec) *Command {
	args := []string{"-C", spec.Target, "-c", "core.ignorecase=false", "fast-import", "--force", "--quiet"}
	if spec.Caps.FastImportRawPermissive {
		args = append(args, "--date-format=raw-permissive")
	}
	if spec.GitDir != "" {
		marksDir := filepath.Join(spec.GitDir, "filter-repo")
		_ = os.MkdirAll(marksDir, 0o755)
		args = append(args, "--export-marks="+filepath.Join(marksDir, "target-marks"))
	}
	return New(ctx, "", "git", args...)
}
