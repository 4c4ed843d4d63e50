// Package config holds the declarative configuration recognised by the
// engine plus the replacement-file parsing used by message and
// blob content rewriting.
package config

import (
	"regexp"

	"github.com/kesvarga/histsplice/internal/pathrule"
)

// CleanupMode selects the post-import housekeeping level.
type CleanupMode string

const (
	CleanupNone       CleanupMode = "none"
	CleanupStandard   CleanupMode = "standard"
	CleanupAggressive CleanupMode = "aggressive"
)

// Rename is a single (old, new) prefix pair, used for tag/branch renames.
type Rename struct {
	Old []byte
	New []byte
}

// Options is the full set of recognised configuration options.
type Options struct {
	Source string
	Target string
	Refs   []string

	Paths       [][]byte
	PathGlobs   [][]byte
	PathRegexes []*regexp.Regexp
	InvertPaths bool
	PathRenames []pathrule.Rename

	TagRename    *Rename
	BranchRename *Rename

	MaxBlobSize       *int64
	StripBlobsWithIDs [][]byte // lower-cased 40-hex ids

	ReplaceMessageFile string
	ReplaceTextFile    string

	NoData      bool
	DryRun      bool
	WriteReport bool

	Sensitive bool
	Partial   bool
	Reset     bool
	Cleanup   CleanupMode

	Quiet bool

	// DebugDir overrides the default <target>/.git/filter-repo directory.
	DebugDir string
}

// PathRules builds the pathrule.Rules this run's options describe.
func (o *Options) PathRules() *pathrule.Rules {
	return &pathrule.Rules{
		Paths:   o.Paths,
		Globs:   o.PathGlobs,
		Regexes: o.PathRegexes,
		Invert:  o.InvertPaths,
		Renames: o.PathRenames,
	}
}

// Default returns an Options populated with sensible defaults: export all
// refs, keep HEAD reset on, no cleanup.
func Default() *Options {
	return &Options{
		Refs:    []string{"--all"},
		Reset:   true,
		Cleanup: CleanupNone,
	}
}
