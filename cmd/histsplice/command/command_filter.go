package command

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/kesvarga/histsplice/internal/config"
	"github.com/kesvarga/histsplice/internal/engine"
	"github.com/kesvarga/histsplice/internal/pathrule"
	"github.com/kesvarga/histsplice/internal/sanity"
)

// Filter rewrites a repository's history in place (or from source into
// target), applying path, blob, message, and ref-rename rules.
type Filter struct {
	Source string   `help:"Source repository (defaults to the current repository)" type:"path"`
	Target string   `help:"Target repository; defaults to Source for an in-place rewrite" type:"path"`
	Refs   []string `help:"Refs to export; defaults to --all"`

	Config string `help:"Load options from a histsplice.toml file; CLI flags override it" type:"path"`

	Path        []string `help:"Keep only paths with this prefix (repeatable)"`
	PathGlob    []string `help:"Keep only paths matching this glob (repeatable)"`
	PathRegex   []string `help:"Keep only paths matching this regular expression (repeatable)"`
	InvertPaths bool     `help:"Flip include/exclude polarity for --path/--path-glob/--path-regex"`

	PathRenameOld []string `help:"Old prefix of an ordered path rename (paired by position with --path-rename-new)"`
	PathRenameNew []string `help:"New prefix of an ordered path rename"`

	TagRenameOld    string `help:"Old prefix for tag renaming"`
	TagRenameNew    string `help:"New prefix for tag renaming"`
	BranchRenameOld string `help:"Old prefix for branch renaming"`
	BranchRenameNew string `help:"New prefix for branch renaming"`

	MaxBlobSize        int64  `help:"Drop blobs strictly larger than this many bytes (0 disables the check)"`
	StripBlobsWithIDs  string `help:"File of 40-hex blob ids to drop, one per line" type:"path"`
	ReplaceMessageFile string `help:"Literal/regex substitution file applied to commit and tag messages" type:"path"`
	ReplaceTextFile    string `help:"Literal/regex substitution file applied to blob payloads" type:"path"`

	NoData      bool   `help:"Ask the producer to elide blob payloads"`
	DryRun      bool   `help:"Mirror and report without writing ref updates or spawning the consumer"`
	WriteReport bool   `help:"Write a report.txt summary of dropped/modified blobs"`
	Sensitive   bool   `help:"Treat this run as touching sensitive history; incompatible with custom --source/--target"`
	Partial     bool   `help:"Suppress origin migration/removal"`
	NoReset     bool   `help:"Do not reset the working tree to HEAD after finalisation"`
	Cleanup     string `help:"Post-import housekeeping: none, standard, or aggressive" enum:"none,standard,aggressive" default:"none"`
	DebugDir    string `help:"Override the default <target>/.git/filter-repo debug directory" type:"path"`

	Force bool `help:"Skip the confirmation prompt for an in-place rewrite"`
}

// Run executes the filter subcommand.
func (f *Filter) Run(g *Globals) error {
	if g.Verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	opts, err := f.buildOptions()
	if err != nil {
		return fmt.Errorf("histsplice filter: %w", err)
	}

	if violations := sanity.Check(opts); len(violations) > 0 {
		for _, v := range violations {
			fmt.Fprintln(os.Stderr, v)
		}
		return fmt.Errorf("histsplice filter: %d configuration problem(s) found", len(violations))
	}

	if !f.Force && !opts.DryRun {
		if !confirmRewrite(opts) {
			return errors.New("histsplice filter: aborted, pass --force to skip confirmation")
		}
	}

	ctx := context.Background()
	eng, err := engine.New(ctx, opts)
	if err != nil {
		return fmt.Errorf("histsplice filter: %w", err)
	}
	if err := eng.Run(ctx); err != nil {
		return fmt.Errorf("histsplice filter: %w", err)
	}
	return nil
}

func (f *Filter) buildOptions() (*config.Options, error) {
	opts := config.Default()
	if f.Config != "" {
		fc, err := config.LoadFileConfig(f.Config)
		if err != nil {
			return nil, err
		}
		opts, err = fc.Merge()
		if err != nil {
			return nil, err
		}
	}

	if f.Source != "" {
		opts.Source = f.Source
	}
	if f.Target != "" {
		opts.Target = f.Target
	} else if opts.Target == "" {
		opts.Target = opts.Source
	}
	if len(f.Refs) > 0 {
		opts.Refs = f.Refs
	}

	for _, p := range f.Path {
		opts.Paths = append(opts.Paths, []byte(p))
	}
	for _, g := range f.PathGlob {
		opts.PathGlobs = append(opts.PathGlobs, []byte(g))
	}
	for _, pat := range f.PathRegex {
		re, err := config.CompilePathRegex(pat)
		if err != nil {
			return nil, err
		}
		opts.PathRegexes = append(opts.PathRegexes, re)
	}
	if f.InvertPaths {
		opts.InvertPaths = true
	}

	if len(f.PathRenameOld) != len(f.PathRenameNew) {
		return nil, errors.New("--path-rename-old and --path-rename-new must be given the same number of times")
	}
	for i := range f.PathRenameOld {
		opts.PathRenames = append(opts.PathRenames, pathrule.Rename{
			Old: []byte(f.PathRenameOld[i]),
			New: []byte(f.PathRenameNew[i]),
		})
	}

	if f.TagRenameOld != "" || f.TagRenameNew != "" {
		opts.TagRename = &config.Rename{Old: []byte(f.TagRenameOld), New: []byte(f.TagRenameNew)}
	}
	if f.BranchRenameOld != "" || f.BranchRenameNew != "" {
		opts.BranchRename = &config.Rename{Old: []byte(f.BranchRenameOld), New: []byte(f.BranchRenameNew)}
	}

	if f.MaxBlobSize > 0 {
		opts.MaxBlobSize = &f.MaxBlobSize
	}
	if f.StripBlobsWithIDs != "" {
		ids, err := config.LoadHexIDList(f.StripBlobsWithIDs)
		if err != nil {
			return nil, err
		}
		opts.StripBlobsWithIDs = ids
	}

	opts.ReplaceMessageFile = f.ReplaceMessageFile
	opts.ReplaceTextFile = f.ReplaceTextFile
	opts.NoData = f.NoData
	opts.DryRun = f.DryRun
	opts.WriteReport = f.WriteReport
	opts.Sensitive = f.Sensitive
	opts.Partial = f.Partial
	opts.Reset = !f.NoReset
	opts.Cleanup = config.CleanupMode(f.Cleanup)
	opts.DebugDir = f.DebugDir

	return opts, nil
}

func confirmRewrite(opts *config.Options) bool {
	fmt.Printf("This will rewrite history in %q and cannot be undone by this tool.\n", opts.Target)
	fmt.Print("Continue? [y/N] ")
	var answer string
	fmt.Scanln(&answer)
	return answer == "y" || answer == "Y"
}
