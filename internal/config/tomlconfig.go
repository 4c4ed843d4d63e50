package config

import (
	"fmt"
	"regexp"

	"github.com/BurntSushi/toml"
)

func compileRegex(pat string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(pat)
	if err != nil {
		return nil, fmt.Errorf("config: invalid path_regexes entry %q: %w", pat, err)
	}
	return re, nil
}

// CompilePathRegex is the CLI-facing entry point for compileRegex, used when
// a --path-regex flag is given directly rather than loaded from a file.
func CompilePathRegex(pat string) (*regexp.Regexp, error) {
	return compileRegex(pat)
}

// FileConfig is the on-disk shape of histsplice.toml, decoded with
// BurntSushi/toml the way
// modules/zeta/config loads its own TOML settings. CLI flags decoded
// separately always win over a loaded file: the caller assigns them onto
// the Options that Merge returns.
type FileConfig struct {
	Source string   `toml:"source"`
	Target string   `toml:"target"`
	Refs   []string `toml:"refs"`

	Paths       []string `toml:"paths"`
	PathGlobs   []string `toml:"path_globs"`
	PathRegexes []string `toml:"path_regexes"`
	InvertPaths bool     `toml:"invert_paths"`

	TagRenameOld    string `toml:"tag_rename_old"`
	TagRenameNew    string `toml:"tag_rename_new"`
	BranchRenameOld string `toml:"branch_rename_old"`
	BranchRenameNew string `toml:"branch_rename_new"`

	MaxBlobSize       *int64   `toml:"max_blob_size"`
	StripBlobsWithIDs []string `toml:"strip_blobs_with_ids"`

	ReplaceMessageFile string `toml:"replace_message_file"`
	ReplaceTextFile    string `toml:"replace_text_file"`

	NoData      bool `toml:"no_data"`
	DryRun      bool `toml:"dry_run"`
	WriteReport bool `toml:"write_report"`

	Sensitive bool   `toml:"sensitive"`
	Partial   bool   `toml:"partial"`
	Reset     bool   `toml:"reset"`
	Cleanup   string `toml:"cleanup"`

	Quiet bool `toml:"quiet"`
}

// LoadFileConfig decodes a histsplice.toml file. A missing or unreadable
// file is returned as an error, like a decode failure.
func LoadFileConfig(path string) (*FileConfig, error) {
	var fc FileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return nil, fmt.Errorf("config: loading %s: %w", path, err)
	}
	return &fc, nil
}

// Merge builds an Options from the file config, compiling regexes and
// byte-slicing string fields as needed. It does not apply CLI overrides;
// the caller layers those on afterward with direct field assignment so
// flags always win.
func (fc *FileConfig) Merge() (*Options, error) {
	o := Default()
	o.Source = fc.Source
	o.Target = fc.Target
	if len(fc.Refs) > 0 {
		o.Refs = fc.Refs
	}
	for _, p := range fc.Paths {
		o.Paths = append(o.Paths, []byte(p))
	}
	for _, g := range fc.PathGlobs {
		o.PathGlobs = append(o.PathGlobs, []byte(g))
	}
	for _, pat := range fc.PathRegexes {
		re, err := compileRegex(pat)
		if err != nil {
			return nil, err
		}
		o.PathRegexes = append(o.PathRegexes, re)
	}
	o.InvertPaths = fc.InvertPaths

	if fc.TagRenameOld != "" || fc.TagRenameNew != "" {
		o.TagRename = &Rename{Old: []byte(fc.TagRenameOld), New: []byte(fc.TagRenameNew)}
	}
	if fc.BranchRenameOld != "" || fc.BranchRenameNew != "" {
		o.BranchRename = &Rename{Old: []byte(fc.BranchRenameOld), New: []byte(fc.BranchRenameNew)}
	}

	o.MaxBlobSize = fc.MaxBlobSize
	for _, id := range fc.StripBlobsWithIDs {
		o.StripBlobsWithIDs = append(o.StripBlobsWithIDs, []byte(id))
	}

	o.ReplaceMessageFile = fc.ReplaceMessageFile
	o.ReplaceTextFile = fc.ReplaceTextFile
	o.NoData = fc.NoData
	o.DryRun = fc.DryRun
	o.WriteReport = fc.WriteReport
	o.Sensitive = fc.Sensitive
	o.Partial = fc.Partial
	o.Reset = fc.Reset
	if fc.Cleanup != "" {
		o.Cleanup = CleanupMode(fc.Cleanup)
	}
	o.Quiet = fc.Quiet
	return o, nil
}
