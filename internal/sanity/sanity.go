// Package sanity implements the pre-flight configuration checks: reject a
// zero or max-int max_blob_size, identical rename
// source/destination, incompatible combinations under `sensitive`, and
// path entries over 4 KiB.
package sanity

import (
	"fmt"
	"math"

	"github.com/kesvarga/histsplice/internal/config"
)

const maxPathLen = 4096 // 4 KiB

// Check runs every rule against o and returns every violation found,
// rather than stopping at the first, so the CLI can report them all at
// once.
func Check(o *config.Options) []error {
	var errs []error

	if o.MaxBlobSize != nil {
		if *o.MaxBlobSize == 0 {
			errs = append(errs, fmt.Errorf("sanity: max_blob_size must not be zero"))
		}
		if *o.MaxBlobSize == math.MaxInt64 {
			errs = append(errs, fmt.Errorf("sanity: max_blob_size must not be the maximum representable size"))
		}
	}

	if rn := o.TagRename; rn != nil && string(rn.Old) == string(rn.New) {
		errs = append(errs, fmt.Errorf("sanity: tag rename source and destination are identical (%q)", rn.Old))
	}
	if rn := o.BranchRename; rn != nil && string(rn.Old) == string(rn.New) {
		errs = append(errs, fmt.Errorf("sanity: branch rename source and destination are identical (%q)", rn.Old))
	}

	if o.Sensitive && (o.Source != "" || o.Target != "") {
		errs = append(errs, fmt.Errorf("sanity: --sensitive cannot be combined with a custom source or target"))
	}

	for _, p := range o.Paths {
		if len(p) > maxPathLen {
			errs = append(errs, fmt.Errorf("sanity: path entry exceeds %d bytes: %q...", maxPathLen, p[:32]))
		}
	}
	for _, g := range o.PathGlobs {
		if len(g) > maxPathLen {
			errs = append(errs, fmt.Errorf("sanity: path glob entry exceeds %d bytes: %q...", maxPathLen, g[:32]))
		}
	}

	return errs
}
