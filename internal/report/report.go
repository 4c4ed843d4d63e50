// Package report builds the optional report.txt summary of what the
// filtering pipeline dropped or changed.
package report

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// maxSamples caps how many example paths are kept per category.
const maxSamples = 20

// Data accumulates counts and path samples for one run. A nil *Data is
// valid and records nothing, so callers don't need to guard every call
// site on whether --write-report was requested.
type Data struct {
	StrippedBySize int
	StrippedBySHA  int
	ModifiedBlobs  int

	samplesSize     [][]byte
	samplesSHA      [][]byte
	samplesModified [][]byte
}

// New returns an empty Data ready to accumulate one run's statistics.
func New() *Data {
	return &Data{}
}

// RecordStrippedBySize records one blob dropped by the size cap, with path
// for sampling. Counts unique occurrences (M-lines rewritten to D), not
// unique blob SHAs — what disappeared from trees, not storage dedup.
func (d *Data) RecordStrippedBySize(path []byte) {
	if d == nil {
		return
	}
	d.StrippedBySize++
	d.samplesSize = addSample(d.samplesSize, path)
}

// RecordStrippedBySHA records one blob dropped by strip_blobs_with_ids.
func (d *Data) RecordStrippedBySHA(path []byte) {
	if d == nil {
		return
	}
	d.StrippedBySHA++
	d.samplesSHA = addSample(d.samplesSHA, path)
}

// RecordModified records one blob whose payload changed under content
// substitution rules.
func (d *Data) RecordModified(path []byte) {
	if d == nil {
		return
	}
	d.ModifiedBlobs++
	d.samplesModified = addSample(d.samplesModified, path)
}

func addSample(samples [][]byte, path []byte) [][]byte {
	if len(samples) >= maxSamples || len(path) == 0 {
		return samples
	}
	for _, p := range samples {
		if string(p) == string(path) {
			return samples
		}
	}
	return append(samples, append([]byte(nil), path...))
}

// Write renders report.txt to path. A nil Data produces a "no report data
// collected" line when reporting was requested but nothing was ever
// recorded.
func Write(path string, d *Data) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if err := render(w, d); err != nil {
		return err
	}
	return w.Flush()
}

func render(w io.Writer, d *Data) error {
	if d == nil {
		_, err := fmt.Fprintln(w, "No report data collected.")
		return err
	}
	if _, err := fmt.Fprintf(w, "Stripped by size: %d\n", d.StrippedBySize); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Stripped by sha: %d\n", d.StrippedBySHA); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Modified blobs: %d\n", d.ModifiedBlobs); err != nil {
		return err
	}
	if err := writeSamples(w, "Sample paths (size):", d.samplesSize); err != nil {
		return err
	}
	if err := writeSamples(w, "Sample paths (sha):", d.samplesSHA); err != nil {
		return err
	}
	return writeSamples(w, "Sample paths (modified):", d.samplesModified)
}

func writeSamples(w io.Writer, header string, samples [][]byte) error {
	if len(samples) == 0 {
		return nil
	}
	if _, err := fmt.Fprintf(w, "\n%s\n", header); err != nil {
		return err
	}
	for _, p := range samples {
		if _, err := fmt.Fprintf(w, "%s\n", p); err != nil {
			return err
		}
	}
	return nil
}
