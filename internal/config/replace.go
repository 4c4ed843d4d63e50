package config

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"regexp"
)

// sentinel is the default replacement text for a bare OLD line with no
// "==>NEW" right-hand side.
const sentinel = "***REMOVED***"

// literalRule is one "OLD==>NEW" (or bare "OLD", meaning ==>sentinel) line.
type literalRule struct {
	from []byte
	to   []byte
}

// regexRule is one "regex:PATTERN==>REPLACEMENT" line. to may reference
// capture groups with $1, $2, ... the same way regexp.ReplaceAll does.
type regexRule struct {
	re *regexp.Regexp
	to []byte
}

// Replacer applies substitution rules to commit/tag messages or blob
// payloads: all literal rules in file order, then all regex rules in file
// order.
type Replacer struct {
	literals []literalRule
	regexes  []regexRule
}

// LoadReplacer parses a replacement file: blank lines and lines starting
// with '#' are ignored; "regex:" lines compile a regexp; everything else is
// a literal OLD[==>NEW] rule.
func LoadReplacer(path string) (*Replacer, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: read replacement file %q: %w", path, err)
	}
	defer f.Close()

	r := &Replacer{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		if rest, ok := cutPrefix(line, []byte("regex:")); ok {
			pat, to, hasArrow := splitArrow(rest)
			if !hasArrow {
				pat, to = rest, []byte(sentinel)
			}
			re, err := regexp.Compile(string(pat))
			if err != nil {
				return nil, fmt.Errorf("config: invalid regex %q in %q: %w", pat, path, err)
			}
			r.regexes = append(r.regexes, regexRule{re: re, to: to})
			continue
		}
		from, to, hasArrow := splitArrow(line)
		if !hasArrow {
			from, to = line, []byte(sentinel)
		}
		if len(from) == 0 {
			continue
		}
		r.literals = append(r.literals, literalRule{from: append([]byte(nil), from...), to: append([]byte(nil), to...)})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("config: scan replacement file %q: %w", path, err)
	}
	return r, nil
}

func cutPrefix(b, prefix []byte) ([]byte, bool) {
	if !bytes.HasPrefix(b, prefix) {
		return nil, false
	}
	return b[len(prefix):], true
}

func splitArrow(b []byte) (from, to []byte, ok bool) {
	idx := bytes.Index(b, []byte("==>"))
	if idx < 0 {
		return b, nil, false
	}
	return b[:idx], b[idx+3:], true
}

// Apply runs every literal rule (in order) then every regex rule (in order)
// over data and returns the rewritten bytes.
func (r *Replacer) Apply(data []byte) []byte {
	if r == nil {
		return data
	}
	for _, rule := range r.literals {
		data = bytes.ReplaceAll(data, rule.from, rule.to)
	}
	for _, rule := range r.regexes {
		data = rule.re.ReplaceAll(data, rule.to)
	}
	return data
}

// Changed reports whether Apply(before) would differ from before, without
// allocating the result twice when the caller already has it.
func Changed(before, after []byte) bool {
	return !bytes.Equal(before, after)
}

// LoadHexIDList reads a file of 40-hex object ids, one per line, ignoring
// blank lines and lines starting with '#'. Ids are lower-cased on load so
// downstream comparisons never need to care about case.
func LoadHexIDList(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: read strip_blobs_with_ids file %q: %w", path, err)
	}
	defer f.Close()

	var ids [][]byte
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		ids = append(ids, bytes.ToLower(append([]byte(nil), line...)))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("config: scan strip_blobs_with_ids file %q: %w", path, err)
	}
	return ids, nil
}
