// Package gitproc spawns and supervises the two git subprocesses that
// bookend the engine: "git fast-export" as the producer and "git
// fast-import" as the consumer. It also provides a small wrapper
// around os/exec with bounded stderr capture,
// modules/command package.
package gitproc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	shellquote "github.com/kballard/go-shellquote"
)

const stderrCaptureLimit = 32 << 10

// Command wraps exec.Cmd with bounded-stderr-on-failure behavior: when the
// caller hasn't attached its own Stderr, a failing command's error carries
// a trimmed prefix/suffix of whatever it wrote.
type Command struct {
	Raw *exec.Cmd
}

// New builds a Command rooted at dir. Capability-gated git flags are the
// caller's concern; this just wraps process plumbing.
func New(ctx context.Context, dir, name string, arg ...string) *Command {
	cmd := exec.CommandContext(ctx, name, arg...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	return &Command{Raw: cmd}
}

func (c *Command) StdoutPipe() (io.ReadCloser, error) { return c.Raw.StdoutPipe() }
func (c *Command) StdinPipe() (io.WriteCloser, error) { return c.Raw.StdinPipe() }

func (c *Command) Start() error { return c.Raw.Start() }

func (c *Command) Wait() error { return c.Raw.Wait() }

// Run starts the command, captures bounded stderr if none was set, and
// waits for it to finish.
func (c *Command) Run() error {
	captureErr := c.Raw.Stderr == nil
	var saver *prefixSuffixSaver
	if captureErr {
		saver = &prefixSuffixSaver{N: stderrCaptureLimit}
		c.Raw.Stderr = saver
	}
	err := c.Raw.Run()
	if err != nil && captureErr {
		if ee, ok := err.(*exec.ExitError); ok {
			return fmt.Errorf("%s: %w\n%s", c.String(), ee, saver.Bytes())
		}
	}
	return err
}

// Quoted renders the command's argv the way a shell would need it quoted,
// for debug logging, rather than command.String()'s plain space join (which
// is ambiguous once an argument contains whitespace, e.g. a path rename).
func (c *Command) Quoted() string {
	return shellquote.Join(c.Raw.Args...)
}

func (c *Command) String() string {
	b := new(strings.Builder)
	b.WriteString("[")
	b.WriteString(c.Raw.Dir)
	b.WriteString("] ")
	b.WriteString(c.Raw.Path)
	for _, a := range c.Raw.Args[1:] {
		b.WriteByte(' ')
		b.WriteString(a)
	}
	return b.String()
}

// prefixSuffixSaver retains the first N and last N bytes written to it, for
// a trimmed error message when a subprocess writes a lot to stderr before
// failing.
type prefixSuffixSaver struct {
	N         int
	prefix    []byte
	suffix    []byte
	suffixOff int
	skipped   int64
}

func (w *prefixSuffixSaver) Write(p []byte) (int, error) {
	lenp := len(p)
	p = w.fill(&w.prefix, p)

	if overage := len(p) - w.N; overage > 0 {
		p = p[overage:]
		w.skipped += int64(overage)
	}
	p = w.fill(&w.suffix, p)

	for len(p) > 0 {
		n := copy(w.suffix[w.suffixOff:], p)
		p = p[n:]
		w.skipped += int64(n)
		w.suffixOff += n
		if w.suffixOff == w.N {
			w.suffixOff = 0
		}
	}
	return lenp, nil
}

func (w *prefixSuffixSaver) fill(dst *[]byte, p []byte) (pRemain []byte) {
	if remain := w.N - len(*dst); remain > 0 {
		add := min(len(p), remain)
		*dst = append(*dst, p[:add]...)
		p = p[add:]
	}
	return p
}

func (w *prefixSuffixSaver) Bytes() []byte {
	if w.suffix == nil {
		return w.prefix
	}
	if w.skipped == 0 {
		return append(w.prefix, w.suffix...)
	}
	var buf bytes.Buffer
	buf.Grow(len(w.prefix) + len(w.suffix) + 50)
	buf.Write(w.prefix)
	buf.WriteString("\n... omitting ")
	buf.WriteString(strconv.FormatInt(w.skipped, 10))
	buf.WriteString(" bytes ...\n")
	buf.Write(w.suffix[w.suffixOff:])
	buf.Write(w.suffix[:w.suffixOff])
	return buf.Bytes()
}
