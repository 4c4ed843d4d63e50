package command

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// progressBar wraps mpb.Bar for the long-running blob-scanning pass of the
// analyze subcommand, disabling itself when stdout isn't a terminal or the
// total is unknown up front.
type progressBar struct {
	p   *mpb.Progress
	bar *mpb.Bar
}

// newProgressBar starts a bar titled description over total items. It is a
// no-op (setCurrent/done return immediately) when stdout is not a terminal, total
// is non-positive, or quiet is set.
func newProgressBar(description string, total int64, quiet bool) *progressBar {
	if quiet || total <= 0 || !isatty.IsTerminal(os.Stdout.Fd()) {
		return &progressBar{}
	}
	p := mpb.New(mpb.WithWidth(48))
	bar := p.AddBar(total,
		mpb.PrependDecorators(decor.Name(description), decor.CountersNoUnit(" %d / %d")),
		mpb.AppendDecorators(decor.Percentage()),
	)
	return &progressBar{p: p, bar: bar}
}

func (b *progressBar) setCurrent(n int64) {
	if b.bar != nil {
		b.bar.SetCurrent(n)
	}
}

func (b *progressBar) done() {
	if b.bar == nil {
		return
	}
	b.bar.SetCurrent(b.bar.Current())
	b.p.Wait()
}
