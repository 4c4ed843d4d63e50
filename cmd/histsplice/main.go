package main

import (
	"os"

	"github.com/alecthomas/kong"

	"github.com/kesvarga/histsplice/cmd/histsplice/command"
)

const version = "histsplice 0.1.0"

type app struct {
	command.Globals
	Filter  command.Filter  `cmd:"" help:"Rewrite repository history in place (paths, blobs, messages, refs)"`
	Analyze command.Analyze `cmd:"" help:"Report repository size/shape metrics without touching history"`
}

func main() {
	var a app
	parser := kong.Must(&a,
		kong.Name("histsplice"),
		kong.Description("Rewrite git history: filter paths, drop oversize or listed blobs, rewrite messages and refs"),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)
	ctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)
	ctx.FatalIfErrorf(ctx.Run(&a.Globals))
}
