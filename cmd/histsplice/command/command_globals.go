// Package command implements the histsplice subcommands: filter (the main
// history rewrite) and analyze (read-only repository metrics).
package command

import (
	"fmt"

	"github.com/alecthomas/kong"
)

// Globals holds the flags shared by every subcommand.
type Globals struct {
	Verbose bool        `short:"V" help:"Make the operation more talkative"`
	Version VersionFlag `short:"v" name:"version" help:"Show version number and quit"`
}

// VersionFlag prints the build version and exits, without running any
// subcommand.
type VersionFlag bool

func (v VersionFlag) Decode(ctx *kong.DecodeContext) error { return nil }
func (v VersionFlag) IsBool() bool                         { return true }
func (v VersionFlag) BeforeApply(app *kong.Kong, vars kong.Vars) error {
	fmt.Fprintln(app.Stdout, vars["version"])
	app.Exit(0)
	return nil
}
