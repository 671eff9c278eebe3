// Command satfetch is the CLI for declarative, resumable bulk downloads
// from a satellite-data catalog: browse collections, dry-run a search, and
// run jobs with concurrent, resumable, integrity-checked transfer and an
// optional post-processing hook.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

func usageErrorCallback(ctx *cli.Context, err error, isSubcommand bool) error {
	fmt.Fprintf(os.Stderr, "satfetch: %s\n", err.Error())
	if ctx.Command.Name == "" {
		cli.ShowAppHelp(ctx)
	} else {
		showCommandHelp(ctx, ctx.Command.Name)
	}
	return cli.NewExitError("", exitArgValidation)
}

func main() {
	app := cli.App{
		Name:      "satfetch",
		HelpName:  "satfetch",
		Usage:     "resumable bulk downloader for a satellite-data catalog",
		UsageText: "satfetch <command> [arguments...]",
		Commands: []cli.Command{
			collectionsCmd,
			infoCmd,
			searchCmd,
			downloadCmd,
			runCmd,
		},
		OnUsageError: usageErrorCallback,
	}

	err := app.Run(os.Args)
	if err == nil {
		return
	}
	if exitErr, ok := err.(cli.ExitCoder); ok {
		if msg := exitErr.Error(); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(exitErr.ExitCode())
	}
	fmt.Fprintf(os.Stderr, "satfetch: %s\n", err.Error())
	os.Exit(exitFailure)
}
