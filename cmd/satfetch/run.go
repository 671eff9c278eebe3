package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli"

	"github.com/satfetch/satfetch/internal/config"
	"github.com/satfetch/satfetch/internal/orchestrator"
	"github.com/satfetch/satfetch/internal/retry"
	"github.com/satfetch/satfetch/internal/search"
)

var (
	runConfigPath      string
	runPostProcessor   string
	runRemoteProcessor string
	runDownload        bool
	runNoDownload      bool
)

var runFlags = append([]cli.Flag{
	cli.StringFlag{
		Name:        "config, c",
		Usage:       "path to a job configuration file",
		Destination: &runConfigPath,
	},
	cli.StringFlag{
		Name:        "post-processor",
		Usage:       "name of the registered internal/plugin local hook to run on verified downloads",
		Destination: &runPostProcessor,
	},
	cli.StringFlag{
		Name:        "remote-processor",
		Usage:       "name of the registered internal/plugin remote hook for jobs with post_process.mode \"remote\"",
		Destination: &runRemoteProcessor,
	},
	cli.StringFlag{
		Name:  "session-dir",
		Usage: "override the base session directory (default: ~/.satfetch)",
	},
	cli.BoolFlag{
		Name:        "download",
		Usage:       "force every job's download stage on, overriding its config file setting",
		Destination: &runDownload,
	},
	cli.BoolFlag{
		Name:        "no-download",
		Usage:       "force every job's download stage off, search-only, overriding its config file setting",
		Destination: &runNoDownload,
	},
}, globalFlags...)

var runCmd = cli.Command{
	Name:         "run",
	Usage:        "run every job end to end: search, download, and post-process",
	Flags:        runFlags,
	OnUsageError: usageErrorCallback,
	Action:       runAction,
}

func runAction(ctx *cli.Context) error {
	if runConfigPath == "" {
		return argErrWithCmdHelp(ctx, fmt.Errorf("run: --config is required"))
	}
	if runDownload && runNoDownload {
		return argErrWithCmdHelp(ctx, fmt.Errorf("run: --download and --no-download are mutually exclusive"))
	}

	app, err := config.Load(runConfigPath)
	if err != nil {
		return printErrWithCmdHelp(ctx, err)
	}
	if runDownload || runNoDownload {
		for i := range app.Jobs {
			app.Jobs[i].Download.Enabled = runDownload
		}
	}

	creds, err := resolveCredentials(ctx)
	if err != nil {
		return printErrWithCmdHelp(ctx, err)
	}
	client, err := buildClient(ctx, creds)
	if err != nil {
		return printErrWithCmdHelp(ctx, err)
	}

	svc := search.New(client, retry.DefaultConfig())
	logger := processLogger()
	orch := orchestrator.New(svc, client, ctx.String("session-dir"), runPostProcessor, logger)
	orch.SetRemoteProcessor(runRemoteProcessor)
	if runPostProcessor == "" && runRemoteProcessor == "" {
		logger.Printf("no --post-processor or --remote-processor given; jobs with post-processing enabled will download only")
	}

	bars := newProgressBars()
	orch.SetProgressHandlers(bars.handlers())
	stop := orch.ListenForSignals()
	defer stop()

	if err := orch.RunAll(context.Background(), app); err != nil {
		bars.wait()
		return printErrWithCmdHelp(ctx, err)
	}
	bars.wait()
	if orch.IsShuttingDown() {
		return interruptedErr()
	}
	return nil
}
