package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/satfetch/satfetch/internal/config"
	"github.com/satfetch/satfetch/internal/downloader"
	"github.com/satfetch/satfetch/internal/orchestrator"
	"github.com/satfetch/satfetch/internal/retry"
	"github.com/satfetch/satfetch/internal/search"
)

var downloadConfigPath string

var downloadFlags = append([]cli.Flag{
	cli.StringFlag{
		Name:        "config, c",
		Usage:       "path to a job configuration file",
		Destination: &downloadConfigPath,
	},
	cli.StringFlag{
		Name:  "session-dir",
		Usage: "override the base session directory (default: ~/.satfetch)",
	},
}, globalFlags...)

var downloadCmd = cli.Command{
	Name:         "download",
	Usage:        "run every job's search and download, without post-processing",
	Flags:        downloadFlags,
	OnUsageError: usageErrorCallback,
	Action:       downloadAction,
}

func downloadAction(ctx *cli.Context) error {
	if downloadConfigPath == "" {
		return argErrWithCmdHelp(ctx, fmt.Errorf("download: --config is required"))
	}

	app, err := config.Load(downloadConfigPath)
	if err != nil {
		return printErrWithCmdHelp(ctx, err)
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
	orch := orchestrator.New(svc, client, ctx.String("session-dir"), "", logger)

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

// progressBars renders one mpb bar per product/entry key, in the teacher's
// block-style bar convention, driven by internal/downloader.Handlers.
type progressBars struct {
	p  *mpb.Progress
	mu sync.Mutex
	m  map[string]*mpb.Bar
}

func newProgressBars() *progressBars {
	return &progressBars{p: mpb.New(mpb.WithWidth(64)), m: make(map[string]*mpb.Bar)}
}

func (b *progressBars) barFor(key string) *mpb.Bar {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bar, ok := b.m[key]; ok {
		return bar
	}
	style := mpb.BarStyle().Lbound("╢").Filler("█").Tip("█").Padding("░").Rbound("╟")
	bar := b.p.New(0, style,
		mpb.PrependDecorators(
			decor.Name(key, decor.WC{W: len(key) + 1, C: decor.DindentRight}),
		),
		mpb.AppendDecorators(
			decor.EwmaSpeed(decor.SizeB1024(0), "% .2f", 30),
		),
	)
	b.m[key] = bar
	return bar
}

func (b *progressBars) handlers() downloader.Handlers {
	return downloader.Handlers{
		Progress: func(key string, nread int) {
			b.barFor(key).IncrBy(nread)
		},
		Complete: func(key string, total int64) {
			bar := b.barFor(key)
			bar.SetTotal(total, true)
		},
		Error: func(key string, err error) {
			b.barFor(key).Abort(false)
		},
	}
}

func (b *progressBars) wait() {
	b.p.Wait()
}
