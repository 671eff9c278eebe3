package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli"

	"github.com/satfetch/satfetch/internal/config"
)

var (
	searchConfigPath string
	searchCountOnly  bool
	searchLimit      int
)

var searchFlags = append([]cli.Flag{
	cli.StringFlag{
		Name:        "config, c",
		Usage:       "path to a job configuration file",
		Destination: &searchConfigPath,
	},
	cli.BoolFlag{
		Name:        "count-only",
		Usage:       "only report how many products match, never fetch them",
		Destination: &searchCountOnly,
	},
	cli.IntFlag{
		Name:        "limit",
		Usage:       "cap the number of products fetched per job",
		Destination: &searchLimit,
	},
}, globalFlags...)

var searchCmd = cli.Command{
	Name:         "search",
	Usage:        "run each job's search and print matching products without downloading",
	Flags:        searchFlags,
	OnUsageError: usageErrorCallback,
	Action:       searchAction,
}

func searchAction(ctx *cli.Context) error {
	if searchConfigPath == "" {
		return argErrWithCmdHelp(ctx, fmt.Errorf("search: --config is required"))
	}

	app, err := config.Load(searchConfigPath)
	if err != nil {
		return printErrWithCmdHelp(ctx, err)
	}

	svc, err := buildSearchService(ctx)
	if err != nil {
		return printErrWithCmdHelp(ctx, err)
	}

	background := context.Background()
	for _, job := range app.Jobs {
		if searchCountOnly {
			count, err := svc.Count(background, job.Collection, job.Filters)
			if err != nil {
				return printErrWithCmdHelp(ctx, fmt.Errorf("job %q: %w", job.Name, err))
			}
			fmt.Printf("%s: %d matching products\n", job.Name, count)
			continue
		}

		limit := searchLimit
		if limit <= 0 && job.Limit != nil {
			limit = *job.Limit
		}
		products, err := svc.IterProducts(background, job.Collection, job.Filters, limit)
		if err != nil {
			return printErrWithCmdHelp(ctx, fmt.Errorf("job %q: %w", job.Name, err))
		}

		fmt.Printf("%s: %d products\n", job.Name, len(products))
		for _, p := range products {
			fmt.Printf("  %-40s %10d bytes  %s\n", p.ID, p.SizeBytes, p.SensingTime.Format("2006-01-02T15:04:05Z"))
		}
	}
	return nil
}
