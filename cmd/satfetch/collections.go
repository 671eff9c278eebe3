package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli"
)

var collectionsCmd = cli.Command{
	Name:         "collections",
	Usage:        "list every catalog collection visible to the current credentials",
	Flags:        globalFlags,
	OnUsageError: usageErrorCallback,
	Action:       collectionsAction,
}

func collectionsAction(ctx *cli.Context) error {
	svc, err := buildSearchService(ctx)
	if err != nil {
		return printErrWithCmdHelp(ctx, err)
	}

	cols, err := svc.ListCollections(context.Background())
	if err != nil {
		return printErrWithCmdHelp(ctx, err)
	}

	for _, col := range cols {
		fmt.Printf("%-30s %s\n", col.ID, col.Title)
	}
	return nil
}
