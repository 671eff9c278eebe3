package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli"
)

var infoCmd = cli.Command{
	Name:         "info",
	Usage:        "show detail and allowed filters for one collection",
	ArgsUsage:    "<collection_id>",
	Flags:        globalFlags,
	OnUsageError: usageErrorCallback,
	Action:       infoAction,
}

func infoAction(ctx *cli.Context) error {
	collectionID := ctx.Args().First()
	if collectionID == "" {
		return argErrWithCmdHelp(ctx, fmt.Errorf("info: a collection id is required"))
	}

	svc, err := buildSearchService(ctx)
	if err != nil {
		return printErrWithCmdHelp(ctx, err)
	}

	detail, err := svc.CollectionInfo(context.Background(), collectionID)
	if err != nil {
		return printErrWithCmdHelp(ctx, err)
	}

	fmt.Printf("%s\n%s\n\n%s\n\nAllowed filters: %s\n",
		detail.ID, detail.Title, detail.Abstract, strings.Join(detail.AllowedFilters, ", "))
	return nil
}
