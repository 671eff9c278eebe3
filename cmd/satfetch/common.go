package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli"

	"github.com/satfetch/satfetch/internal/credentials"
	"github.com/satfetch/satfetch/internal/eumdac"
	"github.com/satfetch/satfetch/internal/retry"
	"github.com/satfetch/satfetch/internal/search"
	"github.com/satfetch/satfetch/internal/transport"
)

var showCommandHelp = cli.ShowCommandHelp

// globalFlags are accepted by every subcommand that talks to the catalog.
var globalFlags = []cli.Flag{
	cli.IntFlag{
		Name:  "validity",
		Usage: "requested access token lifetime in seconds",
	},
	cli.StringFlag{
		Name:  "base-url",
		Usage: "override the catalog's base URL",
	},
	cli.StringFlag{
		Name:  "token-url",
		Usage: "override the catalog's OAuth2 token URL",
	},
}

// buildSearchService resolves credentials, builds the token-refreshing
// transport, and wraps it in a search.Service, the shared setup every
// catalog-facing subcommand needs.
func buildSearchService(ctx *cli.Context) (*search.Service, error) {
	creds, err := resolveCredentials(ctx)
	if err != nil {
		return nil, err
	}

	client, err := buildClient(ctx, creds)
	if err != nil {
		return nil, err
	}
	return search.New(client, retry.DefaultConfig()), nil
}

// buildClient wires up the token-refreshing transport and the catalog
// client that both searches and downloads share.
func buildClient(ctx *cli.Context, creds credentials.Credentials) (*eumdac.Client, error) {
	tokenSrc := eumdac.NewTokenSource(creds, ctx.String("token-url"))

	tr, err := transport.New(context.Background(), tokenSrc)
	if err != nil {
		return nil, fmt.Errorf("build transport: %w", err)
	}

	return eumdac.New(tr, ctx.String("base-url"), ""), nil
}

// resolveCredentials loads credentials from the standard priority chain,
// applying any CLI override for the requested token validity.
func resolveCredentials(ctx *cli.Context) (credentials.Credentials, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return credentials.Credentials{}, fmt.Errorf("resolve home directory: %w", err)
	}
	creds, err := credentials.Load(home)
	if err != nil {
		return credentials.Credentials{}, fmt.Errorf("load credentials: %w", err)
	}
	if v := ctx.Int("validity"); v > 0 {
		creds.Validity = v
	}
	return creds, nil
}

func processLogger() *log.Logger {
	return log.New(os.Stderr, "satfetch: ", log.LstdFlags)
}

// Exit codes, matching the command surface's documented contract: 0 on
// success, 130 on interrupt, 1 on any other failure, 2 on argument
// validation.
const (
	exitFailure       = 1
	exitArgValidation = 2
	exitInterrupted   = 130
)

// printErrWithCmdHelp prints an error and the invoking command's help text,
// matching the teacher's error-reporting convention, and exits 1: the
// runtime-failure code for everything that isn't a usage problem.
func printErrWithCmdHelp(ctx *cli.Context, err error) error {
	return reportErr(ctx, err, exitFailure)
}

// argErrWithCmdHelp is printErrWithCmdHelp's counterpart for bad arguments
// or flags (missing --config, conflicting flags, a missing positional
// argument): exit 2, not 1.
func argErrWithCmdHelp(ctx *cli.Context, err error) error {
	return reportErr(ctx, err, exitArgValidation)
}

func reportErr(ctx *cli.Context, err error, code int) error {
	if err == nil {
		return nil
	}
	fmt.Fprintf(os.Stderr, "satfetch: %s: %s\n", ctx.Command.Name, err.Error())
	if helpErr := showCommandHelp(ctx, ctx.Command.Name); helpErr != nil {
		fmt.Fprintln(os.Stderr, helpErr.Error())
	}
	return cli.NewExitError("", code)
}

// interruptedErr reports a run cut short by SIGINT/SIGTERM with the
// documented interrupt exit code, skipping the help text since this isn't
// a usage problem.
func interruptedErr() error {
	return cli.NewExitError("satfetch: interrupted", exitInterrupted)
}
