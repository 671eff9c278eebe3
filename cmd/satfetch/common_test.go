package main

import (
	"errors"
	"flag"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"
)

func contextWithFlags(t *testing.T, args []string) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	set.Int("validity", 0, "")
	set.String("base-url", "", "")
	set.String("token-url", "", "")
	require.NoError(t, set.Parse(args))
	return cli.NewContext(cli.NewApp(), set, nil)
}

func TestResolveCredentialsAppliesValidityOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SATFETCH_KEY", "k")
	t.Setenv("SATFETCH_SECRET", "s")
	t.Setenv("SATFETCH_TOKEN_VALIDITY", "")

	ctx := contextWithFlags(t, []string{"--validity", "120"})
	creds, err := resolveCredentials(ctx)
	require.NoError(t, err)
	require.Equal(t, "k", creds.Key)
	require.Equal(t, 120, creds.Validity)
}

func TestResolveCredentialsFailsWhenIncomplete(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SATFETCH_KEY", "")
	t.Setenv("SATFETCH_SECRET", "")

	ctx := contextWithFlags(t, nil)
	_, err := resolveCredentials(ctx)
	require.Error(t, err)
}

func TestExitCodesMatchCommandSurfaceContract(t *testing.T) {
	ctx := contextWithFlags(t, nil)
	ctx.Command = cli.Command{Name: "search"}
	boom := errors.New("boom")

	argErr, ok := argErrWithCmdHelp(ctx, boom).(cli.ExitCoder)
	require.True(t, ok)
	require.Equal(t, exitArgValidation, argErr.ExitCode())

	runErr, ok := printErrWithCmdHelp(ctx, boom).(cli.ExitCoder)
	require.True(t, ok)
	require.Equal(t, exitFailure, runErr.ExitCode())

	interruptErr, ok := interruptedErr().(cli.ExitCoder)
	require.True(t, ok)
	require.Equal(t, exitInterrupted, interruptErr.ExitCode())
}

func TestProgressBarsReuseBarPerKey(t *testing.T) {
	bars := newProgressBars()
	h := bars.handlers()

	h.Progress("P1", 10)
	h.Progress("P1", 20)
	h.Complete("P1", 30)

	bars.mu.Lock()
	n := len(bars.m)
	bars.mu.Unlock()
	require.Equal(t, 1, n)
}
