package main

import (
	"context"
	"fmt"

	"github.com/satfetch/satfetch/internal/plugin"
	"github.com/satfetch/satfetch/internal/remote"
)

// Go has no runtime importlib: a post-processor must be linked into the
// binary and registered at init() time, per internal/plugin. These two
// built-ins give --post-processor and --remote-processor each a "log" hook
// to name out of the box; a
// deployment with a real processing step registers its own under its own
// binary in exactly the same way.
func init() {
	plugin.RegisterLocal("log", func(ctx context.Context, path, productID string) error {
		fmt.Printf("post-process (local): %s -> %s\n", productID, path)
		return nil
	})
	plugin.RegisterRemote("log", func(ctx context.Context, ds *remote.Dataset, productID string) error {
		fmt.Printf("post-process (remote): %s, %d entries\n", productID, ds.Len())
		return nil
	})
}
