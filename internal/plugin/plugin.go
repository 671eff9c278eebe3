// Package plugin is the post-processor extension point: a job names a
// post-processor by string, and this package resolves that to a hook
// function invoked once a product has finished downloading (local mode) or
// once its entries are ready to stream (remote mode). Registration is
// compile-time, the same convention internal/filters uses, since Go has no
// runtime equivalent of the original's importlib-based dynamic loading.
package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/satfetch/satfetch/internal/remote"
)

// LocalFunc post-processes a product already downloaded to local disk.
// path is the downloaded file's location, productID identifies the
// product in logs and state.
type LocalFunc func(ctx context.Context, path, productID string) error

// RemoteFunc post-processes a product by reading directly from its
// authenticated remote byte streams, without a local file ever existing.
type RemoteFunc func(ctx context.Context, dataset *remote.Dataset, productID string) error

var (
	mu        sync.RWMutex
	localReg  = make(map[string]LocalFunc)
	remoteReg = make(map[string]RemoteFunc)
)

// RegisterLocal adds a named local post-processor hook. Typically called
// from an init() function.
func RegisterLocal(name string, fn LocalFunc) {
	mu.Lock()
	defer mu.Unlock()
	localReg[name] = fn
}

// RegisterRemote adds a named remote post-processor hook.
func RegisterRemote(name string, fn RemoteFunc) {
	mu.Lock()
	defer mu.Unlock()
	remoteReg[name] = fn
}

// Local resolves name to a registered local post-processor.
func Local(name string) (LocalFunc, error) {
	mu.RLock()
	fn, ok := localReg[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("plugin: unknown local post-processor %q (registered: %v)", name, localNames())
	}
	return fn, nil
}

// Remote resolves name to a registered remote post-processor.
func Remote(name string) (RemoteFunc, error) {
	mu.RLock()
	fn, ok := remoteReg[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("plugin: unknown remote post-processor %q (registered: %v)", name, remoteNames())
	}
	return fn, nil
}

func localNames() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(localReg))
	for k := range localReg {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func remoteNames() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(remoteReg))
	for k := range remoteReg {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
