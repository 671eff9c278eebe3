// Package filters is a post-search filter registry: a job config names a
// filter type plus params, and this package turns that into a function over
// a product list. Go has no runtime import machinery, so the original's
// "module:factory" dynamic-import syntax becomes a plain registry key
// convention — callers wanting a custom filter register it under that
// literal key at compile time via init(), instead of naming an import path
// at config time.
package filters

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/satfetch/satfetch/internal/catalog"
)

// Func filters a product slice, returning the subset to keep.
type Func func(products []catalog.Product) []catalog.Product

// Factory builds a Func from the params given in a job's post_search_filter
// block.
type Factory func(params map[string]any) (Func, error)

var (
	mu       sync.RWMutex
	registry = make(map[string]Factory)
)

// Register adds a named filter factory to the built-in registry. Typically
// called from an init() function. Re-registering a name overwrites it.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = factory
}

func init() {
	Register("sample_interval", sampleIntervalFactory)
}

// Build looks up typeName in the registry and invokes its factory with
// params. A typeName containing ':' is treated the same as one without —
// Go has nothing to dynamically import, so both forms are just registry
// keys; callers wanting "module:factory"-style names simply Register under
// that literal string.
func Build(typeName string, params map[string]any) (Func, error) {
	mu.RLock()
	factory, ok := registry[typeName]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("filters: unknown post-search filter type %q (registered: %v)", typeName, names())
	}
	return factory(params)
}

func names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// sampleIntervalFactory builds a temporal-subsampling filter: one product
// per bucket of intervalHours hours, keeping the earliest in each bucket.
func sampleIntervalFactory(params map[string]any) (Func, error) {
	raw, ok := params["interval_hours"]
	if !ok {
		return nil, fmt.Errorf("filters: sample_interval requires an interval_hours param")
	}

	var intervalHours float64
	switch v := raw.(type) {
	case float64:
		intervalHours = v
	case int:
		intervalHours = float64(v)
	case int64:
		intervalHours = float64(v)
	default:
		return nil, fmt.Errorf("filters: sample_interval interval_hours must be numeric, got %T", raw)
	}
	if intervalHours <= 0 {
		return nil, fmt.Errorf("filters: sample_interval interval_hours must be positive, got %v", intervalHours)
	}

	intervalSecs := intervalHours * 3600.0

	return func(products []catalog.Product) []catalog.Product {
		if len(products) == 0 {
			return nil
		}

		sorted := make([]catalog.Product, len(products))
		copy(sorted, products)
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i].SensingTime.Before(sorted[j].SensingTime)
		})

		seen := make(map[int64]bool)
		var result []catalog.Product
		for _, p := range sorted {
			bucket := int64(math.Floor(float64(p.SensingTime.Unix()) / intervalSecs))
			if !seen[bucket] {
				seen[bucket] = true
				result = append(result, p)
			}
		}
		return result
	}, nil
}
