// Package remote gives a caller a lazily-opened, authenticated byte stream
// over a product or one of its entries, without downloading to disk — for
// post-processors that read directly off the wire (e.g. into an analysis
// library) instead of a file a downloader already wrote.
package remote

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"sort"

	"github.com/satfetch/satfetch/internal/catalog"
)

// Data is a single remote entry, opened on demand. Each call to Open (or
// OpenRange) returns a fresh stream; the caller is responsible for closing
// it.
type Data struct {
	opener    catalog.Opener
	product   catalog.Product
	entryName string
}

// Open returns a stream of the entry's full content from byte zero.
func (d *Data) Open(ctx context.Context) (io.ReadCloser, error) {
	rc, err := d.opener.Open(ctx, d.product, d.entryName)
	if err != nil {
		return nil, fmt.Errorf("remote: open %s: %w", d.name(), err)
	}
	return rc, nil
}

// OpenRange returns a stream starting at the given byte offset.
func (d *Data) OpenRange(ctx context.Context, offset int64) (io.ReadCloser, error) {
	rc, err := d.opener.OpenRange(ctx, d.product, d.entryName, offset)
	if err != nil {
		return nil, fmt.Errorf("remote: open range %s at %d: %w", d.name(), offset, err)
	}
	return rc, nil
}

func (d *Data) name() string {
	if d.entryName == "" {
		return d.product.ID
	}
	return d.product.ID + "/" + d.entryName
}

// Dataset is a product's entries, all sharing one underlying transport so
// that a credential refresh triggered by one entry's read is immediately
// visible to every other entry's next read.
type Dataset struct {
	product catalog.Product
	opener  catalog.Opener
	entries map[string]*Data
	order   []string
}

// BuildDataset constructs a Dataset over product's entries, sharing opener
// across all of them. If patterns is non-empty, only entries whose name (or
// base name) matches one of the glob patterns are included; an empty
// patterns list includes every entry. An entry-less product yields a single
// whole-product entry keyed by the empty string.
func BuildDataset(opener catalog.Opener, product catalog.Product, patterns []string) (*Dataset, error) {
	ds := &Dataset{
		product: product,
		opener:  opener,
		entries: make(map[string]*Data),
	}

	if len(product.Entries) == 0 {
		ds.entries[""] = &Data{opener: opener, product: product, entryName: ""}
		ds.order = []string{""}
		return ds, nil
	}

	for _, entry := range product.Entries {
		if len(patterns) > 0 && !anyGlobMatch(patterns, entry.Name) {
			continue
		}
		ds.entries[entry.Name] = &Data{opener: opener, product: product, entryName: entry.Name}
		ds.order = append(ds.order, entry.Name)
	}
	if len(ds.order) == 0 {
		return nil, fmt.Errorf("remote: no entries of %s matched %v", product.ID, patterns)
	}
	sort.Strings(ds.order)
	return ds, nil
}

// Get returns the named entry, or (nil, false) if it isn't in the dataset.
func (ds *Dataset) Get(name string) (*Data, bool) {
	d, ok := ds.entries[name]
	return d, ok
}

// Entries lists the entry names in the dataset, sorted.
func (ds *Dataset) Entries() []string {
	out := make([]string, len(ds.order))
	copy(out, ds.order)
	return out
}

// Len reports how many entries the dataset holds.
func (ds *Dataset) Len() int {
	return len(ds.entries)
}

func anyGlobMatch(patterns []string, name string) bool {
	base := path.Base(name)
	for _, p := range patterns {
		if ok, err := filepath.Match(p, base); err == nil && ok {
			return true
		}
		if ok, err := filepath.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}
