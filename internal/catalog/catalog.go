// Package catalog defines the narrow surface satfetch needs from a
// satellite-data catalog client: searching for products and opening their
// entries for streaming. Only the contract is pinned here (internal/eumdac
// is one concrete client) so internal/search, internal/downloader and
// internal/remote can be written, tested, and wired against it without
// depending on any one catalog implementation.
package catalog

import (
	"context"
	"io"
	"time"
)

// Status is the state of a product somewhere along the download pipeline.
// The zero value is the empty string, not StatusPending; callers set a
// status explicitly.
type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusDownloaded  Status = "downloaded"
	StatusVerified    Status = "verified"
	StatusProcessing  Status = "processing"
	StatusProcessed   Status = "processed"
	StatusFailed      Status = "failed"
)

// Entry is one named, separately downloadable member of a product (e.g. one
// band of a multi-band scene). A whole-product download has no entries.
type Entry struct {
	Name string
	Size ByteSize
}

// Product is one catalog search result.
type Product struct {
	ID          string
	Collection  string
	Title       string
	SizeBytes   ByteSize
	MD5         string
	SensingTime time.Time
	Entries     []Entry
}

// Filters mirrors the full set of search parameters the catalog accepts.
// Fields left at their zero value are omitted from the upstream query.
type Filters struct {
	DtStart               *time.Time
	DtEnd                 *time.Time
	Geo                    string
	BBox                   string
	Sat                    string
	Timeliness             string
	Filename               string
	Title                  string
	Cycle                  *int
	Orbit                  *int
	RelOrbit               *int
	ProductType            string
	Type                   string
	Publication            string
	DownloadCoverage       string
	Coverage               string
	RepeatCycleIdentifier  string
	CenterOfLongitude      string
	Set                    string
	Sort                   string
}

// CollectionSummary is one row of a collection listing.
type CollectionSummary struct {
	ID    string
	Title string
}

// CollectionInfo is the detail view of a single collection, including which
// filter fields it accepts.
type CollectionInfo struct {
	ID             string
	Title          string
	Abstract       string
	AllowedFilters []string
}

// SearchPage is one page of search results plus the total number of
// matching products.
type SearchPage struct {
	Products []Product
	Total    int
}

// Client is the subset of a catalog SDK that satfetch depends on.
// Implementations must be safe for concurrent use.
type Client interface {
	// ListCollections lists all collections visible to the current
	// credentials.
	ListCollections(ctx context.Context) ([]CollectionSummary, error)

	// CollectionInfo fetches detail for a single collection.
	CollectionInfo(ctx context.Context, collectionID string) (CollectionInfo, error)

	// Count returns the total number of products matching filters without
	// fetching them.
	Count(ctx context.Context, collectionID string, filters Filters) (int, error)

	// Search fetches one page of products starting at offset, bounded by
	// the catalog's own page-size cap.
	Search(ctx context.Context, collectionID string, filters Filters, offset, limit int) (SearchPage, error)
}

// Opener opens a byte-range reader over one product or one of its entries.
// entryName is empty to read the whole product.
type Opener interface {
	Open(ctx context.Context, product Product, entryName string) (io.ReadCloser, error)
	OpenRange(ctx context.Context, product Product, entryName string, offset int64) (io.ReadCloser, error)
}
