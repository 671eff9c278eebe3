// Package search wraps a catalog.Client with retry and the >10,000-result
// date-range bisection the catalog's own API cannot return in one query.
package search

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/satfetch/satfetch/internal/catalog"
	"github.com/satfetch/satfetch/internal/retry"
)

// ResultCap is the maximum number of results the catalog API will return
// for a single query; beyond this, the date range must be bisected.
const ResultCap = 10000

// maxBisectionFanout is the goroutine limit of each split's errgroup. A
// split only ever runs its two halves, and nested splits get their own
// group, so this does not bound the total number of leaf queries in flight.
// The synchronous Python original searches one leaf at a time; running the
// halves concurrently is a deliberate generalization for Go, not required
// by the API itself.
const maxBisectionFanout = 4

// Result is the outcome of a single search call.
type Result struct {
	Total       int
	Products    []catalog.Product
	FiltersUsed catalog.Filters
}

// Service wraps a catalog.Client with retry and bisection.
type Service struct {
	client      catalog.Client
	retryConfig retry.Config
}

// New builds a Service around client with the given retry tuning.
func New(client catalog.Client, retryConfig retry.Config) *Service {
	return &Service{client: client, retryConfig: retryConfig}
}

// ListCollections lists every collection visible to the current
// credentials.
func (s *Service) ListCollections(ctx context.Context) ([]catalog.CollectionSummary, error) {
	var out []catalog.CollectionSummary
	err := retry.Do(ctx, s.retryConfig, func(ctx context.Context) error {
		var err error
		out, err = s.client.ListCollections(ctx)
		return err
	})
	return out, err
}

// CollectionInfo fetches detail for one collection.
func (s *Service) CollectionInfo(ctx context.Context, collectionID string) (catalog.CollectionInfo, error) {
	var out catalog.CollectionInfo
	err := retry.Do(ctx, s.retryConfig, func(ctx context.Context) error {
		var err error
		out, err = s.client.CollectionInfo(ctx, collectionID)
		return err
	})
	return out, err
}

// Count returns the total number of products matching filters, with retry
// around the single upstream call.
func (s *Service) Count(ctx context.Context, collectionID string, filters catalog.Filters) (int, error) {
	var total int
	err := retry.Do(ctx, s.retryConfig, func(ctx context.Context) error {
		var err error
		total, err = s.client.Count(ctx, collectionID, filters)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("search: count %s: %w", collectionID, err)
	}
	return total, nil
}

// Search fetches up to limit products in one page (limit <= 0 means no
// cap), retrying the upstream call on transient failures.
func (s *Service) Search(ctx context.Context, collectionID string, filters catalog.Filters, limit int) (Result, error) {
	var page catalog.SearchPage
	err := retry.Do(ctx, s.retryConfig, func(ctx context.Context) error {
		pageLimit := limit
		if pageLimit <= 0 {
			pageLimit = ResultCap
		}
		var err error
		page, err = s.client.Search(ctx, collectionID, filters, 0, pageLimit)
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("search: search %s: %w", collectionID, err)
	}
	return Result{Total: page.Total, Products: page.Products, FiltersUsed: filters}, nil
}

// IterProducts returns every product matching filters, transparently
// bisecting the date range when the match count exceeds ResultCap. limit
// <= 0 means no cap.
func (s *Service) IterProducts(ctx context.Context, collectionID string, filters catalog.Filters, limit int) ([]catalog.Product, error) {
	total, err := s.Count(ctx, collectionID, filters)
	if err != nil {
		return nil, err
	}

	if total <= ResultCap {
		result, err := s.Search(ctx, collectionID, filters, limit)
		if err != nil {
			return nil, err
		}
		return result.Products, nil
	}

	products, err := s.bisectSearch(ctx, collectionID, filters)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(products) > limit {
		return products[:limit], nil
	}
	return products, nil
}

// bisectSearch recursively splits [DtStart, DtEnd) in half until each half
// falls at or under ResultCap, then searches each half directly. The two
// halves of one split run concurrently (bounded) since they are
// independent upstream queries.
func (s *Service) bisectSearch(ctx context.Context, collectionID string, filters catalog.Filters) ([]catalog.Product, error) {
	if filters.DtStart == nil || filters.DtEnd == nil {
		return nil, fmt.Errorf("search: date range (dtstart, dtend) is required to handle more than %d results", ResultCap)
	}

	midpoint := filters.DtStart.Add(filters.DtEnd.Sub(*filters.DtStart) / 2)

	firstFilters := filters
	firstFilters.DtEnd = &midpoint
	secondFilters := filters
	secondFilters.DtStart = &midpoint

	firstCount, err := s.Count(ctx, collectionID, firstFilters)
	if err != nil {
		return nil, err
	}
	secondCount, err := s.Count(ctx, collectionID, secondFilters)
	if err != nil {
		return nil, err
	}

	var firstProducts, secondProducts []catalog.Product

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxBisectionFanout)

	g.Go(func() error {
		var err error
		firstProducts, err = s.resolveHalf(gctx, collectionID, firstFilters, firstCount)
		return err
	})
	g.Go(func() error {
		var err error
		secondProducts, err = s.resolveHalf(gctx, collectionID, secondFilters, secondCount)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return append(firstProducts, secondProducts...), nil
}

func (s *Service) resolveHalf(ctx context.Context, collectionID string, filters catalog.Filters, count int) ([]catalog.Product, error) {
	if count <= ResultCap {
		result, err := s.Search(ctx, collectionID, filters, 0)
		if err != nil {
			return nil, err
		}
		return result.Products, nil
	}
	return s.bisectSearch(ctx, collectionID, filters)
}
