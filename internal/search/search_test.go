package search

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satfetch/satfetch/internal/catalog"
	"github.com/satfetch/satfetch/internal/retry"
)

// fakeClient is an in-memory catalog.Client over a fixed set of products,
// each bucketed by SensingTime, so Count/Search can honor a dtstart/dtend
// filter the way a real time-range query would.
type fakeClient struct {
	products   []catalog.Product
	failCount  int32 // number of times to fail before succeeding
	calls      int32
}

func (f *fakeClient) ListCollections(ctx context.Context) ([]catalog.CollectionSummary, error) {
	return []catalog.CollectionSummary{{ID: "c1", Title: "Collection 1"}}, nil
}

func (f *fakeClient) CollectionInfo(ctx context.Context, collectionID string) (catalog.CollectionInfo, error) {
	return catalog.CollectionInfo{ID: collectionID, Title: "Collection"}, nil
}

func (f *fakeClient) matching(filters catalog.Filters) []catalog.Product {
	var out []catalog.Product
	for _, p := range f.products {
		if filters.DtStart != nil && p.SensingTime.Before(*filters.DtStart) {
			continue
		}
		if filters.DtEnd != nil && !p.SensingTime.Before(*filters.DtEnd) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (f *fakeClient) Count(ctx context.Context, collectionID string, filters catalog.Filters) (int, error) {
	if atomic.AddInt32(&f.calls, 1) <= f.failCount {
		return 0, errors.New("connection reset by peer")
	}
	return len(f.matching(filters)), nil
}

func (f *fakeClient) Search(ctx context.Context, collectionID string, filters catalog.Filters, offset, limit int) (catalog.SearchPage, error) {
	matched := f.matching(filters)
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return catalog.SearchPage{Products: matched, Total: len(f.matching(filters))}, nil
}

func fastRetryConfig() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	return cfg
}

func TestIterProductsUnderCapDoesNotBisect(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	products := make([]catalog.Product, 10)
	for i := range products {
		products[i] = catalog.Product{ID: productID(i), SensingTime: base.Add(time.Duration(i) * time.Hour)}
	}
	client := &fakeClient{products: products}
	svc := New(client, fastRetryConfig())

	start := base
	end := base.Add(24 * time.Hour)
	got, err := svc.IterProducts(context.Background(), "c1", catalog.Filters{DtStart: &start, DtEnd: &end}, 0)
	require.NoError(t, err)
	assert.Len(t, got, 10)
}

func TestIterProductsBisectsOverCap(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	total := ResultCap + 500
	products := make([]catalog.Product, total)
	span := 1000 * time.Hour
	for i := range products {
		offset := time.Duration(float64(i) / float64(total) * float64(span))
		products[i] = catalog.Product{ID: productID(i), SensingTime: base.Add(offset)}
	}
	client := &fakeClient{products: products}
	svc := New(client, fastRetryConfig())

	start := base
	end := base.Add(span)
	got, err := svc.IterProducts(context.Background(), "c1", catalog.Filters{DtStart: &start, DtEnd: &end}, 0)
	require.NoError(t, err)
	assert.Len(t, got, total)
}

func TestBisectSearchRequiresDateRange(t *testing.T) {
	client := &fakeClient{products: make([]catalog.Product, ResultCap+1)}
	svc := New(client, fastRetryConfig())

	_, err := svc.IterProducts(context.Background(), "c1", catalog.Filters{}, 0)
	assert.Error(t, err)
}

func TestCountRetriesTransientErrors(t *testing.T) {
	client := &fakeClient{failCount: 2}
	svc := New(client, fastRetryConfig())

	n, err := svc.Count(context.Background(), "c1", catalog.Filters{})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.GreaterOrEqual(t, client.calls, int32(3))
}

func TestIterProductsRespectsLimit(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	products := make([]catalog.Product, 10)
	for i := range products {
		products[i] = catalog.Product{ID: productID(i), SensingTime: base.Add(time.Duration(i) * time.Hour)}
	}
	client := &fakeClient{products: products}
	svc := New(client, fastRetryConfig())

	start := base
	end := base.Add(24 * time.Hour)
	got, err := svc.IterProducts(context.Background(), "c1", catalog.Filters{DtStart: &start, DtEnd: &end}, 3)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func productID(i int) string {
	return "prod-" + strconv.Itoa(i)
}
