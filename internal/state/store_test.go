package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satfetch/satfetch/internal/catalog"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertAndGetRoundTrip(t *testing.T) {
	s := openTestStore(t)

	rec := Record{
		ProductID:  "prod-1",
		JobName:    "job-a",
		Collection: "EO:EUM:DAT:MSG:HRSEVIRI",
		SizeKB:     1024,
		MD5:        "abc123",
		Status:     catalog.StatusPending,
	}
	require.NoError(t, s.Upsert(rec))

	got, ok, err := s.Get("prod-1", "job-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec.ProductID, got.ProductID)
	assert.Equal(t, rec.Collection, got.Collection)
	assert.Equal(t, rec.MD5, got.MD5)
	assert.Equal(t, catalog.StatusPending, got.Status)
	assert.NotEmpty(t, got.CreatedAt)
	assert.NotEmpty(t, got.UpdatedAt)
}

func TestGetMissingReturnsFalse(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.Get("nope", "job-a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpsertPreservesCreatedAt(t *testing.T) {
	s := openTestStore(t)
	rec := Record{ProductID: "p", JobName: "j", Status: catalog.StatusPending}
	require.NoError(t, s.Upsert(rec))
	first, _, err := s.Get("p", "j")
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	rec.Status = catalog.StatusDownloading
	require.NoError(t, s.Upsert(rec))

	second, _, err := s.Get("p", "j")
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.NotEqual(t, first.UpdatedAt, second.UpdatedAt)
	assert.Equal(t, catalog.StatusDownloading, second.Status)
}

func TestUpdateStatusSetsExtraColumns(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Upsert(Record{ProductID: "p", JobName: "j", Status: catalog.StatusPending}))

	bytesDownloaded := int64(2048)
	path := "/tmp/p.nc"
	require.NoError(t, s.UpdateStatus("p", "j", catalog.StatusDownloaded, StatusUpdate{
		BytesDownloaded: &bytesDownloaded,
		DownloadPath:    &path,
	}))

	got, ok, err := s.Get("p", "j")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, catalog.StatusDownloaded, got.Status)
	assert.Equal(t, bytesDownloaded, got.BytesDownloaded)
	assert.Equal(t, path, got.DownloadPath)
}

func TestByStatusAndResumable(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Upsert(Record{ProductID: "p1", JobName: "j", Status: catalog.StatusPending}))
	require.NoError(t, s.Upsert(Record{ProductID: "p2", JobName: "j", Status: catalog.StatusDownloading}))
	require.NoError(t, s.Upsert(Record{ProductID: "p3", JobName: "j", Status: catalog.StatusVerified}))
	require.NoError(t, s.Upsert(Record{ProductID: "p4", JobName: "j", Status: catalog.StatusFailed}))

	pending, err := s.ByStatus("j", catalog.StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	resumable, err := s.Resumable("j")
	require.NoError(t, err)
	assert.Len(t, resumable, 3) // pending, downloading, failed — not verified

	all, err := s.All("j")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestResetStaleDownloads(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Upsert(Record{ProductID: "p1", JobName: "j", Status: catalog.StatusDownloading}))
	require.NoError(t, s.Upsert(Record{ProductID: "p2", JobName: "j", Status: catalog.StatusVerified}))

	n, err := s.ResetStaleDownloads("j")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rec, _, err := s.Get("p1", "j")
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusPending, rec.Status)
}

func TestSearchResultCache(t *testing.T) {
	s := openTestStore(t)

	has, err := s.HasCachedSearch()
	require.NoError(t, err)
	assert.False(t, has)

	err = s.CacheSearchResults([]catalog.Product{
		{ID: "p1", Collection: "c", SizeBytes: 2048},
		{ID: "p2", Collection: "c", SizeBytes: 4096},
	})
	require.NoError(t, err)

	has, err = s.HasCachedSearch()
	require.NoError(t, err)
	assert.True(t, has)

	results, err := s.CachedSearchResults()
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestJobsAreIsolatedByCompositeKey(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Upsert(Record{ProductID: "p1", JobName: "job-a", Status: catalog.StatusPending}))
	require.NoError(t, s.Upsert(Record{ProductID: "p1", JobName: "job-b", Status: catalog.StatusVerified}))

	a, _, err := s.Get("p1", "job-a")
	require.NoError(t, err)
	b, _, err := s.Get("p1", "job-b")
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusPending, a.Status)
	assert.Equal(t, catalog.StatusVerified, b.Status)
}
