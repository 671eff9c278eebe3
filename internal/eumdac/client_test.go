package eumdac

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/satfetch/satfetch/internal/catalog"
	"github.com/satfetch/satfetch/internal/credentials"
	"github.com/satfetch/satfetch/internal/transport"
)

type staticCreds struct{ token string }

func (s staticCreds) CurrentToken(ctx context.Context) (string, error) { return s.token, nil }

func TestTokenSourceRefreshesOnExpiry(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		key, secret, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "k", key)
		require.Equal(t, "s", secret)
		// CurrentToken renews 30s before expiry, so a 31s lifetime stays
		// fresh for about one second.
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-1",
			"expires_in":   31,
		})
	}))
	defer srv.Close()

	ts := NewTokenSource(credentials.Credentials{Key: "k", Secret: "s"}, srv.URL)
	tok, err := ts.CurrentToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-1", tok)

	tok2, err := ts.CurrentToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-1", tok2)
	require.Equal(t, 1, calls, "cached token should not trigger a second call")

	time.Sleep(1100 * time.Millisecond)
	_, err = ts.CurrentToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, calls, "expired token should trigger a refresh")
}

func TestClientCountAndSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		require.Equal(t, "EO:TEST:COLLECTION", q.Get("pi"))

		if q.Get("c") == "0" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"properties": map[string]any{"totalResults": 2},
			})
			return
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"properties": map[string]any{"totalResults": 2},
			"features": []map[string]any{
				{
					"id": "PROD1",
					"properties": map[string]any{
						"title":       "Product One",
						"productSize": 2048.0,
						"md5":         "abc123",
						"date":        "2026-01-01T00:00:00Z/2026-01-01T00:10:00Z",
					},
					"links": []map[string]any{
						{"rel": "enclosure", "title": "PROD1.nc", "href": "https://example.test/download/PROD1"},
					},
				},
			},
		})
	}))
	defer srv.Close()

	tr, err := transport.New(context.Background(), staticCreds{token: "t"})
	require.NoError(t, err)

	client := New(tr, srv.URL, "/search")

	count, err := client.Count(context.Background(), "EO:TEST:COLLECTION", catalog.Filters{})
	require.NoError(t, err)
	require.Equal(t, 2, count)

	page, err := client.Search(context.Background(), "EO:TEST:COLLECTION", catalog.Filters{}, 0, 10)
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)
	require.Len(t, page.Products, 1)
	require.Equal(t, "PROD1", page.Products[0].ID)
	require.Equal(t, "abc123", page.Products[0].MD5)
	require.EqualValues(t, 2048*1024, page.Products[0].SizeBytes)
	require.Len(t, page.Products[0].Entries, 1)
	require.False(t, page.Products[0].SensingTime.IsZero())
}

func TestFilterParamsMapsAllFields(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	cycle := 5
	orbit := 10

	f := catalog.Filters{
		DtStart: &start,
		DtEnd:   &end,
		Geo:     "POINT(1 1)",
		Sat:     "MSG4",
		Cycle:   &cycle,
		Orbit:   &orbit,
	}

	params := filterParams("EO:TEST", f)
	require.Equal(t, "EO:TEST", params.Get("pi"))
	require.Equal(t, "POINT(1 1)", params.Get("geo"))
	require.Equal(t, "MSG4", params.Get("sat"))
	require.Equal(t, "5", params.Get("cycle"))
	require.Equal(t, "10", params.Get("orbit"))
	require.NotEmpty(t, params.Get("dtstart"))
	require.NotEmpty(t, params.Get("dtend"))
}

func TestClientOpenBuildsDownloadURL(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte("file-bytes"))
	}))
	defer srv.Close()

	tr, err := transport.New(context.Background(), staticCreds{token: "t"})
	require.NoError(t, err)
	client := New(tr, srv.URL, "/search")

	product := catalog.Product{ID: "PROD1", Collection: "EO:TEST"}
	rc, err := client.Open(context.Background(), product, "")
	require.NoError(t, err)
	defer rc.Close()

	require.Contains(t, gotPath, "/download/1.0.0/collections/EO:TEST/products/PROD1")
}
