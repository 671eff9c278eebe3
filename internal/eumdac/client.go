// Package eumdac is a concrete catalog.Client/catalog.Opener over the
// EUMETSAT Data Store's OAuth2-protected REST API: OpenSearch-style product
// search plus per-product and per-entry download URLs. This is the one external
// collaborator spec.md leaves as "specified only by the interface the core
// needs" that SPEC_FULL.md chooses to wire up concretely, so the CLI has a
// real backend rather than only a contract.
package eumdac

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/satfetch/satfetch/internal/catalog"
	"github.com/satfetch/satfetch/internal/credentials"
	"github.com/satfetch/satfetch/internal/transport"
)

// Default endpoints for the EUMETSAT Data Store.
const (
	DefaultTokenURL   = "https://api.eumetsat.int/token"
	DefaultBaseURL    = "https://api.eumetsat.int/data"
	DefaultSearchPath = "/search-products/1.0.0/os"
)

// TokenSource implements transport.CredentialSource via the OAuth2
// client-credentials grant, matching the original AccessToken's renewal
// behavior: a cached token is reused until it is close to expiry, then
// refreshed under a mutex so concurrent callers share one refresh.
type TokenSource struct {
	tokenURL   string
	key        string
	secret     string
	validity   int // seconds; 0 means let the server pick a default
	httpClient *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewTokenSource builds a TokenSource from discovered credentials.
func NewTokenSource(creds credentials.Credentials, tokenURL string) *TokenSource {
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	return &TokenSource{
		tokenURL:   tokenURL,
		key:        creds.Key,
		secret:     creds.Secret,
		validity:   creds.Validity,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// CurrentToken satisfies transport.CredentialSource: it returns the cached
// token if still fresh, renewing first if it has expired or is about to.
func (t *TokenSource) CurrentToken(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" && time.Now().Before(t.expiresAt.Add(-30*time.Second)) {
		return t.token, nil
	}
	return t.refreshLocked(ctx)
}

func (t *TokenSource) refreshLocked(ctx context.Context) (string, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	if t.validity > 0 {
		form.Set("validity", strconv.Itoa(t.validity))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("eumdac: build token request: %w", err)
	}
	req.SetBasicAuth(t.key, t.secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("eumdac: token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("eumdac: token endpoint returned %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("eumdac: decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("eumdac: token response had no access_token")
	}

	t.token = payload.AccessToken
	lifetime := time.Duration(payload.ExpiresIn) * time.Second
	if lifetime <= 0 {
		lifetime = time.Duration(credentials.DefaultValidity) * time.Second
	}
	t.expiresAt = time.Now().Add(lifetime)
	return t.token, nil
}

// Client is a catalog.Client/catalog.Opener backed by the Data Store REST
// API, authenticated through a shared transport.Transport so Bearer-token
// refreshes are coordinated across every search and download call.
type Client struct {
	transport  *transport.Transport
	baseURL    string
	searchPath string
}

// New builds a Client. baseURL and searchPath default to the Data Store's
// production endpoints when empty.
func New(t *transport.Transport, baseURL, searchPath string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if searchPath == "" {
		searchPath = DefaultSearchPath
	}
	return &Client{transport: t, baseURL: baseURL, searchPath: searchPath}
}

type osFeatureCollection struct {
	Properties struct {
		TotalResults int `json:"totalResults"`
	} `json:"properties"`
	Features []osFeature `json:"features"`
}

type osFeature struct {
	ID         string `json:"id"`
	Properties struct {
		Title        string  `json:"title"`
		ProductSize  float64 `json:"productSize"` // kilobytes, per the Data Store OpenSearch schema
		MD5          string  `json:"md5"`
		SensingStart string  `json:"date"` // "start/end" ISO-8601 pair
	} `json:"properties"`
	Links []osLink `json:"links"`
}

type osLink struct {
	Rel   string `json:"rel"`
	Title string `json:"title"`
	Href  string `json:"href"`
}

// ListCollections lists every collection visible to the current
// credentials.
func (c *Client) ListCollections(ctx context.Context) ([]catalog.CollectionSummary, error) {
	var payload struct {
		Collections []struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"collections"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/browse/1.0.0/collections", nil, &payload); err != nil {
		return nil, err
	}

	out := make([]catalog.CollectionSummary, 0, len(payload.Collections))
	for _, col := range payload.Collections {
		out = append(out, catalog.CollectionSummary{ID: col.ID, Title: col.Title})
	}
	return out, nil
}

// CollectionInfo fetches detail for one collection.
func (c *Client) CollectionInfo(ctx context.Context, collectionID string) (catalog.CollectionInfo, error) {
	var payload struct {
		ID             string   `json:"id"`
		Title          string   `json:"title"`
		Abstract       string   `json:"abstract"`
		AllowedFilters []string `json:"searchOptions"`
	}
	path := fmt.Sprintf("%s/browse/1.0.0/collections/%s", c.baseURL, url.PathEscape(collectionID))
	if err := c.getJSON(ctx, path, nil, &payload); err != nil {
		return catalog.CollectionInfo{}, err
	}
	return catalog.CollectionInfo{
		ID:             payload.ID,
		Title:          payload.Title,
		Abstract:       payload.Abstract,
		AllowedFilters: payload.AllowedFilters,
	}, nil
}

// Count returns the total number of products matching filters, without
// fetching any of them (a single-page query capped at zero results).
func (c *Client) Count(ctx context.Context, collectionID string, filters catalog.Filters) (int, error) {
	params := filterParams(collectionID, filters)
	params.Set("c", "0")

	var payload osFeatureCollection
	if err := c.getJSON(ctx, c.baseURL+c.searchPath, params, &payload); err != nil {
		return 0, err
	}
	return payload.Properties.TotalResults, nil
}

// Search fetches one page of products starting at offset, bounded by limit.
func (c *Client) Search(ctx context.Context, collectionID string, filters catalog.Filters, offset, limit int) (catalog.SearchPage, error) {
	params := filterParams(collectionID, filters)
	if limit > 0 {
		params.Set("c", strconv.Itoa(limit))
	}
	if offset > 0 {
		params.Set("si", strconv.Itoa(offset+1)) // OpenSearch start-index is 1-based
	}

	var payload osFeatureCollection
	if err := c.getJSON(ctx, c.baseURL+c.searchPath, params, &payload); err != nil {
		return catalog.SearchPage{}, err
	}

	products := make([]catalog.Product, 0, len(payload.Features))
	for _, f := range payload.Features {
		products = append(products, featureToProduct(f, collectionID))
	}
	return catalog.SearchPage{Products: products, Total: payload.Properties.TotalResults}, nil
}

func featureToProduct(f osFeature, collectionID string) catalog.Product {
	p := catalog.Product{
		ID:         f.ID,
		Collection: collectionID,
		Title:      f.Properties.Title,
		SizeBytes:  catalog.ByteSize(f.Properties.ProductSize * 1024),
		MD5:        f.Properties.MD5,
	}
	if start, _, ok := strings.Cut(f.Properties.SensingStart, "/"); ok {
		if t, err := time.Parse(time.RFC3339, start); err == nil {
			p.SensingTime = t
		}
	}
	for _, link := range f.Links {
		if link.Rel == "enclosure" || link.Rel == "download" {
			name := link.Title
			if name == "" {
				name = f.ID
			}
			p.Entries = append(p.Entries, catalog.Entry{Name: name})
		}
	}
	return p
}

// filterParams maps catalog.Filters onto the Data Store's OpenSearch query
// parameter names, 1:1 with the original tool's filter-to-kwargs mapping.
func filterParams(collectionID string, f catalog.Filters) url.Values {
	v := url.Values{"pi": {collectionID}}

	setStr := func(key, val string) {
		if val != "" {
			v.Set(key, val)
		}
	}
	setTime := func(key string, t *time.Time) {
		if t != nil {
			v.Set(key, t.UTC().Format(time.RFC3339))
		}
	}
	setInt := func(key string, i *int) {
		if i != nil {
			v.Set(key, strconv.Itoa(*i))
		}
	}

	setTime("dtstart", f.DtStart)
	setTime("dtend", f.DtEnd)
	setStr("geo", f.Geo)
	setStr("bbox", f.BBox)
	setStr("sat", f.Sat)
	setStr("timeliness", f.Timeliness)
	setStr("filename", f.Filename)
	setStr("title", f.Title)
	setInt("cycle", f.Cycle)
	setInt("orbit", f.Orbit)
	setInt("relorbit", f.RelOrbit)
	setStr("type", f.Type)
	setStr("product-type", f.ProductType)
	setStr("publication", f.Publication)
	setStr("downloadCoverage", f.DownloadCoverage)
	setStr("coverage", f.Coverage)
	setStr("rcid", f.RepeatCycleIdentifier)
	setStr("col", f.CenterOfLongitude)
	setStr("set", f.Set)
	setStr("sort", f.Sort)

	return v
}

func (c *Client) getJSON(ctx context.Context, rawURL string, params url.Values, out any) error {
	full := rawURL
	if params != nil {
		full += "?" + params.Encode()
	}
	rc, err := c.transport.Open(ctx, full)
	if err != nil {
		return fmt.Errorf("eumdac: get %s: %w", rawURL, err)
	}
	defer rc.Close()

	if err := json.NewDecoder(rc).Decode(out); err != nil {
		return fmt.Errorf("eumdac: decode response from %s: %w", rawURL, err)
	}
	return nil
}

// Open opens the full content of product, or of one named entry within it.
// entryName empty means the whole product.
func (c *Client) Open(ctx context.Context, product catalog.Product, entryName string) (io.ReadCloser, error) {
	return c.transport.Open(ctx, c.downloadURL(product, entryName))
}

// OpenRange opens product (or one entry) starting at the given byte offset.
func (c *Client) OpenRange(ctx context.Context, product catalog.Product, entryName string, offset int64) (io.ReadCloser, error) {
	return c.transport.OpenRange(ctx, c.downloadURL(product, entryName), offset)
}

func (c *Client) downloadURL(product catalog.Product, entryName string) string {
	base := fmt.Sprintf("%s/download/1.0.0/collections/%s/products/%s",
		c.baseURL, url.PathEscape(product.Collection), url.PathEscape(product.ID))
	if entryName == "" {
		return base
	}
	return base + "/entries/" + url.PathEscape(entryName)
}
