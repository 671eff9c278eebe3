// Package state persists per-product download status and a cache of search
// results in a SQLite database, so a job can resume after a crash without
// re-running the catalog search or re-downloading finished products.
package state

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/satfetch/satfetch/internal/catalog"
)

// Record is one product's row in the products table.
type Record struct {
	ProductID        string
	JobName          string
	Collection       string
	SizeKB           float64
	MD5              string
	BytesDownloaded  int64
	Status           catalog.Status
	DownloadPath     string
	ErrorMessage     string
	CreatedAt        string
	UpdatedAt        string
}

// SearchResult is one cached row in the search_results table.
type SearchResult struct {
	ProductID    string
	Collection   string
	SizeKB       float64
	SensingStart string
	SensingEnd   string
	CachedAt     string
}

// Store is a SQLite-backed state tracker. A single *sql.DB is shared across
// goroutines; database/sql already pools and serializes connections safely,
// so only the write path needs an extra mutex to mirror
// modernc.org/sqlite's single-writer WAL behavior.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates or opens the SQLite database at path and ensures both tables
// exist.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("state: open %s: %w", path, err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS products (
			product_id TEXT NOT NULL,
			job_name TEXT NOT NULL,
			collection TEXT NOT NULL DEFAULT '',
			size_kb REAL NOT NULL DEFAULT 0,
			md5 TEXT NOT NULL DEFAULT '',
			bytes_downloaded INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			download_path TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (product_id, job_name)
		)
	`); err != nil {
		return fmt.Errorf("state: create products table: %w", err)
	}

	// cache invalidation across a filter change within one session is a
	// non-issue: the session id (internal/session) is already a pure
	// function of the whole canonicalized job config, so a config change
	// always lands in a different session directory and a different
	// database file.
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS search_results (
			product_id TEXT PRIMARY KEY,
			collection TEXT NOT NULL DEFAULT '',
			size_kb REAL NOT NULL DEFAULT 0,
			sensing_start TEXT NOT NULL DEFAULT '',
			sensing_end TEXT NOT NULL DEFAULT '',
			cached_at TEXT NOT NULL DEFAULT ''
		)
	`); err != nil {
		return fmt.Errorf("state: create search_results table: %w", err)
	}

	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get fetches one product's record, or (Record{}, false, nil) if absent.
func (s *Store) Get(productID, jobName string) (Record, bool, error) {
	row := s.db.QueryRow(
		`SELECT product_id, job_name, collection, size_kb, md5, bytes_downloaded,
		        status, download_path, error_message, created_at, updated_at
		 FROM products WHERE product_id = ? AND job_name = ?`,
		productID, jobName,
	)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("state: get %s/%s: %w", jobName, productID, err)
	}
	return rec, true, nil
}

// Upsert inserts or replaces a product record. CreatedAt is preserved on
// update; both timestamps are stamped with the current time as needed.
func (s *Store) Upsert(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if rec.CreatedAt == "" {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO products (
			product_id, job_name, collection, size_kb, md5,
			bytes_downloaded, status, download_path,
			error_message, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(product_id, job_name) DO UPDATE SET
			size_kb = excluded.size_kb,
			md5 = excluded.md5,
			bytes_downloaded = excluded.bytes_downloaded,
			status = excluded.status,
			download_path = excluded.download_path,
			error_message = excluded.error_message,
			updated_at = excluded.updated_at
	`,
		rec.ProductID, rec.JobName, rec.Collection, rec.SizeKB, rec.MD5,
		rec.BytesDownloaded, string(rec.Status), rec.DownloadPath,
		rec.ErrorMessage, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("state: upsert %s/%s: %w", rec.JobName, rec.ProductID, err)
	}
	return nil
}

// StatusUpdate is an optional extra column to set alongside a status
// transition (e.g. BytesDownloaded, ErrorMessage, DownloadPath).
type StatusUpdate struct {
	BytesDownloaded *int64
	DownloadPath    *string
	ErrorMessage    *string
}

// UpdateStatus transitions a product's status and stamps updated_at, along
// with any optional columns set in extra.
func (s *Store) UpdateStatus(productID, jobName string, status catalog.Status, extra StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	sets := []string{"status = ?", "updated_at = ?"}
	params := []any{string(status), now}

	if extra.BytesDownloaded != nil {
		sets = append(sets, "bytes_downloaded = ?")
		params = append(params, *extra.BytesDownloaded)
	}
	if extra.DownloadPath != nil {
		sets = append(sets, "download_path = ?")
		params = append(params, *extra.DownloadPath)
	}
	if extra.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		params = append(params, *extra.ErrorMessage)
	}

	params = append(params, productID, jobName)
	query := fmt.Sprintf(
		"UPDATE products SET %s WHERE product_id = ? AND job_name = ?",
		strings.Join(sets, ", "),
	)
	if _, err := s.db.Exec(query, params...); err != nil {
		return fmt.Errorf("state: update status %s/%s: %w", jobName, productID, err)
	}
	return nil
}

// ByStatus returns all records for jobName with the given status.
func (s *Store) ByStatus(jobName string, status catalog.Status) ([]Record, error) {
	rows, err := s.db.Query(
		`SELECT product_id, job_name, collection, size_kb, md5, bytes_downloaded,
		        status, download_path, error_message, created_at, updated_at
		 FROM products WHERE job_name = ? AND status = ?`,
		jobName, string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("state: by status %s/%s: %w", jobName, status, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// All returns every record for jobName.
func (s *Store) All(jobName string) ([]Record, error) {
	rows, err := s.db.Query(
		`SELECT product_id, job_name, collection, size_kb, md5, bytes_downloaded,
		        status, download_path, error_message, created_at, updated_at
		 FROM products WHERE job_name = ?`,
		jobName,
	)
	if err != nil {
		return nil, fmt.Errorf("state: all %s: %w", jobName, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Resumable returns products needing a download attempt: pending,
// downloading (a killed process may leave rows stuck here), or failed.
func (s *Store) Resumable(jobName string) ([]Record, error) {
	rows, err := s.db.Query(
		`SELECT product_id, job_name, collection, size_kb, md5, bytes_downloaded,
		        status, download_path, error_message, created_at, updated_at
		 FROM products WHERE job_name = ? AND status IN (?, ?, ?)`,
		jobName, string(catalog.StatusPending), string(catalog.StatusDownloading), string(catalog.StatusFailed),
	)
	if err != nil {
		return nil, fmt.Errorf("state: resumable %s: %w", jobName, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ResetStaleDownloads resets any row stuck in "downloading" back to
// "pending" (left over from a process that was killed mid-transfer) and
// returns how many rows were reset.
func (s *Store) ResetStaleDownloads(jobName string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.Exec(
		`UPDATE products SET status = ?, updated_at = ? WHERE job_name = ? AND status = ?`,
		string(catalog.StatusPending), now, jobName, string(catalog.StatusDownloading),
	)
	if err != nil {
		return 0, fmt.Errorf("state: reset stale %s: %w", jobName, err)
	}
	return res.RowsAffected()
}

// CacheSearchResults bulk-replaces search-result cache rows for the given
// products.
func (s *Store) CacheSearchResults(products []catalog.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("state: cache search results: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO search_results
			(product_id, collection, size_kb, sensing_start, sensing_end, cached_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("state: cache search results: %w", err)
	}
	defer stmt.Close()

	for _, p := range products {
		sizeKB := float64(p.SizeBytes) / 1024
		sensingStart := ""
		if !p.SensingTime.IsZero() {
			sensingStart = p.SensingTime.UTC().Format(time.RFC3339)
		}
		if _, err := stmt.Exec(p.ID, p.Collection, sizeKB, sensingStart, "", now); err != nil {
			return fmt.Errorf("state: cache search result %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// HasCachedSearch reports whether the search_results cache holds any rows.
func (s *Store) HasCachedSearch() (bool, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM search_results`).Scan(&count); err != nil {
		return false, fmt.Errorf("state: has cached search: %w", err)
	}
	return count > 0, nil
}

// CachedSearchResults returns every row of the search-result cache.
func (s *Store) CachedSearchResults() ([]SearchResult, error) {
	rows, err := s.db.Query(`SELECT product_id, collection, size_kb, sensing_start, sensing_end, cached_at FROM search_results`)
	if err != nil {
		return nil, fmt.Errorf("state: cached search results: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ProductID, &r.Collection, &r.SizeKB, &r.SensingStart, &r.SensingEnd, &r.CachedAt); err != nil {
			return nil, fmt.Errorf("state: scan cached search result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var status string
	err := row.Scan(
		&rec.ProductID, &rec.JobName, &rec.Collection, &rec.SizeKB, &rec.MD5,
		&rec.BytesDownloaded, &status, &rec.DownloadPath, &rec.ErrorMessage,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	rec.Status = catalog.Status(status)
	return rec, err
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("state: scan record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
