// Package downloader runs a bounded-parallelism pool of product/entry
// transfers, each with byte-range resume and MD5 verification, driving the
// seven-state status machine recorded in internal/state.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/satfetch/satfetch/internal/catalog"
	"github.com/satfetch/satfetch/internal/checksum"
	"github.com/satfetch/satfetch/internal/diskspace"
	"github.com/satfetch/satfetch/internal/retry"
	"github.com/satfetch/satfetch/internal/state"
)

// entrySep separates a product id from an entry name inside a state-store
// key. Product IDs never contain this sequence.
const entrySep = "::entry::"

// chunkSize is the buffer size used when streaming a transfer to disk.
const chunkSize = 8192

func encodeEntryKey(productID, entryName string) string {
	return productID + entrySep + entryName
}

// decodeEntryKey returns (productID, entryName); entryName is "" for a
// whole-product key.
func decodeEntryKey(key string) (string, string) {
	if idx := strings.Index(key, entrySep); idx >= 0 {
		return key[:idx], key[idx+len(entrySep):]
	}
	return key, ""
}

// Handlers are optional progress callbacks, in the style of the ambient
// stack's console progress rendering. All are safe to leave nil.
type Handlers struct {
	Progress func(key string, nread int)
	Complete func(key string, total int64)
	Error    func(key string, err error)
	Stopped  func()
}

func (h *Handlers) setDefaults() {
	if h.Progress == nil {
		h.Progress = func(string, int) {}
	}
	if h.Complete == nil {
		h.Complete = func(string, int64) {}
	}
	if h.Error == nil {
		h.Error = func(string, error) {}
	}
	if h.Stopped == nil {
		h.Stopped = func() {}
	}
}

// Config tunes one Downloader's behavior; matches a job's download section.
type Config struct {
	Parallel     int
	Resume       bool
	VerifyMD5    bool
	MaxRetries   int
	RetryBackoff float64 // base seconds
	Timeout      time.Duration
	Entries      []string // glob patterns; nil means whole product
}

// Downloader manages parallel downloads with resume, retry, and MD5
// verification, persisting progress to a state.Store as it goes.
type Downloader struct {
	store   *state.Store
	opener  catalog.Opener
	dir     string
	cfg     Config
	logger  *log.Logger
	handlers Handlers

	sem      *semaphore.Weighted
	shutdown chan struct{}
	once     sync.Once
}

// New builds a Downloader writing files under dir, bounded to cfg.Parallel
// concurrent transfers.
func New(store *state.Store, opener catalog.Opener, dir string, cfg Config, logger *log.Logger, handlers Handlers) *Downloader {
	if cfg.Parallel <= 0 {
		cfg.Parallel = 1
	}
	handlers.setDefaults()
	if logger == nil {
		logger = log.Default()
	}
	return &Downloader{
		store:    store,
		opener:   opener,
		dir:      dir,
		cfg:      cfg,
		logger:   logger,
		handlers: handlers,
		sem:      semaphore.NewWeighted(int64(cfg.Parallel)),
		shutdown: make(chan struct{}),
	}
}

// RequestShutdown signals every in-flight and pending transfer to stop at
// its next checkpoint. Idempotent.
func (d *Downloader) RequestShutdown() {
	d.once.Do(func() { close(d.shutdown) })
}

func (d *Downloader) isShuttingDown() bool {
	select {
	case <-d.shutdown:
		return true
	default:
		return false
	}
}

// DownloadAll registers products (or their matching entries) in the state
// store, then downloads everything still pending/failed/stuck-downloading,
// up to cfg.Parallel at a time.
func (d *Downloader) DownloadAll(ctx context.Context, products []catalog.Product, jobName, collection string) error {
	if err := d.Register(products, jobName, collection); err != nil {
		return err
	}

	toDownload, err := d.store.Resumable(jobName)
	if err != nil {
		return fmt.Errorf("downloader: list resumable: %w", err)
	}
	if len(toDownload) == 0 {
		d.logger.Printf("no products to download")
		return nil
	}

	var estimatedBytes int64
	for _, r := range toDownload {
		estimatedBytes += int64(r.SizeKB * 1024)
	}
	if warning := diskspace.Check(d.dir, estimatedBytes); warning != "" {
		d.logger.Printf("%s", warning)
	}

	productByID := make(map[string]catalog.Product, len(products))
	for _, p := range products {
		productByID[p.ID] = p
	}

	var wg sync.WaitGroup
	for _, record := range toDownload {
		if d.isShuttingDown() {
			break
		}

		productID, entryName := decodeEntryKey(record.ProductID)
		product, ok := productByID[productID]
		if !ok {
			d.logger.Printf("product %s not found in search results, skipping", productID)
			continue
		}

		if err := d.sem.Acquire(ctx, 1); err != nil {
			break
		}

		wg.Add(1)
		go func(product catalog.Product, entryName string, record state.Record) {
			defer wg.Done()
			defer d.sem.Release(1)
			d.downloadOne(ctx, product, entryName, record)
		}(product, entryName, record)
	}
	wg.Wait()

	if d.isShuttingDown() {
		d.handlers.Stopped()
	}
	return nil
}

// Register ensures every product (or, in entry mode, every matching entry)
// has a state row, skipping anything already verified or processed. It is
// exported so a caller that never calls DownloadAll (remote post-processing
// dispatch, which bypasses download entirely) can still register rows
// pending and then walk them with Store.Resumable.
func (d *Downloader) Register(products []catalog.Product, jobName, collection string) error {
	for _, product := range products {
		if d.cfg.Entries != nil {
			matching := matchEntries(product.Entries, d.cfg.Entries)
			if len(matching) == 0 {
				d.logger.Printf("no entries matched patterns %v for %s", d.cfg.Entries, product.ID)
				continue
			}
			for _, entry := range matching {
				key := encodeEntryKey(product.ID, entry.Name)
				existing, found, err := d.store.Get(key, jobName)
				if err != nil {
					return err
				}
				if found && (existing.Status == catalog.StatusVerified || existing.Status == catalog.StatusProcessed) {
					continue
				}
				if !found {
					if err := d.store.Upsert(state.Record{
						ProductID:  key,
						JobName:    jobName,
						Collection: collection,
						Status:     catalog.StatusPending,
						// per-entry size is not available from product metadata
					}); err != nil {
						return err
					}
				}
			}
			continue
		}

		existing, found, err := d.store.Get(product.ID, jobName)
		if err != nil {
			return err
		}
		if found && (existing.Status == catalog.StatusVerified || existing.Status == catalog.StatusProcessed) {
			continue
		}
		if !found {
			if err := d.store.Upsert(state.Record{
				ProductID:  product.ID,
				JobName:    jobName,
				Collection: collection,
				Status:     catalog.StatusPending,
				SizeKB:     float64(product.SizeBytes) / 1024,
				MD5:        product.MD5,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func matchEntries(entries []catalog.Entry, patterns []string) []catalog.Entry {
	var out []catalog.Entry
	for _, e := range entries {
		base := path.Base(e.Name)
		for _, pattern := range patterns {
			if globMatch(pattern, base) || globMatch(pattern, e.Name) {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

func globMatch(pattern, name string) bool {
	ok, err := filepath.Match(pattern, name)
	return err == nil && ok
}

// downloadOne retries a single product/entry transfer up to cfg.MaxRetries
// extra times, mirroring the original implementation's attempt budget of
// MaxRetries+1 total tries.
func (d *Downloader) downloadOne(ctx context.Context, product catalog.Product, entryName string, record state.Record) {
	if d.isShuttingDown() {
		return
	}

	dbKey := record.ProductID
	filename := path.Base(entryName)
	destDir := d.dir
	if entryName == "" {
		filename = dbKey
	} else {
		// Entries from different products can share a basename (e.g. a
		// common band filename across Sentinel scenes); keep them apart.
		destDir = filepath.Join(d.dir, product.ID)
		if err := os.MkdirAll(destDir, 0o755); err != nil {
			d.handlers.Error(dbKey, fmt.Errorf("downloader: create entry directory: %w", err))
			return
		}
	}
	downloadPath := filepath.Join(destDir, filename)

	retryCfg := retry.Config{
		MaxRetries:    d.cfg.MaxRetries,
		BaseDelay:     time.Duration(d.cfg.RetryBackoff * float64(time.Second)),
		MaxDelay:      time.Duration(d.cfg.RetryBackoff*float64(time.Second)) * 16,
		JitterFactor:  0,
		BackoffFactor: 2.0,
	}

	var lastErr error
	attempts := d.cfg.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if d.isShuttingDown() {
			return
		}

		if err := d.store.UpdateStatus(dbKey, record.JobName, catalog.StatusDownloading, state.StatusUpdate{}); err != nil {
			d.handlers.Error(dbKey, err)
			return
		}

		attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
		bytesWritten, err := d.transferOnce(attemptCtx, product, entryName, downloadPath, dbKey)
		cancel()

		if err == nil {
			d.onTransferSucceeded(product, entryName, downloadPath, record, dbKey, bytesWritten)
			return
		}

		if d.isShuttingDown() || errors.Is(err, context.Canceled) {
			// Cooperative shutdown, not a failure: leave the row in whatever
			// non-terminal status it already holds for the next run's
			// reset_stale pass to pick back up.
			return
		}

		if retry.Classify(err) == retry.CategoryFatal {
			d.fail(dbKey, record.JobName, err)
			return
		}

		lastErr = err
		if attempt < attempts-1 {
			d.logger.Printf("retryable error downloading %s (attempt %d/%d): %v", filename, attempt+1, attempts, err)
			state := &retry.State{Attempts: attempt + 1}
			if waitErr := retryCfg.Wait(ctx, state, retry.Classify(err)); waitErr != nil {
				d.fail(dbKey, record.JobName, waitErr)
				return
			}
		}
	}

	if lastErr != nil {
		d.logger.Printf("failed to download %s after %d attempts: %v", filename, attempts, lastErr)
		d.fail(dbKey, record.JobName, fmt.Errorf("failed after %d attempts: %w", attempts, lastErr))
	}
}

func (d *Downloader) fail(dbKey, jobName string, err error) {
	d.handlers.Error(dbKey, err)
	msg := err.Error()
	_ = d.store.UpdateStatus(dbKey, jobName, catalog.StatusFailed, state.StatusUpdate{ErrorMessage: &msg})
}

// onTransferSucceeded records the downloaded bytes, runs MD5 verification
// for whole-product transfers, and retries once more from scratch if a
// post-resume verification fails (see DESIGN.md's resolution for a partial
// file that failed its digest check after being resumed).
func (d *Downloader) onTransferSucceeded(product catalog.Product, entryName, downloadPath string, record state.Record, dbKey string, bytesWritten int64) {
	info, statErr := os.Stat(downloadPath)
	var size int64
	if statErr == nil {
		size = info.Size()
	} else {
		size = bytesWritten
	}

	if err := d.store.UpdateStatus(dbKey, record.JobName, catalog.StatusDownloaded, state.StatusUpdate{
		DownloadPath:    &downloadPath,
		BytesDownloaded: &size,
	}); err != nil {
		d.handlers.Error(dbKey, err)
		return
	}

	// MD5 is a whole-product digest; entries are not individually verified.
	if !d.cfg.VerifyMD5 || entryName != "" {
		_ = d.store.UpdateStatus(dbKey, record.JobName, catalog.StatusVerified, state.StatusUpdate{})
		d.handlers.Complete(dbKey, size)
		return
	}

	resumedFromOffset := bytesWritten < size
	ok, _, err := checksum.VerifyMD5(downloadPath, product.MD5)
	if err != nil {
		d.fail(dbKey, record.JobName, err)
		return
	}
	if ok {
		_ = d.store.UpdateStatus(dbKey, record.JobName, catalog.StatusVerified, state.StatusUpdate{})
		d.handlers.Complete(dbKey, size)
		return
	}

	if resumedFromOffset {
		// Likely a local resume/append defect rather than genuine remote
		// corruption: drop the file and retry once from zero.
		_ = os.Remove(downloadPath)
		zero := int64(0)
		_ = d.store.UpdateStatus(dbKey, record.JobName, catalog.StatusPending, state.StatusUpdate{BytesDownloaded: &zero})
		ctx := context.Background()
		d.downloadOneFreshAttempt(ctx, product, entryName, record, downloadPath, dbKey)
		return
	}

	d.fail(dbKey, record.JobName, fmt.Errorf("MD5 verification failed"))
}

// downloadOneFreshAttempt runs exactly one more full transfer attempt,
// used for the single automatic retry after a post-resume digest mismatch.
func (d *Downloader) downloadOneFreshAttempt(ctx context.Context, product catalog.Product, entryName string, record state.Record, downloadPath, dbKey string) {
	if err := d.store.UpdateStatus(dbKey, record.JobName, catalog.StatusDownloading, state.StatusUpdate{}); err != nil {
		d.handlers.Error(dbKey, err)
		return
	}
	attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	bytesWritten, err := d.transferOnce(attemptCtx, product, entryName, downloadPath, dbKey)
	if err != nil {
		if d.isShuttingDown() || errors.Is(err, context.Canceled) {
			return
		}
		d.fail(dbKey, record.JobName, err)
		return
	}

	info, statErr := os.Stat(downloadPath)
	size := bytesWritten
	if statErr == nil {
		size = info.Size()
	}
	if err := d.store.UpdateStatus(dbKey, record.JobName, catalog.StatusDownloaded, state.StatusUpdate{
		DownloadPath:    &downloadPath,
		BytesDownloaded: &size,
	}); err != nil {
		d.handlers.Error(dbKey, err)
		return
	}

	ok, _, err := checksum.VerifyMD5(downloadPath, product.MD5)
	if err != nil {
		d.fail(dbKey, record.JobName, err)
		return
	}
	if !ok {
		d.fail(dbKey, record.JobName, fmt.Errorf("MD5 verification failed after resume retry"))
		return
	}
	_ = d.store.UpdateStatus(dbKey, record.JobName, catalog.StatusVerified, state.StatusUpdate{})
	d.handlers.Complete(dbKey, size)
}

// transferOnce opens product/entryName (resuming from the existing file
// size when cfg.Resume is set) and streams it to downloadPath, returning
// the number of bytes written in this call.
func (d *Downloader) transferOnce(ctx context.Context, product catalog.Product, entryName, downloadPath, dbKey string) (int64, error) {
	var offset int64
	flag := os.O_WRONLY | os.O_CREATE | os.O_TRUNC

	if d.cfg.Resume {
		if info, err := os.Stat(downloadPath); err == nil && info.Size() > 0 {
			offset = info.Size()
			flag = os.O_WRONLY | os.O_APPEND
		}
	}

	var stream io.ReadCloser
	var err error
	if offset > 0 {
		stream, err = d.opener.OpenRange(ctx, product, entryName, offset)
		if err != nil {
			// byte-range resume not supported; restart from scratch
			d.logger.Printf("byte-range resume not supported for %s, restarting", dbKey)
			offset = 0
			flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
			stream, err = d.opener.Open(ctx, product, entryName)
		}
	} else {
		stream, err = d.opener.Open(ctx, product, entryName)
	}
	if err != nil {
		return 0, fmt.Errorf("downloader: open %s: %w", dbKey, err)
	}
	defer stream.Close()

	f, err := os.OpenFile(downloadPath, flag, 0o644)
	if err != nil {
		return 0, fmt.Errorf("downloader: open file %s: %w", downloadPath, err)
	}
	defer f.Close()

	return d.streamToFile(ctx, stream, f, dbKey)
}

func (d *Downloader) streamToFile(ctx context.Context, stream io.Reader, f io.Writer, dbKey string) (int64, error) {
	buf := make([]byte, chunkSize)
	var written int64
	for {
		if d.isShuttingDown() {
			return written, context.Canceled
		}
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		n, readErr := stream.Read(buf)
		if n > 0 {
			if _, writeErr := f.Write(buf[:n]); writeErr != nil {
				return written, writeErr
			}
			written += int64(n)
			d.handlers.Progress(dbKey, n)
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}
