// Package orchestrator wires search, download, and post-processing into one
// run per job: cached or fresh search, a downloader pass, and — when a job
// enables it — a producer/consumer hand-off of verified products into a
// local-file post-processor, or, in remote-stream mode, a direct pass over
// the registered rows with no download at all; with cooperative shutdown on
// SIGINT/SIGTERM.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/satfetch/satfetch/internal/catalog"
	"github.com/satfetch/satfetch/internal/config"
	"github.com/satfetch/satfetch/internal/downloader"
	"github.com/satfetch/satfetch/internal/filters"
	"github.com/satfetch/satfetch/internal/plugin"
	"github.com/satfetch/satfetch/internal/remote"
	"github.com/satfetch/satfetch/internal/search"
	"github.com/satfetch/satfetch/internal/session"
	"github.com/satfetch/satfetch/internal/state"
)

// Orchestrator runs every job in an App config, one at a time, each in its
// own session directory and state database.
type Orchestrator struct {
	search              *search.Service
	opener              catalog.Opener
	logger              *log.Logger
	baseDir             string
	processorName       string
	remoteProcessorName string
	progress            downloader.Handlers

	shutdown chan struct{}
	once     sync.Once
}

// New builds an Orchestrator. baseDir is the root session directory (see
// internal/session); empty defers to the user's home directory.
// processorName names the registered internal/plugin local hook to use for
// any job with post-processing enabled and mode "local" (the CLI's
// --post-processor flag); empty means no post-processor was supplied. Use
// SetRemoteProcessor for jobs with mode "remote" (the CLI's
// --remote-processor flag).
func New(svc *search.Service, opener catalog.Opener, baseDir, processorName string, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.Default()
	}
	return &Orchestrator{
		search:        svc,
		opener:        opener,
		logger:        logger,
		baseDir:       baseDir,
		processorName: processorName,
		shutdown:      make(chan struct{}),
	}
}

// SetRemoteProcessor names the registered internal/plugin remote hook to
// use for any job with post-processing enabled and mode "remote".
func (o *Orchestrator) SetRemoteProcessor(name string) {
	o.remoteProcessorName = name
}

// SetProgressHandlers installs handlers.Progress/Complete for every job's
// downloader, and handlers.Error to be called after the orchestrator's own
// error logging (the CLI uses this to drive a progress bar).
// handlers.Stopped is not used. Call before RunJob/RunAll.
func (o *Orchestrator) SetProgressHandlers(handlers downloader.Handlers) {
	o.progress = handlers
}

func (o *Orchestrator) downloadHandlers(jobName string) downloader.Handlers {
	progress, complete := o.progress.Progress, o.progress.Complete
	h := downloader.Handlers{
		Stopped: func() { o.logger.Printf("download stopped for job %q", jobName) },
		Error: func(key string, err error) {
			o.logger.Printf("download error for %s: %v", key, err)
			if o.progress.Error != nil {
				o.progress.Error(key, err)
			}
		},
	}
	if progress != nil {
		h.Progress = progress
	}
	if complete != nil {
		h.Complete = complete
	}
	return h
}

// RequestShutdown signals every running and future job step to stop at its
// next checkpoint. Idempotent.
func (o *Orchestrator) RequestShutdown() {
	o.once.Do(func() { close(o.shutdown) })
}

// IsShuttingDown reports whether RequestShutdown has been called, so a
// caller can distinguish a clean stop from a genuine failure after RunAll
// returns.
func (o *Orchestrator) IsShuttingDown() bool {
	return o.isShuttingDown()
}

func (o *Orchestrator) isShuttingDown() bool {
	select {
	case <-o.shutdown:
		return true
	default:
		return false
	}
}

// ListenForSignals closes the orchestrator's shutdown channel on the first
// SIGINT or SIGTERM, returning a function that stops listening.
func (o *Orchestrator) ListenForSignals() (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		if _, ok := <-ch; ok {
			o.logger.Printf("received shutdown signal")
			o.RequestShutdown()
		}
	}()
	return func() { signal.Stop(ch); close(ch) }
}

// RunAll runs every job in app in order, stopping early if a shutdown is
// requested between jobs.
func (o *Orchestrator) RunAll(ctx context.Context, app config.App) error {
	for _, job := range app.Jobs {
		if o.isShuttingDown() {
			o.logger.Printf("shutdown requested, stopping before job %q", job.Name)
			return nil
		}
		if err := o.RunJob(ctx, job); err != nil {
			return fmt.Errorf("orchestrator: job %q: %w", job.Name, err)
		}
	}
	o.logger.Printf("all jobs finished")
	return nil
}

// RunJob runs one job end to end: session bootstrap, search (cached or
// fresh), download, and optional post-processing.
func (o *Orchestrator) RunJob(ctx context.Context, job config.Job) error {
	sess, err := session.New(job, o.baseDir)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if err := sess.Initialize(); err != nil {
		return fmt.Errorf("session init: %w", err)
	}
	o.logger.Printf("session %s (%s) for job %q", sess.ID, newOrResuming(sess.IsNew), job.Name)
	if sess.IsLive {
		o.logger.Printf("live session: search results will be refreshed")
	}

	store, err := state.Open(sess.StateDBPath())
	if err != nil {
		return fmt.Errorf("state: %w", err)
	}
	defer store.Close()

	if !sess.IsNew {
		if n, err := store.ResetStaleDownloads(job.Name); err != nil {
			return fmt.Errorf("reset stale downloads: %w", err)
		} else if n > 0 {
			o.logger.Printf("reset %d stale downloading products to pending", n)
		}
	}

	products, err := o.searchWithCache(ctx, sess, store, job)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if len(products) == 0 {
		o.logger.Printf("no products found for job %q", job.Name)
		return nil
	}

	if job.PostSearchFilter != nil {
		fn, err := filters.Build(job.PostSearchFilter.Type, job.PostSearchFilter.Params)
		if err != nil {
			return fmt.Errorf("post-search filter: %w", err)
		}
		before := len(products)
		products = fn(products)
		o.logger.Printf("post-search filter %q: %d -> %d products", job.PostSearchFilter.Type, before, len(products))
	}

	dl := downloader.New(store, o.opener, sess.DownloadDir, downloaderConfig(job.Download), o.logger, o.downloadHandlers(job.Name))

	productByID := make(map[string]catalog.Product, len(products))
	for _, p := range products {
		productByID[p.ID] = p
	}

	// Remote post-processing never touches disk: it builds a lazy-view
	// remote.Dataset straight off the catalog opener, so it bypasses the
	// downloader entirely rather than running through runWithPostProcessing.
	if job.PostProcess.Enabled && job.PostProcess.Mode == "remote" {
		if o.remoteProcessorName == "" {
			o.logger.Printf("post-processing enabled for job %q but no remote processor given; downloading only", job.Name)
		} else {
			return o.runRemotePostProcessing(ctx, dl, products, productByID, job, store)
		}
	}

	if !job.Download.Enabled {
		o.logger.Printf("download disabled for job %q, search-only", job.Name)
		if err := dl.Register(products, job.Name, job.Collection); err != nil {
			return fmt.Errorf("register products: %w", err)
		}
		return nil
	}

	if job.PostProcess.Enabled && o.processorName != "" {
		return o.runWithPostProcessing(ctx, dl, products, productByID, job, store)
	}
	if job.PostProcess.Enabled {
		o.logger.Printf("post-processing enabled for job %q but no post-processor given; downloading only", job.Name)
	}
	return dl.DownloadAll(ctx, products, job.Name, job.Collection)
}

func newOrResuming(isNew bool) string {
	if isNew {
		return "new"
	}
	return "resuming"
}

func downloaderConfig(d config.Download) downloader.Config {
	return downloader.Config{
		Parallel:     d.Parallel,
		Resume:       d.Resume,
		VerifyMD5:    d.VerifyMD5,
		MaxRetries:   d.MaxRetries,
		RetryBackoff: d.RetryBackoff,
		Timeout:      d.Timeout,
		Entries:      d.Entries,
	}
}

// searchWithCache, for a non-live resumed session with a cached search,
// reruns the search to get fresh catalog objects and keeps only the
// products that still have resumable rows (the cache is not rewritten);
// otherwise it runs a fresh search and caches its results.
func (o *Orchestrator) searchWithCache(ctx context.Context, sess *session.Session, store *state.Store, job config.Job) ([]catalog.Product, error) {
	if !sess.IsNew && !sess.IsLive {
		cached, err := store.HasCachedSearch()
		if err != nil {
			return nil, err
		}
		if cached {
			o.logger.Printf("using cached search results for job %q", job.Name)
			resumable, err := store.Resumable(job.Name)
			if err != nil {
				return nil, err
			}
			if len(resumable) == 0 {
				o.logger.Printf("all products already processed for job %q", job.Name)
				return nil, nil
			}

			limit := 0
			if job.Limit != nil {
				limit = *job.Limit
			}
			all, err := o.search.IterProducts(ctx, job.Collection, job.Filters, limit)
			if err != nil {
				return nil, err
			}

			resumableIDs := make(map[string]bool, len(resumable))
			for _, r := range resumable {
				productID, _ := splitEntryKey(r.ProductID)
				resumableIDs[productID] = true
			}
			var filtered []catalog.Product
			for _, p := range all {
				if resumableIDs[p.ID] {
					filtered = append(filtered, p)
				}
			}
			o.logger.Printf("found %d resumable products", len(filtered))
			return filtered, nil
		}
	}

	o.logger.Printf("searching for products in %s", job.Collection)
	limit := 0
	if job.Limit != nil {
		limit = *job.Limit
	}
	products, err := o.search.IterProducts(ctx, job.Collection, job.Filters, limit)
	if err != nil {
		return nil, err
	}
	o.logger.Printf("found %d products", len(products))

	if len(products) > 0 {
		if err := store.CacheSearchResults(products); err != nil {
			return nil, err
		}
	}
	return products, nil
}

func splitEntryKey(key string) (string, string) {
	const sep = "::entry::"
	for i := 0; i+len(sep) <= len(key); i++ {
		if key[i:i+len(sep)] == sep {
			return key[:i], key[i+len(sep):]
		}
	}
	return key, ""
}

// runWithPostProcessing downloads products on a producer goroutine while a
// consumer goroutine drains the store's verified rows into the job's local
// post-processor. Remote mode never calls this: see runRemotePostProcessing.
func (o *Orchestrator) runWithPostProcessing(ctx context.Context, dl *downloader.Downloader, products []catalog.Product, productByID map[string]catalog.Product, job config.Job, store *state.Store) error {
	queue := make(chan state.Record, 64)
	var producerErr error

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer close(queue)

		producerErr = dl.DownloadAll(ctx, products, job.Name, job.Collection)

		verified, err := store.ByStatus(job.Name, catalog.StatusVerified)
		if err != nil {
			if producerErr == nil {
				producerErr = err
			}
			return
		}
		for _, rec := range verified {
			if o.isShuttingDown() {
				return
			}
			queue <- rec
		}
	}()

	go func() {
		defer wg.Done()
		o.postProcessConsumer(ctx, queue, productByID, job, store)
	}()

	wg.Wait()
	return producerErr
}

// runRemotePostProcessing registers every product (or entry) pending without
// downloading a single byte, then walks the resumable rows and hands each one
// straight to the remote hook as a lazy-view remote.Dataset built against the
// catalog opener.
func (o *Orchestrator) runRemotePostProcessing(ctx context.Context, dl *downloader.Downloader, products []catalog.Product, productByID map[string]catalog.Product, job config.Job, store *state.Store) error {
	if err := dl.Register(products, job.Name, job.Collection); err != nil {
		return fmt.Errorf("register products: %w", err)
	}

	pending, err := store.Resumable(job.Name)
	if err != nil {
		return fmt.Errorf("list resumable: %w", err)
	}

	for _, record := range pending {
		if o.isShuttingDown() {
			return nil
		}

		o.logger.Printf("remote post-processing product: %s", record.ProductID)
		if err := store.UpdateStatus(record.ProductID, job.Name, catalog.StatusProcessing, state.StatusUpdate{}); err != nil {
			o.logger.Printf("post-process status update failed for %s: %v", record.ProductID, err)
			continue
		}

		if err := o.runPostProcessor(ctx, record, productByID, job); err != nil {
			o.logger.Printf("remote post-processing failed for %s: %v", record.ProductID, err)
			msg := fmt.Sprintf("post-processing failed: %v", err)
			_ = store.UpdateStatus(record.ProductID, job.Name, catalog.StatusFailed, state.StatusUpdate{ErrorMessage: &msg})
			continue
		}

		_ = store.UpdateStatus(record.ProductID, job.Name, catalog.StatusProcessed, state.StatusUpdate{})
	}
	return nil
}

func (o *Orchestrator) postProcessConsumer(ctx context.Context, queue <-chan state.Record, productByID map[string]catalog.Product, job config.Job, store *state.Store) {
	for record := range queue {
		if o.isShuttingDown() {
			return
		}

		o.logger.Printf("post-processing product: %s", record.ProductID)
		if err := store.UpdateStatus(record.ProductID, job.Name, catalog.StatusProcessing, state.StatusUpdate{}); err != nil {
			o.logger.Printf("post-process status update failed for %s: %v", record.ProductID, err)
			continue
		}

		err := o.runPostProcessor(ctx, record, productByID, job)
		if err != nil {
			o.logger.Printf("post-processing failed for %s: %v", record.ProductID, err)
			msg := fmt.Sprintf("post-processing failed: %v", err)
			_ = store.UpdateStatus(record.ProductID, job.Name, catalog.StatusFailed, state.StatusUpdate{ErrorMessage: &msg})
			continue
		}

		_ = store.UpdateStatus(record.ProductID, job.Name, catalog.StatusProcessed, state.StatusUpdate{})
	}
}

func (o *Orchestrator) runPostProcessor(ctx context.Context, record state.Record, productByID map[string]catalog.Product, job config.Job) error {
	productID, entryName := splitEntryKey(record.ProductID)

	switch job.PostProcess.Mode {
	case "remote":
		fn, err := plugin.Remote(o.remoteProcessorName)
		if err != nil {
			return err
		}
		product, ok := productByID[productID]
		if !ok {
			return fmt.Errorf("product %s not found for remote post-processing", productID)
		}
		var patterns []string
		if entryName != "" {
			patterns = []string{entryName}
		}
		dataset, err := remote.BuildDataset(o.opener, product, patterns)
		if err != nil {
			return err
		}
		return fn(ctx, dataset, record.ProductID)

	default: // "local"
		fn, err := plugin.Local(o.processorName)
		if err != nil {
			return err
		}
		path := record.DownloadPath
		if path == "" {
			path = filepath.Base(record.ProductID)
		}
		return fn(ctx, path, record.ProductID)
	}
}
