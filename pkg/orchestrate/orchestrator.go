package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/catalog-scraper/pkg/config"
	"github.com/Sriram-PR/catalog-scraper/pkg/crawler"
	"github.com/Sriram-PR/catalog-scraper/pkg/dispatch"
	"github.com/Sriram-PR/catalog-scraper/pkg/extract"
	"github.com/Sriram-PR/catalog-scraper/pkg/fetch"
	"github.com/Sriram-PR/catalog-scraper/pkg/models"
	"github.com/Sriram-PR/catalog-scraper/pkg/observe"
	"github.com/Sriram-PR/catalog-scraper/pkg/sink"
	"github.com/Sriram-PR/catalog-scraper/pkg/storage"
	"github.com/Sriram-PR/catalog-scraper/pkg/utils"
)

// JobKind selects what a run does for each site
type JobKind string

const (
	JobCrawl   JobKind = "crawl"   // Walk the group hierarchy from the start URL
	JobListing JobKind = "listing" // Dump one listing without group recursion
	JobProduct JobKind = "product" // Dump a single product page
	JobResume  JobKind = "resume"  // Continue every stored snapshot of the site
)

// Job describes one invocation
type Job struct {
	Kind      JobKind
	Link      string // Overrides the site's start_url; required for listing and product
	Directory string // Output directory, relative to output_base_dir unless absolute
	Workers   int    // Overrides num_workers when > 0
}

// Options contains optional parameters for NewOrchestrator
type Options struct {
	ResetState bool             // Wipe stored snapshots before running
	Ephemeral  bool             // Keep snapshots in memory only
	Observer   observe.Observer // Receives pipeline events; nil discards them
}

// SiteResult contains the result of running a job for a single site
type SiteResult struct {
	SiteKey   string
	Success   bool
	Error     error
	OutputDir string
	Leaves    int
	Products  int
	Records   int
	Failed    int
	Duration  time.Duration
}

// Orchestrator runs one job across one or more sites in parallel
type Orchestrator struct {
	appCfg   *config.AppConfig
	log      *logrus.Entry
	siteKeys []string
	job      Job
	opts     Options

	// Shared resources
	httpClient *http.Client

	// Results
	results   []SiteResult
	resultsMu sync.Mutex

	// Coordination
	ctx    context.Context
	cancel context.CancelFunc
}

// NewOrchestrator creates a new orchestrator. The run is bounded by global_crawl_timeout when set.
func NewOrchestrator(appCfg *config.AppConfig, siteKeys []string, job Job, opts Options, log *logrus.Entry) *Orchestrator {
	var ctx context.Context
	var cancel context.CancelFunc
	if appCfg.GlobalCrawlTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), appCfg.GlobalCrawlTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	if opts.Observer == nil {
		opts.Observer = observe.Nop
	}

	return &Orchestrator{
		appCfg:     appCfg,
		log:        log,
		siteKeys:   siteKeys,
		job:        job,
		opts:       opts,
		httpClient: fetch.NewClient(appCfg.HTTPClientSettings, log),
		results:    make([]SiteResult, 0, len(siteKeys)),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run executes the job for all sites in parallel and waits for completion
func (o *Orchestrator) Run() []SiteResult {
	defer o.cancel()
	startTime := time.Now()
	o.log.Infof("Starting %s job for %d site(s): %v", o.job.Kind, len(o.siteKeys), o.siteKeys)

	var wg sync.WaitGroup
	for _, siteKey := range o.siteKeys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			result := o.runSite(key)
			o.resultsMu.Lock()
			o.results = append(o.results, result)
			o.resultsMu.Unlock()
		}(siteKey)
	}
	wg.Wait()

	sort.Slice(o.results, func(i, j int) bool { return o.results[i].SiteKey < o.results[j].SiteKey })
	o.logSummary(time.Since(startTime))
	return o.results
}

// Cancel cancels all running jobs. Interrupted batches are snapshotted for resume.
func (o *Orchestrator) Cancel() {
	o.log.Info("Cancelling all jobs...")
	o.cancel()
}

// site bundles the per-site pipeline
type site struct {
	key         string
	cfg         config.SiteConfig
	log         *logrus.Entry
	fetcher     *fetch.Fetcher
	extractor   *extract.SelectorExtractor
	session     *dispatch.Session
	sink        *sink.Sink
	manifest    *sink.Manifest
	outputRoot  string
	concurrency int
}

// runSite wires the pipeline for one site and runs the job
func (o *Orchestrator) runSite(siteKey string) SiteResult {
	startTime := time.Now()
	result := SiteResult{SiteKey: siteKey}
	siteLog := o.log.WithField("site_key", siteKey)

	key, siteCfg, warnings, err := o.appCfg.Site(siteKey)
	for _, w := range warnings {
		siteLog.Warn(w)
	}
	if err != nil {
		result.Error = err
		siteLog.Errorf("Invalid site configuration: %v", err)
		return result
	}

	siteCtx, siteCancel := context.WithCancel(o.ctx)
	defer siteCancel()

	store, err := o.openStore(siteCtx, key, siteLog)
	if err != nil {
		result.Error = fmt.Errorf("failed to open session store for '%s': %w", key, err)
		siteLog.Errorf("Failed to open session store: %v", err)
		return result
	}
	gcCtx, stopGC := context.WithCancel(siteCtx)
	var gcWG sync.WaitGroup
	gcWG.Add(1)
	go func() {
		defer gcWG.Done()
		store.RunGC(gcCtx, o.appCfg.DBGCInterval)
	}()
	defer func() {
		stopGC()
		gcWG.Wait()
		if err := store.Close(); err != nil {
			siteLog.Warnf("Closing session store: %v", err)
		}
	}()

	s, err := o.buildSite(key, siteCfg, store, siteLog)
	if err != nil {
		result.Error = err
		siteLog.Errorf("Failed to set up pipeline: %v", err)
		return result
	}
	result.OutputDir = s.outputRoot

	siteLog.Infof("Starting %s job, output root: %s", o.job.Kind, s.outputRoot)
	report, err := o.runJob(siteCtx, s, store)
	result.Leaves = len(report.Leaves)
	result.Products = report.Products
	result.Records = report.Records
	result.Failed = len(report.Failed)
	result.Duration = time.Since(startTime)

	if err != nil {
		result.Error = err
		siteLog.WithField("error_type", utils.CategorizeError(err)).Errorf("%s job failed: %v", o.job.Kind, err)
	} else {
		result.Success = true
		siteLog.Infof("%s job completed", o.job.Kind)
	}

	o.writeArtifacts(s, result.Records > 0)
	return result
}

// openStore returns the snapshot store for a site
func (o *Orchestrator) openStore(ctx context.Context, siteKey string, log *logrus.Entry) (storage.Store, error) {
	if o.opts.Ephemeral {
		log.Info("Using in-memory session store; interrupted batches will not survive a restart")
		return storage.NewMemoryStore(), nil
	}
	return storage.NewBadgerStore(ctx, o.appCfg.StateDir, siteKey, o.opts.ResetState, log)
}

func (o *Orchestrator) buildSite(siteKey string, siteCfg config.SiteConfig, store storage.SessionStore, log *logrus.Entry) (*site, error) {
	fetcher := fetch.NewFetcher(o.httpClient, config.GetEffectiveUserAgent(siteCfg, *o.appCfg), o.appCfg.PerPageTimeout, log)

	ex, err := extract.New(siteCfg, o.appCfg.IncludeUserContentMarkdown, log)
	if err != nil {
		return nil, fmt.Errorf("creating extractor for '%s': %w", siteKey, err)
	}

	concurrency := config.GetEffectiveNumWorkers(siteCfg, *o.appCfg)
	if o.job.Workers > 0 {
		concurrency = o.job.Workers
	}

	d := dispatch.NewDispatcher(fetcher, ex, dispatch.Config{
		RequestDelay: config.GetEffectiveRequestDelay(siteCfg, *o.appCfg),
		Retry:        fetch.RetryPolicy{MaxAttempts: o.appCfg.MaxFetchAttempts, Cooldown: o.appCfg.NetworkErrorCooldown},
		Policy:       o.appCfg.ExtractionErrorPolicy,
	}, o.opts.Observer, log.WithField("component", "dispatcher"))

	session := dispatch.NewSession(d, store, dispatch.SessionConfig{
		Concurrency:      concurrency,
		MaxBatchAttempts: o.appCfg.MaxBatchAttempts,
		BatchCooldown:    o.appCfg.BatchErrorCooldown,
	}, o.opts.Observer, log.WithField("component", "session"))

	outputRoot := o.outputRoot(siteKey)
	startURL := o.job.Link
	if startURL == "" {
		startURL = siteCfg.StartURL
	}

	return &site{
		key:         siteKey,
		cfg:         siteCfg,
		log:         log,
		fetcher:     fetcher,
		extractor:   ex,
		session:     session,
		sink:        sink.New(o.opts.Observer, log.WithField("component", "sink")),
		manifest:    sink.NewManifest(outputRoot, siteKey, startURL, string(o.job.Kind), log),
		outputRoot:  outputRoot,
		concurrency: concurrency,
	}, nil
}

// outputRoot resolves the job directory. Several sites without an explicit directory
// each get their own subdirectory of output_base_dir.
func (o *Orchestrator) outputRoot(siteKey string) string {
	dir := o.job.Directory
	switch {
	case dir != "" && filepath.IsAbs(dir):
		return filepath.Clean(dir)
	case dir != "":
		return filepath.Join(o.appCfg.OutputBaseDir, dir)
	case len(o.siteKeys) > 1:
		return filepath.Join(o.appCfg.OutputBaseDir, utils.SanitizeFilename(siteKey))
	}
	return filepath.Clean(o.appCfg.OutputBaseDir)
}

func (o *Orchestrator) runJob(ctx context.Context, s *site, store storage.SessionStore) (crawler.CrawlReport, error) {
	handle := o.leafHandler(s)

	switch o.job.Kind {
	case JobCrawl, "":
		coord, err := crawler.NewCoordinator(o.appCfg, &s.cfg, s.key, s.fetcher, s.extractor, o.opts.Observer, s.log)
		if err != nil {
			return crawler.CrawlReport{}, err
		}
		startURL := o.job.Link
		if startURL == "" {
			startURL = s.cfg.StartURL
		}
		return coord.Crawl(ctx, startURL, s.outputRoot, handle)

	case JobListing:
		if o.job.Link == "" {
			return crawler.CrawlReport{}, fmt.Errorf("%w: listing job needs a link", utils.ErrConfigValidation)
		}
		coord, err := crawler.NewCoordinator(o.appCfg, &s.cfg, s.key, s.fetcher, s.extractor, o.opts.Observer, s.log)
		if err != nil {
			return crawler.CrawlReport{}, err
		}
		return coord.CrawlListing(ctx, o.job.Link, s.outputRoot, handle)

	case JobProduct:
		if o.job.Link == "" {
			return crawler.CrawlReport{}, fmt.Errorf("%w: product job needs a link", utils.ErrConfigValidation)
		}
		leaf := crawler.Leaf{Title: o.job.Link, URL: o.job.Link, OutputDir: s.outputRoot, Products: []string{o.job.Link}}
		written, err := handle(ctx, leaf)
		report := crawler.CrawlReport{
			Leaves:   []crawler.LeafReport{{Title: leaf.Title, URL: leaf.URL, OutputDir: leaf.OutputDir, Products: 1, Written: written, Err: err}},
			Products: 1,
			Records:  written,
		}
		if err != nil {
			report.Failed = []models.FailedURLInfo{{URL: o.job.Link, ErrorType: utils.CategorizeError(err)}}
		}
		return report, err

	case JobResume:
		return o.resumeAll(ctx, s, store)
	}
	return crawler.CrawlReport{}, fmt.Errorf("%w: unknown job '%s'", utils.ErrConfigValidation, o.job.Kind)
}

// leafHandler runs a leaf's URLs through the session and persists the records
func (o *Orchestrator) leafHandler(s *site) crawler.LeafHandler {
	return func(ctx context.Context, leaf crawler.Leaf) (int, error) {
		batch, err := s.session.Run(ctx, leaf.OutputDir, leaf.URL, leaf.Products)
		if err != nil {
			return 0, err
		}
		return o.persist(s, leaf.Title, leaf.URL, batch)
	}
}

func (o *Orchestrator) persist(s *site, title, sourceURL string, batch *models.WorkBatch) (int, error) {
	files, err := s.sink.Persist(batch.OutputDir, batch.Records())
	if err != nil {
		return 0, err
	}
	s.manifest.AddLeaf(title, sourceURL, batch.OutputDir, files, batch.Skipped())
	return len(files), nil
}

// resumeAll continues every resumable snapshot of the site. A snapshot that fails
// again stays stored; the first error is returned after all were attempted.
func (o *Orchestrator) resumeAll(ctx context.Context, s *site, store storage.SessionStore) (crawler.CrawlReport, error) {
	var report crawler.CrawlReport
	summaries, err := store.List(ctx)
	if err != nil {
		return report, err
	}

	var firstErr error
	resumed := 0
	for _, sum := range summaries {
		if sum.Status == models.SessionStatusCorrupt {
			s.log.WithField("session", sum.Key).Warnf("Discarding undecodable snapshot: %s", sum.LastError)
			if err := store.Delete(sum.Key); err != nil {
				s.log.WithField("session", sum.Key).Errorf("Failed to discard snapshot: %v", err)
			}
			continue
		}
		if !sum.Status.Resumable() {
			s.log.WithField("session", sum.Key).Debugf("Skipping snapshot with status %s", sum.Status)
			continue
		}
		resumed++
		lr := crawler.LeafReport{URL: sum.SourceURL, OutputDir: sum.OutputDir, Products: sum.Total}
		batch, err := s.session.Resume(ctx, sum.Key)
		if err == nil {
			lr.Written, err = o.persist(s, filepath.Base(sum.OutputDir), sum.SourceURL, batch)
		}
		lr.Err = err
		report.Leaves = append(report.Leaves, lr)
		report.Products += lr.Products
		report.Records += lr.Written
		if err != nil {
			report.Failed = append(report.Failed, models.FailedURLInfo{URL: sum.SourceURL, ErrorType: utils.CategorizeError(err)})
			s.log.WithField("dir", sum.OutputDir).Errorf("Resume failed: %v", err)
			if firstErr == nil {
				firstErr = err
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
		}
	}
	if resumed == 0 {
		s.log.Info("No resumable sessions stored")
	}
	return report, firstErr
}

// writeArtifacts writes the structure file and the manifest when enabled
func (o *Orchestrator) writeArtifacts(s *site, wroteRecords bool) {
	if !wroteRecords {
		return
	}
	if o.appCfg.WriteStructureFile {
		treePath := filepath.Clean(s.outputRoot) + "_structure.txt"
		stats, err := utils.WriteCatalogTree(s.outputRoot, treePath, false, s.log)
		if err != nil {
			s.log.Warnf("Failed to write structure file: %v", err)
		} else {
			s.log.Infof("Wrote structure file %s (%d groups, %d leaves, %d records)", treePath, stats.Groups, stats.Leaves, stats.Records)
		}
	}
	if o.appCfg.WriteManifest {
		if err := s.manifest.Write(filepath.Join(s.outputRoot, o.appCfg.ManifestFilename)); err != nil {
			s.log.Warnf("Failed to write manifest: %v", err)
		}
	}
}

// logSummary logs a summary of all site results
func (o *Orchestrator) logSummary(totalDuration time.Duration) {
	o.log.Info("============================================")
	o.log.Infof("%s job completed in %v", o.job.Kind, totalDuration)
	o.log.Info("Site Results:")

	var totalRecords int
	successCount := 0
	failCount := 0

	for _, r := range o.results {
		status := "SUCCESS"
		if !r.Success {
			status = "FAILED"
			failCount++
		} else {
			successCount++
		}
		totalRecords += r.Records

		o.log.Infof("  %s: %s - %d leaves, %d/%d records, %d failed in %v (%s)",
			r.SiteKey, status, r.Leaves, r.Records, r.Products, r.Failed, r.Duration.Round(time.Millisecond), r.OutputDir)
		if r.Error != nil {
			o.log.Infof("    Error: %v", r.Error)
		}
	}

	o.log.Info("--------------------------------------------")
	o.log.Infof("Total: %d sites (%d success, %d failed), %d records written",
		len(o.results), successCount, failCount, totalRecords)
	o.log.Info("============================================")
}

// ListSessions returns the snapshots stored for a site, oldest first
func ListSessions(ctx context.Context, appCfg *config.AppConfig, siteKey string, log *logrus.Entry) ([]storage.SessionSummary, error) {
	store, err := storage.NewBadgerStore(ctx, appCfg.StateDir, siteKey, false, log)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.List(ctx)
}

// ValidateSiteKeys checks that all provided site keys exist in the config
func ValidateSiteKeys(appCfg *config.AppConfig, siteKeys []string) error {
	for _, key := range siteKeys {
		if _, exists := appCfg.Sites[key]; !exists {
			return fmt.Errorf("site '%s' not found. Available sites: %v", key, GetAllSiteKeys(appCfg))
		}
	}
	return nil
}

// GetAllSiteKeys returns all site keys from the config, sorted
func GetAllSiteKeys(appCfg *config.AppConfig) []string {
	keys := make([]string, 0, len(appCfg.Sites))
	for k := range appCfg.Sites {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
