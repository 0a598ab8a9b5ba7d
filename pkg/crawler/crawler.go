// Package crawler walks a catalog's group hierarchy down to its leaf listings and
// hands every collected set of product URLs to a LeafHandler.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/catalog-scraper/pkg/config"
	"github.com/Sriram-PR/catalog-scraper/pkg/extract"
	"github.com/Sriram-PR/catalog-scraper/pkg/fetch"
	"github.com/Sriram-PR/catalog-scraper/pkg/models"
	"github.com/Sriram-PR/catalog-scraper/pkg/observe"
	"github.com/Sriram-PR/catalog-scraper/pkg/parse"
	"github.com/Sriram-PR/catalog-scraper/pkg/utils"
)

// State is the position of the coordinator on one branch of the hierarchy
type State int

const (
	AtGroup   State = iota // Fetching a group page and deciding between subgroups and listing
	AtListing              // Paginating a leaf listing
	Done                   // Branch finished
)

func (s State) String() string {
	switch s {
	case AtGroup:
		return "AT_GROUP"
	case AtListing:
		return "AT_LISTING"
	case Done:
		return "DONE"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Leaf is a group without subgroups together with its collected product URLs
type Leaf struct {
	Title     string
	URL       string
	OutputDir string   // Directory the leaf's records go to
	Products  []string // Deduplicated, discovery order
	Pages     int      // Listing pages that contributed links
}

// LeafHandler processes one leaf and returns the number of records written.
// An error wrapping utils.ErrBatchExhausted is recorded and the crawl moves on;
// any other error stops the crawl.
type LeafHandler func(ctx context.Context, leaf Leaf) (int, error)

// Listing is the outcome of paginating one listing URL
type Listing struct {
	URL      string
	Title    string   // Title of the first page, may be empty
	Products []string // Deduplicated, discovery order
	Pages    int
}

// LeafReport summarizes one processed leaf
type LeafReport struct {
	Title     string
	URL       string
	OutputDir string
	Products  int
	Pages     int
	Written   int
	Err       error
}

// CrawlReport summarizes a finished crawl
type CrawlReport struct {
	Groups   int // Intermediate groups visited
	Leaves   []LeafReport
	Products int // Product URLs discovered across all leaves
	Records  int // Records written across all leaves
	Failed   []models.FailedURLInfo
}

// Progress is a point-in-time view of a running crawl
type Progress struct {
	Groups   int64
	Leaves   int64
	Products int64
	Records  int64
}

// CoordinatorOptions contains optional parameters for NewCoordinator
type CoordinatorOptions struct {
	// SharedThrottle lets several coordinators pace their navigation fetches together.
	// If nil, the coordinator creates its own throttle from the site request delay.
	SharedThrottle *fetch.Throttle
}

// Coordinator crawls one configured site: groups, listings and leaf hand-off
type Coordinator struct {
	log                  *logrus.Entry // Logger contextualized with site_key
	siteKey              string
	homepage             string
	pagePathFormat       string
	maxPages             int // <= 0 means no ceiling
	groupBreak           time.Duration
	retry                fetch.RetryPolicy
	compiledSkipPatterns []*regexp.Regexp

	fetcher   fetch.PageFetcher
	extractor extract.Extractor
	throttle  *fetch.Throttle
	groupSem  *semaphore.Weighted // Extra goroutines allowed for sibling groups
	obs       observe.Observer

	visitedMu sync.Mutex
	visited   *parse.LinkSet // Group URLs entered during this run

	reportMu sync.Mutex
	report   CrawlReport
	leafDirs map[string]string // Output dir -> URL of the leaf that claimed it

	groups   atomic.Int64
	leaves   atomic.Int64
	products atomic.Int64
	records  atomic.Int64
}

// NewCoordinator creates a Coordinator for a validated site configuration
func NewCoordinator(
	appCfg *config.AppConfig,
	siteCfg *config.SiteConfig,
	siteKey string,
	fetcher fetch.PageFetcher,
	extractor extract.Extractor,
	obs observe.Observer,
	baseLogger *logrus.Entry,
) (*Coordinator, error) {
	return NewCoordinatorWithOptions(appCfg, siteCfg, siteKey, fetcher, extractor, obs, baseLogger, nil)
}

// NewCoordinatorWithOptions creates a Coordinator with optional configuration
func NewCoordinatorWithOptions(
	appCfg *config.AppConfig,
	siteCfg *config.SiteConfig,
	siteKey string,
	fetcher fetch.PageFetcher,
	extractor extract.Extractor,
	obs observe.Observer,
	baseLogger *logrus.Entry,
	opts *CoordinatorOptions,
) (*Coordinator, error) {
	logger := baseLogger.WithFields(logrus.Fields{"site_key": siteKey, "component": "coordinator"})

	compiledSkipPatterns, err := utils.CompileRegexPatterns(siteCfg.SkipURLPatterns)
	if err != nil {
		return nil, fmt.Errorf("compiling skip patterns for site '%s': %w", siteKey, err)
	}
	if len(compiledSkipPatterns) > 0 {
		logger.Infof("Compiled %d skip URL patterns.", len(compiledSkipPatterns))
	}

	if obs == nil {
		obs = observe.Nop
	}

	var throttle *fetch.Throttle
	if opts != nil && opts.SharedThrottle != nil {
		throttle = opts.SharedThrottle
		logger.Debug("Using shared navigation throttle")
	} else {
		throttle = fetch.NewThrottle(config.GetEffectiveRequestDelay(*siteCfg, *appCfg), logger)
	}

	pagePathFormat := siteCfg.PagePathFormat
	if pagePathFormat == "" {
		pagePathFormat = "page_%d"
	}

	groupConcurrency := appCfg.GroupConcurrency
	if groupConcurrency < 1 {
		groupConcurrency = 1
	}

	return &Coordinator{
		log:                  logger,
		siteKey:              siteKey,
		homepage:             siteCfg.Homepage,
		pagePathFormat:       pagePathFormat,
		maxPages:             config.GetEffectiveMaxPages(*siteCfg, *appCfg),
		groupBreak:           appCfg.GroupBreak,
		retry:                fetch.RetryPolicy{MaxAttempts: appCfg.MaxFetchAttempts, Cooldown: appCfg.NetworkErrorCooldown},
		compiledSkipPatterns: compiledSkipPatterns,
		fetcher:              fetcher,
		extractor:            extractor,
		throttle:             throttle,
		groupSem:             semaphore.NewWeighted(int64(groupConcurrency - 1)),
		obs:                  obs,
		visited:              parse.NewLinkSet(),
		leafDirs:             make(map[string]string),
	}, nil
}

// Progress returns the counters of the running crawl
func (c *Coordinator) Progress() Progress {
	return Progress{
		Groups:   c.groups.Load(),
		Leaves:   c.leaves.Load(),
		Products: c.products.Load(),
		Records:  c.records.Load(),
	}
}

// Crawl walks the hierarchy rooted at startURL. Each leaf is handed to handle as soon
// as its listing is collected, with its directory nested under outputRoot.
// The returned report is valid even when err is non-nil.
func (c *Coordinator) Crawl(ctx context.Context, startURL, outputRoot string, handle LeafHandler) (CrawlReport, error) {
	start := time.Now()
	c.log.WithField("start_url", startURL).Infof("Crawl starting, output root: %s", outputRoot)

	err := c.CrawlGroup(ctx, startURL, outputRoot, handle)

	report := c.snapshotReport()
	c.log.WithFields(logrus.Fields{
		"groups":   report.Groups,
		"leaves":   len(report.Leaves),
		"products": report.Products,
		"records":  report.Records,
		"failed":   len(report.Failed),
		"duration": time.Since(start).Round(time.Millisecond),
	}).Info("Crawl finished")
	return report, err
}

// CrawlGroup processes the group at groupURL. A group with subgroups gets the directory
// parentDir/<title> and its subgroups are crawled beneath it; a group without subgroups
// is a leaf with directory parentDir/~<title>. A group already visited in this run is skipped.
func (c *Coordinator) CrawlGroup(ctx context.Context, groupURL, parentDir string, handle LeafHandler) error {
	groupLog := c.log.WithField("group_url", groupURL)
	if !c.markVisited(groupURL) {
		groupLog.Debug("Group already visited, skipping")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	state := AtGroup
	groupLog.WithField("state", state).Debug("Fetching group page")

	page, err := c.fetchPage(ctx, groupURL)
	if err != nil {
		return c.groupFailure(groupURL, fmt.Errorf("fetching group '%s': %w", groupURL, err))
	}
	group, err := c.extractor.Group(pageBase(page, groupURL), page.Body)
	if err != nil {
		return c.groupFailure(groupURL, fmt.Errorf("extracting group '%s': %w", groupURL, err))
	}

	subgroups := c.filterSubgroups(group.Subgroups, groupLog)
	title := utils.SanitizeTitle(group.Title)

	if len(subgroups) == 0 {
		state = AtListing
		leafDir := filepath.Join(parentDir, utils.LeafDirPrefix+title)
		groupLog.WithFields(logrus.Fields{"state": state, "dir": leafDir}).
			Infof("Group '%s' has no subgroups, collecting its listing", group.Title)
		if err := c.processLeaf(ctx, group.Title, groupURL, leafDir, handle); err != nil {
			return err
		}
		state = Done
		groupLog.WithField("state", state).Debugf("Leaf finished, pausing %v", c.groupBreak)
		return fetch.Sleep(ctx, c.groupBreak)
	}

	c.groups.Add(1)
	c.reportMu.Lock()
	c.report.Groups++
	c.reportMu.Unlock()

	groupDir := filepath.Join(parentDir, title)
	groupLog.WithField("dir", groupDir).Infof("Group '%s' has %d subgroups", group.Title, len(subgroups))

	g, gctx := errgroup.WithContext(ctx)
	for _, sub := range subgroups {
		if c.groupSem.TryAcquire(1) {
			sub := sub
			g.Go(func() error {
				defer c.groupSem.Release(1)
				return c.CrawlGroup(gctx, sub, groupDir, handle)
			})
			continue
		}
		if err := c.CrawlGroup(gctx, sub, groupDir, handle); err != nil {
			_ = g.Wait()
			return err
		}
	}
	return g.Wait()
}

// CrawlListing treats listingURL as a leaf: its pages are collected and handed to handle
// with directory outputRoot/~<title>. Titles missing from the page fall back to the URL path.
func (c *Coordinator) CrawlListing(ctx context.Context, listingURL, outputRoot string, handle LeafHandler) (CrawlReport, error) {
	listing, err := c.CollectListing(ctx, listingURL)
	if err != nil {
		return c.snapshotReport(), err
	}
	title := listing.Title
	if title == "" {
		title = titleFromURL(listingURL)
	}
	leafDir := filepath.Join(outputRoot, utils.LeafDirPrefix+utils.SanitizeTitle(title))
	err = c.handleLeaf(ctx, Leaf{
		Title: title, URL: listingURL, OutputDir: leafDir, Products: listing.Products, Pages: listing.Pages,
	}, handle)
	return c.snapshotReport(), err
}

// CollectListing fetches page 1, 2, ... of a listing and gathers the product links.
// It stops when a page after the first is redirected elsewhere, when a page adds no
// links not seen before, or at the configured page ceiling.
func (c *Coordinator) CollectListing(ctx context.Context, listingURL string) (Listing, error) {
	listingLog := c.log.WithField("listing_url", listingURL)
	result := Listing{URL: listingURL}
	seen := parse.NewLinkSet()

	for n := 1; c.maxPages <= 0 || n <= c.maxPages; n++ {
		pageURL := parse.PageURL(listingURL, c.pagePathFormat, n)
		page, err := c.fetchPage(ctx, pageURL)
		if err != nil {
			return result, fmt.Errorf("fetching listing page %d of '%s': %w", n, listingURL, err)
		}
		if n > 1 && page.Redirected {
			listingLog.Infof("Page %d redirected to '%s', listing has %d pages", n, page.FinalURL, n-1)
			break
		}

		lp, err := c.extractor.Listing(pageBase(page, pageURL), page.Body)
		if err != nil {
			return result, fmt.Errorf("extracting listing page %d of '%s': %w", n, listingURL, err)
		}
		if n == 1 {
			result.Title = lp.Title
		}

		added := 0
		for _, link := range lp.Products {
			if utils.MatchesAny(c.compiledSkipPatterns, link) {
				listingLog.WithField("url", link).Debug("Skipping product URL matching skip pattern")
				continue
			}
			if seen.Add(link) {
				added++
			}
		}
		if added == 0 {
			listingLog.Infof("Page %d added no new product links, stopping", n)
			break
		}
		result.Pages = n
		listingLog.Debugf("Page %d: %d new product links (%d total)", n, added, seen.Len())

		if c.maxPages > 0 && n == c.maxPages {
			listingLog.Warnf("Reached max_pages_per_listing (%d), stopping", c.maxPages)
		}
	}

	result.Products = seen.Links()
	return result, nil
}

// processLeaf collects the listing of a leaf group and hands it on
func (c *Coordinator) processLeaf(ctx context.Context, title, leafURL, leafDir string, handle LeafHandler) error {
	listing, err := c.CollectListing(ctx, leafURL)
	if err != nil {
		return c.groupFailure(leafURL, err)
	}
	return c.handleLeaf(ctx, Leaf{
		Title: title, URL: leafURL, OutputDir: leafDir, Products: listing.Products, Pages: listing.Pages,
	}, handle)
}

func (c *Coordinator) handleLeaf(ctx context.Context, leaf Leaf, handle LeafHandler) error {
	c.leaves.Add(1)
	c.products.Add(int64(len(leaf.Products)))
	c.obs.Observe(observe.Event{
		Stage: observe.StageLeafFound, Site: c.siteKey, URL: leaf.URL, OutputDir: leaf.OutputDir,
		Title: leaf.Title, Count: len(leaf.Products), Total: leaf.Pages,
	})

	lr := LeafReport{
		Title: leaf.Title, URL: leaf.URL, OutputDir: leaf.OutputDir,
		Products: len(leaf.Products), Pages: leaf.Pages,
	}

	c.claimLeafDir(leaf)

	var err error
	if len(leaf.Products) == 0 {
		c.log.WithField("leaf_url", leaf.URL).Warnf("Leaf '%s' has no product links, nothing to dispatch", leaf.Title)
	} else if handle != nil {
		lr.Written, err = handle(ctx, leaf)
		c.records.Add(int64(lr.Written))
	}
	lr.Err = err

	c.reportMu.Lock()
	c.report.Leaves = append(c.report.Leaves, lr)
	c.report.Products += lr.Products
	c.report.Records += lr.Written
	if err != nil {
		c.report.Failed = append(c.report.Failed, models.FailedURLInfo{URL: leaf.URL, ErrorType: utils.CategorizeError(err)})
	}
	c.reportMu.Unlock()

	if err != nil && errors.Is(err, utils.ErrBatchExhausted) && ctx.Err() == nil {
		c.log.WithField("leaf_url", leaf.URL).Errorf("Leaf '%s' left unfinished, resume it later: %v", leaf.Title, err)
		return nil
	}
	return err
}

// claimLeafDir warns when two leaves of one run sanitize to the same directory.
// The later leaf's files then replace the earlier one's.
func (c *Coordinator) claimLeafDir(leaf Leaf) {
	dir := filepath.Clean(leaf.OutputDir)
	c.reportMu.Lock()
	prev, taken := c.leafDirs[dir]
	if !taken {
		c.leafDirs[dir] = leaf.URL
	}
	c.reportMu.Unlock()

	if taken && prev != leaf.URL {
		c.log.WithFields(logrus.Fields{"leaf_url": leaf.URL, "dir": dir, "earlier_url": prev}).
			Warnf("Leaf '%s' writes to a directory already used by another leaf in this run", leaf.Title)
	}
}

// groupFailure records a failed group. Permanent errors (a 404 on one subgroup, a page
// without a title) are logged and the crawl continues; network failures and
// cancellation stop the crawl.
func (c *Coordinator) groupFailure(groupURL string, err error) error {
	c.reportMu.Lock()
	c.report.Failed = append(c.report.Failed, models.FailedURLInfo{URL: groupURL, ErrorType: utils.CategorizeError(err)})
	c.reportMu.Unlock()

	if fetch.IsTransient(err) || errors.Is(err, utils.ErrRetryFailed) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	c.log.WithFields(logrus.Fields{"group_url": groupURL, "error_type": utils.CategorizeError(err)}).
		Warnf("Skipping group: %v", err)
	return nil
}

// filterSubgroups drops off-site links and links matching a skip pattern
func (c *Coordinator) filterSubgroups(links []string, log *logrus.Entry) []string {
	kept := make([]string, 0, len(links))
	for _, link := range links {
		if c.homepage != "" && !parse.HasPrefixURL(link, c.homepage) {
			log.WithField("url", link).Debug("Ignoring off-site subgroup link")
			continue
		}
		if utils.MatchesAny(c.compiledSkipPatterns, link) {
			log.WithField("url", link).Debug("Ignoring subgroup link matching skip pattern")
			continue
		}
		kept = append(kept, link)
	}
	return kept
}

// fetchPage fetches one navigation page through the shared throttle, retrying transient errors
func (c *Coordinator) fetchPage(ctx context.Context, u string) (*fetch.Page, error) {
	policy := c.retry
	policy.OnRetry = func(attempt int, err error) {
		c.obs.Observe(observe.Event{
			Stage: observe.StageFetchRetry, Site: c.siteKey, URL: u, Attempt: attempt, Err: err,
			ErrorType: utils.CategorizeError(err), Dur: c.retry.Cooldown,
		})
	}

	return fetch.Retry(ctx, policy, c.log.WithField("url", u), func(ctx context.Context) (*fetch.Page, error) {
		if err := c.throttle.Wait(ctx); err != nil {
			return nil, err
		}
		start := time.Now()
		page, err := c.fetcher.Fetch(ctx, u)
		evt := observe.Event{Stage: observe.StageFetchDone, Site: c.siteKey, URL: u, Dur: time.Since(start), Err: err}
		if page != nil {
			evt.Status = page.StatusCode
			evt.Bytes = int64(len(page.Body))
		}
		c.obs.Observe(evt)
		return page, err
	})
}

func (c *Coordinator) markVisited(groupURL string) bool {
	c.visitedMu.Lock()
	defer c.visitedMu.Unlock()
	return c.visited.Add(groupURL)
}

func (c *Coordinator) snapshotReport() CrawlReport {
	c.reportMu.Lock()
	defer c.reportMu.Unlock()
	r := c.report
	r.Leaves = append([]LeafReport(nil), c.report.Leaves...)
	r.Failed = append([]models.FailedURLInfo(nil), c.report.Failed...)
	return r
}

// pageBase returns the URL relative links on page resolve against
func pageBase(page *fetch.Page, requested string) string {
	if page.FinalURL != "" {
		return page.FinalURL
	}
	return requested
}

// titleFromURL derives a directory title from the last path segments of u
func titleFromURL(u string) string {
	_, parsed, err := parse.ParseAndNormalize(u)
	if err != nil {
		return ""
	}
	path := strings.Trim(parsed.Path, "/")
	if path == "" {
		return parsed.Host
	}
	return strings.ReplaceAll(path, "/", "-")
}
