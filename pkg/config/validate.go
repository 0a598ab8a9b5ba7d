package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Sriram-PR/catalog-scraper/pkg/models"
	"github.com/Sriram-PR/catalog-scraper/pkg/utils"
)

const (
	defaultUserAgent      = "catalog-scraper/1.0 (+https://github.com/Sriram-PR/catalog-scraper)"
	defaultExtractor      = "prom.ua"
	defaultPagePathFormat = "page_%d"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// NumWorkers (1 = strictly sequential)
	if c.NumWorkers <= 0 {
		if c.NumWorkers < 0 {
			warnings = append(warnings, "num_workers should be > 0, defaulting to 1")
		}
		c.NumWorkers = 1
	}

	if c.DefaultUserAgent == "" {
		c.DefaultUserAgent = defaultUserAgent
	}

	// Delays and cooldowns
	if c.RequestDelay < 0 {
		warnings = append(warnings, "request_delay cannot be negative, setting to 0")
		c.RequestDelay = 0
	} else if c.RequestDelay == 0 {
		c.RequestDelay = 1 * time.Second
	}
	if c.NetworkErrorCooldown <= 0 {
		c.NetworkErrorCooldown = 30 * time.Second
	}
	if c.BatchErrorCooldown <= 0 {
		c.BatchErrorCooldown = 2 * time.Minute
	}
	if c.BatchErrorCooldown < c.NetworkErrorCooldown {
		warnings = append(warnings, fmt.Sprintf(
			"batch_error_cooldown (%v) is shorter than network_error_cooldown (%v)",
			c.BatchErrorCooldown, c.NetworkErrorCooldown))
	}
	if c.GroupBreak < 0 {
		warnings = append(warnings, "group_break cannot be negative, setting to 0")
		c.GroupBreak = 0
	}
	if c.GroupConcurrency <= 0 {
		if c.GroupConcurrency < 0 {
			warnings = append(warnings, "group_concurrency should be > 0, defaulting to 1")
		}
		c.GroupConcurrency = 1
	}

	// Retry ceilings
	if c.MaxFetchAttempts <= 0 {
		c.MaxFetchAttempts = 5
	}
	if c.MaxBatchAttempts <= 0 {
		c.MaxBatchAttempts = 5
	}
	if c.MaxPagesPerListing <= 0 {
		c.MaxPagesPerListing = 500
	}

	// Extraction policy
	if c.ExtractionErrorPolicy == "" {
		c.ExtractionErrorPolicy = models.ExtractionPolicyBatchFatal
	} else if !c.ExtractionErrorPolicy.IsValid() {
		return warnings, fmt.Errorf("%w: unknown extraction_error_policy '%s' (want '%s' or '%s')",
			utils.ErrConfigValidation, c.ExtractionErrorPolicy,
			models.ExtractionPolicyBatchFatal, models.ExtractionPolicySkip)
	}

	// OutputBaseDir
	if c.OutputBaseDir == "" {
		warnings = append(warnings, "output_base_dir is empty, defaulting to './dumps'")
		c.OutputBaseDir = "./dumps"
	}

	// StateDir
	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './scraper_state'")
		c.StateDir = "./scraper_state"
	}

	// Timeouts
	if c.PerPageTimeout < 0 {
		warnings = append(warnings, "per_page_timeout cannot be negative, disabling timeout")
		c.PerPageTimeout = 0
	}
	if c.GlobalCrawlTimeout < 0 {
		warnings = append(warnings, "global_crawl_timeout cannot be negative, disabling timeout")
		c.GlobalCrawlTimeout = 0
	}
	if c.DBGCInterval <= 0 {
		c.DBGCInterval = 10 * time.Minute
	}

	// Manifest filename
	if c.WriteManifest && c.ManifestFilename == "" {
		c.ManifestFilename = "manifest.yaml"
	}

	c.validateHTTPClientSettings()

	if len(c.Sites) > 0 && c.DefaultSite != "" {
		if _, ok := c.Sites[c.DefaultSite]; !ok {
			return warnings, fmt.Errorf("%w: default_site '%s' is not defined under sites", utils.ErrConfigValidation, c.DefaultSite)
		}
	}
	if c.DefaultSite == "" && len(c.Sites) == 1 {
		for key := range c.Sites {
			c.DefaultSite = key
		}
	}

	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = c.NumWorkers + 1
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
	if h.MaxRedirects <= 0 {
		h.MaxRedirects = 10
	}
}

// Validate checks SiteConfig fields and applies defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place (homepage derivation, trailing slash normalization).
func (c *SiteConfig) Validate() (warnings []string, err error) {
	if c.StartURL == "" {
		return nil, fmt.Errorf("%w: site has no start_url", utils.ErrConfigValidation)
	}
	start, err := url.Parse(c.StartURL)
	if err != nil || start.Host == "" || (start.Scheme != "http" && start.Scheme != "https") {
		return nil, fmt.Errorf("%w: start_url '%s' is not an absolute http(s) URL", utils.ErrConfigValidation, c.StartURL)
	}

	// Homepage defaults to the start URL's origin
	if c.Homepage == "" {
		c.Homepage = start.Scheme + "://" + start.Host + "/"
		warnings = append(warnings, fmt.Sprintf("homepage not set, using '%s'", c.Homepage))
	} else {
		home, err := url.Parse(c.Homepage)
		if err != nil || home.Host == "" {
			return nil, fmt.Errorf("%w: homepage '%s' is not an absolute URL", utils.ErrConfigValidation, c.Homepage)
		}
		if !strings.HasSuffix(c.Homepage, "/") {
			c.Homepage += "/"
		}
	}

	if c.Extractor == "" {
		c.Extractor = defaultExtractor
	}

	if c.PagePathFormat == "" {
		c.PagePathFormat = defaultPagePathFormat
	} else if strings.Count(c.PagePathFormat, "%d") != 1 {
		return nil, fmt.Errorf("%w: page_path_format '%s' must contain exactly one %%d", utils.ErrConfigValidation, c.PagePathFormat)
	}

	if _, err := utils.CompileRegexPatterns(c.SkipURLPatterns); err != nil {
		return nil, err
	}

	if c.RequestDelay < 0 {
		warnings = append(warnings, "site request_delay cannot be negative, using global delay")
		c.RequestDelay = 0
	}
	if c.NumWorkers != nil && *c.NumWorkers <= 0 {
		warnings = append(warnings, "site num_workers must be > 0, using global value")
		c.NumWorkers = nil
	}

	return warnings, nil
}

// Site returns the validated config for key, falling back to DefaultSite when key is empty
func (c *AppConfig) Site(key string) (string, SiteConfig, []string, error) {
	if key == "" {
		key = c.DefaultSite
	}
	if key == "" {
		return "", SiteConfig{}, nil, fmt.Errorf("%w: no site selected and no default_site configured", utils.ErrConfigValidation)
	}
	siteCfg, ok := c.Sites[key]
	if !ok {
		return key, SiteConfig{}, nil, fmt.Errorf("%w: site '%s' not found in config", utils.ErrConfigValidation, key)
	}
	warnings, err := siteCfg.Validate()
	if err != nil {
		return key, SiteConfig{}, warnings, fmt.Errorf("site '%s': %w", key, err)
	}
	return key, siteCfg, warnings, nil
}
