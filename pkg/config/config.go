package config

import (
	"time"

	"github.com/Sriram-PR/catalog-scraper/pkg/models"
)

// SelectorConfig overrides individual CSS selectors of the chosen extractor preset.
// Empty fields keep the preset value.
type SelectorConfig struct {
	GroupTitle      string `yaml:"group_title,omitempty"`
	Subgroups       string `yaml:"subgroups,omitempty"`
	ListingProducts string `yaml:"listing_products,omitempty"`
	ProductTitle    string `yaml:"product_title,omitempty"`
	Price           string `yaml:"price,omitempty"`
	Image           string `yaml:"image,omitempty"`
	ExtraImages     string `yaml:"extra_images,omitempty"`
	UserContent     string `yaml:"user_content,omitempty"`
	Characteristics string `yaml:"characteristics,omitempty"`
	SpecLinks       string `yaml:"spec_links,omitempty"`
}

// SiteConfig holds configuration specific to a single catalog site
type SiteConfig struct {
	StartURL           string         `yaml:"start_url"`                      // Root group crawled when no -link is given
	Homepage           string         `yaml:"homepage"`                       // Base for relative links and internal-link unwrapping
	Extractor          string         `yaml:"extractor,omitempty"`            // Registered extractor preset name
	Selectors          SelectorConfig `yaml:"selectors,omitempty"`            // Per-field selector overrides
	PagePathFormat     string         `yaml:"page_path_format,omitempty"`     // Appended to the listing URL, e.g. "page_%d"
	SkipURLPatterns    []string       `yaml:"skip_url_patterns,omitempty"`    // Regex patterns for product URLs to ignore
	UserAgent          string         `yaml:"user_agent,omitempty"`
	RequestDelay       time.Duration  `yaml:"request_delay,omitempty"`
	NumWorkers         *int           `yaml:"num_workers,omitempty"`
	MaxPagesPerListing *int           `yaml:"max_pages_per_listing,omitempty"`
}

// AppConfig holds the global application configuration
type AppConfig struct {
	DefaultSite                string                  `yaml:"default_site"`
	DefaultUserAgent           string                  `yaml:"default_user_agent"`
	NumWorkers                 int                     `yaml:"num_workers"`
	RequestDelay               time.Duration           `yaml:"request_delay"`
	NetworkErrorCooldown       time.Duration           `yaml:"network_error_cooldown"`
	BatchErrorCooldown         time.Duration           `yaml:"batch_error_cooldown"`
	GroupBreak                 time.Duration           `yaml:"group_break"`
	GroupConcurrency           int                     `yaml:"group_concurrency,omitempty"` // Sibling groups crawled at once; 1 = sequential
	MaxFetchAttempts           int                     `yaml:"max_fetch_attempts"`
	MaxBatchAttempts           int                     `yaml:"max_batch_attempts"`
	MaxPagesPerListing         int                     `yaml:"max_pages_per_listing"`
	ExtractionErrorPolicy      models.ExtractionPolicy `yaml:"extraction_error_policy"`
	OutputBaseDir              string                  `yaml:"output_base_dir"`
	StateDir                   string                  `yaml:"state_dir"`
	PerPageTimeout             time.Duration           `yaml:"per_page_timeout,omitempty"`     // 0 = no per-page timeout
	GlobalCrawlTimeout         time.Duration           `yaml:"global_crawl_timeout,omitempty"` // 0 = no global timeout
	DBGCInterval               time.Duration           `yaml:"db_gc_interval,omitempty"`
	IncludeUserContentMarkdown bool                    `yaml:"include_user_content_markdown,omitempty"`
	MetricsAddr                string                  `yaml:"metrics_addr,omitempty"`
	WriteStructureFile         bool                    `yaml:"write_structure_file,omitempty"`
	WriteManifest              bool                    `yaml:"write_manifest,omitempty"`
	ManifestFilename           string                  `yaml:"manifest_filename,omitempty"`
	HTTPClientSettings         HTTPClientConfig        `yaml:"http_client_settings,omitempty"`
	Sites                      map[string]SiteConfig   `yaml:"sites"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
	MaxRedirects          int           `yaml:"max_redirects,omitempty"`
}

// DefaultSiteKey names the built-in site used when no config file is present
const DefaultSiteKey = "energiya-prirody"

// Default returns the configuration used when no config file exists.
// Validate still has to be called to fill in the remaining defaults.
func Default() *AppConfig {
	return &AppConfig{
		DefaultSite: DefaultSiteKey,
		Sites: map[string]SiteConfig{
			DefaultSiteKey: {
				StartURL:  "https://energiya-prirody.prom.ua/product_list",
				Homepage:  "https://energiya-prirody.prom.ua/",
				Extractor: "prom.ua",
			},
		},
	}
}

// GetEffectiveUserAgent determines the user agent for a site
func GetEffectiveUserAgent(siteCfg SiteConfig, appCfg AppConfig) string {
	if siteCfg.UserAgent != "" {
		return siteCfg.UserAgent
	}
	return appCfg.DefaultUserAgent
}

// GetEffectiveRequestDelay determines the per-worker delay between fetches
func GetEffectiveRequestDelay(siteCfg SiteConfig, appCfg AppConfig) time.Duration {
	if siteCfg.RequestDelay > 0 {
		return siteCfg.RequestDelay
	}
	return appCfg.RequestDelay
}

// GetEffectiveNumWorkers determines the dispatcher concurrency for a site
func GetEffectiveNumWorkers(siteCfg SiteConfig, appCfg AppConfig) int {
	if siteCfg.NumWorkers != nil && *siteCfg.NumWorkers > 0 {
		return *siteCfg.NumWorkers
	}
	return appCfg.NumWorkers
}

// GetEffectiveMaxPages determines the pagination ceiling for a site
func GetEffectiveMaxPages(siteCfg SiteConfig, appCfg AppConfig) int {
	if siteCfg.MaxPagesPerListing != nil && *siteCfg.MaxPagesPerListing > 0 {
		return *siteCfg.MaxPagesPerListing
	}
	return appCfg.MaxPagesPerListing
}
