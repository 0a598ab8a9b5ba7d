package models

import "time"

// Record holds the structured data extracted from one product page.
// Field names and JSON tags form the on-disk dump schema.
type Record struct {
	OriginalURL         string                       `json:"original_url"`
	Title               string                       `json:"title"`
	Price               *string                      `json:"price"`
	Image               *string                      `json:"image"`
	ExtraImages         []string                     `json:"extra_images"`
	UserContentImages   []string                     `json:"user_content_images"`
	AllImages           []string                     `json:"all_images"` // Deduplicated, first-seen order
	UserContentHTML     string                       `json:"user_content_html"`
	UserContentText     string                       `json:"user_content_text"`
	UserContentMarkdown string                       `json:"user_content_markdown,omitempty"` // Only when enabled in config
	Characteristics     map[string]map[string]string `json:"characteristics"`
	SpecificationLinks  []string                     `json:"specification_links"`
}

// SourceURL is the unique identifier of the record within a batch
func (r Record) SourceURL() string { return r.OriginalURL }

// DisplayName is used to derive the dump filename
func (r Record) DisplayName() string { return r.Title }

// GroupPage is what an extractor finds on a catalog group page
type GroupPage struct {
	URL       string
	Title     string
	Subgroups []string // Absolute URLs of child groups, discovery order
}

// IsLeaf reports whether the group has no child groups and therefore holds a product listing
func (g GroupPage) IsLeaf() bool { return len(g.Subgroups) == 0 }

// ListingPage is what an extractor finds on one page of a paginated product listing
type ListingPage struct {
	URL      string
	Title    string
	Products []string // Absolute product URLs, discovery order
}

// CrawlTarget identifies a URL and where its records should be written
type CrawlTarget struct {
	URL       string
	OutputDir string // Optional subdirectory hint, relative or absolute
}

// RunManifest summarizes a finished run. Written as YAML next to the output tree.
type RunManifest struct {
	SiteKey      string          `yaml:"site_key"`
	StartURL     string          `yaml:"start_url"`
	Job          string          `yaml:"job"`
	StartTime    time.Time       `yaml:"start_time"`
	EndTime      time.Time       `yaml:"end_time"`
	TotalRecords int             `yaml:"total_records"`
	Leaves       []LeafManifest  `yaml:"leaves"`
	Failed       []FailedURLInfo `yaml:"failed,omitempty"`
}

// LeafManifest holds per-leaf output details for the run manifest.
type LeafManifest struct {
	Title     string   `yaml:"title"`
	SourceURL string   `yaml:"source_url"`
	OutputDir string   `yaml:"output_dir"`
	Files     []string `yaml:"files"`
}

// FailedURLInfo records a URL that was skipped under the skip extraction policy
type FailedURLInfo struct {
	URL       string `yaml:"url"`
	ErrorType string `yaml:"error_type"`
}
