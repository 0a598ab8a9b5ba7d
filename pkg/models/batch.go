package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Sriram-PR/catalog-scraper/pkg/utils"
)

// WorkBatch accumulates the outcome of dispatching one set of product URLs.
// Every URL is either pending, completed or skipped; a resolved URL is never pending again.
// A WorkBatch is not safe for concurrent use; it is owned by the session goroutine.
type WorkBatch struct {
	ID        string
	OutputDir string // Directory the records are persisted to
	SourceURL string // Listing the URLs were collected from
	Attempt   int    // Number of dispatch attempts made so far

	urls      []string          // Original URL set in discovery order
	index     map[string]int    // url -> position in urls
	completed map[string]Record // url -> record
	skipped   map[string]string // url -> error category
}

// NewWorkBatch creates a batch over urls, dropping duplicates but keeping discovery order
func NewWorkBatch(outputDir, sourceURL string, urls []string) *WorkBatch {
	b := &WorkBatch{
		ID:        uuid.NewString(),
		OutputDir: outputDir,
		SourceURL: sourceURL,
		index:     make(map[string]int, len(urls)),
		completed: make(map[string]Record),
		skipped:   make(map[string]string),
	}
	for _, u := range urls {
		b.add(u)
	}
	return b
}

func (b *WorkBatch) add(u string) {
	if _, dup := b.index[u]; dup {
		return
	}
	b.index[u] = len(b.urls)
	b.urls = append(b.urls, u)
}

// Len returns the size of the original URL set
func (b *WorkBatch) Len() int { return len(b.urls) }

// URLs returns a copy of the original URL set in discovery order
func (b *WorkBatch) URLs() []string {
	out := make([]string, len(b.urls))
	copy(out, b.urls)
	return out
}

// Pending returns the unresolved URLs in discovery order
func (b *WorkBatch) Pending() []string {
	pending := make([]string, 0, len(b.urls))
	for _, u := range b.urls {
		if !b.Resolved(u) {
			pending = append(pending, u)
		}
	}
	return pending
}

// Resolved reports whether u has been completed or skipped
func (b *WorkBatch) Resolved(u string) bool {
	if _, ok := b.completed[u]; ok {
		return true
	}
	_, ok := b.skipped[u]
	return ok
}

// Complete stores r under its source URL. Returns false if the URL is not part
// of the batch or is already resolved; the first record for a URL wins.
func (b *WorkBatch) Complete(r Record) bool {
	u := r.SourceURL()
	if _, known := b.index[u]; !known || b.Resolved(u) {
		return false
	}
	b.completed[u] = r
	return true
}

// Skip marks u as resolved without a record
func (b *WorkBatch) Skip(u, errorType string) bool {
	if _, known := b.index[u]; !known || b.Resolved(u) {
		return false
	}
	b.skipped[u] = errorType
	return true
}

// Records returns the completed records ordered by URL discovery order
func (b *WorkBatch) Records() []Record {
	records := make([]Record, 0, len(b.completed))
	for _, u := range b.urls {
		if r, ok := b.completed[u]; ok {
			records = append(records, r)
		}
	}
	return records
}

// Skipped returns the skipped URLs with their error categories, in discovery order
func (b *WorkBatch) Skipped() []FailedURLInfo {
	var out []FailedURLInfo
	for _, u := range b.urls {
		if errType, ok := b.skipped[u]; ok {
			out = append(out, FailedURLInfo{URL: u, ErrorType: errType})
		}
	}
	return out
}

// CompletedCount returns the number of completed records
func (b *WorkBatch) CompletedCount() int { return len(b.completed) }

// Done reports whether no URL is pending
func (b *WorkBatch) Done() bool {
	return len(b.completed)+len(b.skipped) == len(b.urls)
}

// Snapshot captures the batch state for a later attempt
func (b *WorkBatch) Snapshot(status SessionStatus, cause error) Snapshot {
	s := Snapshot{
		ID:        b.ID,
		OutputDir: b.OutputDir,
		SourceURL: b.SourceURL,
		URLs:      b.URLs(),
		Pending:   b.Pending(),
		Completed: b.Records(),
		Attempt:   b.Attempt,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
	if len(b.skipped) > 0 {
		s.Skipped = make(map[string]string, len(b.skipped))
		for u, errType := range b.skipped {
			s.Skipped[u] = errType
		}
	}
	if cause != nil {
		s.LastError = cause.Error()
	}
	return s
}

// Snapshot is the serializable form of a WorkBatch, persisted when an attempt aborts
type Snapshot struct {
	ID        string            `json:"id"`
	OutputDir string            `json:"output_dir"`
	SourceURL string            `json:"source_url"`
	URLs      []string          `json:"urls"`
	Pending   []string          `json:"pending"`
	Completed []Record          `json:"completed"`
	Skipped   map[string]string `json:"skipped,omitempty"`
	Attempt   int               `json:"attempt"`
	Status    SessionStatus     `json:"status"`
	LastError string            `json:"last_error,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Validate checks that the snapshot carries everything a resumed attempt needs
func (s Snapshot) Validate() error {
	if s.OutputDir == "" {
		return fmt.Errorf("%w: snapshot %s has no output directory", utils.ErrIncompleteSnapshot, s.ID)
	}
	if len(s.Pending) == 0 && len(s.Completed) > 0 {
		return fmt.Errorf("%w: snapshot %s has %d completed records but no pending URLs",
			utils.ErrIncompleteSnapshot, s.ID, len(s.Completed))
	}
	if len(s.Pending) == 0 {
		return fmt.Errorf("%w: snapshot %s has nothing to resume", utils.ErrIncompleteSnapshot, s.ID)
	}
	return nil
}

// BatchFromSnapshot rebuilds a WorkBatch from a snapshot. Call Validate first.
func BatchFromSnapshot(s Snapshot) *WorkBatch {
	urls := s.URLs
	if len(urls) == 0 {
		for _, r := range s.Completed {
			urls = append(urls, r.SourceURL())
		}
		urls = append(urls, s.Pending...)
	}

	b := NewWorkBatch(s.OutputDir, s.SourceURL, urls)
	if s.ID != "" {
		b.ID = s.ID
	}
	b.Attempt = s.Attempt
	for _, p := range s.Pending {
		b.add(p)
	}
	for _, r := range s.Completed {
		b.add(r.SourceURL())
		b.Complete(r)
	}
	for u, errType := range s.Skipped {
		b.add(u)
		b.Skip(u, errType)
	}
	return b
}
