// Package sink writes extracted records to the output tree
package sink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/catalog-scraper/pkg/models"
	"github.com/Sriram-PR/catalog-scraper/pkg/observe"
	"github.com/Sriram-PR/catalog-scraper/pkg/utils"
)

// minOrdinalWidth keeps small dumps sortable as 01, 02, ...
const minOrdinalWidth = 2

// Sink persists records as one JSON file each
type Sink struct {
	obs observe.Observer
	log *logrus.Entry
}

// New creates a Sink. A nil observer discards events.
func New(obs observe.Observer, log *logrus.Entry) *Sink {
	if obs == nil {
		obs = observe.Nop
	}
	return &Sink{obs: obs, log: log}
}

// Persist writes records into outputDir as "<ordinal>-<title>.json", numbered by
// position in records starting at 1. A file that cannot be written is logged and
// skipped; only failure to create outputDir is returned as an error.
func (s *Sink) Persist(outputDir string, records []models.Record) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: creating output directory '%s': %w", utils.ErrFilesystem, outputDir, err)
	}

	dirLog := s.log.WithField("dir", outputDir)
	width := OrdinalWidth(len(records))
	written := make([]string, 0, len(records))

	for i, rec := range records {
		path := filepath.Join(outputDir, FileName(i+1, width, rec.DisplayName()))
		recLog := dirLog.WithFields(logrus.Fields{"url": rec.SourceURL(), "file": filepath.Base(path)})

		data, err := encodeRecord(rec)
		if err != nil {
			recLog.WithField("error_type", utils.CategorizeError(utils.ErrParsing)).Errorf("Could not encode record: %v", err)
			continue
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			werr := fmt.Errorf("%w: %w", utils.ErrFilesystem, err)
			recLog.WithField("error_type", utils.CategorizeError(werr)).Errorf("Could not write record, skipping: %v", err)
			continue
		}
		written = append(written, path)
	}

	s.obs.Observe(observe.Event{Stage: observe.StagePersisted, OutputDir: outputDir, Count: len(written), Total: len(records)})
	return written, nil
}

// OrdinalWidth returns the zero-padded width of ordinals for n records
func OrdinalWidth(n int) int {
	width := len(strconv.Itoa(n))
	if width < minOrdinalWidth {
		width = minOrdinalWidth
	}
	return width
}

// FileName builds the dump filename of the record at ordinal
func FileName(ordinal, width int, displayName string) string {
	return fmt.Sprintf("%0*d-%s.json", width, ordinal, utils.SanitizeTitle(displayName))
}

// encodeRecord renders rec as indented JSON without escaping HTML characters,
// so user content markup stays readable in the dump
func encodeRecord(rec models.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
