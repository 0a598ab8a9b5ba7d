package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/catalog-scraper/pkg/models"
	"github.com/Sriram-PR/catalog-scraper/pkg/utils"
)

// Manifest collects per-leaf output while a run progresses and writes it as YAML.
// Safe for concurrent use.
type Manifest struct {
	mu       sync.Mutex
	rootDir  string
	manifest models.RunManifest
	log      *logrus.Entry
}

// NewManifest starts a manifest for a run writing below rootDir
func NewManifest(rootDir, siteKey, startURL, job string, log *logrus.Entry) *Manifest {
	return &Manifest{
		rootDir: rootDir,
		manifest: models.RunManifest{
			SiteKey:   siteKey,
			StartURL:  startURL,
			Job:       job,
			StartTime: time.Now().UTC(),
		},
		log: log,
	}
}

// AddLeaf records the files written for one leaf. Paths are stored relative to the root.
func (m *Manifest) AddLeaf(title, sourceURL, outputDir string, files []string, skipped []models.FailedURLInfo) {
	leaf := models.LeafManifest{
		Title:     title,
		SourceURL: sourceURL,
		OutputDir: m.relative(outputDir),
		Files:     make([]string, 0, len(files)),
	}
	for _, f := range files {
		leaf.Files = append(leaf.Files, filepath.Base(f))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.manifest.Leaves = append(m.manifest.Leaves, leaf)
	m.manifest.TotalRecords += len(files)
	m.manifest.Failed = append(m.manifest.Failed, skipped...)
}

// Snapshot returns a copy of the manifest with leaves sorted by output directory
func (m *Manifest) Snapshot() models.RunManifest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.manifest
	out.Leaves = append([]models.LeafManifest(nil), m.manifest.Leaves...)
	out.Failed = append([]models.FailedURLInfo(nil), m.manifest.Failed...)
	sort.Slice(out.Leaves, func(i, j int) bool { return out.Leaves[i].OutputDir < out.Leaves[j].OutputDir })
	return out
}

// Write stamps the end time and writes the manifest to path
func (m *Manifest) Write(path string) error {
	m.mu.Lock()
	m.manifest.EndTime = time.Now().UTC()
	m.mu.Unlock()

	snap := m.Snapshot()
	data, err := yaml.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("%w: marshal run manifest: %w", utils.ErrParsing, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: %w", utils.ErrFilesystem, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		m.log.Errorf("Failed to write run manifest '%s': %v", path, err)
		return fmt.Errorf("%w: write run manifest '%s': %w", utils.ErrFilesystem, path, err)
	}
	m.log.Infof("Wrote run manifest (%d leaves, %d records) to %s", len(snap.Leaves), snap.TotalRecords, path)
	return nil
}

func (m *Manifest) relative(dir string) string {
	rel, err := filepath.Rel(m.rootDir, dir)
	if err != nil {
		return dir
	}
	return filepath.ToSlash(rel)
}
