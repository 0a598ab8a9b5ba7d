package utils

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	indentPrefix    = "    "
	entryPrefix     = "├── "
	lastEntryPrefix = "└── "
	verticalLine    = "│   "

	// LeafDirPrefix marks output directories that hold product dumps rather than subgroups
	LeafDirPrefix = "~"
)

// TreeStats summarizes a catalog output tree
type TreeStats struct {
	Groups  int // Intermediate group directories
	Leaves  int // Leaf directories (LeafDirPrefix)
	Records int // JSON dumps found under leaves
}

// WriteCatalogTree walks rootDir and writes a text tree of the group hierarchy to outputFilePath.
// Leaf directories are annotated with their record count; dump files are listed only when listFiles is set.
func WriteCatalogTree(rootDir, outputFilePath string, listFiles bool, log *logrus.Entry) (TreeStats, error) {
	var stats TreeStats
	log.Debugf("Starting tree generation for: %s", rootDir)

	info, err := os.Stat(rootDir)
	if err != nil {
		return stats, fmt.Errorf("%w: output directory '%s': %w", ErrFilesystem, rootDir, err)
	}
	if !info.IsDir() {
		return stats, fmt.Errorf("%w: '%s' is not a directory", ErrFilesystem, rootDir)
	}

	file, err := os.Create(outputFilePath)
	if err != nil {
		return stats, fmt.Errorf("%w: create tree file '%s': %w", ErrFilesystem, outputFilePath, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	if _, err = fmt.Fprintf(writer, "Catalog structure for: %s\n%s\n\n", rootDir, strings.Repeat("=", 23+len(rootDir))); err != nil {
		return stats, err
	}
	if _, err = fmt.Fprintf(writer, "%s/\n", filepath.Base(rootDir)); err != nil {
		return stats, err
	}

	if err := walkCatalog(writer, rootDir, "", listFiles, &stats, log); err != nil {
		log.Errorf("Error during tree walk of '%s': %v", rootDir, err)
		return stats, fmt.Errorf("error generating tree for '%s': %w", rootDir, err)
	}

	if _, err = fmt.Fprintf(writer, "\n%d groups, %d leaves, %d records\n", stats.Groups, stats.Leaves, stats.Records); err != nil {
		return stats, err
	}
	return stats, nil
}

// walkCatalog writes one directory level. Directories come first, then files, both sorted case-insensitively.
func walkCatalog(w io.Writer, dirPath, indent string, listFiles bool, stats *TreeStats, log *logrus.Entry) error {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		log.Warnf("Failed to read directory '%s': %v", dirPath, err)
		return fmt.Errorf("failed to read directory '%s': %w", dirPath, err)
	}

	slices.SortFunc(entries, func(a, b os.DirEntry) int {
		if a.IsDir() != b.IsDir() {
			if a.IsDir() {
				return -1
			}
			return 1
		}
		return strings.Compare(strings.ToLower(a.Name()), strings.ToLower(b.Name()))
	})

	if !listFiles {
		entries = slices.DeleteFunc(entries, func(e os.DirEntry) bool { return !e.IsDir() })
	}

	for i, entry := range entries {
		isLast := i == len(entries)-1
		connector := entryPrefix
		nextIndent := indent + verticalLine
		if isLast {
			connector = lastEntryPrefix
			nextIndent = indent + indentPrefix
		}

		line := entry.Name()
		subPath := filepath.Join(dirPath, entry.Name())
		if entry.IsDir() {
			if strings.HasPrefix(entry.Name(), LeafDirPrefix) {
				n, err := countDumps(subPath)
				if err != nil {
					return err
				}
				stats.Leaves++
				stats.Records += n
				line = fmt.Sprintf("%s/ (%d records)", entry.Name(), n)
			} else {
				stats.Groups++
				line = entry.Name() + "/"
			}
		}

		if _, err := fmt.Fprintf(w, "%s%s%s\n", indent, connector, line); err != nil {
			return err
		}

		if entry.IsDir() {
			if err := walkCatalog(w, subPath, nextIndent, listFiles, stats, log); err != nil {
				return err
			}
		}
	}
	return nil
}

func countDumps(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read directory '%s': %w", dir, err)
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			n++
		}
	}
	return n, nil
}
