package utils

import (
	"regexp"
	"strings"
)

// --- Filename Sanitization ---
var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`) // Characters invalid in Windows/Unix filenames
var consecutiveUnderscores = regexp.MustCompile(`_+`)                  // Pattern to replace multiple underscores with one
const maxFilenameLength = 100                                          // Max length for sanitized filenames

// SanitizeFilename cleans a string to be safe for use as a filename component
func SanitizeFilename(name string) string {
	sanitized := invalidFilenameChars.ReplaceAllString(name, "_")       // Replace invalid chars with underscore
	sanitized = consecutiveUnderscores.ReplaceAllString(sanitized, "_") // Collapse multiple underscores
	sanitized = strings.Trim(sanitized, "_ ")                           // Remove leading/trailing underscores or spaces

	if len(sanitized) > maxFilenameLength {
		sanitized = truncateRunes(sanitized, maxFilenameLength)
		sanitized = strings.Trim(sanitized, "_ ")
	}

	if sanitized == "" {
		sanitized = "untitled"
	}
	return sanitized
}

// --- Title Sanitization ---

// Path separators become dashes so "A/B" stays readable as "A-B".
// Quotes, angle brackets, wildcards, commas and periods are dropped.
var titleReplacer = strings.NewReplacer(
	`\`, "-",
	"/", "-",
	"'", "",
	`"`, "",
	"<", "",
	">", "",
	"*", "",
	"?", "",
	",", "",
	".", "",
	":", "",
	"|", "",
)

var controlChars = regexp.MustCompile(`[\x00-\x1F\x7F]`)

// SanitizeTitle turns a product or category title into a path component.
// Unlike SanitizeFilename it keeps spaces and non-ASCII letters untouched.
// A leading LeafDirPrefix is dropped so only leaf directories carry it.
func SanitizeTitle(title string) string {
	sanitized := titleReplacer.Replace(title)
	sanitized = controlChars.ReplaceAllString(sanitized, "")
	sanitized = strings.TrimSpace(sanitized)
	for strings.HasPrefix(sanitized, LeafDirPrefix) {
		sanitized = strings.TrimSpace(strings.TrimPrefix(sanitized, LeafDirPrefix))
	}

	if len(sanitized) > maxFilenameLength*2 {
		sanitized = strings.TrimSpace(truncateRunes(sanitized, maxFilenameLength*2))
	}

	if sanitized == "" {
		sanitized = "untitled"
	}
	return sanitized
}

// truncateRunes cuts s to at most maxBytes bytes without splitting a UTF-8 sequence
func truncateRunes(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := 0
	for i := range s {
		if i > maxBytes {
			break
		}
		cut = i
	}
	return s[:cut]
}
