package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"testing"
)

// --- CategorizeError Tests ---

func TestCategorizeError_NilError(t *testing.T) {
	result := CategorizeError(nil)
	if result != "None" {
		t.Errorf("CategorizeError(nil) = %q, want %q", result, "None")
	}
}

func TestCategorizeError_SentinelErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"Extraction", ErrExtraction, "Content_Extraction"},
		{"MarkdownConversion", ErrMarkdownConversion, "Content_Markdown"},
		{"RequestCreation", ErrRequestCreation, "Internal_RequestCreation"},
		{"ResponseBodyRead", ErrResponseBodyRead, "Network_BodyRead"},
		{"ConfigValidation", ErrConfigValidation, "Config_Validation"},
		{"ServerHTTPError", ErrServerHTTPError, "HTTP_5xx"},
		{"OtherHTTPError", ErrOtherHTTPError, "HTTP_OtherStatus"},
		{"Database", ErrDatabase, "Database_Other"},
		{"SessionNotFound", ErrSessionNotFound, "Database_SessionNotFound"},
		{"Filesystem", ErrFilesystem, "Filesystem_Other"},
		{"BatchExhausted", ErrBatchExhausted, "Batch_Exhausted"},
		{"IncompleteSnapshot", ErrIncompleteSnapshot, "Contract_IncompleteSnapshot"},
		{"Transient", ErrTransient, "Transient_Other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CategorizeError(tt.err)
			if result != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, result, tt.expected)
			}
		})
	}
}

func TestCategorizeError_WrappedErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "TransientTimeout",
			err:      fmt.Errorf("%w: GET https://shop.test/p1: i/o timeout", ErrTransient),
			expected: "Transient_Timeout",
		},
		{
			name:     "TransientReset",
			err:      fmt.Errorf("%w: read tcp: connection reset by peer", ErrTransient),
			expected: "Transient_ConnectionReset",
		},
		{
			name:     "TransientServerError",
			err:      fmt.Errorf("%w: %w: status 503", ErrTransient, ErrServerHTTPError),
			expected: "HTTP_5xx",
		},
		{
			name:     "RetryFailedServer",
			err:      fmt.Errorf("%w: %w", ErrRetryFailed, fmt.Errorf("%w: status 502", ErrServerHTTPError)),
			expected: "RetryFailed_HTTPServer",
		},
		{
			name:     "RetryFailedTimeout",
			err:      fmt.Errorf("%w: %w", ErrRetryFailed, errors.New("context deadline exceeded")),
			expected: "RetryFailed_NetworkTimeout",
		},
		{
			name:     "FilesystemPermission",
			err:      fmt.Errorf("%w: %w", ErrFilesystem, os.ErrPermission),
			expected: "Filesystem_Permission",
		},
		{
			name:     "ExhaustedWrapsTransient",
			err:      fmt.Errorf("%w: %w", ErrBatchExhausted, ErrTransient),
			expected: "Batch_Exhausted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CategorizeError(tt.err)
			if result != tt.expected {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, result, tt.expected)
			}
		})
	}
}

func TestCategorizeError_ClientHTTPCodes(t *testing.T) {
	tests := []struct {
		code     int
		expected string
	}{
		{404, "HTTP_404"},
		{403, "HTTP_403"},
		{401, "HTTP_401"},
		{429, "HTTP_429"},
		{410, "HTTP_4xx"},
	}
	for _, tt := range tests {
		err := fmt.Errorf("%w: status %d Whatever", ErrClientHTTPError, tt.code)
		if got := CategorizeError(err); got != tt.expected {
			t.Errorf("CategorizeError(status %d) = %q, want %q", tt.code, got, tt.expected)
		}
	}
}

func TestCategorizeError_ContextErrors(t *testing.T) {
	if got := CategorizeError(context.Canceled); got != "System_ContextCanceled" {
		t.Errorf("CategorizeError(Canceled) = %q", got)
	}
	if got := CategorizeError(fmt.Errorf("wait: %w", context.DeadlineExceeded)); got != "System_ContextDeadlineExceeded" {
		t.Errorf("CategorizeError(DeadlineExceeded) = %q", got)
	}
}

func TestCategorizeError_Unknown(t *testing.T) {
	err := errors.New("something odd")
	if result := CategorizeError(err); result != "Unknown" {
		t.Errorf("CategorizeError(%v) = %q, want %q", err, result, "Unknown")
	}
}

// --- SanitizeFilename Tests ---

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Simple", "shop.test", "shop.test"},
		{"WithSlash", "path/to/file", "path_to_file"},
		{"WithColon", "file:name", "file_name"},
		{"ConsecutiveUnderscores", "a___b", "a_b"},
		{"Empty", "", "untitled"},
		{"OnlyInvalidChars", "<>:", "untitled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

// --- SanitizeTitle Tests ---

func TestSanitizeTitle(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Plain", "Solar panel 100W", "Solar panel 100W"},
		{"Cyrillic", "Сонячна панель", "Сонячна панель"},
		{"SlashBecomesDash", "12V/24V controller", "12V-24V controller"},
		{"BackslashBecomesDash", `A\B`, "A-B"},
		{"QuotesRemoved", `"Best" 'lamp'`, "Best lamp"},
		{"AngleBracketsRemoved", "<b>bold</b>", "bbold-b"},
		{"WildcardsRemoved", "what*? now", "what now"},
		{"CommaAndPeriodRemoved", "Lamp, 1.5 m.", "Lamp 15 m"},
		{"ColonAndPipeRemoved", "Set: A | B", "Set A  B"},
		{"ControlChars", "tab\there", "tabhere"},
		{"Trimmed", "  spaced  ", "spaced"},
		{"Empty", "", "untitled"},
		{"OnlyRemoved", ".,?*", "untitled"},
		{"LeafMarkerStripped", "~Sale", "Sale"},
		{"RepeatedLeafMarkerStripped", "~ ~Sale~", "Sale~"},
		{"OnlyLeafMarker", "~", "untitled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeTitle(tt.input)
			if result != tt.expected {
				t.Errorf("SanitizeTitle(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestSanitizeTitle_NoPathSeparators(t *testing.T) {
	inputs := []string{`../../etc/passwd`, `C:\Windows\System32`, `a/b\c<d>e"f'g*h?i`}
	for _, in := range inputs {
		out := SanitizeTitle(in)
		if strings.ContainsAny(out, `/\<>"'*?:|.,`) {
			t.Errorf("SanitizeTitle(%q) = %q still contains unsafe characters", in, out)
		}
	}
}

func TestSanitizeTitle_LongMultibyteKeepsValidUTF8(t *testing.T) {
	long := strings.Repeat("я", 300) // 600 bytes
	out := SanitizeTitle(long)
	if len(out) > 200 {
		t.Errorf("SanitizeTitle(long) length = %d, want <= 200", len(out))
	}
	if !strings.HasPrefix(long, out) {
		t.Errorf("SanitizeTitle(long) split a multi-byte character")
	}
}

// --- CompileRegexPatterns Tests ---

func TestCompileRegexPatterns_ValidPatterns(t *testing.T) {
	compiled, err := CompileRegexPatterns([]string{`/p\d+-`, "", `\?sort=`})
	if err != nil {
		t.Fatalf("CompileRegexPatterns() unexpected error: %v", err)
	}
	if len(compiled) != 2 {
		t.Errorf("CompileRegexPatterns() returned %d patterns, want 2", len(compiled))
	}
}

func TestCompileRegexPatterns_InvalidPattern(t *testing.T) {
	_, err := CompileRegexPatterns([]string{`valid`, `[invalid`})
	if err == nil {
		t.Fatal("CompileRegexPatterns() expected error for invalid pattern, got nil")
	}
	if !errors.Is(err, ErrConfigValidation) {
		t.Errorf("CompileRegexPatterns() error = %v, want wrapped ErrConfigValidation", err)
	}
}

func TestMatchesAny(t *testing.T) {
	patterns := []*regexp.Regexp{regexp.MustCompile(`/archive/`), regexp.MustCompile(`\.pdf$`)}
	if !MatchesAny(patterns, "https://shop.test/archive/p1") {
		t.Error("MatchesAny() should match /archive/")
	}
	if MatchesAny(patterns, "https://shop.test/p1") {
		t.Error("MatchesAny() should not match plain product URL")
	}
	if MatchesAny(nil, "anything") {
		t.Error("MatchesAny(nil) should be false")
	}
}

// --- Hash Tests ---

func TestCalculateStringSHA256(t *testing.T) {
	// SHA256 of empty content
	expected := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := CalculateStringSHA256(""); got != expected {
		t.Errorf("CalculateStringSHA256(\"\") = %q, want %q", got, expected)
	}
}

func TestShortHash(t *testing.T) {
	if got := ShortHash("", 8); got != "e3b0c442" {
		t.Errorf("ShortHash(\"\", 8) = %q", got)
	}
	if got := ShortHash("x", 0); len(got) != 64 {
		t.Errorf("ShortHash(x, 0) length = %d, want 64", len(got))
	}
}

// --- WrapErrorf Tests ---

func TestWrapErrorf_NilError(t *testing.T) {
	if result := WrapErrorf(nil, "some context"); result != nil {
		t.Errorf("WrapErrorf(nil, ...) = %v, want nil", result)
	}
}

func TestWrapErrorf_WrapsError(t *testing.T) {
	original := errors.New("original error")
	wrapped := WrapErrorf(original, "context %s", "value")

	if !errors.Is(wrapped, original) {
		t.Error("WrapErrorf() result should wrap original error")
	}
	if expectedMsg := "context value: original error"; wrapped.Error() != expectedMsg {
		t.Errorf("WrapErrorf() message = %q, want %q", wrapped.Error(), expectedMsg)
	}
}
