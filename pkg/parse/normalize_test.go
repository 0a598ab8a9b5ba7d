package parse

import (
	"net/url"
	"testing"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"UppercaseSchemeAndHost", "HTTPS://Energiya-Prirody.PROM.ua/Lamp", "https://energiya-prirody.prom.ua/Lamp"},
		{"HTTPPort80Removed", "http://shop.test:80/p1", "http://shop.test/p1"},
		{"HTTPSPort443Removed", "https://shop.test:443/p1", "https://shop.test/p1"},
		{"NonDefaultPortKept", "http://shop.test:8080/p1", "http://shop.test:8080/p1"},
		{"TrailingSlashRemoved", "https://shop.test/g/lamps/", "https://shop.test/g/lamps"},
		{"RootKept", "https://shop.test/", "https://shop.test/"},
		{"EmptyPathBecomesRoot", "https://shop.test", "https://shop.test/"},
		{"FragmentDropped", "https://shop.test/p1#reviews", "https://shop.test/p1"},
		{"QueryKept", "https://shop.test/p1?variant=2#top", "https://shop.test/p1?variant=2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := url.Parse(tt.input)
			if err != nil {
				t.Fatalf("url.Parse(%q): %v", tt.input, err)
			}
			if got := NormalizeURL(parsed); got != tt.expected {
				t.Errorf("NormalizeURL(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNormalizeURL_NilInput(t *testing.T) {
	if got := NormalizeURL(nil); got != "" {
		t.Errorf("NormalizeURL(nil) = %q, want empty string", got)
	}
}

func TestNormalizeURL_DoesNotModifyInput(t *testing.T) {
	parsed, _ := url.Parse("HTTP://SHOP.TEST:80/path/?q=test#section")
	before := *parsed

	_ = NormalizeURL(parsed)

	if *parsed != before {
		t.Errorf("NormalizeURL modified its input: %+v -> %+v", before, *parsed)
	}
}

func TestParseAndNormalize(t *testing.T) {
	got, parsed, err := ParseAndNormalize("https://shop.test:443/lamps/")
	if err != nil {
		t.Fatalf("ParseAndNormalize() error = %v", err)
	}
	if got != "https://shop.test/lamps" {
		t.Errorf("normalized = %q", got)
	}
	if parsed == nil || parsed.Host != "shop.test:443" {
		t.Errorf("parsed URL = %+v, want the original host", parsed)
	}

	for _, bad := range []string{"", "shop.test/path", "path/to/page", "://shop.test"} {
		if _, _, err := ParseAndNormalize(bad); err == nil {
			t.Errorf("ParseAndNormalize(%q) expected error", bad)
		}
	}
}
