package parse

import (
	"net/url"
	"testing"
)

func TestResolveLink(t *testing.T) {
	base, _ := url.Parse("https://shop.test/g/lamps/page_2")

	tests := []struct {
		href   string
		want   string
		wantOK bool
	}{
		{"/p/lamp-1", "https://shop.test/p/lamp-1", true},
		{"lamp-2", "https://shop.test/g/lamps/lamp-2", true},
		{"https://cdn.test/img.jpg#zoom", "https://cdn.test/img.jpg", true},
		{"//cdn.test/img.png", "https://cdn.test/img.png", true},
		{"  /p/spaced  ", "https://shop.test/p/spaced", true},
		{"", "", false},
		{"#top", "", false},
		{"javascript:void(0)", "", false},
		{"mailto:shop@test", "", false},
		{"tel:+380000", "", false},
		{"ftp://shop.test/file", "", false},
	}

	for _, tt := range tests {
		got, ok := ResolveLink(base, tt.href)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("ResolveLink(%q) = (%q, %v), want (%q, %v)", tt.href, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestLinkSet_DedupesEquivalentLinks(t *testing.T) {
	s := NewLinkSet()
	if !s.Add("https://shop.test/p1") {
		t.Fatal("first Add should report new")
	}
	if s.Add("https://SHOP.test:443/p1/") {
		t.Error("equivalent link should be a duplicate")
	}
	s.Add("https://shop.test/p2")
	s.Add("https://shop.test/p0")

	want := []string{"https://shop.test/p1", "https://shop.test/p2", "https://shop.test/p0"}
	got := s.Links()
	if len(got) != len(want) {
		t.Fatalf("Links() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Links()[%d] = %q, want %q (first-seen order)", i, got[i], want[i])
		}
	}
	if !s.Contains("https://shop.test/p2#x") {
		t.Error("Contains should match normalized form")
	}
	if s.Len() != 3 {
		t.Errorf("Len() = %d, want 3", s.Len())
	}
}

func TestPageURL(t *testing.T) {
	tests := []struct {
		listing, format string
		n               int
		want            string
	}{
		{"https://shop.test/g/lamps", "page_%d", 2, "https://shop.test/g/lamps/page_2"},
		{"https://shop.test/g/lamps/", "page_%d", 1, "https://shop.test/g/lamps/page_1"},
		{"https://shop.test/g/lamps?sort=price", "page_%d", 3, "https://shop.test/g/lamps/page_3?sort=price"},
		{"https://shop.test/list", "p%d", 4, "https://shop.test/list/p4"},
	}
	for _, tt := range tests {
		if got := PageURL(tt.listing, tt.format, tt.n); got != tt.want {
			t.Errorf("PageURL(%q, %q, %d) = %q, want %q", tt.listing, tt.format, tt.n, got, tt.want)
		}
	}
}

func TestHasPrefixURL(t *testing.T) {
	if !HasPrefixURL("https://SHOP.test/g/lamps/page_2", "https://shop.test/g/lamps") {
		t.Error("expected prefix match ignoring host case")
	}
	if HasPrefixURL("https://other.test/g/lamps", "https://shop.test/g/lamps") {
		t.Error("different host must not match")
	}
}
