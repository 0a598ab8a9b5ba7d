package orchestrate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/catalog-scraper/pkg/config"
	"github.com/Sriram-PR/catalog-scraper/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func testAppConfig(siteKeys ...string) *config.AppConfig {
	sites := make(map[string]config.SiteConfig, len(siteKeys))
	for _, key := range siteKeys {
		sites[key] = config.SiteConfig{StartURL: "https://" + key + ".example.com/catalog"}
	}
	return &config.AppConfig{Sites: sites}
}

// shopServer serves a catalog with one group, one leaf and two products.
// While healthy is false every product page answers 503.
func shopServer(t *testing.T, healthy *atomic.Bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/catalog", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><h1>Solar</h1><a class="b-product-groups-gallery__title" href="/g/panels">Panels</a></html>`)
	})
	mux.HandleFunc("/g/panels", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><h1>Panels</h1></html>`)
	})
	mux.HandleFunc("/g/panels/page_1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><h1>Panels</h1>
			<a class="b-product-gallery__title" href="/p/100">Panel 100W</a>
			<a class="b-product-gallery__title" href="/p/200">Panel 200W</a></html>`)
	})
	mux.HandleFunc("/g/panels/page_2", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/g/panels/page_1", http.StatusFound)
	})
	product := func(title, price string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if healthy != nil && !healthy.Load() {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			fmt.Fprintf(w, `<html><h1>%s</h1><p class="b-product-cost__price">%s</p>
				<div class="b-user-content"><p>Mono <a href="/g/panels">panels</a></p></div></html>`, title, price)
		}
	}
	mux.HandleFunc("/p/100", product("Panel 100W", "1 200 грн"))
	mux.HandleFunc("/p/200", product("Panel 200W", "2 400 грн"))

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func e2eConfig(t *testing.T, serverURL string) *config.AppConfig {
	t.Helper()
	base := t.TempDir()
	cfg := &config.AppConfig{
		RequestDelay:         time.Millisecond,
		NetworkErrorCooldown: time.Millisecond,
		BatchErrorCooldown:   time.Millisecond,
		MaxFetchAttempts:     1,
		MaxBatchAttempts:     1,
		OutputBaseDir:        filepath.Join(base, "dumps"),
		StateDir:             filepath.Join(base, "state"),
		WriteStructureFile:   true,
		WriteManifest:        true,
		Sites: map[string]config.SiteConfig{
			"shop": {StartURL: serverURL + "/catalog", Homepage: serverURL + "/"},
		},
	}
	_, err := cfg.Validate()
	require.NoError(t, err)
	return cfg
}

func TestRun_CrawlEndToEnd(t *testing.T) {
	server := shopServer(t, nil)
	cfg := e2eConfig(t, server.URL)

	o := NewOrchestrator(cfg, []string{"shop"}, Job{Kind: JobCrawl, Directory: "out", Workers: 2}, Options{}, testLogger())
	results := o.Run()

	require.Len(t, results, 1)
	r := results[0]
	require.NoError(t, r.Error)
	assert.True(t, r.Success)
	assert.Equal(t, 1, r.Leaves)
	assert.Equal(t, 2, r.Records)

	leafDir := filepath.Join(cfg.OutputBaseDir, "out", "Solar", "~Panels")
	entries, err := os.ReadDir(leafDir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"01-Panel 100W.json", "02-Panel 200W.json"}, names)

	data, err := os.ReadFile(filepath.Join(leafDir, "01-Panel 100W.json"))
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, server.URL+"/p/100", rec["original_url"])
	assert.Equal(t, "Panel 100W", rec["title"])
	assert.Equal(t, "1 200 грн", rec["price"])
	assert.Equal(t, "Mono panels", rec["user_content_text"])
	assert.Contains(t, string(data), "    \"title\"", "indented with four spaces")

	root := filepath.Join(cfg.OutputBaseDir, "out")
	assert.FileExists(t, root+"_structure.txt")
	assert.FileExists(t, filepath.Join(root, "manifest.yaml"))

	sessions, err := ListSessions(testContext(t), cfg, "shop", testLogger())
	require.NoError(t, err)
	assert.Empty(t, sessions, "finished batches leave no snapshot behind")
}

func TestRun_ResumeAfterExhaustion(t *testing.T) {
	var healthy atomic.Bool
	server := shopServer(t, &healthy)
	cfg := e2eConfig(t, server.URL)
	link := server.URL + "/p/100"

	first := NewOrchestrator(cfg, []string{"shop"}, Job{Kind: JobProduct, Link: link, Directory: "single"}, Options{}, testLogger()).Run()
	require.Len(t, first, 1)
	assert.False(t, first[0].Success)
	assert.ErrorIs(t, first[0].Error, utils.ErrBatchExhausted)

	sessions, err := ListSessions(testContext(t), cfg, "shop", testLogger())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "exhausted", sessions[0].Status.String())
	assert.Equal(t, 1, sessions[0].Pending)

	healthy.Store(true)
	second := NewOrchestrator(cfg, []string{"shop"}, Job{Kind: JobResume}, Options{}, testLogger()).Run()
	require.Len(t, second, 1)
	require.NoError(t, second[0].Error)
	assert.Equal(t, 1, second[0].Records)
	assert.FileExists(t, filepath.Join(cfg.OutputBaseDir, "single", "01-Panel 100W.json"))

	sessions, err = ListSessions(testContext(t), cfg, "shop", testLogger())
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestRun_ListingJobEphemeral(t *testing.T) {
	server := shopServer(t, nil)
	cfg := e2eConfig(t, server.URL)

	results := NewOrchestrator(cfg, []string{"shop"},
		Job{Kind: JobListing, Link: server.URL + "/g/panels", Workers: 1},
		Options{Ephemeral: true}, testLogger()).Run()
	require.Len(t, results, 1)
	require.NoError(t, results[0].Error)
	assert.Equal(t, 2, results[0].Records)
	assert.DirExists(t, filepath.Join(cfg.OutputBaseDir, "~Panels"))
	assert.NoDirExists(t, cfg.StateDir, "ephemeral runs never touch the state dir")
}

func TestRun_ListingJobNeedsLink(t *testing.T) {
	cfg := e2eConfig(t, "https://shop.test")
	results := NewOrchestrator(cfg, []string{"shop"}, Job{Kind: JobListing}, Options{Ephemeral: true}, testLogger()).Run()
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Error, utils.ErrConfigValidation)
}

func TestRun_UnknownSite(t *testing.T) {
	cfg := e2eConfig(t, "https://shop.test")
	results := NewOrchestrator(cfg, []string{"missing"}, Job{Kind: JobCrawl}, Options{Ephemeral: true}, testLogger()).Run()
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.ErrorIs(t, results[0].Error, utils.ErrConfigValidation)
}

func TestOutputRoot(t *testing.T) {
	cfg := &config.AppConfig{OutputBaseDir: "dumps"}
	abs := filepath.Join(t.TempDir(), "abs")

	tests := []struct {
		name  string
		job   Job
		sites []string
		want  string
	}{
		{"default", Job{}, []string{"a"}, "dumps"},
		{"relative directory", Job{Directory: "lamps"}, []string{"a"}, filepath.Join("dumps", "lamps")},
		{"absolute directory", Job{Directory: abs}, []string{"a"}, abs},
		{"several sites", Job{}, []string{"a", "b"}, filepath.Join("dumps", "a")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &Orchestrator{appCfg: cfg, job: tt.job, siteKeys: tt.sites}
			assert.Equal(t, tt.want, o.outputRoot("a"))
		})
	}
}

func TestValidateSiteKeys(t *testing.T) {
	t.Run("all valid", func(t *testing.T) {
		cfg := testAppConfig("shop", "outlet")
		err := ValidateSiteKeys(cfg, []string{"shop", "outlet"})
		assert.NoError(t, err)
	})

	t.Run("one invalid", func(t *testing.T) {
		cfg := testAppConfig("shop", "outlet")
		err := ValidateSiteKeys(cfg, []string{"shop", "missing"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing")
	})

	t.Run("empty keys no error", func(t *testing.T) {
		cfg := testAppConfig("shop")
		err := ValidateSiteKeys(cfg, []string{})
		assert.NoError(t, err)
	})

	t.Run("empty config", func(t *testing.T) {
		cfg := testAppConfig()
		err := ValidateSiteKeys(cfg, []string{"anything"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "anything")
	})
}

func TestGetAllSiteKeys(t *testing.T) {
	t.Run("multiple sites", func(t *testing.T) {
		cfg := testAppConfig("gamma", "alpha", "beta")
		keys := GetAllSiteKeys(cfg)
		assert.True(t, sort.StringsAreSorted(keys))
		assert.Equal(t, []string{"alpha", "beta", "gamma"}, keys)
	})

	t.Run("no sites", func(t *testing.T) {
		cfg := testAppConfig()
		keys := GetAllSiteKeys(cfg)
		assert.Empty(t, keys)
	})
}

// testContext returns a context canceled when the test finishes (pre-Go 1.24 stand-in for t.Context).
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
