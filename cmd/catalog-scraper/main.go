package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/catalog-scraper/pkg/config"
	"github.com/Sriram-PR/catalog-scraper/pkg/extract"
	"github.com/Sriram-PR/catalog-scraper/pkg/observe"
	"github.com/Sriram-PR/catalog-scraper/pkg/orchestrate"
)

const version = "1.0.0"

const defaultConfigFile = "config.yaml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "crawl":
		runJob(os.Args[2:], orchestrate.JobCrawl)
	case "listing":
		runJob(os.Args[2:], orchestrate.JobListing)
	case "product":
		runJob(os.Args[2:], orchestrate.JobProduct)
	case "resume":
		runJob(os.Args[2:], orchestrate.JobResume)
	case "sessions":
		runSessions(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "list-sites":
		runListSites(os.Args[2:])
	case "version":
		fmt.Printf("catalog-scraper %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `catalog-scraper - Product catalog scraper

Usage:
  catalog-scraper <command> [options]

Commands:
  crawl       Crawl a product group and all its subgroups
  listing     Dump the products of a single listing
  product     Dump a single product page
  resume      Continue interrupted or exhausted batches
  sessions    List stored batch snapshots
  validate    Validate configuration file
  list-sites  List available site keys
  version     Show version info

Run 'catalog-scraper <command> -h' for command-specific help.`)
}

// loadConfig loads and parses the config file
func loadConfig(path string) (*config.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg config.AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// loadConfigOrDefault falls back to the built-in configuration when the default
// config file does not exist. An explicitly named file must exist.
func loadConfigOrDefault(path string, explicit bool) (*config.AppConfig, bool, error) {
	cfg, err := loadConfig(path)
	if err != nil && !explicit && errors.Is(err, fs.ErrNotExist) {
		return config.Default(), true, nil
	}
	return cfg, false, err
}

// jobFlags holds the flags shared by the job subcommands
type jobFlags struct {
	configFile *string
	siteKey    *string
	sites      *string
	allSites   *bool
	link       *string
	directory  *string
	workers    *int
	logLevel   *string
	metrics    *string
	resetState *bool
	ephemeral  *bool
}

func newJobFlagSet(kind orchestrate.JobKind) (*flag.FlagSet, *jobFlags) {
	fs := flag.NewFlagSet(string(kind), flag.ExitOnError)
	f := &jobFlags{
		configFile: fs.String("config", defaultConfigFile, "Path to config file (built-in defaults when the default file is missing)"),
		siteKey:    fs.String("site", "", "Site key from config (defaults to default_site)"),
		sites:      fs.String("sites", "", "Comma-separated site keys to run in parallel"),
		allSites:   fs.Bool("all-sites", false, "Run for all configured sites in parallel"),
		link:       fs.String("link", "", "URL of the group, listing or product (overrides start_url)"),
		directory:  fs.String("directory", "", "Output directory, relative to output_base_dir unless absolute"),
		workers:    fs.Int("workers", 0, "Number of concurrent product workers (overrides num_workers)"),
		logLevel:   fs.String("loglevel", "info", "Log level (trace, debug, info, warn, error)"),
		metrics:    fs.String("metrics", "", "Serve Prometheus metrics on this address, e.g. localhost:9090"),
		resetState: fs.Bool("reset-state", false, "Discard stored batch snapshots before running"),
		ephemeral:  fs.Bool("ephemeral", false, "Keep batch snapshots in memory only"),
	}
	return fs, f
}

// parseSiteKeys resolves -site, -sites and -all-sites into a list. Empty means default_site.
func parseSiteKeys(siteKey, sites string, allSites bool, appCfg *config.AppConfig) []string {
	if allSites {
		return orchestrate.GetAllSiteKeys(appCfg)
	}
	var keys []string
	for _, s := range strings.Split(sites, ",") {
		if s = strings.TrimSpace(s); s != "" {
			keys = append(keys, s)
		}
	}
	if len(keys) == 0 && siteKey != "" {
		keys = []string{siteKey}
	}
	if len(keys) == 0 && appCfg.DefaultSite != "" {
		keys = []string{appCfg.DefaultSite}
	}
	return keys
}

// runJob handles the crawl, listing, product and resume subcommands
func runJob(args []string, kind orchestrate.JobKind) {
	fs, f := newJobFlagSet(kind)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: catalog-scraper %s [options]\n\nOptions:\n", kind)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		switch kind {
		case orchestrate.JobCrawl:
			fmt.Fprintf(os.Stderr, "  catalog-scraper crawl -link https://shop.prom.ua/g123-lamps -directory lamps -workers 4\n")
			fmt.Fprintf(os.Stderr, "  catalog-scraper crawl -sites shop_a,shop_b\n")
		case orchestrate.JobListing:
			fmt.Fprintf(os.Stderr, "  catalog-scraper listing -link https://shop.prom.ua/g123-lamps -workers 2\n")
		case orchestrate.JobProduct:
			fmt.Fprintf(os.Stderr, "  catalog-scraper product -link https://shop.prom.ua/p456-lamp -directory single\n")
		case orchestrate.JobResume:
			fmt.Fprintf(os.Stderr, "  catalog-scraper resume -site shop_a\n")
		}
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	explicitConfig := false
	fs.Visit(func(fl *flag.Flag) {
		if fl.Name == "config" {
			explicitConfig = true
		}
	})

	if err := executeJob(kind, f, explicitConfig); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setupLogger creates a configured logrus.Logger with the given log level.
func setupLogger(logLevelStr string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)
	level, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", logLevelStr, err)
	} else {
		log.SetLevel(level)
		log.Debugf("Setting log level to: %s", level.String())
	}
	return log
}

// executeJob loads the configuration, wires observers and runs the orchestrator
func executeJob(kind orchestrate.JobKind, f *jobFlags, explicitConfig bool) error {
	log := setupLogger(*f.logLevel)

	appCfg, usedDefault, err := loadConfigOrDefault(*f.configFile, explicitConfig)
	if err != nil {
		return err
	}
	if usedDefault {
		log.Infof("No config file at %s, using built-in defaults", *f.configFile)
	} else {
		log.Infof("Loaded configuration from %s", *f.configFile)
	}
	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		return err
	}

	siteKeys := parseSiteKeys(*f.siteKey, *f.sites, *f.allSites, appCfg)
	if len(siteKeys) == 0 {
		return errors.New("no site selected: use -site, -sites or -all-sites, or set default_site")
	}
	if err := orchestrate.ValidateSiteKeys(appCfg, siteKeys); err != nil {
		return err
	}
	if *f.link != "" && len(siteKeys) > 1 {
		return errors.New("-link can only be used with a single site")
	}
	if (kind == orchestrate.JobListing || kind == orchestrate.JobProduct) && *f.link == "" {
		return fmt.Errorf("%s needs -link", kind)
	}
	if *f.workers < 0 {
		return errors.New("-workers must be > 0")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logEntry := log.WithField("job", string(kind))
	observers := []observe.Observer{observe.NewLogObserver(logEntry.WithField("component", "progress"))}

	metricsAddr := *f.metrics
	if metricsAddr == "" {
		metricsAddr = appCfg.MetricsAddr
	}
	metricsDone := make(chan struct{})
	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		observers = append(observers, observe.NewPrometheusObserver(reg))
		go func() {
			defer close(metricsDone)
			if err := observe.ServeMetrics(ctx, metricsAddr, reg, logEntry.WithField("component", "metrics")); err != nil {
				log.Errorf("Metrics server error: %v", err)
			}
		}()
	} else {
		close(metricsDone)
	}

	job := orchestrate.Job{Kind: kind, Link: *f.link, Directory: *f.directory, Workers: *f.workers}
	orch := orchestrate.NewOrchestrator(appCfg, siteKeys, job, orchestrate.Options{
		ResetState: *f.resetState,
		Ephemeral:  *f.ephemeral,
		Observer:   observe.Multi(observers...),
	}, logEntry)

	// --- Handle signals for graceful shutdown ---
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			log.Warnf("Received signal %v, saving progress and shutting down...", sig)
			orch.Cancel()
		case <-ctx.Done():
		}
	}()

	results := orch.Run()
	cancel()
	<-metricsDone

	var failed []string
	for _, r := range results {
		if !r.Success {
			failed = append(failed, r.SiteKey)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%s failed for site(s): %s", kind, strings.Join(failed, ", "))
	}
	return nil
}

// runSessions handles the sessions subcommand
func runSessions(args []string) {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	configFile := fs.String("config", defaultConfigFile, "Path to config file")
	siteKey := fs.String("site", "", "Site key from config (defaults to default_site)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: catalog-scraper sessions [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	explicit := false
	fs.Visit(func(fl *flag.Flag) { explicit = explicit || fl.Name == "config" })

	exitCode := doSessions(*configFile, explicit, *siteKey, os.Stdout, os.Stderr)
	os.Exit(exitCode)
}

// doSessions prints the stored snapshots of a site.
// Returns exit code (0 = success, 1 = error).
func doSessions(configPath string, explicit bool, siteKey string, stdout, stderr io.Writer) int {
	appCfg, _, err := loadConfigOrDefault(configPath, explicit)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if _, err := appCfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if siteKey == "" {
		siteKey = appCfg.DefaultSite
	}
	if err := orchestrate.ValidateSiteKeys(appCfg, []string{siteKey}); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	quiet := logrus.New()
	quiet.SetOutput(io.Discard)
	sessions, err := orchestrate.ListSessions(context.Background(), appCfg, siteKey, logrus.NewEntry(quiet))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if len(sessions) == 0 {
		fmt.Fprintf(stdout, "No stored sessions for '%s'.\n", siteKey)
		return 0
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSTATUS\tATTEMPT\tPENDING\tCOMPLETED\tTOTAL\tCREATED\tDIRECTORY")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			s.Key, s.Status, s.Attempt, s.Pending, s.Completed, s.Total, s.CreatedAt.Format("2006-01-02 15:04:05"), s.OutputDir)
	}
	tw.Flush()
	fmt.Fprintf(stdout, "\nRun 'catalog-scraper resume -site %s' to continue resumable sessions.\n", siteKey)
	return 0
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", defaultConfigFile, "Path to config file")
	siteKey := fs.String("site", "", "Site key to validate (optional, validates all if empty)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: catalog-scraper validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	exitCode := doValidate(*configFile, *siteKey, os.Stdout, os.Stderr)
	os.Exit(exitCode)
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath, siteKey string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// Validate app config
	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	keys := orchestrate.GetAllSiteKeys(appCfg)
	if siteKey != "" {
		if _, ok := appCfg.Sites[siteKey]; !ok {
			fmt.Fprintf(stderr, "Error: site '%s' not found in config\n", siteKey)
			return 1
		}
		keys = []string{siteKey}
	}

	hasError := false
	for _, key := range keys {
		siteCfg := appCfg.Sites[key]
		siteWarnings, err := siteCfg.Validate()
		if err == nil {
			_, err = extract.New(siteCfg, false, logrus.NewEntry(logrus.StandardLogger()))
		}
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: [%s] %v\n", key, err)
			hasError = true
			continue
		}
		for _, w := range siteWarnings {
			fmt.Fprintf(stdout, "WARN: [%s] %s\n", key, w)
		}
		fmt.Fprintf(stdout, "OK: [%s]\n", key)
	}
	if hasError {
		return 1
	}

	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// runListSites handles the list-sites subcommand
func runListSites(args []string) {
	fs := flag.NewFlagSet("list-sites", flag.ExitOnError)
	configFile := fs.String("config", defaultConfigFile, "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: catalog-scraper list-sites [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	exitCode := doListSites(*configFile, os.Stdout, os.Stderr)
	os.Exit(exitCode)
}

// doListSites lists sites and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doListSites(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	keys := make([]string, 0, len(appCfg.Sites))
	for k := range appCfg.Sites {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(stdout, "Sites in %s:\n\n", configPath)
	for _, key := range keys {
		site := appCfg.Sites[key]
		marker := ""
		if key == appCfg.DefaultSite {
			marker = " (default)"
		}
		fmt.Fprintf(stdout, "  %s%s\n", key, marker)
		fmt.Fprintf(stdout, "    Start URL: %s\n", site.StartURL)
		extractor := site.Extractor
		if extractor == "" {
			extractor = "prom.ua"
		}
		fmt.Fprintf(stdout, "    Extractor: %s\n", extractor)
		if len(site.SkipURLPatterns) > 0 {
			fmt.Fprintf(stdout, "    Skip Patterns: %d\n", len(site.SkipURLPatterns))
		}
		fmt.Fprintln(stdout)
	}
	fmt.Fprintf(stdout, "Extractor presets: %s\n", strings.Join(extract.Presets(), ", "))
	return 0
}
