package observe

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusObserver exports crawl progress as Prometheus metrics
type PrometheusObserver struct {
	fetches       *prometheus.CounterVec
	fetchBytes    prometheus.Counter
	fetchDuration *prometheus.HistogramVec
	fetchRetries  prometheus.Counter

	leaves         prometheus.Counter
	productsFound  prometheus.Counter
	records        prometheus.Counter
	recordsSkipped *prometheus.CounterVec

	batches        *prometheus.CounterVec
	batchesRunning prometheus.Gauge
	batchRuntime   prometheus.Histogram

	filesWritten prometheus.Counter
	writeFailed  prometheus.Counter
}

// NewPrometheusObserver registers the collectors against reg.
// Use a dedicated registry per run; registering twice on one registry panics.
func NewPrometheusObserver(reg prometheus.Registerer) *PrometheusObserver {
	f := promauto.With(reg)
	return &PrometheusObserver{
		fetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_scraper_fetches_total",
			Help: "HTTP fetches partitioned by status class.",
		}, []string{"status_class"}),
		fetchBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "catalog_scraper_fetch_bytes_total",
			Help: "Response bytes downloaded.",
		}),
		fetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "catalog_scraper_fetch_duration_seconds",
			Help:    "Fetch latency partitioned by status class.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"status_class"}),
		fetchRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "catalog_scraper_fetch_retries_total",
			Help: "Transient fetch errors followed by a cooldown and another attempt.",
		}),
		leaves: f.NewCounter(prometheus.CounterOpts{
			Name: "catalog_scraper_leaves_total",
			Help: "Leaf categories whose listings were collected.",
		}),
		productsFound: f.NewCounter(prometheus.CounterOpts{
			Name: "catalog_scraper_products_discovered_total",
			Help: "Product links collected from listings.",
		}),
		records: f.NewCounter(prometheus.CounterOpts{
			Name: "catalog_scraper_records_total",
			Help: "Product records extracted.",
		}),
		recordsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_scraper_records_skipped_total",
			Help: "Product URLs skipped under the skip extraction policy.",
		}, []string{"error_type"}),
		batches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_scraper_batch_attempts_total",
			Help: "Dispatch attempts partitioned by outcome.",
		}, []string{"result"}),
		batchesRunning: f.NewGauge(prometheus.GaugeOpts{
			Name: "catalog_scraper_batches_running",
			Help: "Dispatch attempts currently in progress.",
		}),
		batchRuntime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "catalog_scraper_batch_runtime_seconds",
			Help:    "Wall time of completed batches including retries.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		filesWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "catalog_scraper_files_written_total",
			Help: "Record files written by the sink.",
		}),
		writeFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "catalog_scraper_file_write_failures_total",
			Help: "Record files the sink failed to write.",
		}),
	}
}

// Observe implements Observer
func (p *PrometheusObserver) Observe(evt Event) {
	switch evt.Stage {
	case StageFetchDone:
		class := StatusClass(evt.Status)
		p.fetches.WithLabelValues(class).Inc()
		if evt.Bytes > 0 {
			p.fetchBytes.Add(float64(evt.Bytes))
		}
		if evt.Dur > 0 {
			p.fetchDuration.WithLabelValues(class).Observe(evt.Dur.Seconds())
		}
	case StageFetchRetry:
		p.fetchRetries.Inc()
	case StageLeafFound:
		p.leaves.Inc()
		p.productsFound.Add(float64(evt.Count))
	case StageBatchStart:
		p.batches.WithLabelValues("started").Inc()
		p.batchesRunning.Inc()
	case StageRecordDone:
		p.records.Inc()
	case StageRecordSkipped:
		errType := evt.ErrorType
		if errType == "" {
			errType = "Unknown"
		}
		p.recordsSkipped.WithLabelValues(errType).Inc()
	case StageBatchAbort:
		p.batches.WithLabelValues("aborted").Inc()
		p.batchesRunning.Dec()
	case StageBatchDone:
		p.batches.WithLabelValues("completed").Inc()
		p.batchesRunning.Dec()
		if evt.Dur > 0 {
			p.batchRuntime.Observe(evt.Dur.Seconds())
		}
	case StageBatchExhaust:
		p.batches.WithLabelValues("exhausted").Inc()
	case StagePersisted:
		p.filesWritten.Add(float64(evt.Count))
		if failed := evt.Total - evt.Count; failed > 0 {
			p.writeFailed.Add(float64(failed))
		}
	}
}
