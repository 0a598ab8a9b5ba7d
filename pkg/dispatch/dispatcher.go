// Package dispatch fans product URLs out to a bounded pool of fetch+extract workers
// and drives the bounded retry of aborted batches.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Sriram-PR/catalog-scraper/pkg/extract"
	"github.com/Sriram-PR/catalog-scraper/pkg/fetch"
	"github.com/Sriram-PR/catalog-scraper/pkg/models"
	"github.com/Sriram-PR/catalog-scraper/pkg/observe"
	"github.com/Sriram-PR/catalog-scraper/pkg/utils"
)

// Config controls how a Dispatcher processes URLs
type Config struct {
	RequestDelay time.Duration           // Minimum interval between fetches of one worker
	Retry        fetch.RetryPolicy       // Per-URL handling of transient fetch errors
	Policy       models.ExtractionPolicy // What a per-URL failure does to the batch
}

// BatchError reports an aborted dispatch attempt. The batch keeps every record
// collected before the abort; Unresolved lists what the next attempt must fetch.
type BatchError struct {
	Unresolved []string
	Cause      error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch aborted with %d unresolved URLs: %v", len(e.Unresolved), e.Cause)
}

func (e *BatchError) Unwrap() error { return e.Cause }

// Dispatcher runs fetch+extract over a WorkBatch with a bounded worker pool
type Dispatcher struct {
	fetcher   fetch.PageFetcher
	extractor extract.Extractor
	cfg       Config
	obs       observe.Observer
	log       *logrus.Entry
}

// NewDispatcher creates a Dispatcher. A nil observer discards events.
func NewDispatcher(fetcher fetch.PageFetcher, extractor extract.Extractor, cfg Config, obs observe.Observer, log *logrus.Entry) *Dispatcher {
	if obs == nil {
		obs = observe.Nop
	}
	if !cfg.Policy.IsValid() {
		cfg.Policy = models.ExtractionPolicyBatchFatal
	}
	return &Dispatcher{fetcher: fetcher, extractor: extractor, cfg: cfg, obs: obs, log: log}
}

type result struct {
	url    string
	record models.Record
	err    error
}

// Dispatch processes urls with up to concurrency workers and returns the records in
// discovery order. failed lists URLs that are unresolved or were skipped.
// A non-nil error is a *BatchError (or wraps one) when the attempt was aborted.
func (d *Dispatcher) Dispatch(ctx context.Context, urls []string, concurrency int) (records []models.Record, failed []string, err error) {
	batch := models.NewWorkBatch("", "", urls)
	err = d.RunBatch(ctx, batch, concurrency)
	failed = batch.Pending()
	for _, f := range batch.Skipped() {
		failed = append(failed, f.URL)
	}
	return batch.Records(), failed, err
}

// RunBatch resolves the pending URLs of batch. Only the calling goroutine mutates
// batch; workers hand their results back over a channel.
// The first batch-fatal error cancels all in-flight work.
func (d *Dispatcher) RunBatch(ctx context.Context, batch *models.WorkBatch, concurrency int) error {
	pending := batch.Pending()
	if len(pending) == 0 {
		return nil
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > len(pending) {
		concurrency = len(pending)
	}

	batchLog := d.log.WithFields(logrus.Fields{"batch": batch.ID, "workers": concurrency})
	batchLog.Debugf("Dispatching %d URLs", len(pending))

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	jobs := make(chan string)
	results := make(chan result, concurrency)
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer close(jobs)
		for _, u := range pending {
			select {
			case jobs <- u:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	for w := 0; w < concurrency; w++ {
		workerLog := batchLog.WithField("worker", w)
		throttle := fetch.NewThrottle(d.cfg.RequestDelay, workerLog)
		g.Go(func() error {
			for u := range jobs {
				if gctx.Err() != nil {
					return nil
				}
				rec, err := d.process(gctx, throttle, u, workerLog)
				select {
				case results <- result{url: u, record: rec, err: err}:
				case <-gctx.Done():
					return nil
				}
			}
			return nil
		})
	}

	go func() {
		g.Wait()
		close(results)
	}()

	var fatal error
	for res := range results {
		if res.err == nil {
			if batch.Complete(res.record) {
				d.obs.Observe(observe.Event{
					Stage: observe.StageRecordDone, BatchID: batch.ID, URL: res.url, Title: res.record.Title,
					Count: batch.CompletedCount(), Total: batch.Len(),
				})
			}
			continue
		}
		if fatal != nil || runCtx.Err() != nil {
			// Aborted or cancelled; the URL stays pending for the next attempt
			continue
		}

		errType := utils.CategorizeError(res.err)
		if d.skippable(res.err) {
			if batch.Skip(res.url, errType) {
				d.obs.Observe(observe.Event{
					Stage: observe.StageRecordSkipped, BatchID: batch.ID, URL: res.url, Err: res.err, ErrorType: errType,
				})
			}
			continue
		}

		batchLog.WithFields(logrus.Fields{"url": res.url, "error_type": errType}).
			Errorf("Batch-fatal error, cancelling remaining work: %v", res.err)
		fatal = fmt.Errorf("%s: %w", res.url, res.err)
		cancel(fatal)
	}

	if fatal == nil && ctx.Err() != nil {
		fatal = ctx.Err()
	}
	if fatal == nil && !batch.Done() {
		fatal = fmt.Errorf("workers stopped with %d URLs unprocessed", len(batch.Pending()))
	}
	if fatal != nil {
		return &BatchError{Unresolved: batch.Pending(), Cause: fatal}
	}
	return nil
}

// process fetches and extracts one product page. Transient fetch errors are retried
// here, after a cooldown, up to the configured attempt ceiling.
func (d *Dispatcher) process(ctx context.Context, throttle *fetch.Throttle, u string, log *logrus.Entry) (models.Record, error) {
	policy := d.cfg.Retry
	policy.OnRetry = func(attempt int, err error) {
		d.obs.Observe(observe.Event{
			Stage: observe.StageFetchRetry, URL: u, Attempt: attempt, Err: err,
			ErrorType: utils.CategorizeError(err), Dur: d.cfg.Retry.Cooldown,
		})
	}

	page, err := fetch.Retry(ctx, policy, log.WithField("url", u), func(ctx context.Context) (*fetch.Page, error) {
		if err := throttle.Wait(ctx); err != nil {
			return nil, err
		}
		start := time.Now()
		page, err := d.fetcher.Fetch(ctx, u)
		evt := observe.Event{Stage: observe.StageFetchDone, URL: u, Dur: time.Since(start), Err: err}
		if page != nil {
			evt.Status = page.StatusCode
			evt.Bytes = int64(len(page.Body))
		}
		d.obs.Observe(evt)
		return page, err
	})
	if err != nil {
		return models.Record{}, err
	}

	rec, err := d.extractor.Product(u, page.Body)
	if err != nil {
		return models.Record{}, err
	}
	return rec, nil
}

// skippable reports whether err may be resolved as a per-URL failure under the skip
// policy. Network failures that survived every retry always abort the batch.
func (d *Dispatcher) skippable(err error) bool {
	if d.cfg.Policy != models.ExtractionPolicySkip {
		return false
	}
	if fetch.IsTransient(err) || errors.Is(err, utils.ErrRetryFailed) {
		return false
	}
	return true
}
