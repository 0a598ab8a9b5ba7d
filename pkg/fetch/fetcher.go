package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/catalog-scraper/pkg/utils"
)

// maxBodyBytes caps how much of a page body is read into memory
const maxBodyBytes = 16 << 20

// Page is the result of one successful fetch
type Page struct {
	URL        string // Requested URL
	FinalURL   string // URL after following redirects
	StatusCode int
	Body       []byte
	Redirected bool // FinalURL differs from URL
}

// PageFetcher is the network boundary of the crawl. *Fetcher implements it;
// tests substitute scripted fakes.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Page, error)
}

var _ PageFetcher = (*Fetcher)(nil)

// Fetcher performs single HTTP GET attempts with a shared client.
// It never retries; callers decide whether and when to try again (see Retry).
type Fetcher struct {
	client         *http.Client
	userAgent      string
	perPageTimeout time.Duration // 0 = rely on client timeout only
	log            *logrus.Entry
}

// NewFetcher creates a new Fetcher instance
func NewFetcher(client *http.Client, userAgent string, perPageTimeout time.Duration, log *logrus.Entry) *Fetcher {
	return &Fetcher{
		client:         client,
		userAgent:      userAgent,
		perPageTimeout: perPageTimeout,
		log:            log,
	}
}

// Fetch performs one GET of rawURL.
// Errors worth retrying after a cooldown (timeouts, resets, 5xx, 429) wrap utils.ErrTransient;
// everything else (malformed URL, other 4xx, redirect loops) is permanent.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	reqLog := f.log.WithField("url", rawURL)

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("%w: invalid URL '%s'", utils.ErrRequestCreation, rawURL)
	}

	reqCtx := ctx
	if f.perPageTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, f.perPageTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", utils.ErrRequestCreation, rawURL, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		// Cancellation of the caller's context is neither transient nor a site failure
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch %s: %w", rawURL, ctx.Err())
		}
		if isPermanentTransportError(err) {
			reqLog.Warnf("Permanent fetch error: %v", err)
			return nil, fmt.Errorf("%w: %s: %w", utils.ErrOtherHTTPError, rawURL, err)
		}
		reqLog.Warnf("Network error: %v", err)
		return nil, fmt.Errorf("%w: %w", utils.ErrTransient, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	statusCode := resp.StatusCode
	resLog := reqLog.WithFields(logrus.Fields{"status_code": statusCode})

	switch {
	case statusCode >= 200 && statusCode < 300:
		// fall through to body read
	case statusCode >= 500:
		resLog.Warn("Server error")
		return nil, fmt.Errorf("%w: %w: status %d %s", utils.ErrTransient, utils.ErrServerHTTPError, statusCode, rawURL)
	case statusCode == http.StatusTooManyRequests:
		resLog.Warn("Received 429 Too Many Requests")
		return nil, fmt.Errorf("%w: %w: status %d %s", utils.ErrTransient, utils.ErrClientHTTPError, statusCode, rawURL)
	case statusCode >= 400:
		resLog.Warn("Client error (4xx), not retrying")
		return nil, fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, rawURL)
	default:
		resLog.Warnf("Unexpected status: %d", statusCode)
		return nil, fmt.Errorf("%w: status %d %s", utils.ErrOtherHTTPError, statusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch %s: %w", rawURL, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w: %s: %w", utils.ErrTransient, utils.ErrResponseBodyRead, rawURL, err)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	page := &Page{
		URL:        rawURL,
		FinalURL:   finalURL,
		StatusCode: statusCode,
		Body:       body,
		Redirected: !sameURL(rawURL, finalURL),
	}
	resLog.WithFields(logrus.Fields{"bytes": len(body), "redirected": page.Redirected}).Debug("Fetched")
	return page, nil
}

// IsTransient reports whether err is worth retrying after a cooldown
func IsTransient(err error) bool {
	return errors.Is(err, utils.ErrTransient)
}

// isPermanentTransportError picks out client.Do failures that retrying cannot fix
func isPermanentTransportError(err error) bool {
	if errors.Is(err, errTooManyRedirects) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unsupported protocol scheme") ||
		strings.Contains(msg, "invalid URL") ||
		strings.Contains(msg, "certificate")
}

// sameURL compares two URLs ignoring a trailing slash difference
func sameURL(a, b string) bool {
	return strings.TrimSuffix(a, "/") == strings.TrimSuffix(b, "/")
}
