// Package fetcher downloads AEMO's dispatch and pre-dispatch report
// archives and hands the extracted CSV to the parser package.
package fetcher

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"time"

	"github.com/nemalert/pricebot/internal/domain"
	"github.com/nemalert/pricebot/internal/parser"
)

const (
	dispatchURL    = "https://nemweb.com.au/Reports/Current/DispatchIS_Reports/"
	predispatchURL = "https://nemweb.com.au/Reports/Current/PredispatchIS_Reports/"

	dispatchPattern    = "PUBLIC_DISPATCHIS_"
	predispatchPattern = "PUBLIC_PREDISPATCHIS_"

	nemwebOrigin = "https://nemweb.com.au"
)

// Fetcher retrieves the latest AEMO report archives over HTTP.
type Fetcher struct {
	client  *http.Client
	retries int
	delay   time.Duration
}

// New constructs a Fetcher. retries is the number of attempts per call
// (including the first); delay is the sleep between attempts.
func New(retries int, delay time.Duration) *Fetcher {
	return &Fetcher{
		client:  &http.Client{Timeout: 30 * time.Second},
		retries: retries,
		delay:   delay,
	}
}

// FetchDispatch downloads the most recent DispatchIS archive and returns its
// parsed price records. Makes up to f.retries attempts, sleeping f.delay
// between them, before giving up with a domain.FetchError.
func (f *Fetcher) FetchDispatch(ctx context.Context) ([]domain.PriceRecord, error) {
	csv, err := f.fetchLatestReport(ctx, dispatchURL, dispatchPattern)
	if err != nil {
		return nil, err
	}
	return parser.ParseDispatch(csv), nil
}

// FetchPreDispatch downloads the most recent PredispatchIS archive and
// returns its parsed forecast records.
func (f *Fetcher) FetchPreDispatch(ctx context.Context) ([]domain.ForecastRecord, error) {
	csv, err := f.fetchLatestReport(ctx, predispatchURL, predispatchPattern)
	if err != nil {
		return nil, err
	}
	return parser.ParsePreDispatch(csv), nil
}

// fetchLatestReport retries fetchLatestZip up to f.retries times.
func (f *Fetcher) fetchLatestReport(ctx context.Context, baseURL, pattern string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= f.retries; attempt++ {
		csv, err := f.fetchLatestZip(ctx, baseURL, pattern)
		if err == nil {
			return csv, nil
		}
		lastErr = err
		if attempt < f.retries {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(f.delay):
			}
		}
	}
	return "", &domain.FetchError{Endpoint: baseURL, Attempts: f.retries, Err: lastErr}
}

// hrefPattern matches an anchor href naming a .zip archive, case-insensitive,
// with the report-name substring interpolated in at construction time.
func hrefPattern(substr string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)href="([^"]*` + regexp.QuoteMeta(substr) + `[^"]*\.zip)"`)
}

// fetchLatestZip scrapes baseURL's directory listing for the
// lexicographically last archive matching pattern, downloads it, and
// returns the text of its first entry.
func (f *Fetcher) fetchLatestZip(ctx context.Context, baseURL, pattern string) (string, error) {
	html, err := f.get(ctx, baseURL)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", baseURL, err)
	}

	matches := hrefPattern(pattern).FindAllStringSubmatch(string(html), -1)
	if len(matches) == 0 {
		return "", fmt.Errorf("no files matching %q found in listing", pattern)
	}
	hrefs := make([]string, 0, len(matches))
	for _, m := range matches {
		hrefs = append(hrefs, m[1])
	}
	sort.Strings(hrefs)
	latest := hrefs[len(hrefs)-1]

	zipURL := latest
	if len(latest) > 0 && latest[0] == '/' {
		zipURL = nemwebOrigin + latest
	} else if !hasScheme(latest) {
		zipURL = baseURL + latest
	}

	body, err := f.get(ctx, zipURL)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", zipURL, err)
	}

	archive, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", fmt.Errorf("open archive %s: %w", zipURL, err)
	}
	if len(archive.File) == 0 {
		return "", fmt.Errorf("archive %s has no entries", zipURL)
	}
	rc, err := archive.File[0].Open()
	if err != nil {
		return "", fmt.Errorf("open entry %s: %w", archive.File[0].Name, err)
	}
	defer rc.Close()

	csv, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read entry %s: %w", archive.File[0].Name, err)
	}
	return string(csv), nil
}

func hasScheme(s string) bool {
	return len(s) >= 7 && (s[:7] == "http://" || (len(s) >= 8 && s[:8] == "https://"))
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "nemalert-pricebot/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
