// Package loader fetches source images for the OCR pipeline over HTTP,
// with retry/backoff and a hard size cap.
package loader

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/nexuslabs/docoptic/internal/logging"
)

const (
	maxRetries        = 5
	initialBackoffMs  = 1000
	maxBackoffMs      = 32000
	downloadTimeout   = 10 * time.Minute
	defaultMaxReadBytes = 200 * 1024 * 1024 // 200MB: images, not arbitrary documents
)

// Downloader fetches image bytes from a URL with exponential backoff retry.
//
// Grounded on the teacher's downloadFileFromURL, adapted from a
// document-download helper bound to *DocumentProcessor into a standalone
// collaborator the worker's job pipeline can use to fetch an image when a
// job carries a URL instead of inline bytes.
type Downloader struct {
	client       *http.Client
	maxReadBytes int64
	log          *logging.Logger
}

// NewDownloader constructs a Downloader. maxReadBytes <= 0 selects
// defaultMaxReadBytes.
func NewDownloader(maxReadBytes int64, log *logging.Logger) *Downloader {
	if maxReadBytes <= 0 {
		maxReadBytes = defaultMaxReadBytes
	}
	return &Downloader{
		client:       &http.Client{Timeout: downloadTimeout},
		maxReadBytes: maxReadBytes,
		log:          log,
	}
}

// Fetch downloads the resource at url, retrying any failed attempt with
// exponential backoff (waits of 1s, 2s, 4s, 8s between the five attempts,
// each wait capped at 32s).
func (d *Downloader) Fetch(ctx context.Context, jobID, url string) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		data, err := d.attempt(ctx, url)
		if err == nil {
			return data, nil
		}

		lastErr = err
		if d.log != nil {
			d.log.Warn("download attempt failed", "job_id", jobID, "attempt", attempt, "error", err)
		}

		if attempt == maxRetries {
			break
		}

		backoff := time.Duration(initialBackoffMs*int(math.Pow(2, float64(attempt-1)))) * time.Millisecond
		if backoff > maxBackoffMs*time.Millisecond {
			backoff = maxBackoffMs * time.Millisecond
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled during download retry backoff: %w", ctx.Err())
		}
	}

	return nil, fmt.Errorf("download failed after %d attempts: %w", maxRetries, lastErr)
}

func (d *Downloader) attempt(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	if resp.ContentLength > d.maxReadBytes {
		return nil, fmt.Errorf("content length %d exceeds maximum %d bytes", resp.ContentLength, d.maxReadBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxReadBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return data, nil
}
