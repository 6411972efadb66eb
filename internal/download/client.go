// Package download streams a single HTTP response body to a file.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"github.com/BadgerOps/repofetch/internal/fetcherr"
	"github.com/BadgerOps/repofetch/internal/metrics"
	"github.com/BadgerOps/repofetch/internal/safety"
)

// DefaultTimeout bounds a whole archive transfer.
const DefaultTimeout = 10 * time.Minute

// ProgressFunc is called periodically to report download progress.
// totalBytes is 0 when the server does not announce a length.
type ProgressFunc func(bytesDownloaded, totalBytes int64)

// Options contains configuration for a single download.
type Options struct {
	URL              safety.SecretURL
	DestPath         string
	Headers          map[string]string
	ExpectedChecksum string // SHA256 hex, empty to skip
	MaxSize          int64  // 0 for no limit
	OnProgress       ProgressFunc
}

// Result describes a completed download.
type Result struct {
	Path     string
	Size     int64
	SHA256   string
	Duration time.Duration
}

// Client performs one download attempt per call. Retrying is the caller's
// concern.
type Client struct {
	httpClient *http.Client
	fs         afero.Fs
	logger     *slog.Logger
}

// NewClient creates a client writing to fs. A zero timeout uses DefaultTimeout.
func NewClient(fs afero.Fs, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: safety.NewHTTPClient(timeout),
		fs:         fs,
		logger:     logger,
	}
}

// Download fetches opts.URL into opts.DestPath. On any failure the partial
// file is removed.
func (c *Client) Download(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()

	result, err := c.fetch(ctx, opts)
	if err != nil {
		if rmErr := c.fs.Remove(opts.DestPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			c.logger.Warn("failed to remove partial download", "path", opts.DestPath, "error", rmErr)
		}
		return nil, err
	}

	result.Duration = time.Since(start)
	metrics.DownloadedBytes.Add(float64(result.Size))
	c.logger.Info("download complete",
		"url", opts.URL,
		"path", result.Path,
		"size", humanize.Bytes(uint64(result.Size)),
		"duration", result.Duration.Round(time.Millisecond),
	)
	return result, nil
}

func (c *Client) fetch(ctx context.Context, opts Options) (*Result, error) {
	target := opts.URL.String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.URL.Reveal(), nil)
	if err != nil {
		return nil, &fetcherr.ConfigurationError{Setting: "download URL", Err: unwrapURLError(err)}
	}
	req.Header.Set("User-Agent", safety.UserAgent)
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	c.logger.Debug("starting download", "url", opts.URL, "dest", opts.DestPath)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fetcherr.Classify("download", target, fmt.Errorf("GET %s: %w", target, unwrapURLError(err)))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fetcherr.Classify("download", target, &fetcherr.HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		})
	}

	if opts.MaxSize > 0 && resp.ContentLength > opts.MaxSize {
		return nil, &fetcherr.LimitError{Err: fmt.Errorf("archive is %s, limit is %s: %w",
			humanize.Bytes(uint64(resp.ContentLength)), humanize.Bytes(uint64(opts.MaxSize)), safety.ErrBodyTooLarge)}
	}

	if dir := filepath.Dir(opts.DestPath); dir != "" && dir != "." {
		if err := c.fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	file, err := c.fs.OpenFile(opts.DestPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", opts.DestPath, err)
	}

	var reader io.Reader = resp.Body
	if opts.MaxSize > 0 {
		reader = io.LimitReader(reader, opts.MaxSize+1)
	}
	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	if opts.OnProgress != nil {
		reader = &progressReader{reader: reader, callback: opts.OnProgress, total: total}
	}

	hasher := sha256.New()
	written, copyErr := io.Copy(io.MultiWriter(file, hasher), reader)
	closeErr := file.Close()

	if copyErr != nil {
		return nil, fetcherr.Classify("download", target, fmt.Errorf("writing %s: %w", opts.DestPath, copyErr))
	}
	if closeErr != nil {
		return nil, fmt.Errorf("closing %s: %w", opts.DestPath, closeErr)
	}
	if opts.MaxSize > 0 && written > opts.MaxSize {
		return nil, &fetcherr.LimitError{Err: fmt.Errorf("archive exceeded %s: %w", humanize.Bytes(uint64(opts.MaxSize)), safety.ErrBodyTooLarge)}
	}

	sum := hex.EncodeToString(hasher.Sum(nil))
	if opts.ExpectedChecksum != "" && !strings.EqualFold(sum, opts.ExpectedChecksum) {
		return nil, &fetcherr.ChecksumError{Got: sum, Want: opts.ExpectedChecksum}
	}

	return &Result{Path: opts.DestPath, Size: written, SHA256: sum}, nil
}

// unwrapURLError drops the *url.Error wrapper so the request URL, which may
// carry credentials, is not repeated in the message.
func unwrapURLError(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}

// progressReader wraps a reader and calls a progress callback as data is read.
type progressReader struct {
	reader   io.Reader
	callback ProgressFunc
	current  int64
	total    int64
}

func (pr *progressReader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	if n > 0 {
		pr.current += int64(n)
		pr.callback(pr.current, pr.total)
	}
	return n, err
}
