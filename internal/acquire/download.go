package acquire

import (
	"context"
	"errors"
	"os"

	"github.com/BadgerOps/repofetch/internal/download"
	"github.com/BadgerOps/repofetch/internal/metrics"
)

// download tries each strategy in order, each under its own retry budget,
// and returns the first success.
func (a *Acquirer) download(ctx context.Context, strategies []strategy, j *job) (*download.Result, strategy, error) {
	var lastErr error
	for i, s := range strategies {
		exec := a.retry
		if s.mirror != nil && s.mirror.RetryCount > 0 {
			e := *a.retry
			e.MaxAttempts = s.mirror.RetryCount
			exec = &e
		}

		var result *download.Result
		err := exec.Do(ctx, "download archive via "+s.transport, func(ctx context.Context) error {
			r, err := a.downloader.Download(ctx, download.Options{
				URL:              s.url,
				DestPath:         j.archivePath,
				Headers:          s.headers,
				ExpectedChecksum: j.sha256,
				MaxSize:          a.maxArchiveSize,
				OnProgress:       a.onProgress,
			})
			result = r
			return err
		})
		if err == nil {
			metrics.DownloadsTotal.WithLabelValues(s.transport, "success").Inc()
			a.logger.Debug("archive downloaded", "transport", s.transport, "url", s.url, "path", j.archivePath)
			return result, s, nil
		}

		metrics.DownloadsTotal.WithLabelValues(s.transport, "failure").Inc()
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if i < len(strategies)-1 {
			a.logger.Warn("archive download failed, trying next transport",
				"transport", s.transport, "next", strategies[i+1].transport, "error", err)
		}
	}
	return nil, strategy{}, lastErr
}

// removeArchive deletes the staging archive once it has been extracted.
func (a *Acquirer) removeArchive(j *job) {
	if err := a.fs.Remove(j.archivePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		a.logger.Warn("failed to remove staging archive", "path", j.archivePath, "error", err)
	}
}

// cleanup removes every staging artifact. Failures are logged only.
func (a *Acquirer) cleanup(j *job) {
	a.removeArchive(j)
	if err := a.fs.RemoveAll(j.stagingDir); err != nil {
		a.logger.Warn("failed to remove staging directory", "path", j.stagingDir, "error", err)
	}
}
