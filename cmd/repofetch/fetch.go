package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/repofetch/internal/acquire"
	"github.com/BadgerOps/repofetch/internal/config"
	"github.com/BadgerOps/repofetch/internal/download"
	"github.com/BadgerOps/repofetch/internal/mirror"
	"github.com/BadgerOps/repofetch/internal/retry"
)

var (
	fetchRef    string
	fetchCommit string
	fetchDest   string
	fetchProxy  string
	fetchToken  string
	fetchSHA256 string
)

func newFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch OWNER/REPO",
		Short: "Download a repository snapshot into a directory",
		Long: `Download the archive of a repository at a ref or commit and unpack it into
the destination directory. With no --ref or --commit the default branch is
resolved first.

A mirror is used when --proxy (or mirror.proxy_url) is set, or when
REPOFETCH_AUTO_MIRROR is true and mirror candidates are configured. A failed
mirror download falls back to the origin.`,
		Example: `  repofetch fetch acme/widgets
  repofetch fetch acme/widgets --ref refs/tags/v1.2.0 --dest ./widgets
  repofetch fetch acme/widgets --commit 0123abcd --proxy https://mirror.example`,
		Args: cobra.ExactArgs(1),
		RunE: fetchRun,
	}

	cmd.Flags().StringVar(&fetchRef, "ref", "", "branch, tag or fully qualified ref (default: repository default branch)")
	cmd.Flags().StringVar(&fetchCommit, "commit", "", "commit SHA; takes precedence over --ref for the archive")
	cmd.Flags().StringVar(&fetchDest, "dest", "", "destination directory (default: ./REPO)")
	cmd.Flags().StringVar(&fetchProxy, "proxy", "", "mirror proxy base URL; overrides mirror.proxy_url")
	cmd.Flags().StringVar(&fetchToken, "token", "", "access token; overrides github.token")
	cmd.Flags().StringVar(&fetchSHA256, "sha256", "", "expected SHA256 of the downloaded archive")

	return cmd
}

func fetchRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	owner, repo, err := parseRepoArg(args[0])
	if err != nil {
		return err
	}

	dest := fetchDest
	if dest == "" {
		dest = repo
	}
	proxy := globalCfg.Mirror.ProxyURL
	if fetchProxy != "" {
		proxy = fetchProxy
	}
	token := globalCfg.GitHub.Token
	if fetchToken != "" {
		token = fetchToken
	}

	a, err := newAcquirer(globalCfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := a.Acquire(ctx, acquire.Request{
		Owner:     owner,
		Repo:      repo,
		Ref:       fetchRef,
		Commit:    fetchCommit,
		TargetDir: dest,
		ServerURL: globalCfg.GitHub.ServerURL,
		ProxyURL:  proxy,
		AuthToken: token,
		SHA256:    fetchSHA256,
	})
	if err != nil {
		return fmt.Errorf("fetching %s/%s: %w", owner, repo, err)
	}

	abs, _ := filepath.Abs(dest)
	ref := report.Ref
	if report.Commit != "" {
		ref = report.Commit
	}
	fmt.Printf("Fetched %s/%s@%s into %s\n", owner, repo, ref, abs)
	fmt.Printf("  Transport: %s\n", report.Transport)
	if report.Mirror != "" {
		fmt.Printf("  Mirror:    %s\n", report.Mirror)
	}
	fmt.Printf("  Files:     %d (%s)\n", report.Files, humanize.Bytes(uint64(report.Bytes)))
	fmt.Printf("  SHA256:    %s\n", report.SHA256)
	fmt.Printf("  Duration:  %s\n", report.Duration.Round(time.Millisecond))

	return nil
}

// newAcquirer wires an Acquirer from cfg.
func newAcquirer(cfg *config.Config) (*acquire.Acquirer, error) {
	maxSize, err := cfg.MaxArchiveBytes()
	if err != nil {
		return nil, err
	}

	fs := afero.NewOsFs()
	opts := acquire.Options{
		Downloader:     download.NewClient(fs, cfg.Download.Timeout, logger),
		Retry:          retry.New(cfg.Download.RetryAttempts, logger),
		Fs:             fs,
		Logger:         logger,
		APIURL:         cfg.GitHub.APIURL,
		MaxArchiveSize: maxSize,
		MirrorOptions:  []mirror.Option{mirror.WithSupportedHosts(cfg.Mirror.SupportedHosts...)},
		LookupEnv:      lookupEnv,
		OnProgress:     logProgress(progressStep),
	}
	if globalJournal != nil {
		opts.Journal = globalJournal
	}

	sel, err := newSelector(cfg)
	if err != nil {
		return nil, err
	}
	if sel != nil {
		opts.Selector = sel
	}

	return acquire.New(opts), nil
}

// newSelector builds a mirror selector over the configured candidates. It
// returns nil when no candidates are configured.
func newSelector(cfg *config.Config) (*mirror.Selector, error) {
	if len(cfg.Mirror.Candidates) == 0 {
		return nil, nil
	}

	candidates := make([]*mirror.Mirror, 0, len(cfg.Mirror.Candidates))
	for _, raw := range cfg.Mirror.Candidates {
		m, err := mirror.New(raw,
			mirror.WithSupportedHosts(cfg.Mirror.SupportedHosts...),
			mirror.WithTimeout(cfg.Mirror.ProbeTimeout),
		)
		if err != nil {
			return nil, fmt.Errorf("mirror candidate: %w", err)
		}
		candidates = append(candidates, m)
	}

	prober := mirror.NewProber(cfg.Mirror.ProbeURL, logger)
	prober.MaxWait = cfg.Mirror.MaxProbeWait

	return mirror.NewSelector(prober, mirror.SelectorOptions{
		Candidates:   candidates,
		TTL:          cfg.Mirror.CacheTTL,
		ProbeTimeout: cfg.Mirror.ProbeTimeout,
		Logger:       logger,
	}), nil
}

// progressStep is how much data passes between progress log lines.
const progressStep = 8 << 20

// logProgress returns a callback that logs transfer progress at debug level
// every step bytes.
func logProgress(step int64) download.ProgressFunc {
	var next, last int64
	return func(done, total int64) {
		if done < last {
			next = 0
		}
		last = done
		if done < next && done != total {
			return
		}
		next = done + step
		if total > 0 {
			logger.Debug("downloading archive",
				"done", humanize.Bytes(uint64(done)),
				"total", humanize.Bytes(uint64(total)),
				"percent", done*100/total)
			return
		}
		logger.Debug("downloading archive", "done", humanize.Bytes(uint64(done)))
	}
}

// withTimeout is shared by commands that talk to the network without
// a download in flight.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
