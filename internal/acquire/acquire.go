// Package acquire downloads a repository snapshot archive, through a mirror
// proxy or directly, and unpacks it into a target directory.
package acquire

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/BadgerOps/repofetch/internal/download"
	"github.com/BadgerOps/repofetch/internal/fetcherr"
	"github.com/BadgerOps/repofetch/internal/github"
	"github.com/BadgerOps/repofetch/internal/journal"
	"github.com/BadgerOps/repofetch/internal/metrics"
	"github.com/BadgerOps/repofetch/internal/mirror"
	"github.com/BadgerOps/repofetch/internal/retry"
	"github.com/BadgerOps/repofetch/internal/safety"
)

// AutoMirrorEnv enables automatic mirror selection when no proxy is given.
// It is read on every acquisition.
const AutoMirrorEnv = "REPOFETCH_AUTO_MIRROR"

const (
	wikiSuffix         = ".wiki"
	wikiFallbackBranch = "master"
	headsPrefix        = "refs/heads/"
)

// Transport names used in reports, logs and metrics.
const (
	TransportMirror = "mirror"
	TransportDirect = "direct"
)

// RefResolver looks up a repository's default branch.
type RefResolver interface {
	DefaultBranch(ctx context.Context, owner, repo string) (string, error)
}

// Downloader fetches one URL to a file.
type Downloader interface {
	Download(ctx context.Context, opts download.Options) (*download.Result, error)
}

// MirrorSelector returns the preferred mirror, or nil.
type MirrorSelector interface {
	GetBest(ctx context.Context, force bool) *mirror.Mirror
}

// Recorder persists acquisition outcomes.
type Recorder interface {
	Record(ctx context.Context, e *journal.Entry) error
}

// Request describes one acquisition. ServerURL defaults to github.com.
type Request struct {
	Owner     string
	Repo      string
	Ref       string
	Commit    string
	TargetDir string
	ServerURL string
	ProxyURL  string
	AuthToken string
	// SHA256 pins the archive digest as hex. Empty skips the check.
	SHA256 string
}

// Report summarizes a successful acquisition.
type Report struct {
	Ref       string
	Commit    string
	Transport string
	Mirror    string
	TopLevel  string
	Files     int
	Bytes     int64
	SHA256    string
	Duration  time.Duration
}

// Options configures an Acquirer. Zero values pick defaults.
type Options struct {
	// Resolvers are tried in order for the default branch. When empty the
	// REST API and then git ls-remote are used for the request's server.
	Resolvers  []RefResolver
	Downloader Downloader
	Selector   MirrorSelector
	Retry      *retry.Executor
	Fs         afero.Fs
	Journal    Recorder
	Logger     *slog.Logger

	// APIURL overrides the REST base derived from the request server.
	APIURL string
	// Format overrides the platform archive format.
	Format github.Format
	// MirrorOptions apply to mirrors built from Request.ProxyURL.
	MirrorOptions []mirror.Option
	// MaxArchiveSize caps the downloaded archive; 0 means unlimited.
	MaxArchiveSize int64
	// CopyOnRelocate copies instead of renaming; defaults to true on windows.
	CopyOnRelocate *bool
	// LookupEnv reads the environment; defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
	// OnProgress receives archive transfer progress.
	OnProgress download.ProgressFunc
}

// Acquirer runs the acquisition pipeline.
type Acquirer struct {
	resolvers      []RefResolver
	downloader     Downloader
	selector       MirrorSelector
	retry          *retry.Executor
	fs             afero.Fs
	journal        Recorder
	logger         *slog.Logger
	apiURL         string
	format         github.Format
	mirrorOpts     []mirror.Option
	maxArchiveSize int64
	copyOnRelocate bool
	lookupEnv      func(string) (string, bool)
	onProgress     download.ProgressFunc
}

// New creates an Acquirer.
func New(opts Options) *Acquirer {
	a := &Acquirer{
		resolvers:      opts.Resolvers,
		downloader:     opts.Downloader,
		selector:       opts.Selector,
		retry:          opts.Retry,
		fs:             opts.Fs,
		journal:        opts.Journal,
		logger:         opts.Logger,
		apiURL:         opts.APIURL,
		format:         opts.Format,
		mirrorOpts:     opts.MirrorOptions,
		maxArchiveSize: opts.MaxArchiveSize,
		copyOnRelocate: runtime.GOOS == "windows",
		lookupEnv:      opts.LookupEnv,
		onProgress:     opts.OnProgress,
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.fs == nil {
		a.fs = afero.NewOsFs()
	}
	if a.retry == nil {
		a.retry = retry.New(retry.DefaultMaxAttempts, a.logger)
	}
	if a.downloader == nil {
		a.downloader = download.NewClient(a.fs, download.DefaultTimeout, a.logger)
	}
	if a.format == "" {
		a.format = github.PlatformFormat()
	}
	if opts.CopyOnRelocate != nil {
		a.copyOnRelocate = *opts.CopyOnRelocate
	}
	if a.lookupEnv == nil {
		a.lookupEnv = os.LookupEnv
	}
	return a
}

// job is the per-call staging state.
type job struct {
	id          string
	targetDir   string
	archivePath string
	stagingDir  string
	sha256      string
}

// Acquire populates req.TargetDir with the repository content at the
// requested ref or commit. On failure the target directory may hold partial
// content and should be discarded.
func (a *Acquirer) Acquire(ctx context.Context, req Request) (*Report, error) {
	start := time.Now()
	entry := &journal.Entry{
		Owner:     req.Owner,
		Repo:      req.Repo,
		Ref:       req.Ref,
		Commit:    req.Commit,
		TargetDir: req.TargetDir,
		StartTime: start,
	}

	report, err := a.acquire(ctx, req, entry)

	outcome := journal.StatusSuccess
	if err != nil {
		outcome = journal.StatusFailed
		entry.ErrorMessage = err.Error()
	}
	entry.Status = outcome
	entry.EndTime = time.Now()
	metrics.AcquireDuration.WithLabelValues(outcome).Observe(entry.EndTime.Sub(start).Seconds())

	if a.journal != nil {
		if jerr := a.journal.Record(ctx, entry); jerr != nil {
			a.logger.Warn("failed to record acquisition", "repo", req.Owner+"/"+req.Repo, "error", jerr)
		}
	}

	if err != nil {
		return nil, err
	}
	report.Duration = entry.EndTime.Sub(start)
	a.logger.Info("repository acquired",
		"repo", req.Owner+"/"+req.Repo,
		"ref", report.Ref,
		"transport", report.Transport,
		"files", report.Files,
		"size", humanize.Bytes(uint64(report.Bytes)),
		"duration", report.Duration.Round(time.Millisecond),
	)
	return report, nil
}

func (a *Acquirer) acquire(ctx context.Context, req Request, entry *journal.Entry) (*Report, error) {
	if req.Owner == "" || req.Repo == "" {
		return nil, &fetcherr.ConfigurationError{Setting: "repository", Err: errors.New("owner and repo are required")}
	}
	if req.TargetDir == "" {
		return nil, &fetcherr.ConfigurationError{Setting: "target directory", Err: errors.New("must not be empty")}
	}
	if req.SHA256 != "" {
		if _, err := hex.DecodeString(req.SHA256); err != nil || len(req.SHA256) != 64 {
			return nil, &fetcherr.ConfigurationError{Setting: "archive checksum", Err: errors.New("expected 64 hex characters")}
		}
	}
	targetDir, err := filepath.Abs(req.TargetDir)
	if err != nil {
		return nil, fmt.Errorf("resolving target directory: %w", err)
	}
	repo := github.NewRepo(req.ServerURL, req.Owner, req.Repo)

	ref := req.Ref
	if ref == "" && req.Commit == "" {
		ref, err = a.resolveDefaultRef(ctx, repo, req.AuthToken)
		if err != nil {
			return nil, err
		}
		entry.Ref = ref
	}
	archiveRef := req.Commit
	if archiveRef == "" {
		archiveRef = ref
	}

	strategies, err := a.strategies(ctx, req, repo, archiveRef)
	if err != nil {
		return nil, err
	}

	if err := a.fs.MkdirAll(targetDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating target directory: %w", err)
	}

	id := uuid.NewString()
	j := &job{
		id:          id,
		targetDir:   targetDir,
		archivePath: filepath.Join(targetDir, id+a.format.Ext()),
		stagingDir:  filepath.Join(targetDir, id),
		sha256:      req.SHA256,
	}
	defer a.cleanup(j)

	result, used, err := a.download(ctx, strategies, j)
	if err != nil {
		return nil, err
	}
	entry.Transport = used.transport
	entry.Bytes = result.Size
	entry.SHA256 = result.SHA256
	if used.mirror != nil {
		entry.Mirror = used.mirror.BaseURL()
	}

	files, err := a.extractArchive(j.archivePath, j.stagingDir, a.format)
	if err != nil {
		return nil, err
	}
	a.removeArchive(j)

	topLevel, err := a.locateRoot(j.stagingDir)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("located archive root", "name", topLevel, "files", files)

	if err := a.relocate(filepath.Join(j.stagingDir, topLevel), targetDir); err != nil {
		return nil, err
	}

	return &Report{
		Ref:       ref,
		Commit:    req.Commit,
		Transport: used.transport,
		Mirror:    entry.Mirror,
		TopLevel:  topLevel,
		Files:     files,
		Bytes:     result.Size,
		SHA256:    result.SHA256,
	}, nil
}

// resolveDefaultRef asks each resolver in turn for the default branch and
// returns it as a fully qualified ref.
func (a *Acquirer) resolveDefaultRef(ctx context.Context, repo github.Repo, token string) (string, error) {
	resolvers := a.resolvers
	if len(resolvers) == 0 {
		api := github.NewClient(repo.ServerURL, token, a.logger)
		if a.apiURL != "" {
			api.WithAPIURL(a.apiURL)
		}
		resolvers = []RefResolver{api, github.NewRemoteResolver(repo.ServerURL, token, a.logger)}
	}

	var lastErr error
	for _, r := range resolvers {
		var branch string
		err := a.retry.Do(ctx, "resolve default branch", func(ctx context.Context) error {
			b, err := r.DefaultBranch(ctx, repo.Owner, repo.Name)
			branch = b
			return err
		})
		if err == nil {
			ref := normalizeBranch(branch)
			a.logger.Info("resolved default branch", "repo", repo.String(), "ref", ref)
			return ref, nil
		}

		if fetcherr.IsNotFound(err) {
			if strings.HasSuffix(repo.Name, wikiSuffix) {
				a.logger.Warn("wiki repository not found by API, assuming default branch",
					"repo", repo.String(), "branch", wikiFallbackBranch)
				return normalizeBranch(wikiFallbackBranch), nil
			}
			return "", err
		}
		if errors.Is(err, context.Canceled) {
			return "", err
		}

		a.logger.Warn("default branch lookup failed", "repo", repo.String(), "error", err)
		lastErr = err
	}
	return "", lastErr
}

// normalizeBranch qualifies a bare branch name with refs/heads/.
func normalizeBranch(name string) string {
	if strings.HasPrefix(name, "refs/") {
		return name
	}
	return headsPrefix + name
}

// strategy is one way of reaching the archive.
type strategy struct {
	transport string
	mirror    *mirror.Mirror
	url       safety.SecretURL
	headers   map[string]string
}

// strategies returns the ordered transports to try: a mirror first when one
// applies, then direct.
func (a *Acquirer) strategies(ctx context.Context, req Request, repo github.Repo, archiveRef string) ([]strategy, error) {
	api := github.NewClient(repo.ServerURL, req.AuthToken, a.logger)
	if a.apiURL != "" {
		api.WithAPIURL(a.apiURL)
	}
	direct := strategy{
		transport: TransportDirect,
		url:       safety.NewSecretURL(api.ArchiveURL(repo.Owner, repo.Name, archiveRef, a.format)),
		headers:   map[string]string{},
	}
	if req.AuthToken != "" {
		direct.headers["Authorization"] = "Bearer " + req.AuthToken
	}

	webURL := repo.WebArchiveURL(archiveRef, a.format)

	var m *mirror.Mirror
	switch {
	case req.ProxyURL != "":
		explicit, err := mirror.New(req.ProxyURL, a.mirrorOpts...)
		if err != nil {
			return nil, err
		}
		if !explicit.IsSupported(repo.Host()) {
			a.logger.Warn("mirror proxy does not serve this host, downloading directly",
				"mirror", explicit, "host", repo.Host())
			return []strategy{direct}, nil
		}
		m = explicit
	case a.autoMirrorEnabled() && a.selector != nil:
		m = a.selector.GetBest(ctx, false)
		if m == nil {
			a.logger.Info("no mirror available, downloading directly")
			return []strategy{direct}, nil
		}
	default:
		return []strategy{direct}, nil
	}

	proxied, err := m.Translate(webURL)
	if errors.Is(err, fetcherr.ErrUnsupportedMirror) {
		a.logger.Warn("mirror does not serve this host, downloading directly", "mirror", m, "host", repo.Host())
		return []strategy{direct}, nil
	}
	if err != nil {
		return nil, err
	}
	return []strategy{
		{transport: TransportMirror, mirror: m, url: proxied},
		direct,
	}, nil
}

func (a *Acquirer) autoMirrorEnabled() bool {
	v, ok := a.lookupEnv(AutoMirrorEnv)
	if !ok {
		return false
	}
	enabled, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		a.logger.Warn("ignoring unparsable environment flag", "name", AutoMirrorEnv, "value", v)
		return false
	}
	return enabled
}
