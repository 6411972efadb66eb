package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BadgerOps/repofetch/internal/metrics"
	"github.com/BadgerOps/repofetch/internal/safety"
)

const (
	// DefaultProbeURL is a small, cacheable origin resource fetched through each mirror.
	DefaultProbeURL = "https://github.com/robots.txt"

	defaultProbeTimeout = 5 * time.Second
	maxProbeBodyBytes   = 64 * 1024
)

// Reason classifies why a probe reported the mirror unavailable.
type Reason string

const (
	ReasonHTTPStatus Reason = "http_status"
	ReasonTimeout    Reason = "timeout"
	ReasonNetwork    Reason = "network"
	ReasonInvalidURL Reason = "invalid_url"
)

// ProbeResult holds the outcome of one mirror probe.
type ProbeResult struct {
	Mirror    string        `json:"mirror"`
	Available bool          `json:"available"`
	Latency   time.Duration `json:"latency"`
	Reason    Reason        `json:"reason,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Detection is the aggregate of one probing round.
type Detection struct {
	Best    *Mirror
	Results []ProbeResult
}

// Prober tests mirrors for reachability and latency.
type Prober struct {
	client   *http.Client
	logger   *slog.Logger
	probeURL string

	// MaxWait bounds a whole DetectBest round. Zero leaves the round bounded
	// only by the slowest per-probe timeout.
	MaxWait time.Duration
}

// NewProber creates a Prober that fetches probeURL through each mirror.
func NewProber(probeURL string, logger *slog.Logger) *Prober {
	if probeURL == "" {
		probeURL = DefaultProbeURL
	}
	return &Prober{
		client:   safety.NewHTTPClient(0),
		logger:   logger,
		probeURL: probeURL,
	}
}

// Probe fetches the probe URL through m and classifies the outcome. It
// never returns an error: failures are reported as Available false.
func (p *Prober) Probe(ctx context.Context, m *Mirror, timeout time.Duration) ProbeResult {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	result := p.probe(ctx, m, timeout)

	if result.Available {
		metrics.ProbesTotal.WithLabelValues("available").Inc()
		metrics.ProbeLatency.Observe(result.Latency.Seconds())
	} else {
		metrics.ProbesTotal.WithLabelValues(string(result.Reason)).Inc()
	}
	return result
}

func (p *Prober) probe(ctx context.Context, m *Mirror, timeout time.Duration) ProbeResult {
	target, err := m.Translate(p.probeURL)
	if err != nil {
		return ProbeResult{Mirror: m.BaseURL(), Reason: ReasonInvalidURL, Error: "probe URL not relayed by mirror"}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target.Reveal(), nil)
	if err != nil {
		return ProbeResult{Mirror: m.BaseURL(), Reason: ReasonInvalidURL, Error: "cannot build probe request"}
	}
	req.Header.Set("User-Agent", safety.UserAgent)

	start := time.Now()
	resp, err := p.client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		// The raw error embeds the proxy URL; only the masked form is logged.
		p.logger.Debug("mirror probe failed", "mirror", m, "error", safety.MaskUserinfo(err.Error()))
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return ProbeResult{Mirror: m.BaseURL(), Latency: elapsed, Reason: ReasonTimeout, Error: fmt.Sprintf("timed out after %s", timeout)}
		}
		return ProbeResult{Mirror: m.BaseURL(), Latency: elapsed, Reason: ReasonNetwork, Error: "connection failed"}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxProbeBodyBytes))
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ProbeResult{Mirror: m.BaseURL(), Latency: elapsed, Reason: ReasonHTTPStatus, Error: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
	return ProbeResult{Mirror: m.BaseURL(), Available: true, Latency: elapsed}
}

// DetectBest probes every candidate concurrently, waits for all of them, and
// returns the available mirror with the lowest latency. Ties go to the
// earliest candidate. Best is nil when nothing is available.
func (p *Prober) DetectBest(ctx context.Context, candidates []*Mirror, perProbeTimeout time.Duration) Detection {
	if len(candidates) == 0 {
		return Detection{}
	}
	if p.MaxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.MaxWait)
		defer cancel()
	}

	results := make([]ProbeResult, len(candidates))
	var g errgroup.Group
	for i, m := range candidates {
		timeout := perProbeTimeout
		if timeout <= 0 {
			timeout = m.Timeout
		}
		g.Go(func() error {
			results[i] = p.Probe(ctx, m, timeout)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		p.logger.Debug("mirror probe result", "mirror", r.Mirror, "available", r.Available, "latency", r.Latency, "reason", r.Reason)
	}

	det := Detection{Results: results}
	if idx := selectBest(results); idx >= 0 {
		det.Best = candidates[idx]
		p.logger.Info("selected mirror", "mirror", det.Best, "latency", results[idx].Latency, "candidates", len(candidates))
	} else {
		p.logger.Warn("no mirror available", "candidates", len(candidates))
	}
	return det
}

// selectBest returns the index of the available result with the lowest
// latency, the first listed on ties, or -1.
func selectBest(results []ProbeResult) int {
	best := -1
	for i, r := range results {
		if !r.Available {
			continue
		}
		if best < 0 || r.Latency < results[best].Latency {
			best = i
		}
	}
	return best
}
