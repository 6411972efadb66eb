package mirror

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/BadgerOps/repofetch/internal/metrics"
)

// DefaultCacheTTL is how long a detected mirror stays preferred.
const DefaultCacheTTL = 5 * time.Minute

// Detector runs one probing round over candidates.
type Detector interface {
	DetectBest(ctx context.Context, candidates []*Mirror, perProbeTimeout time.Duration) Detection
}

// Selector caches the best known mirror for a TTL. It is safe for
// concurrent use; concurrent callers that miss the cache share one
// detection round.
type Selector struct {
	detector     Detector
	logger       *slog.Logger
	ttl          time.Duration
	probeTimeout time.Duration
	now          func() time.Time

	group singleflight.Group

	mu         sync.Mutex
	candidates []*Mirror
	best       *Mirror
	detectedAt time.Time
	last       Detection
	// generation changes whenever the cache is invalidated so a detection
	// round started earlier cannot repopulate it.
	generation uint64
}

// SelectorOptions configures a Selector.
type SelectorOptions struct {
	Candidates   []*Mirror
	TTL          time.Duration
	ProbeTimeout time.Duration
	Logger       *slog.Logger
}

// NewSelector creates a Selector backed by detector.
func NewSelector(detector Detector, opts SelectorOptions) *Selector {
	if opts.TTL <= 0 {
		opts.TTL = DefaultCacheTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Selector{
		detector:     detector,
		logger:       opts.Logger,
		ttl:          opts.TTL,
		probeTimeout: opts.ProbeTimeout,
		now:          time.Now,
	}
	for _, m := range opts.Candidates {
		s.addLocked(m)
	}
	return s
}

// GetBest returns the cached mirror while it is younger than the TTL.
// Otherwise, or when force is set, it runs a detection round and caches the
// winner. It returns nil when no candidate is available.
func (s *Selector) GetBest(ctx context.Context, force bool) *Mirror {
	if !force {
		s.mu.Lock()
		if s.best != nil && s.now().Sub(s.detectedAt) < s.ttl {
			best := s.best
			s.mu.Unlock()
			s.logger.Debug("using cached mirror", "mirror", best)
			return best
		}
		s.mu.Unlock()
	}
	return s.Refresh(ctx).Best
}

// Refresh runs a detection round over the current candidates and updates
// the cache with its outcome. The round is shared by concurrent callers and
// outlives the one that started it; a caller whose ctx ends first gets an
// empty Detection.
func (s *Selector) Refresh(ctx context.Context) Detection {
	ch := s.group.DoChan("detect", func() (interface{}, error) {
		return s.detect(context.WithoutCancel(ctx)), nil
	})
	select {
	case res := <-ch:
		return res.Val.(Detection)
	case <-ctx.Done():
		return Detection{}
	}
}

func (s *Selector) detect(ctx context.Context) Detection {
	s.mu.Lock()
	candidates := append([]*Mirror(nil), s.candidates...)
	generation := s.generation
	s.mu.Unlock()

	metrics.SelectorDetections.Inc()
	s.logger.Info("detecting best mirror", "candidates", len(candidates))
	det := s.detector.DetectBest(ctx, candidates, s.probeTimeout)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = det
	if s.generation != generation {
		s.logger.Debug("discarding detection from an invalidated round")
		return det
	}
	if det.Best != nil && s.indexLocked(det.Best) < 0 {
		det.Best = nil
	}
	s.best = det.Best
	s.detectedAt = s.now()
	return det
}

// AddCandidate inserts m if no candidate shares its base URL. The cached
// selection is kept.
func (s *Selector) AddCandidate(m *Mirror) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLocked(m)
}

func (s *Selector) addLocked(m *Mirror) {
	if m == nil || s.indexLocked(m) >= 0 {
		return
	}
	s.candidates = append(s.candidates, m)
}

// RemoveCandidate drops the candidate sharing m's base URL. Removing the
// cached mirror empties the cache.
func (s *Selector) RemoveCandidate(m *Mirror) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(m)
	if idx < 0 {
		return
	}
	s.candidates = append(s.candidates[:idx:idx], s.candidates[idx+1:]...)
	if s.best.Equal(m) {
		s.resetLocked()
	}
}

// ResetCache empties the cache; the next GetBest re-detects.
func (s *Selector) ResetCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Selector) resetLocked() {
	s.best = nil
	s.detectedAt = time.Time{}
	s.generation++
}

// Candidates returns a copy of the candidate list in order.
func (s *Selector) Candidates() []*Mirror {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Mirror(nil), s.candidates...)
}

// Cached returns the cached mirror and its detection time, if still valid.
func (s *Selector) Cached() (*Mirror, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.best == nil || s.now().Sub(s.detectedAt) >= s.ttl {
		return nil, time.Time{}, false
	}
	return s.best, s.detectedAt, true
}

// LastDetection returns the results of the most recent detection round.
func (s *Selector) LastDetection() Detection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Selector) indexLocked(m *Mirror) int {
	for i, c := range s.candidates {
		if c.Equal(m) {
			return i
		}
	}
	return -1
}
