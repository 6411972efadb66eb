package mirror

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustMirror(t *testing.T, raw string) *Mirror {
	t.Helper()
	m, err := New(raw)
	if err != nil {
		t.Fatalf("New(%q): %v", raw, err)
	}
	return m
}

func TestSelectBestPicksLowestLatency(t *testing.T) {
	results := []ProbeResult{
		{Mirror: "A", Available: true, Latency: 200 * time.Millisecond},
		{Mirror: "B", Available: true, Latency: 50 * time.Millisecond},
		{Mirror: "C", Available: false, Latency: 10 * time.Millisecond, Reason: ReasonNetwork},
	}
	if got := selectBest(results); got != 1 {
		t.Fatalf("selectBest = %d, want 1 (B)", got)
	}
}

func TestSelectBestTiesGoToFirstListed(t *testing.T) {
	results := []ProbeResult{
		{Mirror: "A", Available: false},
		{Mirror: "B", Available: true, Latency: 30 * time.Millisecond},
		{Mirror: "C", Available: true, Latency: 30 * time.Millisecond},
	}
	if got := selectBest(results); got != 1 {
		t.Fatalf("selectBest = %d, want 1 (B)", got)
	}
	if got := selectBest([]ProbeResult{{Available: false}, {Available: false}}); got != -1 {
		t.Fatalf("selectBest with nothing available = %d, want -1", got)
	}
}

func TestProbeRequestsThroughMirror(t *testing.T) {
	var gotPath, gotUser, gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("User-agent: *"))
	}))
	defer srv.Close()

	base := "http://u:p@" + srv.Listener.Addr().String()
	p := NewProber("", discardLogger())
	r := p.Probe(context.Background(), mustMirror(t, base), time.Second)

	if !r.Available {
		t.Fatalf("expected available, got %+v", r)
	}
	if gotPath != "/https://github.com/robots.txt" {
		t.Errorf("unexpected probe path %q", gotPath)
	}
	if gotUser != "u" || gotPass != "p" {
		t.Errorf("expected embedded credentials as basic auth, got %q:%q", gotUser, gotPass)
	}
	if r.Mirror != "http://"+srv.Listener.Addr().String() {
		t.Errorf("result identity should be the clean base URL, got %q", r.Mirror)
	}
}

func TestProbeClassifiesFailures(t *testing.T) {
	badGateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer badGateway.Close()

	stop := make(chan struct{})
	hanging := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-stop:
		}
	}))
	defer hanging.Close()
	defer close(stop)

	p := NewProber("", discardLogger())

	r := p.Probe(context.Background(), mustMirror(t, badGateway.URL), time.Second)
	if r.Available || r.Reason != ReasonHTTPStatus || r.Error != "HTTP 502" {
		t.Errorf("bad gateway: got %+v", r)
	}

	r = p.Probe(context.Background(), mustMirror(t, hanging.URL), 100*time.Millisecond)
	if r.Available || r.Reason != ReasonTimeout {
		t.Errorf("hanging: got %+v", r)
	}

	// Nothing listens on port 1.
	r = p.Probe(context.Background(), mustMirror(t, "http://127.0.0.1:1"), time.Second)
	if r.Available || r.Reason != ReasonNetwork {
		t.Errorf("closed port: got %+v", r)
	}
}

func TestProbeUnsupportedProbeHost(t *testing.T) {
	p := NewProber("https://example.org/ping", discardLogger())
	r := p.Probe(context.Background(), mustMirror(t, "https://mirror.example"), time.Second)
	if r.Available || r.Reason != ReasonInvalidURL {
		t.Errorf("got %+v, want invalid_url", r)
	}
}

func TestDetectBest(t *testing.T) {
	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer fast.Close()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer slow.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	candidates := []*Mirror{mustMirror(t, slow.URL), mustMirror(t, broken.URL), mustMirror(t, fast.URL)}
	det := NewProber("", discardLogger()).DetectBest(context.Background(), candidates, 2*time.Second)

	if len(det.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(det.Results))
	}
	if det.Best == nil || det.Best.BaseURL() != fast.URL {
		t.Fatalf("expected fast mirror, got %v", det.Best)
	}
	for i, c := range candidates {
		if det.Results[i].Mirror != c.BaseURL() {
			t.Errorf("result %d out of order: %q", i, det.Results[i].Mirror)
		}
	}
	if det.Results[1].Available {
		t.Error("broken mirror reported available")
	}
}

func TestDetectBestWaitsForAllProbes(t *testing.T) {
	var finished atomic.Int32
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(150 * time.Millisecond)
		finished.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer slow.Close()

	candidates := []*Mirror{mustMirror(t, slow.URL), mustMirror(t, "http://127.0.0.1:1")}
	det := NewProber("", discardLogger()).DetectBest(context.Background(), candidates, 2*time.Second)

	if finished.Load() != 1 {
		t.Fatalf("DetectBest returned before the slow probe finished")
	}
	if det.Best == nil || det.Best.BaseURL() != slow.URL {
		t.Fatalf("expected slow-but-available mirror, got %v", det.Best)
	}
}

func TestDetectBestNoneAvailable(t *testing.T) {
	det := NewProber("", discardLogger()).DetectBest(context.Background(),
		[]*Mirror{mustMirror(t, "http://127.0.0.1:1")}, time.Second)
	if det.Best != nil {
		t.Fatalf("expected no best mirror, got %v", det.Best)
	}
	if len(det.Results) != 1 || det.Results[0].Available {
		t.Fatalf("unexpected results %+v", det.Results)
	}

	if det := NewProber("", discardLogger()).DetectBest(context.Background(), nil, time.Second); det.Best != nil || len(det.Results) != 0 {
		t.Fatalf("empty candidates should produce an empty detection, got %+v", det)
	}
}

func TestDetectBestMaxWait(t *testing.T) {
	stop := make(chan struct{})
	hanging := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-stop:
		}
	}))
	defer hanging.Close()
	defer close(stop)

	p := NewProber("", discardLogger())
	p.MaxWait = 100 * time.Millisecond

	start := time.Now()
	det := p.DetectBest(context.Background(), []*Mirror{mustMirror(t, hanging.URL)}, 10*time.Second)
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("MaxWait did not bound the round: %v", elapsed)
	}
	if det.Best != nil || det.Results[0].Reason != ReasonTimeout {
		t.Fatalf("expected timeout result, got %+v", det.Results)
	}
}
