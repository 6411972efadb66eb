// Package metrics holds the prometheus collectors for mirror probing and
// archive acquisition. They live on a private registry that the CLI can dump
// in textfile-collector format at exit.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every repofetch collector.
var Registry = prometheus.NewRegistry()

var (
	// ProbesTotal counts mirror probes by result (available, http_status, timeout, network, invalid_url).
	ProbesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "repofetch",
		Name:      "mirror_probes_total",
		Help:      "Mirror reachability probes by result.",
	}, []string{"result"})

	// ProbeLatency observes latency of successful probes.
	ProbeLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "repofetch",
		Name:      "mirror_probe_latency_seconds",
		Help:      "Latency of successful mirror probes.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	// SelectorDetections counts selector cache misses that triggered a detection round.
	SelectorDetections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "repofetch",
		Name:      "mirror_detections_total",
		Help:      "Detection rounds run by the mirror selector.",
	})

	// DownloadsTotal counts archive downloads by transport (mirror, direct) and outcome.
	DownloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "repofetch",
		Name:      "archive_downloads_total",
		Help:      "Archive download attempts by transport and outcome.",
	}, []string{"transport", "outcome"})

	// DownloadedBytes counts archive bytes persisted to staging.
	DownloadedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "repofetch",
		Name:      "archive_downloaded_bytes_total",
		Help:      "Archive bytes written to staging files.",
	})

	// AcquireDuration observes end-to-end acquisition time by outcome.
	AcquireDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "repofetch",
		Name:      "acquire_duration_seconds",
		Help:      "End-to-end archive acquisition time.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"outcome"})
)

func init() {
	Registry.MustRegister(
		ProbesTotal,
		ProbeLatency,
		SelectorDetections,
		DownloadsTotal,
		DownloadedBytes,
		AcquireDuration,
	)
}

// WriteTextfile writes the current metric values to path in the
// node_exporter textfile format.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
