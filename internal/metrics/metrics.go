package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "session",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "session",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	ActiveTorrents = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "session",
		Name:      "active_torrents",
		Help:      "Number of torrents loaded in the engine.",
	})

	DownloadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "session",
		Name:      "download_speed_bytes",
		Help:      "Current aggregate download speed in bytes per second.",
	})

	UploadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "session",
		Name:      "upload_speed_bytes",
		Help:      "Current aggregate upload speed in bytes per second.",
	})

	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "session",
		Name:      "peers_connected",
		Help:      "Total number of peers connected across all torrents.",
	})

	ScrapeRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "session",
		Name:      "scrape_requests_total",
		Help:      "Tracker scrape batch requests by outcome.",
	}, []string{"outcome"})

	SnapshotsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "session",
		Name:      "state_snapshots_total",
		Help:      "Resume state snapshots written to the cache by outcome.",
	}, []string{"outcome"})

	ProbeResultsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "session",
		Name:      "reachability_probes_total",
		Help:      "Inbound reachability probes by result.",
	}, []string{"result"})

	PlayDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "session",
		Name:      "play_metadata_wait_seconds",
		Help:      "Time from a play request until torrent metadata was available.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActiveTorrents,
		DownloadSpeedBytes,
		UploadSpeedBytes,
		PeersConnected,
		ScrapeRequestsTotal,
		SnapshotsTotal,
		ProbeResultsTotal,
		PlayDuration,
	)
}
