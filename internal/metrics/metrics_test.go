package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterExposesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)

	ScrapeRequestsTotal.WithLabelValues("ok").Inc()
	SnapshotsTotal.WithLabelValues("ok").Inc()
	ProbeResultsTotal.WithLabelValues("reachable").Inc()
	HTTPRequestsTotal.WithLabelValues("GET", "/torrents", "200").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/torrents").Observe(0.1)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"session_scrape_requests_total",
		"session_state_snapshots_total",
		"session_reachability_probes_total",
		"session_http_requests_total",
		"session_active_torrents",
	} {
		if !names[want] {
			t.Fatalf("metric %s not gathered; have %v", want, names)
		}
	}
}

func TestRegisterTwicePanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)
	defer func() {
		if recover() == nil {
			t.Fatal("second Register on the same registry should panic")
		}
	}()
	Register(reg)
}
