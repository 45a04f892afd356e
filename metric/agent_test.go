package metric

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/scrawlsbenches/rollout/target"
)

func metricsAgent(t *testing.T, m agentMetrics) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/metrics" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("window") == "" {
			t.Error("window query parameter missing")
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAgentSourceAggregates(t *testing.T) {
	// Agent one serves 3x the traffic of agent two, so its rates dominate
	// the weighted merge.
	a1 := metricsAgent(t, agentMetrics{
		ErrorRate: 1.0, SuccessRate: 99.0, LatencyP95Ms: 120, RequestsPerSec: 300, ConnFailures: 4,
	})
	a2 := metricsAgent(t, agentMetrics{
		ErrorRate: 5.0, SuccessRate: 95.0, LatencyP95Ms: 80, RequestsPerSec: 100, ConnFailures: 2,
	})

	set := target.NewSet()
	set.Add(target.Target{ID: "t1", Address: a1.URL, Artifact: "app:v2"})
	set.Add(target.Target{ID: "t2", Address: a2.URL, Artifact: "app:v2"})

	src := NewAgentSource(set, time.Second, discard())
	defer src.Close()

	snap, err := src.Snapshot(context.Background(), Query{
		Targets:  []target.ID{"t1", "t2"},
		Window:   time.Minute,
		Scope:    ScopeCandidate,
		Artifact: "app:v2",
	})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	// (1.0*300 + 5.0*100) / 400 = 2.0
	if snap.ErrorRate < 1.99 || snap.ErrorRate > 2.01 {
		t.Errorf("weighted error rate = %v, want 2.0", snap.ErrorRate)
	}
	if snap.RequestsPerSec != 400 {
		t.Errorf("rps = %v", snap.RequestsPerSec)
	}
	if snap.ConnFailures != 6 {
		t.Errorf("conn failures = %d", snap.ConnFailures)
	}
	// Worst-agent percentile.
	if snap.LatencyP95 != 120*time.Millisecond {
		t.Errorf("p95 = %s", snap.LatencyP95)
	}
	if snap.Scope != ScopeCandidate {
		t.Errorf("scope = %s", snap.Scope)
	}
}

func TestAgentSourceSkipsUnreachableAgents(t *testing.T) {
	a1 := metricsAgent(t, agentMetrics{ErrorRate: 0.5, RequestsPerSec: 100})

	set := target.NewSet()
	set.Add(target.Target{ID: "t1", Address: a1.URL})
	set.Add(target.Target{ID: "t2", Address: "http://127.0.0.1:1"}) // nothing listens here

	src := NewAgentSource(set, 200*time.Millisecond, discard())
	defer src.Close()

	snap, err := src.Snapshot(context.Background(), Query{
		Targets: []target.ID{"t1", "t2"},
		Window:  time.Minute,
	})
	if err != nil {
		t.Fatalf("snapshot should succeed with one live agent: %v", err)
	}
	if snap.RequestsPerSec != 100 {
		t.Errorf("rps = %v", snap.RequestsPerSec)
	}
}

func TestAgentSourceAllUnreachable(t *testing.T) {
	set := target.NewSet()
	set.Add(target.Target{ID: "t1", Address: "http://127.0.0.1:1"})

	src := NewAgentSource(set, 200*time.Millisecond, discard())
	defer src.Close()

	_, err := src.Snapshot(context.Background(), Query{
		Targets: []target.ID{"t1"},
		Window:  time.Minute,
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
