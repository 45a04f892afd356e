package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCollectorExposesMetrics(t *testing.T) {
	c := NewCollector("rollout")
	c.RecordDeployment("canary", "completed")
	c.RecordRollback("automatic")
	c.RecordStageDuration("canary", 90*time.Second)
	c.RecordApply(true)
	c.RecordApply(false)
	c.ActiveDeployments.Inc()

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	for _, want := range []string{
		`rollout_deployments_total{status="completed",strategy="canary"} 1`,
		`rollout_rollbacks_total{trigger="automatic"} 1`,
		`rollout_apply_calls_total{result="ok"} 1`,
		`rollout_apply_calls_total{result="error"} 1`,
		`rollout_active_deployments 1`,
		"rollout_stage_duration_seconds_count",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestCollectorsAreIndependent(t *testing.T) {
	// Two collectors must not collide on a shared registry.
	a := NewCollector("rollout")
	b := NewCollector("rollout")
	a.RecordDeployment("direct", "failed")
	b.RecordDeployment("direct", "failed")
}
