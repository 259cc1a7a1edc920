package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetricsEndpoint(t *testing.T) {
	srv := New(DefaultConfig(), Dependencies{})
	srv.metrics.InviteIssued()
	srv.metrics.InviteIssued()
	srv.metrics.CandidateRejected("expired")

	api := httptest.NewServer(srv.metricsMux())
	defer api.Close()

	resp, err := api.Client().Get(api.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	for _, line := range []string{
		"gatelog_invites_issued_total 2",
		"gatelog_candidates_rejected_total 1",
		"gatelog_candidates_admitted_total 0",
		"# TYPE gatelog_uptime_seconds gauge",
	} {
		if !strings.Contains(string(body), line+"\n") {
			t.Errorf("metrics output missing %q", line)
		}
	}

	resp, err = api.Client().Get(api.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
}

func TestMetricsSnapshotJSON(t *testing.T) {
	m := NewMetrics()
	m.ClaimRecorded()
	m.PairRequests.Add(3)

	var snap MetricsSnapshot
	if err := json.Unmarshal([]byte(m.JSON()), &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snap.ClaimsRecorded != 1 || snap.PairRequests != 3 {
		t.Fatalf("snapshot = %+v", snap)
	}
}
