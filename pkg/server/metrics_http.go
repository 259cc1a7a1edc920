package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// StartMetricsHTTP starts a lightweight HTTP server that exposes /metrics
// in Prometheus text exposition format. It runs in the background and
// shuts down when the server context is cancelled.
//
// Bind address is :9702 by default, configurable via Config.MetricsAddr.
func (s *Server) StartMetricsHTTP() {
	addr := s.cfg.MetricsAddr
	if addr == "" {
		return // metrics endpoint disabled
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.metricsMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info("metrics HTTP listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics HTTP error", "err", err)
		}
	}()

	go func() {
		<-s.ctx.Done()
		_ = srv.Close()
	}()
}

func (s *Server) metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// handleMetrics writes all metrics in Prometheus text exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.metrics
	uptime := time.Since(m.startTime).Seconds()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Helper for gauge/counter lines.
	// Write errors to http.ResponseWriter are non-actionable; suppress errcheck.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}
	writeFloat := func(name, help, mtype string, value float64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %f\n", name, value)
	}

	writeFloat("gatelog_uptime_seconds", "Server uptime in seconds.", "gauge", uptime)

	write("gatelog_api_requests_total", "Authenticated API requests served.", "counter",
		m.APIRequests.Load())
	write("gatelog_auth_success_total", "Successful authentication attempts.", "counter",
		m.SuccessfulAuths.Load())
	write("gatelog_auth_failed_total", "Failed authentication attempts.", "counter",
		m.FailedAuths.Load())
	write("gatelog_tokens_created_total", "API tokens created.", "counter",
		m.TokensCreated.Load())

	write("gatelog_invites_issued_total", "Invites issued.", "counter",
		m.InvitesIssued.Load())
	write("gatelog_invites_revoked_total", "Invites revoked.", "counter",
		m.InvitesRevoked.Load())
	write("gatelog_claims_recorded_total", "Invite claims recorded.", "counter",
		m.ClaimsRecorded.Load())

	write("gatelog_pair_requests_total", "Pairing requests received.", "counter",
		m.PairRequests.Load())
	write("gatelog_candidates_admitted_total", "Pairing candidates admitted.", "counter",
		m.CandidatesAdmitted.Load())
	write("gatelog_candidates_rejected_total", "Pairing candidates rejected.", "counter",
		m.CandidatesRejected.Load())
}
