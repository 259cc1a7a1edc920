package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/NicolasHaas/gatelog/pkg/invite"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// API counters
	APIRequests     atomic.Int64 // authenticated API requests served
	FailedAuths     atomic.Int64 // failed authentication attempts
	SuccessfulAuths atomic.Int64 // successful authentication attempts
	TokensCreated   atomic.Int64 // API tokens created

	// Invite lifecycle counters
	InvitesIssued  atomic.Int64
	InvitesRevoked atomic.Int64
	ClaimsRecorded atomic.Int64

	// Pairing counters
	PairRequests       atomic.Int64 // pairing requests received
	CandidatesAdmitted atomic.Int64
	CandidatesRejected atomic.Int64
}

var _ invite.Observer = (*Metrics)(nil)

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

func (m *Metrics) InviteIssued()            { m.InvitesIssued.Add(1) }
func (m *Metrics) InviteRevoked()           { m.InvitesRevoked.Add(1) }
func (m *Metrics) ClaimRecorded()           { m.ClaimsRecorded.Add(1) }
func (m *Metrics) CandidateAdmitted()       { m.CandidatesAdmitted.Add(1) }
func (m *Metrics) CandidateRejected(string) { m.CandidatesRejected.Add(1) }

// MetricsSnapshot is a point-in-time view of all metrics as a serializable struct.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	APIRequests     int64 `json:"api_requests"`
	SuccessfulAuths int64 `json:"successful_auths"`
	FailedAuths     int64 `json:"failed_auths"`
	TokensCreated   int64 `json:"tokens_created"`

	InvitesIssued  int64 `json:"invites_issued"`
	InvitesRevoked int64 `json:"invites_revoked"`
	ClaimsRecorded int64 `json:"claims_recorded"`

	PairRequests       int64 `json:"pair_requests"`
	CandidatesAdmitted int64 `json:"candidates_admitted"`
	CandidatesRejected int64 `json:"candidates_rejected"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:             uptime.Truncate(time.Second).String(),
		UptimeSeconds:      int64(uptime.Seconds()),
		APIRequests:        m.APIRequests.Load(),
		SuccessfulAuths:    m.SuccessfulAuths.Load(),
		FailedAuths:        m.FailedAuths.Load(),
		TokensCreated:      m.TokensCreated.Load(),
		InvitesIssued:      m.InvitesIssued.Load(),
		InvitesRevoked:     m.InvitesRevoked.Load(),
		ClaimsRecorded:     m.ClaimsRecorded.Load(),
		PairRequests:       m.PairRequests.Load(),
		CandidatesAdmitted: m.CandidatesAdmitted.Load(),
		CandidatesRejected: m.CandidatesRejected.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"api_requests", s.APIRequests,
		"invites_issued", s.InvitesIssued,
		"invites_revoked", s.InvitesRevoked,
		"pair_requests", s.PairRequests,
		"admitted", s.CandidatesAdmitted,
		"rejected", s.CandidatesRejected,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}
