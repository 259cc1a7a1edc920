package invite

import (
	"context"
	"fmt"
	"sync"

	"github.com/NicolasHaas/gatelog/pkg/pairing"
)

// Admission is a running admission listener for one log. Create it with
// Manager.StartAdmission and release it with Stop.
type Admission struct {
	m      *Manager
	member *pairing.Member

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// StartAdmission registers with p to receive pairing candidates for the
// manager's log and admits those holding an admissible invite.
func (m *Manager) StartAdmission(p Pairer) (*Admission, error) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Admission{m: m, ctx: ctx, cancel: cancel}

	member, err := p.AddMember(m.log.DiscoveryKey(), func(c *pairing.Candidate) {
		a.OnCandidate(c)
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("invite: start admission: %w", err)
	}
	a.member = member
	m.logger.Info("admission started", "discovery_key", fmt.Sprintf("%x", m.log.DiscoveryKey()))
	return a, nil
}

// Stop unregisters the listener. Candidates that have not yet reached
// Confirm are dropped; one already confirming may finish.
func (a *Admission) Stop() error {
	var err error
	a.once.Do(func() {
		a.cancel()
		if a.member != nil {
			err = a.member.Close()
		}
		a.m.logger.Info("admission stopped")
	})
	return err
}

// OnCandidate decides one candidate. Every lookup runs fresh against the
// view and the current clock; nothing is shared between candidates. Any
// failure, including a panic, drops the candidate without surfacing an
// error to it.
//
// No lock is held between the admissibility check and Confirm, so a
// revocation can race an admission in progress. The check is repeated
// right before Confirm to narrow that window.
func (a *Admission) OnCandidate(c Candidate) {
	m := a.m
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("candidate handler panicked", "panic", r)
			m.observer.CandidateRejected("panic")
		}
	}()

	reject := func(reason string, args ...any) {
		m.logger.Debug("candidate rejected", append([]any{"reason", reason}, args...)...)
		m.observer.CandidateRejected(reason)
	}

	if a.ctx.Err() != nil {
		reject("stopped")
		return
	}

	id := c.InviteID()
	inv := m.store.FindByID(a.ctx, id)
	if reason := rejectReason(inv, m.clock.Now()); reason != "" {
		reject(reason, "invite", fmt.Sprintf("%x", id))
		return
	}

	if err := c.Open(inv.PublicKey); err != nil {
		m.logger.Warn("candidate open failed", "invite", inv.HexID(), "err", err)
		m.observer.CandidateRejected("open failed")
		return
	}

	latest := m.store.FindByID(a.ctx, id)
	if reason := rejectReason(latest, m.clock.Now()); reason != "" {
		m.logger.Info("invite became inadmissible during handshake", "invite", inv.HexID(), "reason", reason)
		m.observer.CandidateRejected(reason)
		return
	}
	if a.ctx.Err() != nil {
		reject("stopped")
		return
	}

	if err := c.Confirm(pairing.Confirmation{
		Key:           m.log.Key(),
		EncryptionKey: m.log.EncryptionKey(),
	}); err != nil {
		m.logger.Warn("candidate confirm failed", "invite", inv.HexID(), "err", err)
		m.observer.CandidateRejected("confirm failed")
		return
	}

	m.observer.CandidateAdmitted()
	m.logger.Info("candidate admitted", "invite", inv.HexID(), "server", inv.ServerID)
}
