package pairing

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/NicolasHaas/gatelog/pkg/clock"
	"github.com/NicolasHaas/gatelog/pkg/codec"
	"github.com/NicolasHaas/gatelog/pkg/crypto"
	"github.com/NicolasHaas/gatelog/pkg/logging"
)

var (
	// ErrNotAdmitted is returned by Submit when no member confirmed the request.
	ErrNotAdmitted = errors.New("pairing: not admitted")
	// ErrNotOpened is returned by Confirm before a successful Open.
	ErrNotOpened = errors.New("pairing: candidate not opened")
	// ErrMemberExists is returned by AddMember for a discovery key that
	// already has a member.
	ErrMemberExists = errors.New("pairing: member already registered")
)

// Service routes redemption requests to the member serving their log.
type Service struct {
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.RWMutex
	members map[string]*Member // keyed by hex discovery key
}

// NewService creates a pairing service. A nil clock uses the wall clock.
func NewService(c clock.Clock, logger *slog.Logger) *Service {
	return &Service{
		clock:   clock.Or(c),
		logger:  logging.Component(logger, "pairing"),
		members: make(map[string]*Member),
	}
}

// Member receives candidates for one log until closed.
type Member struct {
	svc          *Service
	discoveryKey string
	onAdd        func(*Candidate)

	closeOnce sync.Once
}

// AddMember registers onAdd to receive every candidate for the log with
// the given discovery key.
func (s *Service) AddMember(discoveryKey []byte, onAdd func(*Candidate)) (*Member, error) {
	if len(discoveryKey) == 0 || onAdd == nil {
		return nil, fmt.Errorf("pairing: add member: missing discovery key or handler")
	}
	key := hex.EncodeToString(discoveryKey)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.members[key]; exists {
		return nil, ErrMemberExists
	}
	m := &Member{svc: s, discoveryKey: key, onAdd: onAdd}
	s.members[key] = m
	s.logger.Debug("member added", "discovery_key", key)
	return m, nil
}

// Close stops routing candidates to this member.
func (m *Member) Close() error {
	m.closeOnce.Do(func() {
		m.svc.mu.Lock()
		defer m.svc.mu.Unlock()
		if m.svc.members[m.discoveryKey] == m {
			delete(m.svc.members, m.discoveryKey)
		}
	})
	return nil
}

func (s *Service) member(discoveryKey []byte) *Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.members[hex.EncodeToString(discoveryKey)]
}

// Submit hands req to the member for its log, in its own goroutine, and
// waits for the handler to return or ctx to end. It returns the sealed
// reply if the member confirmed the candidate, ErrNotAdmitted otherwise.
func (s *Service) Submit(ctx context.Context, req *Request) (*Reply, error) {
	m := s.member(req.DiscoveryKey)
	if m == nil {
		return nil, ErrNotAdmitted
	}

	cand := &Candidate{request: req}
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("candidate handler panicked", "panic", r)
			}
		}()
		m.onAdd(cand)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrNotAdmitted, ctx.Err())
	}

	if reply := cand.reply(); reply != nil {
		return reply, nil
	}
	return nil, ErrNotAdmitted
}

// Candidate is one redemption request awaiting a member's decision.
type Candidate struct {
	request *Request

	mu        sync.Mutex
	opened    bool
	confirmed *Reply
}

// InviteID returns the invite the candidate claims to hold.
func (c *Candidate) InviteID() []byte {
	return c.request.InviteID
}

// Open authenticates the candidate against the invite's public key.
func (c *Candidate) Open(publicKey ed25519.PublicKey) error {
	if err := c.request.verify(publicKey); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened = true
	return nil
}

// Confirm admits an opened candidate, sealing conf to its recipient.
func (c *Candidate) Confirm(conf Confirmation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened {
		return ErrNotOpened
	}
	plaintext, err := codec.Marshal(conf)
	if err != nil {
		return fmt.Errorf("pairing: confirm: %w", err)
	}
	sealed, err := crypto.Seal(c.request.Recipient, plaintext)
	if err != nil {
		return fmt.Errorf("pairing: confirm: %w", err)
	}
	c.confirmed = &Reply{InviteID: c.request.InviteID, Sealed: sealed}
	return nil
}

func (c *Candidate) reply() *Reply {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confirmed
}
