package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/NicolasHaas/gatelog/pkg/model"
)

// ErrUnavailable is returned by a MemoryStore whose reads have been failed
// with FailReads. It stands in for a view that is temporarily unreachable.
var ErrUnavailable = errors.New("store: view unavailable")

// MemoryStore provides an in-memory DataStore implementation for tests.
// It mirrors SQLite behavior for validation and error handling.
type MemoryStore struct {
	mu sync.RWMutex

	now func() time.Time

	actions    []model.SignedAction
	appliedSeq uint64

	invitesByID map[string]*model.Invite
	revocations map[string]revocation
	claims      []model.Claim

	nextTokenID  int64
	tokensByHash map[string]*model.APIToken

	failReads bool
}

type revocation struct {
	at time.Time
	by string
}

// NewMemory creates a MemoryStore using time.Now().UTC().
func NewMemory() *MemoryStore {
	return NewMemoryWithClock(func() time.Time { return time.Now().UTC() })
}

// NewMemoryWithClock creates a MemoryStore with a custom clock.
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		now:          now,
		invitesByID:  make(map[string]*model.Invite),
		revocations:  make(map[string]revocation),
		nextTokenID:  1,
		tokensByHash: make(map[string]*model.APIToken),
	}
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

// FailReads makes every view read return ErrUnavailable until called
// again with false.
func (s *MemoryStore) FailReads(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failReads = fail
}

// ---- Journal ----

// AppendAction stores action and returns its assigned sequence number.
func (s *MemoryStore) AppendAction(_ context.Context, action model.SignedAction) (uint64, error) {
	if !action.Type.IsValid() {
		return 0, fmt.Errorf("store: append action: empty type")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	action.Seq = uint64(len(s.actions)) + 1
	action.Payload = slices.Clone(action.Payload)
	action.Signer = slices.Clone(action.Signer)
	action.Signature = slices.Clone(action.Signature)
	s.actions = append(s.actions, action)
	return action.Seq, nil
}

// ListActions returns up to limit actions with Seq > afterSeq.
func (s *MemoryStore) ListActions(_ context.Context, afterSeq uint64, limit int) ([]model.SignedAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if afterSeq >= uint64(len(s.actions)) {
		return nil, nil
	}
	rest := s.actions[afterSeq:]
	if limit > 0 && len(rest) > limit {
		rest = rest[:limit]
	}
	return slices.Clone(rest), nil
}

// AppliedSeq returns the highest projected sequence number.
func (s *MemoryStore) AppliedSeq(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.appliedSeq, nil
}

// ---- Projection ----

// ApplyInvite materializes an issued invite.
func (s *MemoryStore) ApplyInvite(_ context.Context, seq uint64, invite model.Invite) error {
	if len(invite.ID) == 0 || invite.Code == "" {
		return fmt.Errorf("store: apply invite: missing id or code")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := invite.HexID()
	if _, exists := s.invitesByID[key]; !exists {
		stored := cloneInvite(invite)
		if rev, ok := s.revocations[stored.Code]; ok {
			stored.Revoked = true
			stored.RevokedAt = rev.at
			stored.RevokedBy = rev.by
		}
		s.invitesByID[key] = &stored
	}
	s.advance(seq)
	return nil
}

// ApplyRevocation records a revocation and marks the matching invite.
func (s *MemoryStore) ApplyRevocation(_ context.Context, seq uint64, code string, revokedAt time.Time, revokedBy string) error {
	if code == "" {
		return fmt.Errorf("store: apply revocation: missing code")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.revocations[code]; !exists {
		s.revocations[code] = revocation{at: revokedAt.UTC(), by: revokedBy}
		for _, inv := range s.invitesByID {
			if inv.Code == code && !inv.Revoked {
				inv.Revoked = true
				inv.RevokedAt = revokedAt.UTC()
				inv.RevokedBy = revokedBy
			}
		}
	}
	s.advance(seq)
	return nil
}

// ApplyClaim records a redemption attempt.
func (s *MemoryStore) ApplyClaim(_ context.Context, seq uint64, claim model.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	claim.Seq = seq
	claim.Timestamp = claim.Timestamp.UTC()
	s.claims = append(s.claims, claim)
	s.advance(seq)
	return nil
}

// MarkApplied advances AppliedSeq without changing the view.
func (s *MemoryStore) MarkApplied(_ context.Context, seq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance(seq)
	return nil
}

func (s *MemoryStore) advance(seq uint64) {
	if seq > s.appliedSeq {
		s.appliedSeq = seq
	}
}

// ---- View ----

// FindInvites returns all invites matching filter, oldest first.
func (s *MemoryStore) FindInvites(_ context.Context, filter InviteFilter) ([]model.Invite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failReads {
		return nil, ErrUnavailable
	}
	invites := make([]model.Invite, 0)
	for _, inv := range s.invitesByID {
		if filter.Matches(inv) {
			invites = append(invites, cloneInvite(*inv))
		}
	}
	sort.Slice(invites, func(i, j int) bool {
		if invites[i].CreatedAt.Equal(invites[j].CreatedAt) {
			return invites[i].HexID() < invites[j].HexID()
		}
		return invites[i].CreatedAt.Before(invites[j].CreatedAt)
	})
	return invites, nil
}

// FindInvite returns the first invite matching filter.
func (s *MemoryStore) FindInvite(ctx context.Context, filter InviteFilter) (*model.Invite, error) {
	invites, err := s.FindInvites(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(invites) == 0 {
		return nil, nil
	}
	return &invites[0], nil
}

// ListInvites returns every invite in the view.
func (s *MemoryStore) ListInvites(ctx context.Context) ([]model.Invite, error) {
	return s.FindInvites(ctx, InviteFilter{})
}

// ListClaims returns the recorded claims for code.
func (s *MemoryStore) ListClaims(_ context.Context, code string) ([]model.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failReads {
		return nil, ErrUnavailable
	}
	claims := make([]model.Claim, 0)
	for _, c := range s.claims {
		if c.Code == code {
			claims = append(claims, c)
		}
	}
	return claims, nil
}

// ---- Tokens ----

// HasTokens returns true if any tokens exist.
func (s *MemoryStore) HasTokens(_ context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokensByHash) > 0, nil
}

// CreateToken stores token and assigns its ID.
func (s *MemoryStore) CreateToken(_ context.Context, token *model.APIToken) error {
	if token.Hash == "" {
		return fmt.Errorf("store: create token: empty hash")
	}
	if !token.Role.Valid() {
		return fmt.Errorf("store: create token: invalid role %d", token.Role)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tokensByHash[token.Hash]; exists {
		return fmt.Errorf("store: create token: constraint failed: UNIQUE constraint failed: api_tokens.hash")
	}
	token.ID = s.nextTokenID
	token.CreatedAt = s.now().UTC()
	s.nextTokenID++
	stored := *token
	stored.Value = ""
	s.tokensByHash[token.Hash] = &stored
	return nil
}

// GetTokenByHash retrieves a token by hash.
func (s *MemoryStore) GetTokenByHash(_ context.Context, hash string) (*model.APIToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.tokensByHash[hash]
	if !ok {
		return nil, nil
	}
	copyToken := *token
	return &copyToken, nil
}

func cloneInvite(inv model.Invite) model.Invite {
	inv.ID = slices.Clone(inv.ID)
	inv.PublicKey = slices.Clone(inv.PublicKey)
	inv.Payload = slices.Clone(inv.Payload)
	return inv
}

// Compile-time check: *MemoryStore implements DataStore.
var _ DataStore = (*MemoryStore)(nil)
