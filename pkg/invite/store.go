package invite

import (
	"context"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/NicolasHaas/gatelog/pkg/clock"
	"github.com/NicolasHaas/gatelog/pkg/codec"
	"github.com/NicolasHaas/gatelog/pkg/model"
	"github.com/NicolasHaas/gatelog/pkg/pairing"
	"github.com/NicolasHaas/gatelog/pkg/store"
)

// Importer recovers invite metadata from a raw pairing payload.
type Importer interface {
	ImportInvite(payload []byte) (*pairing.Metadata, error)
}

// Store is the best-effort read side of the invite view. View errors are
// logged and read as "nothing found"; they never reach the caller.
type Store struct {
	view     store.InviteView
	importer Importer
	clock    clock.Clock
	logger   *slog.Logger
}

// NewStore returns a Store over view. importer may be nil, which disables
// the import fallback in ResolveToken.
func NewStore(view store.InviteView, importer Importer, c clock.Clock, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{view: view, importer: importer, clock: clock.Or(c), logger: logger}
}

// result holds the outcome of one view read.
type result[T any] struct {
	val T
	err error
}

func read[T any](val T, err error) result[T] {
	return result[T]{val: val, err: err}
}

// or returns the value, or fallback if the read failed.
func (r result[T]) or(logger *slog.Logger, op string, fallback T) T {
	if r.err != nil {
		logger.Warn("invite view read failed", "collection", store.CollectionInvites, "op", op, "err", r.err)
		return fallback
	}
	return r.val
}

// FindByCode returns the invite with code, or nil.
func (s *Store) FindByCode(ctx context.Context, code string) *model.Invite {
	if code == "" {
		return nil
	}
	return read(s.view.FindInvite(ctx, store.InviteFilter{Code: code})).or(s.logger, "find by code", nil)
}

// FindByID returns the invite with id, or nil.
func (s *Store) FindByID(ctx context.Context, id []byte) *model.Invite {
	if len(id) == 0 {
		return nil
	}
	return read(s.view.FindInvite(ctx, store.InviteFilter{ID: hex.EncodeToString(id)})).or(s.logger, "find by id", nil)
}

// List returns every invite for serverID (all servers if empty),
// including revoked and expired ones.
func (s *Store) List(ctx context.Context, serverID string) []model.Invite {
	return read(s.view.FindInvites(ctx, store.InviteFilter{ServerID: serverID})).or(s.logger, "list", []model.Invite{})
}

// ListActive returns the invites for serverID (all servers if empty) that
// are admissible right now.
func (s *Store) ListActive(ctx context.Context, serverID string) []model.Invite {
	now := s.clock.Now()
	active := make([]model.Invite, 0)
	for _, inv := range s.List(ctx, serverID) {
		if inv.Admissible(now) {
			active = append(active, inv)
		}
	}
	return active
}

// Claims returns the recorded claims for code.
func (s *Store) Claims(ctx context.Context, code string) []model.Claim {
	return read(s.view.ListClaims(ctx, code)).or(s.logger, "list claims", []model.Claim{})
}

// ResolveToken returns the invite a code refers to if it is currently
// admissible, or nil. A code missing from the view is decoded and imported
// directly, which covers invites not yet materialized locally. Such an
// invite takes ExpiresAt from the issuer expiry in its payload and is held
// to the same admissibility rule; it has no server, creator or revocation.
func (s *Store) ResolveToken(ctx context.Context, code string) *model.Invite {
	now := s.clock.Now()
	if inv := s.FindByCode(ctx, code); inv != nil {
		if !inv.Admissible(now) {
			s.logger.Debug("resolved invite not admissible", "code", code, "reason", rejectReason(inv, now))
			return nil
		}
		return inv
	}

	if s.importer == nil {
		return nil
	}
	payload, err := codec.DecodeInvite(code)
	if err != nil {
		return nil
	}
	meta, err := s.importer.ImportInvite(payload)
	if err != nil {
		s.logger.Debug("invite import failed", "err", err)
		return nil
	}
	inv := &model.Invite{
		ID:             meta.ID,
		Code:           codec.EncodeInvite(payload),
		PublicKey:      meta.PublicKey,
		Payload:        payload,
		ExpiresAt:      meta.IssuerExpiry,
		ProtocolExpiry: meta.Expires,
	}
	if !inv.Admissible(now) {
		s.logger.Debug("imported invite not admissible", "reason", rejectReason(inv, now),
			"expires_at", inv.ExpiresAt, "protocol_expiry", inv.ProtocolExpiry)
		return nil
	}
	return inv
}

// rejectReason names why inv is not admissible at now, or "" if it is.
func rejectReason(inv *model.Invite, now time.Time) string {
	switch {
	case inv == nil:
		return "unknown invite"
	case inv.Revoked:
		return "revoked"
	case inv.IsExpired(now):
		return "expired"
	case inv.IsProtocolExpired(now):
		return "protocol expired"
	default:
		return ""
	}
}
