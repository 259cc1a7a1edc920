// Package store defines the persistence interface behind the action log
// and its materialized invite view, plus an in-memory implementation for
// tests.
package store

import (
	"context"
	"time"

	"github.com/NicolasHaas/gatelog/pkg/model"
)

// CollectionInvites names the materialized invite collection.
const CollectionInvites = "@server/invite"

// InviteFilter selects invites from the view. Empty fields match anything.
type InviteFilter struct {
	ID       string // hex-encoded invite ID
	Code     string
	ServerID string
}

// Matches reports whether inv satisfies the filter.
func (f InviteFilter) Matches(inv *model.Invite) bool {
	if f.ID != "" && inv.HexID() != f.ID {
		return false
	}
	if f.Code != "" && inv.Code != f.Code {
		return false
	}
	if f.ServerID != "" && inv.ServerID != f.ServerID {
		return false
	}
	return true
}

// DataStore defines the persistence interface for all gatelog state.
// Implementations include the SQLite datastore and MemoryStore.
type DataStore interface {
	Close() error

	JournalProvider
	ProjectionWriter
	InviteView
	TokenProvider
}

// JournalProvider is the append-only action journal.
type JournalProvider interface {
	// AppendAction stores action and returns its assigned sequence number.
	AppendAction(ctx context.Context, action model.SignedAction) (uint64, error)

	// ListActions returns up to limit actions with Seq > afterSeq, in order.
	ListActions(ctx context.Context, afterSeq uint64, limit int) ([]model.SignedAction, error)

	// AppliedSeq returns the highest sequence number projected into the view.
	AppliedSeq(ctx context.Context) (uint64, error)
}

// ProjectionWriter mutates the view. Only the log's projector calls these;
// each call also advances AppliedSeq to seq.
type ProjectionWriter interface {
	// ApplyInvite materializes an issued invite. Re-applying an existing ID
	// is a no-op. A revocation recorded earlier for the same code is applied.
	ApplyInvite(ctx context.Context, seq uint64, invite model.Invite) error

	// ApplyRevocation records a revocation for code and marks the matching
	// invite revoked. The first revocation of a code wins.
	ApplyRevocation(ctx context.Context, seq uint64, code string, revokedAt time.Time, revokedBy string) error

	// ApplyClaim records a redemption attempt.
	ApplyClaim(ctx context.Context, seq uint64, claim model.Claim) error

	// MarkApplied advances AppliedSeq without changing the view.
	MarkApplied(ctx context.Context, seq uint64) error
}

// InviteView is the read side of the materialized invite collection.
type InviteView interface {
	// FindInvites returns all invites matching filter.
	FindInvites(ctx context.Context, filter InviteFilter) ([]model.Invite, error)

	// FindInvite returns the first invite matching filter. Returns (nil, nil) if not found.
	FindInvite(ctx context.Context, filter InviteFilter) (*model.Invite, error)

	// ListInvites returns every invite in the view.
	ListInvites(ctx context.Context) ([]model.Invite, error)

	// ListClaims returns the recorded claims for code, oldest first.
	ListClaims(ctx context.Context, code string) ([]model.Claim, error)
}

// TokenProvider stores control API bearer tokens (hash only).
type TokenProvider interface {
	// HasTokens returns true if any tokens exist.
	HasTokens(ctx context.Context) (bool, error)

	// CreateToken stores token and assigns its ID.
	CreateToken(ctx context.Context, token *model.APIToken) error

	// GetTokenByHash retrieves a token by hash. Returns (nil, nil) if not found.
	GetTokenByHash(ctx context.Context, hash string) (*model.APIToken, error)
}
