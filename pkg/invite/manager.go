// Package invite implements the invite lifecycle of a log: issuing and
// revoking invites, recording claims, and admitting pairing candidates
// that present a still-valid invite.
//
// All state changes go through the log as signed actions. Reads come from
// the log's materialized view and are best-effort: the view may lag the
// log, so a failed or empty read is treated as "not found".
package invite

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"

	"github.com/NicolasHaas/gatelog/pkg/actionlog"
	"github.com/NicolasHaas/gatelog/pkg/clock"
	"github.com/NicolasHaas/gatelog/pkg/logging"
	"github.com/NicolasHaas/gatelog/pkg/model"
	"github.com/NicolasHaas/gatelog/pkg/pairing"
	"github.com/NicolasHaas/gatelog/pkg/store"
)

// Log is the append side of the action log plus its join material.
type Log interface {
	Append(ctx context.Context, action model.SignedAction, opts actionlog.AppendOptions) (uint64, error)
	Key() []byte
	DiscoveryKey() []byte
	EncryptionKey() []byte
}

// Pairing creates and imports handshake invites.
type Pairing interface {
	CreateInvite(joinKey []byte, opts pairing.InviteOptions) (pairing.Invite, error)
	ImportInvite(payload []byte) (*pairing.Metadata, error)
}

// Pairer delivers pairing candidates for a log.
type Pairer interface {
	AddMember(discoveryKey []byte, onAdd func(*pairing.Candidate)) (*pairing.Member, error)
}

// Candidate is a remote party presenting an invite during pairing.
type Candidate interface {
	InviteID() []byte
	Open(publicKey ed25519.PublicKey) error
	Confirm(conf pairing.Confirmation) error
}

// PermissionChecker answers whether a requester holds a permission.
type PermissionChecker interface {
	HasPermission(perm model.Permission, req model.Requester) bool
}

// Signer signs actions before they are appended.
type Signer interface {
	Sign(actionType model.ActionType, payload any) (model.SignedAction, error)
}

// Config wires a Manager to its collaborators. Clock, Logger and Observer
// are optional.
type Config struct {
	ServerID    string
	Log         Log
	View        store.InviteView
	Pairing     Pairing
	Permissions PermissionChecker
	Signer      Signer
	Clock       clock.Clock
	Logger      *slog.Logger
	Observer    Observer
}

// Manager runs the invite lifecycle for one server.
type Manager struct {
	serverID string
	log      Log
	pairing  Pairing
	perms    PermissionChecker
	signer   Signer
	clock    clock.Clock
	logger   *slog.Logger
	observer Observer
	store    *Store
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	switch {
	case cfg.Log == nil:
		return nil, fmt.Errorf("invite: missing log")
	case cfg.View == nil:
		return nil, fmt.Errorf("invite: missing view")
	case cfg.Pairing == nil:
		return nil, fmt.Errorf("invite: missing pairing")
	case cfg.Permissions == nil:
		return nil, fmt.Errorf("invite: missing permission checker")
	case cfg.Signer == nil:
		return nil, fmt.Errorf("invite: missing signer")
	}

	logger := logging.Component(cfg.Logger, "invite")
	observer := cfg.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	c := clock.Or(cfg.Clock)

	return &Manager{
		serverID: cfg.ServerID,
		log:      cfg.Log,
		pairing:  cfg.Pairing,
		perms:    cfg.Permissions,
		signer:   cfg.Signer,
		clock:    c,
		logger:   logger,
		observer: observer,
		store:    NewStore(cfg.View, cfg.Pairing, c, logger),
	}, nil
}

// Store returns the manager's read side.
func (m *Manager) Store() *Store {
	return m.store
}

// authorize scopes req to this server and checks MANAGE_INVITES.
func (m *Manager) authorize(req model.Requester, op string) (model.Requester, error) {
	req = req.WithScope(m.serverID)
	if !m.perms.HasPermission(model.PermManageInvites, req) {
		m.logger.Warn("permission denied", "op", op, "user", req.UserID, "role", req.Role.String(), "server", req.ServerID)
		return req, fmt.Errorf("%w: %s requires %s", ErrPermissionDenied, op, model.PermManageInvites)
	}
	return req, nil
}
