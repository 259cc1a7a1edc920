package invite

import (
	"context"
	"fmt"
	"strings"

	"github.com/NicolasHaas/gatelog/pkg/actionlog"
	"github.com/NicolasHaas/gatelog/pkg/model"
)

// Revoke revokes the invite with code. It returns false, without error,
// when no such invite is known. The requester needs MANAGE_INVITES.
// True means the revocation was appended locally, not that it has
// replicated.
func (m *Manager) Revoke(ctx context.Context, req model.Requester, code string) (bool, error) {
	code = strings.TrimSpace(code)
	inv := m.store.FindByCode(ctx, code)
	if inv == nil {
		return false, nil
	}

	req, err := m.authorize(req, "revoke")
	if err != nil {
		return false, err
	}
	if inv.Revoked {
		// The first revocation wins; another would change nothing.
		return true, nil
	}

	action, err := m.signer.Sign(model.ActionRevokeInvite, model.RevokeInvitePayload{
		Code:      code,
		ServerID:  inv.ServerID,
		RevokedAt: m.clock.Now().UnixMilli(),
		RevokedBy: req.UserID,
	})
	if err != nil {
		return false, fmt.Errorf("invite: revoke: %w", err)
	}
	if _, err := m.log.Append(ctx, action, actionlog.AppendOptions{Optimistic: true}); err != nil {
		return false, fmt.Errorf("invite: revoke: %w", err)
	}

	m.observer.InviteRevoked()
	m.logger.Info("invite revoked", "id", inv.HexID(), "server", inv.ServerID, "by", req.UserID)
	return true, nil
}
