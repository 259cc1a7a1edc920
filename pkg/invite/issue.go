package invite

import (
	"context"
	"fmt"

	"github.com/NicolasHaas/gatelog/pkg/actionlog"
	"github.com/NicolasHaas/gatelog/pkg/codec"
	"github.com/NicolasHaas/gatelog/pkg/model"
	"github.com/NicolasHaas/gatelog/pkg/pairing"
)

// Issue creates an invite and returns its shareable code. The requester
// needs MANAGE_INVITES; without it nothing is appended.
//
// The issuance action is appended optimistically, so the invite shows up
// in the view shortly after Issue returns rather than before.
func (m *Manager) Issue(ctx context.Context, req model.Requester, opts ExpiryOptions) (string, error) {
	req, err := m.authorize(req, "issue")
	if err != nil {
		return "", err
	}
	if err := opts.Validate(); err != nil {
		return "", err
	}

	now := m.clock.Now()
	expiresAt := ComputeExpiry(now, opts)

	pi, err := m.pairing.CreateInvite(m.log.Key(), pairing.InviteOptions{
		ExpiresIn:    expiresAt.Sub(now),
		IssuerExpiry: expiresAt,
	})
	if err != nil {
		return "", fmt.Errorf("invite: issue: %w", err)
	}

	action, err := m.signer.Sign(model.ActionCreateInvite, model.CreateInvitePayload{
		ID:             pi.ID,
		Invite:         pi.Payload,
		PublicKey:      pi.PublicKey,
		ExpiresAt:      expiresAt.UnixMilli(),
		ProtocolExpiry: pi.Expires.UnixMilli(),
		ServerID:       req.ServerID,
		CreatedBy:      req.UserID,
	})
	if err != nil {
		return "", fmt.Errorf("invite: issue: %w", err)
	}
	if _, err := m.log.Append(ctx, action, actionlog.AppendOptions{Optimistic: true}); err != nil {
		return "", fmt.Errorf("invite: issue: %w", err)
	}

	code := codec.EncodeInvite(pi.Payload)
	m.observer.InviteIssued()
	m.logger.Info("invite issued", "id", fmt.Sprintf("%x", pi.ID), "server", req.ServerID, "by", req.UserID, "expires_at", expiresAt)
	return code, nil
}
