package invite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NicolasHaas/gatelog/pkg/actionlog"
	"github.com/NicolasHaas/gatelog/pkg/model"
)

// Claim records a redemption attempt for code at the given time (now if
// zero). It only appends; admission is decided elsewhere.
func (m *Manager) Claim(ctx context.Context, code, claimedBy string, at time.Time) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrInvalidCode
	}
	if at.IsZero() {
		at = m.clock.Now()
	}

	action, err := m.signer.Sign(model.ActionClaimInvite, model.ClaimInvitePayload{
		InviteCode: code,
		Timestamp:  at.UnixMilli(),
		ClaimedBy:  claimedBy,
	})
	if err != nil {
		return fmt.Errorf("invite: claim: %w", err)
	}
	if _, err := m.log.Append(ctx, action, actionlog.AppendOptions{Optimistic: true}); err != nil {
		return fmt.Errorf("invite: claim: %w", err)
	}
	m.observer.ClaimRecorded()
	m.logger.Debug("claim recorded", "code", code, "by", claimedBy)
	return nil
}
