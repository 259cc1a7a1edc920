package actionlog

import (
	"context"
	"errors"
	"fmt"

	"github.com/NicolasHaas/gatelog/pkg/codec"
	"github.com/NicolasHaas/gatelog/pkg/crypto"
	"github.com/NicolasHaas/gatelog/pkg/model"
	"github.com/NicolasHaas/gatelog/pkg/store"
)

// errSkip marks an action that can never be applied. The projector logs
// it and moves past it instead of retrying.
var errSkip = errors.New("unappliable action")

func skipf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errSkip}, args...)...)
}

// apply routes one journaled action to its projection write.
func apply(ctx context.Context, w store.ProjectionWriter, action model.SignedAction) error {
	if err := crypto.Verify(action); err != nil {
		return skipf("%v", err)
	}

	switch action.Type {
	case model.ActionCreateInvite:
		var p model.CreateInvitePayload
		if err := codec.Unmarshal(action.Payload, &p); err != nil {
			return skipf("decode %s: %v", action.Type, err)
		}
		if len(p.ID) == 0 || len(p.Invite) == 0 {
			return skipf("%s without id or invite payload", action.Type)
		}
		return w.ApplyInvite(ctx, action.Seq, model.Invite{
			ID:             p.ID,
			Code:           codec.EncodeInvite(p.Invite),
			ServerID:       p.ServerID,
			PublicKey:      p.PublicKey,
			Payload:        p.Invite,
			ExpiresAt:      model.UnixMilli(p.ExpiresAt),
			ProtocolExpiry: model.UnixMilli(p.ProtocolExpiry),
			CreatedAt:      action.Timestamp.UTC(),
			CreatedBy:      p.CreatedBy,
		})

	case model.ActionRevokeInvite:
		var p model.RevokeInvitePayload
		if err := codec.Unmarshal(action.Payload, &p); err != nil {
			return skipf("decode %s: %v", action.Type, err)
		}
		if p.Code == "" {
			return skipf("%s without code", action.Type)
		}
		return w.ApplyRevocation(ctx, action.Seq, p.Code, model.UnixMilli(p.RevokedAt), p.RevokedBy)

	case model.ActionClaimInvite:
		var p model.ClaimInvitePayload
		if err := codec.Unmarshal(action.Payload, &p); err != nil {
			return skipf("decode %s: %v", action.Type, err)
		}
		if p.InviteCode == "" {
			return skipf("%s without invite code", action.Type)
		}
		return w.ApplyClaim(ctx, action.Seq, model.Claim{
			Code:      p.InviteCode,
			ClaimedBy: p.ClaimedBy,
			Timestamp: model.UnixMilli(p.Timestamp),
		})

	default:
		return skipf("unknown action type %q", action.Type)
	}
}
