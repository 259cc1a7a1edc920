package server

import (
	"context"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/gatelog/pkg/store"
)

// InviteYAML represents an invite in YAML export.
type InviteYAML struct {
	ID             string `yaml:"id"`
	Code           string `yaml:"code"`
	ServerID       string `yaml:"server_id"`
	ExpiresAt      string `yaml:"expires_at"`
	ProtocolExpiry string `yaml:"protocol_expiry"`
	CreatedAt      string `yaml:"created_at"`
	CreatedBy      string `yaml:"created_by,omitempty"`
	Revoked        bool   `yaml:"revoked,omitempty"`
	RevokedAt      string `yaml:"revoked_at,omitempty"`
	RevokedBy      string `yaml:"revoked_by,omitempty"`
	Claims         int    `yaml:"claims,omitempty"`
}

// InvitesExport is the top-level YAML for invite export.
type InvitesExport struct {
	Invites []InviteYAML `yaml:"invites"`
}

// ExportInvitesYAML exports every materialized invite, revoked and
// expired ones included, as YAML.
func ExportInvitesYAML(ctx context.Context, view store.InviteView) ([]byte, error) {
	invites, err := view.ListInvites(ctx)
	if err != nil {
		return nil, err
	}

	export := InvitesExport{Invites: []InviteYAML{}}
	for _, inv := range invites {
		claims, err := view.ListClaims(ctx, inv.Code)
		if err != nil {
			return nil, err
		}
		export.Invites = append(export.Invites, InviteYAML{
			ID:             inv.HexID(),
			Code:           inv.Code,
			ServerID:       inv.ServerID,
			ExpiresAt:      formatTime(inv.ExpiresAt),
			ProtocolExpiry: formatTime(inv.ProtocolExpiry),
			CreatedAt:      formatTime(inv.CreatedAt),
			CreatedBy:      inv.CreatedBy,
			Revoked:        inv.Revoked,
			RevokedAt:      formatTime(inv.RevokedAt),
			RevokedBy:      inv.RevokedBy,
			Claims:         len(claims),
		})
	}
	return yaml.Marshal(&export)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
