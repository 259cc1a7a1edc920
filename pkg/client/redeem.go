package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/NicolasHaas/gatelog/pkg/codec"
	"github.com/NicolasHaas/gatelog/pkg/crypto"
	"github.com/NicolasHaas/gatelog/pkg/pairing"
	"github.com/NicolasHaas/gatelog/pkg/protocol"
)

var (
	// ErrInviteExpired is returned by Redeem for a code whose handshake
	// window has already closed. Nothing is sent.
	ErrInviteExpired = errors.New("client: invite expired")
	// ErrNotAdmitted is returned by Redeem when the node declines the
	// request. Unknown, revoked and expired invites look the same.
	ErrNotAdmitted = errors.New("client: not admitted")
)

// Membership is the join material a redeemer receives for a log.
type Membership struct {
	DiscoveryKey  []byte
	Key           []byte
	EncryptionKey []byte
	JoinedAt      time.Time
}

// Redeem presents code to the node and returns the log's join material.
func (c *Client) Redeem(ctx context.Context, code string) (*Membership, error) {
	payload, err := codec.DecodeInvite(code)
	if err != nil {
		return nil, err
	}
	meta, err := pairing.ImportInvite(payload)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if !meta.Expires.After(now) {
		return nil, fmt.Errorf("%w at %s", ErrInviteExpired, meta.Expires.Format(time.RFC3339))
	}
	if !meta.IssuerExpiry.IsZero() && !meta.IssuerExpiry.After(now) {
		return nil, fmt.Errorf("%w at %s", ErrInviteExpired, meta.IssuerExpiry.Format(time.RFC3339))
	}

	identity, err := crypto.GenerateIdentity()
	if err != nil {
		return nil, err
	}
	req, err := pairing.NewRequest(payload, identity.Recipient(), now)
	if err != nil {
		return nil, err
	}
	data, err := req.Marshal()
	if err != nil {
		return nil, fmt.Errorf("client: marshal pairing request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, protocol.PathPair, protocol.ContentTypeCBOR, bytes.NewReader(data))
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusForbidden {
			return nil, ErrNotAdmitted
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, protocol.MaxPairBody))
	if err != nil {
		return nil, fmt.Errorf("client: read pairing reply: %w", err)
	}
	reply, err := pairing.ParseReply(body)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(reply.InviteID, meta.ID) {
		return nil, fmt.Errorf("client: pairing reply for another invite")
	}
	conf, err := pairing.OpenReply(identity, reply)
	if err != nil {
		return nil, err
	}
	return &Membership{
		DiscoveryKey:  meta.DiscoveryKey,
		Key:           conf.Key,
		EncryptionKey: conf.EncryptionKey,
		JoinedAt:      now,
	}, nil
}
