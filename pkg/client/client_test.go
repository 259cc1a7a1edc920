package client_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/NicolasHaas/gatelog/pkg/client"
	"github.com/NicolasHaas/gatelog/pkg/crypto"
	"github.com/NicolasHaas/gatelog/pkg/model"
	"github.com/NicolasHaas/gatelog/pkg/protocol"
	"github.com/NicolasHaas/gatelog/pkg/server"
	"github.com/NicolasHaas/gatelog/pkg/store"
)

const adminToken = "admin-secret"

func newNode(t *testing.T) *httptest.Server {
	t.Helper()
	st := store.NewMemory()
	tok := &model.APIToken{Hash: crypto.HashToken(adminToken), Label: "admin", Role: model.RoleAdmin}
	if err := st.CreateToken(context.Background(), tok); err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	cfg := server.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.ServerID = "srv"
	cfg.OptimisticClaims = true
	srv := server.New(cfg, server.Dependencies{Store: st})
	if err := srv.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	api := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		api.Close()
		srv.Shutdown()
	})
	return api
}

func newClient(api *httptest.Server, token string) *client.Client {
	return client.NewWithHTTPClient(api.URL, token, api.Client())
}

// waitVisible polls until code is materialized on the node. Issuance is
// appended optimistically, and until then the node only knows the code by
// importing it, without a server or creator.
func waitVisible(t *testing.T, c *client.Client, code string) *protocol.InviteInfo {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		inv, err := c.ShowInvite(context.Background(), code)
		if err == nil && inv.ServerID != "" {
			return inv
		}
		if err != nil && !errors.Is(err, client.ErrNotFound) {
			t.Fatalf("ShowInvite: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatalf("invite %s never materialized", code)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestInviteLifecycle(t *testing.T) {
	ctx := context.Background()
	c := newClient(newNode(t), adminToken)

	code, err := c.CreateInvite(ctx, protocol.CreateInviteRequest{ExpireInDays: "1"})
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	inv := waitVisible(t, c, code)
	if inv.ServerID != "srv" || inv.CreatedBy != "admin" {
		t.Fatalf("invite = %+v", inv)
	}

	list, err := c.ListInvites(ctx, false)
	if err != nil {
		t.Fatalf("ListInvites: %v", err)
	}
	if len(list) != 1 || list[0].Code != code {
		t.Fatalf("ListInvites = %+v", list)
	}

	if err := c.Claim(ctx, code, "bob"); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	revoked, err := c.Revoke(ctx, code)
	if err != nil || !revoked {
		t.Fatalf("Revoke = %v, %v; want true", revoked, err)
	}
	revoked, err = c.Revoke(ctx, "nothing-here")
	if err != nil || revoked {
		t.Fatalf("Revoke unknown = %v, %v; want false", revoked, err)
	}

	export, err := c.Export(ctx)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !bytes.Contains(export, []byte(code)) {
		t.Fatalf("export does not mention %s:\n%s", code, export)
	}
}

func TestUnauthorized(t *testing.T) {
	c := newClient(newNode(t), "wrong")
	_, err := c.ListInvites(context.Background(), false)
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("err = %v, want 401 APIError", err)
	}
}

func TestShowUnknownInvite(t *testing.T) {
	c := newClient(newNode(t), adminToken)
	if _, err := c.ShowInvite(context.Background(), "ybndrfg8"); !errors.Is(err, client.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateTokenAndUseIt(t *testing.T) {
	ctx := context.Background()
	api := newNode(t)
	admin := newClient(api, adminToken)

	created, err := admin.CreateToken(ctx, protocol.CreateTokenRequest{Label: "mod", Role: "moderator"})
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	mod := newClient(api, created.Token)
	if _, err := mod.ListInvites(ctx, true); err != nil {
		t.Fatalf("moderator ListInvites: %v", err)
	}
	_, err = mod.CreateInvite(ctx, protocol.CreateInviteRequest{})
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusForbidden {
		t.Fatalf("moderator CreateInvite err = %v, want 403", err)
	}
}

func TestRedeem(t *testing.T) {
	ctx := context.Background()
	api := newNode(t)
	admin := newClient(api, adminToken)
	redeemer := newClient(api, "")

	code, err := admin.CreateInvite(ctx, protocol.CreateInviteRequest{})
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	waitVisible(t, admin, code)

	info, err := redeemer.Info(ctx)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}

	m, err := redeemer.Redeem(ctx, code)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if len(m.Key) != crypto.KeySize || len(m.EncryptionKey) != crypto.KeySize {
		t.Fatalf("membership keys have wrong sizes: %d, %d", len(m.Key), len(m.EncryptionKey))
	}
	if got := crypto.DiscoveryKey(m.Key); !bytes.Equal(got, m.DiscoveryKey) {
		t.Fatal("discovery key does not match the received log key")
	}
	if got := hex.EncodeToString(m.DiscoveryKey); got != info.DiscoveryKey {
		t.Fatalf("redeemed discovery key %s, node announces %s", got, info.DiscoveryKey)
	}

	if _, err := admin.Revoke(ctx, code); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		_, err := redeemer.Redeem(ctx, code)
		if errors.Is(err, client.ErrNotAdmitted) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Redeem after revoke: %v, want ErrNotAdmitted", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRedeemExpiredInviteSendsNothing(t *testing.T) {
	ctx := context.Background()
	api := newNode(t)
	admin := newClient(api, adminToken)

	past := time.Now().Add(-time.Minute).UTC().Format(time.RFC3339)
	code, err := admin.CreateInvite(ctx, protocol.CreateInviteRequest{ExpiresAt: past})
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	if _, err := newClient(api, "").Redeem(ctx, code); !errors.Is(err, client.ErrInviteExpired) {
		t.Fatalf("Redeem = %v, want ErrInviteExpired", err)
	}
}

func TestRedeemGarbage(t *testing.T) {
	c := newClient(newNode(t), "")
	if _, err := c.Redeem(context.Background(), "not a code!"); err == nil {
		t.Fatal("expected error")
	}
}
