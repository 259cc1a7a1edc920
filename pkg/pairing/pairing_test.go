package pairing_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/NicolasHaas/gatelog/pkg/clock"
	"github.com/NicolasHaas/gatelog/pkg/crypto"
	"github.com/NicolasHaas/gatelog/pkg/pairing"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*pairing.Service, crypto.LogKeys) {
	t.Helper()
	keys, err := crypto.NewLogKeys()
	if err != nil {
		t.Fatalf("NewLogKeys: %v", err)
	}
	return pairing.NewService(clock.Fake(t0), nil), keys
}

func newRequest(t *testing.T, payload []byte) (*pairing.Request, *crypto.Identity) {
	t.Helper()
	id, err := crypto.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	req, err := pairing.NewRequest(payload, id.Recipient(), t0)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return req, id
}

func TestCreateAndImportInvite(t *testing.T) {
	svc, keys := setup(t)

	inv, err := svc.CreateInvite(keys.Key, pairing.InviteOptions{ExpiresIn: time.Minute})
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	if !inv.Expires.Equal(t0.Add(time.Minute)) {
		t.Fatalf("Expires = %v, want %v", inv.Expires, t0.Add(time.Minute))
	}

	meta, err := svc.ImportInvite(inv.Payload)
	if err != nil {
		t.Fatalf("ImportInvite: %v", err)
	}
	if !bytes.Equal(meta.ID, inv.ID) || !bytes.Equal(meta.PublicKey, inv.PublicKey) {
		t.Fatal("imported metadata does not match created invite")
	}
	if !bytes.Equal(meta.DiscoveryKey, keys.DiscoveryKey) {
		t.Fatal("imported discovery key does not match log")
	}
	if !meta.Expires.Equal(inv.Expires) {
		t.Fatalf("imported Expires = %v, want %v", meta.Expires, inv.Expires)
	}
	if !meta.IssuerExpiry.IsZero() {
		t.Fatalf("IssuerExpiry = %v, want zero when unset", meta.IssuerExpiry)
	}

	issuer := t0.Add(3 * time.Hour)
	other, err := svc.CreateInvite(keys.Key, pairing.InviteOptions{ExpiresIn: time.Minute, IssuerExpiry: issuer})
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	if bytes.Equal(other.ID, inv.ID) {
		t.Fatal("two invites share an ID")
	}
	otherMeta, err := svc.ImportInvite(other.Payload)
	if err != nil {
		t.Fatalf("ImportInvite: %v", err)
	}
	if !otherMeta.IssuerExpiry.Equal(issuer) || !otherMeta.Expires.Equal(t0.Add(time.Minute)) {
		t.Fatalf("imported expiries = %v / %v, want %v / %v", otherMeta.IssuerExpiry, otherMeta.Expires, issuer, t0.Add(time.Minute))
	}
}

func TestImportInviteRejectsGarbage(t *testing.T) {
	for _, payload := range [][]byte{nil, {0x01, 0x02}, []byte("definitely not cbor")} {
		if _, err := pairing.ImportInvite(payload); !errors.Is(err, pairing.ErrInvalidInvite) {
			t.Fatalf("ImportInvite(%x): err = %v, want ErrInvalidInvite", payload, err)
		}
	}
}

func TestSubmitConfirmed(t *testing.T) {
	svc, keys := setup(t)
	inv, err := svc.CreateInvite(keys.Key, pairing.InviteOptions{ExpiresIn: time.Hour})
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}

	member, err := svc.AddMember(keys.DiscoveryKey, func(c *pairing.Candidate) {
		if !bytes.Equal(c.InviteID(), inv.ID) {
			t.Errorf("candidate invite id = %x, want %x", c.InviteID(), inv.ID)
			return
		}
		if err := c.Open(inv.PublicKey); err != nil {
			t.Errorf("Open: %v", err)
			return
		}
		if err := c.Confirm(pairing.Confirmation{Key: keys.Key, EncryptionKey: keys.EncryptionKey}); err != nil {
			t.Errorf("Confirm: %v", err)
		}
	})
	if err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	defer func() { _ = member.Close() }()

	req, id := newRequest(t, inv.Payload)
	data, err := req.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	parsed, err := pairing.ParseRequest(data)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}

	reply, err := svc.Submit(context.Background(), parsed)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	conf, err := pairing.OpenReply(id, reply)
	if err != nil {
		t.Fatalf("OpenReply: %v", err)
	}
	if !bytes.Equal(conf.Key, keys.Key) || !bytes.Equal(conf.EncryptionKey, keys.EncryptionKey) {
		t.Fatal("confirmation does not carry the log keys")
	}

	// Only the requesting identity can open the reply.
	stranger, _ := crypto.GenerateIdentity()
	if _, err := pairing.OpenReply(stranger, reply); err == nil {
		t.Fatal("OpenReply with another identity: expected error")
	}
}

func TestSubmitNotAdmitted(t *testing.T) {
	svc, keys := setup(t)
	inv, err := svc.CreateInvite(keys.Key, pairing.InviteOptions{ExpiresIn: time.Hour})
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	req, _ := newRequest(t, inv.Payload)

	t.Run("no_member", func(t *testing.T) {
		if _, err := svc.Submit(context.Background(), req); !errors.Is(err, pairing.ErrNotAdmitted) {
			t.Fatalf("Submit: err = %v, want ErrNotAdmitted", err)
		}
	})

	t.Run("handler_ignores", func(t *testing.T) {
		m, err := svc.AddMember(keys.DiscoveryKey, func(*pairing.Candidate) {})
		if err != nil {
			t.Fatalf("AddMember: %v", err)
		}
		defer func() { _ = m.Close() }()
		if _, err := svc.Submit(context.Background(), req); !errors.Is(err, pairing.ErrNotAdmitted) {
			t.Fatalf("Submit: err = %v, want ErrNotAdmitted", err)
		}
	})

	t.Run("handler_panics", func(t *testing.T) {
		m, err := svc.AddMember(keys.DiscoveryKey, func(*pairing.Candidate) { panic("boom") })
		if err != nil {
			t.Fatalf("AddMember: %v", err)
		}
		defer func() { _ = m.Close() }()
		if _, err := svc.Submit(context.Background(), req); !errors.Is(err, pairing.ErrNotAdmitted) {
			t.Fatalf("Submit: err = %v, want ErrNotAdmitted", err)
		}
	})

	t.Run("context_ends", func(t *testing.T) {
		release := make(chan struct{})
		m, err := svc.AddMember(keys.DiscoveryKey, func(*pairing.Candidate) { <-release })
		if err != nil {
			t.Fatalf("AddMember: %v", err)
		}
		defer func() { _ = m.Close() }()
		defer close(release)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if _, err := svc.Submit(ctx, req); !errors.Is(err, pairing.ErrNotAdmitted) {
			t.Fatalf("Submit: err = %v, want ErrNotAdmitted", err)
		}
	})

	t.Run("member_closed", func(t *testing.T) {
		m, err := svc.AddMember(keys.DiscoveryKey, func(c *pairing.Candidate) {
			_ = c.Open(inv.PublicKey)
			_ = c.Confirm(pairing.Confirmation{Key: keys.Key})
		})
		if err != nil {
			t.Fatalf("AddMember: %v", err)
		}
		_ = m.Close()
		if _, err := svc.Submit(context.Background(), req); !errors.Is(err, pairing.ErrNotAdmitted) {
			t.Fatalf("Submit after Close: err = %v, want ErrNotAdmitted", err)
		}
	})
}

func TestCandidateOpenAndConfirm(t *testing.T) {
	svc, keys := setup(t)
	inv, _ := svc.CreateInvite(keys.Key, pairing.InviteOptions{ExpiresIn: time.Hour})
	other, _ := svc.CreateInvite(keys.Key, pairing.InviteOptions{ExpiresIn: time.Hour})
	req, _ := newRequest(t, inv.Payload)

	results := make(chan [2]error, 1)
	m, err := svc.AddMember(keys.DiscoveryKey, func(c *pairing.Candidate) {
		confirmErr := c.Confirm(pairing.Confirmation{Key: keys.Key})
		openErr := c.Open(other.PublicKey)
		results <- [2]error{confirmErr, openErr}
	})
	if err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	defer func() { _ = m.Close() }()

	if _, err := svc.Submit(context.Background(), req); !errors.Is(err, pairing.ErrNotAdmitted) {
		t.Fatalf("Submit: err = %v, want ErrNotAdmitted", err)
	}
	got := <-results
	if !errors.Is(got[0], pairing.ErrNotOpened) {
		t.Fatalf("Confirm before Open: err = %v, want ErrNotOpened", got[0])
	}
	if !errors.Is(got[1], pairing.ErrBadProof) {
		t.Fatalf("Open with wrong key: err = %v, want ErrBadProof", got[1])
	}
}

func TestAddMemberTwice(t *testing.T) {
	svc, keys := setup(t)
	m, err := svc.AddMember(keys.DiscoveryKey, func(*pairing.Candidate) {})
	if err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if _, err := svc.AddMember(keys.DiscoveryKey, func(*pairing.Candidate) {}); !errors.Is(err, pairing.ErrMemberExists) {
		t.Fatalf("second AddMember: err = %v, want ErrMemberExists", err)
	}
	_ = m.Close()
	again, err := svc.AddMember(keys.DiscoveryKey, func(*pairing.Candidate) {})
	if err != nil {
		t.Fatalf("AddMember after Close: %v", err)
	}
	_ = again.Close()
}

func TestParseRequestRejectsIncomplete(t *testing.T) {
	data, err := (&pairing.Request{InviteID: []byte{1}}).Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := pairing.ParseRequest(data); !errors.Is(err, pairing.ErrInvalidRequest) {
		t.Fatalf("ParseRequest: err = %v, want ErrInvalidRequest", err)
	}
}
