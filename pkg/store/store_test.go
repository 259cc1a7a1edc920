package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/NicolasHaas/gatelog/pkg/datastore"
	"github.com/NicolasHaas/gatelog/pkg/model"
	"github.com/NicolasHaas/gatelog/pkg/store"

	"github.com/google/go-cmp/cmp"
)

// withStores runs fn against every DataStore implementation.
func withStores(t *testing.T, fn func(t *testing.T, st store.DataStore)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		fn(t, store.NewMemory())
	})
	t.Run("sqlite", func(t *testing.T) {
		st, err := datastore.New(filepath.Join(t.TempDir(), "test.db"))
		if err != nil {
			t.Fatalf("datastore.New: %v", err)
		}
		t.Cleanup(func() { _ = st.Close() })
		fn(t, st)
	})
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func invite(id byte, code string) model.Invite {
	return model.Invite{
		ID:             []byte{id, 0xff},
		Code:           code,
		ServerID:       "srv",
		PublicKey:      []byte{id},
		Payload:        []byte{id},
		ExpiresAt:      t0.Add(time.Hour),
		ProtocolExpiry: t0.Add(2 * time.Hour),
		CreatedAt:      t0.Add(time.Duration(id) * time.Second),
	}
}

func TestInviteFilterMatches(t *testing.T) {
	inv := invite(1, "abc")
	tests := []struct {
		name   string
		filter store.InviteFilter
		want   bool
	}{
		{"empty", store.InviteFilter{}, true},
		{"id", store.InviteFilter{ID: "01ff"}, true},
		{"wrong_id", store.InviteFilter{ID: "02ff"}, false},
		{"code", store.InviteFilter{Code: "abc"}, true},
		{"server", store.InviteFilter{ServerID: "other"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(&inv); got != tt.want {
				t.Fatalf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConformanceProjection(t *testing.T) {
	withStores(t, func(t *testing.T, st store.DataStore) {
		ctx := context.Background()

		if err := st.ApplyRevocation(ctx, 1, "code-b", t0, "admin"); err != nil {
			t.Fatalf("ApplyRevocation: %v", err)
		}
		if err := st.ApplyInvite(ctx, 2, invite(1, "code-a")); err != nil {
			t.Fatalf("ApplyInvite: %v", err)
		}
		if err := st.ApplyInvite(ctx, 3, invite(2, "code-b")); err != nil {
			t.Fatalf("ApplyInvite: %v", err)
		}
		if err := st.ApplyInvite(ctx, 4, invite(1, "code-a")); err != nil {
			t.Fatalf("ApplyInvite (replay): %v", err)
		}
		if err := st.MarkApplied(ctx, 5); err != nil {
			t.Fatalf("MarkApplied: %v", err)
		}

		all, err := st.ListInvites(ctx)
		if err != nil {
			t.Fatalf("ListInvites: %v", err)
		}
		type row struct {
			Code    string
			Revoked bool
		}
		got := make([]row, 0, len(all))
		for _, inv := range all {
			got = append(got, row{inv.Code, inv.Revoked})
		}
		want := []row{{"code-a", false}, {"code-b", true}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("ListInvites mismatch (-want +got):\n%s", diff)
		}

		seq, err := st.AppliedSeq(ctx)
		if err != nil || seq != 5 {
			t.Fatalf("AppliedSeq = %d, %v; want 5", seq, err)
		}
		// AppliedSeq never moves backwards.
		if err := st.MarkApplied(ctx, 2); err != nil {
			t.Fatalf("MarkApplied: %v", err)
		}
		if seq, _ := st.AppliedSeq(ctx); seq != 5 {
			t.Fatalf("AppliedSeq after lower MarkApplied = %d, want 5", seq)
		}

		byID, err := st.FindInvite(ctx, store.InviteFilter{ID: "02ff"})
		if err != nil || byID == nil || byID.Code != "code-b" {
			t.Fatalf("FindInvite by id = %v, %v", byID, err)
		}
	})
}

func TestConformanceJournal(t *testing.T) {
	withStores(t, func(t *testing.T, st store.DataStore) {
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			if _, err := st.AppendAction(ctx, model.SignedAction{
				Type:      model.ActionCreateInvite,
				Payload:   []byte{byte(i)},
				Signer:    []byte{1},
				Signature: []byte{2},
			}); err != nil {
				t.Fatalf("AppendAction: %v", err)
			}
		}
		got, err := st.ListActions(ctx, 1, 0)
		if err != nil {
			t.Fatalf("ListActions: %v", err)
		}
		if len(got) != 2 || got[0].Seq != 2 || got[1].Seq != 3 {
			t.Fatalf("ListActions(1, 0) = %+v", got)
		}
		if rest, err := st.ListActions(ctx, 3, 10); err != nil || len(rest) != 0 {
			t.Fatalf("ListActions past end = %v, %v", rest, err)
		}
	})
}

func TestConformanceTokens(t *testing.T) {
	withStores(t, func(t *testing.T, st store.DataStore) {
		ctx := context.Background()
		token := &model.APIToken{Hash: "h1", Label: "ops", Role: model.RoleModerator}
		if err := st.CreateToken(ctx, token); err != nil {
			t.Fatalf("CreateToken: %v", err)
		}
		if err := st.CreateToken(ctx, &model.APIToken{Hash: "h1"}); err == nil {
			t.Fatal("CreateToken duplicate: expected error")
		}
		got, err := st.GetTokenByHash(ctx, "h1")
		if err != nil || got == nil {
			t.Fatalf("GetTokenByHash = %v, %v", got, err)
		}
		if got.ID != token.ID || got.Role != model.RoleModerator || got.Label != "ops" {
			t.Fatalf("GetTokenByHash = %+v, want %+v", got, token)
		}
	})
}

func TestMemoryFailReads(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	if err := st.ApplyInvite(ctx, 1, invite(1, "code-a")); err != nil {
		t.Fatalf("ApplyInvite: %v", err)
	}

	st.FailReads(true)
	if _, err := st.ListInvites(ctx); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("ListInvites while failing: err = %v, want ErrUnavailable", err)
	}
	if _, err := st.FindInvite(ctx, store.InviteFilter{Code: "code-a"}); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("FindInvite while failing: err = %v, want ErrUnavailable", err)
	}

	st.FailReads(false)
	inv, err := st.FindInvite(ctx, store.InviteFilter{Code: "code-a"})
	if err != nil || inv == nil {
		t.Fatalf("FindInvite after recovery = %v, %v", inv, err)
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	if err := st.ApplyInvite(ctx, 1, invite(1, "code-a")); err != nil {
		t.Fatalf("ApplyInvite: %v", err)
	}
	first, _ := st.FindInvite(ctx, store.InviteFilter{Code: "code-a"})
	first.Payload[0] = 0x99
	first.Revoked = true

	second, _ := st.FindInvite(ctx, store.InviteFilter{Code: "code-a"})
	if second.Payload[0] != 1 || second.Revoked {
		t.Fatalf("stored invite was mutated through a returned copy: %+v", second)
	}
}
