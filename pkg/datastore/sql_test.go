package datastore_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/NicolasHaas/gatelog/pkg/datastore"
	"github.com/NicolasHaas/gatelog/pkg/model"
	"github.com/NicolasHaas/gatelog/pkg/store"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func NewTestSqlConn(t *testing.T) (*datastore.Store, error) {
	t.Helper()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	st, err := datastore.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("store_test: failed to open db: %w", err)
	}

	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			fmt.Printf("Error closing database: %v\n", err)
		}
	})

	return st, nil
}

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleInvite(id byte, code, serverID string) model.Invite {
	return model.Invite{
		ID:             []byte{id, id, id, id},
		Code:           code,
		ServerID:       serverID,
		PublicKey:      []byte{0x01, id},
		Payload:        []byte{0x02, id},
		ExpiresAt:      baseTime.Add(time.Hour),
		ProtocolExpiry: baseTime.Add(time.Hour),
		CreatedAt:      baseTime.Add(time.Duration(id) * time.Second),
		CreatedBy:      "alice",
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	first, err := datastore.New(dbPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := first.AppendAction(context.Background(), model.SignedAction{Type: model.ActionClaimInvite, Payload: []byte{1}, Signer: []byte{2}, Signature: []byte{3}}); err != nil {
		t.Fatalf("AppendAction: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := datastore.New(dbPath)
	if err != nil {
		t.Fatalf("New (reopen): %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })

	actions, err := second.ListActions(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("ListActions: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("ListActions after reopen: got %d actions, want 1", len(actions))
	}
}

func TestAppendAndListActions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}

	var want []model.SignedAction
	for i := 1; i <= 5; i++ {
		a := model.SignedAction{
			Type:      model.ActionClaimInvite,
			Payload:   []byte{byte(i)},
			Signer:    []byte{0xaa},
			Signature: []byte{0xbb},
			Timestamp: baseTime.Add(time.Duration(i) * time.Millisecond),
		}
		seq, err := st.AppendAction(ctx, a)
		if err != nil {
			t.Fatalf("AppendAction: %v", err)
		}
		if seq != uint64(i) {
			t.Fatalf("AppendAction seq = %d, want %d", seq, i)
		}
		a.Seq = seq
		want = append(want, a)
	}

	got, err := st.ListActions(ctx, 2, 2)
	if err != nil {
		t.Fatalf("ListActions: %v", err)
	}
	if diff := cmp.Diff(want[2:4], got); diff != "" {
		t.Fatalf("ListActions mismatch (-want +got):\n%s", diff)
	}

	if _, err := st.AppendAction(ctx, model.SignedAction{}); err == nil {
		t.Fatal("AppendAction with empty type: expected error")
	}
}

func TestApplyInviteAndFind(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	type tcase struct {
		filter store.InviteFilter
		want   []string // codes
	}

	tcases := map[string]tcase{
		"all":             {filter: store.InviteFilter{}, want: []string{"code-a", "code-b", "code-c"}},
		"by_server":       {filter: store.InviteFilter{ServerID: "srv-1"}, want: []string{"code-a", "code-b"}},
		"by_code":         {filter: store.InviteFilter{Code: "code-c"}, want: []string{"code-c"}},
		"by_id":           {filter: store.InviteFilter{ID: "02020202"}, want: []string{"code-b"}},
		"no_match":        {filter: store.InviteFilter{Code: "missing"}, want: []string{}},
		"code_and_server": {filter: store.InviteFilter{Code: "code-c", ServerID: "srv-1"}, want: []string{}},
	}

	st, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}
	for i, inv := range []model.Invite{
		sampleInvite(1, "code-a", "srv-1"),
		sampleInvite(2, "code-b", "srv-1"),
		sampleInvite(3, "code-c", "srv-2"),
	} {
		if err := st.ApplyInvite(ctx, uint64(i+1), inv); err != nil {
			t.Fatalf("ApplyInvite: %v", err)
		}
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			invites, err := st.FindInvites(ctx, tc.filter)
			if err != nil {
				t.Fatalf("FindInvites: %v", err)
			}
			got := make([]string, 0, len(invites))
			for _, inv := range invites {
				got = append(got, inv.Code)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("FindInvites mismatch (-want +got):\n%s", diff)
			}
		})
	}

	applied, err := st.AppliedSeq(ctx)
	if err != nil {
		t.Fatalf("AppliedSeq: %v", err)
	}
	if applied != 3 {
		t.Fatalf("AppliedSeq = %d, want 3", applied)
	}
}

func TestApplyInviteRoundTripsFields(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}
	want := sampleInvite(7, "code-x", "srv-1")
	if err := st.ApplyInvite(ctx, 1, want); err != nil {
		t.Fatalf("ApplyInvite: %v", err)
	}
	// Re-applying the same ID is a no-op, even with different fields.
	changed := want
	changed.ServerID = "other"
	if err := st.ApplyInvite(ctx, 2, changed); err != nil {
		t.Fatalf("ApplyInvite (replay): %v", err)
	}

	got, err := st.FindInvite(ctx, store.InviteFilter{Code: "code-x"})
	if err != nil {
		t.Fatalf("FindInvite: %v", err)
	}
	if diff := cmp.Diff(&want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("FindInvite mismatch (-want +got):\n%s", diff)
	}

	missing, err := st.FindInvite(ctx, store.InviteFilter{Code: "nope"})
	if err != nil || missing != nil {
		t.Fatalf("FindInvite(missing) = %v, %v; want nil, nil", missing, err)
	}
}

func TestApplyRevocation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	type tcase struct {
		revokeFirst bool
	}

	tcases := map[string]tcase{
		"invite_then_revocation": {revokeFirst: false},
		"revocation_then_invite": {revokeFirst: true},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			st, err := NewTestSqlConn(t)
			if err != nil {
				t.Fatalf("failed to open test connection: %v", err)
			}
			inv := sampleInvite(1, "code-a", "srv-1")
			revokedAt := baseTime.Add(5 * time.Minute)

			steps := []func(seq uint64) error{
				func(seq uint64) error { return st.ApplyInvite(ctx, seq, inv) },
				func(seq uint64) error { return st.ApplyRevocation(ctx, seq, "code-a", revokedAt, "bob") },
			}
			if tc.revokeFirst {
				steps[0], steps[1] = steps[1], steps[0]
			}
			for i, step := range steps {
				if err := step(uint64(i + 1)); err != nil {
					t.Fatalf("step %d: %v", i, err)
				}
			}
			// A later revocation does not overwrite the first.
			if err := st.ApplyRevocation(ctx, 3, "code-a", revokedAt.Add(time.Hour), "carol"); err != nil {
				t.Fatalf("ApplyRevocation (second): %v", err)
			}

			got, err := st.FindInvite(ctx, store.InviteFilter{Code: "code-a"})
			if err != nil || got == nil {
				t.Fatalf("FindInvite = %v, %v", got, err)
			}
			if !got.Revoked || !got.RevokedAt.Equal(revokedAt) || got.RevokedBy != "bob" {
				t.Fatalf("revocation fields = (%v, %v, %q), want (true, %v, %q)", got.Revoked, got.RevokedAt, got.RevokedBy, revokedAt, "bob")
			}
		})
	}
}

func TestApplyClaim(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}
	for i, by := range []string{"dave", "erin"} {
		claim := model.Claim{Code: "code-a", ClaimedBy: by, Timestamp: baseTime.Add(time.Duration(i) * time.Second)}
		if err := st.ApplyClaim(ctx, uint64(i+1), claim); err != nil {
			t.Fatalf("ApplyClaim: %v", err)
		}
	}

	got, err := st.ListClaims(ctx, "code-a")
	if err != nil {
		t.Fatalf("ListClaims: %v", err)
	}
	want := []model.Claim{
		{Seq: 1, Code: "code-a", ClaimedBy: "dave", Timestamp: baseTime},
		{Seq: 2, Code: "code-a", ClaimedBy: "erin", Timestamp: baseTime.Add(time.Second)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ListClaims mismatch (-want +got):\n%s", diff)
	}
}

func TestTokens(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}

	has, err := st.HasTokens(ctx)
	if err != nil || has {
		t.Fatalf("HasTokens on empty db = %v, %v", has, err)
	}

	token := &model.APIToken{Hash: "abc123", Label: "admin", Role: model.RoleAdmin, ServerID: "srv-1"}
	if err := st.CreateToken(ctx, token); err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	if token.ID == 0 {
		t.Fatal("CreateToken: expected non-zero ID")
	}
	if err := st.CreateToken(ctx, &model.APIToken{Hash: "abc123"}); err == nil {
		t.Fatal("CreateToken duplicate hash: expected error")
	}
	if err := st.CreateToken(ctx, &model.APIToken{Hash: "bad-role", Role: 10}); err == nil {
		t.Fatal("CreateToken invalid role: expected error")
	}

	got, err := st.GetTokenByHash(ctx, "abc123")
	if err != nil {
		t.Fatalf("GetTokenByHash: %v", err)
	}
	if diff := cmp.Diff(token, got, cmpopts.IgnoreFields(model.APIToken{}, "CreatedAt")); diff != "" {
		t.Fatalf("GetTokenByHash mismatch (-want +got):\n%s", diff)
	}

	missing, err := st.GetTokenByHash(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("GetTokenByHash(missing) = %v, %v", missing, err)
	}
}
