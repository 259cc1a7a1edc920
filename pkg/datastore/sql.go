// Package datastore is the SQLite implementation of store.DataStore: the
// action journal, the materialized invite view and API tokens.
package datastore

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/NicolasHaas/gatelog/pkg/model"
	"github.com/NicolasHaas/gatelog/pkg/store"
)

// DB is the subset of *sql.DB and *sql.Tx the queries need.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store provides database access for all gatelog state.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Compile-time check: *Store implements store.DataStore.
var _ store.DataStore = (*Store)(nil)

// New opens (or creates) a SQLite database and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore: open DB: %w", err)
	}

	ctx := context.Background()

	// Enable WAL mode for better concurrent read performance
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set WAL: %w", err)
	}
	// Set busy timeout to avoid "database is locked" under concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set busy_timeout: %w", err)
	}

	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS actions (
		seq       INTEGER PRIMARY KEY AUTOINCREMENT,
		type      TEXT    NOT NULL CHECK(length(type) > 0),
		payload   BLOB    NOT NULL,
		signer    BLOB    NOT NULL,
		signature BLOB    NOT NULL,
		timestamp INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS projection_state (
		id          INTEGER PRIMARY KEY CHECK(id = 1),
		applied_seq INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS invites (
		id              TEXT    PRIMARY KEY,
		code            TEXT    NOT NULL UNIQUE,
		server_id       TEXT    NOT NULL DEFAULT '',
		public_key      BLOB    NOT NULL,
		payload         BLOB    NOT NULL,
		expires_at      INTEGER NOT NULL,
		protocol_expiry INTEGER NOT NULL,
		created_at      INTEGER NOT NULL DEFAULT 0,
		created_by      TEXT    NOT NULL DEFAULT '',
		revoked         INTEGER NOT NULL DEFAULT 0,
		revoked_at      INTEGER NOT NULL DEFAULT 0,
		revoked_by      TEXT    NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS revocations (
		code       TEXT    PRIMARY KEY,
		revoked_at INTEGER NOT NULL DEFAULT 0,
		revoked_by TEXT    NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS claims (
		seq        INTEGER PRIMARY KEY,
		code       TEXT    NOT NULL,
		claimed_by TEXT    NOT NULL DEFAULT '',
		timestamp  INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS api_tokens (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		hash       TEXT    NOT NULL UNIQUE,
		label      TEXT    NOT NULL DEFAULT '',
		role       INTEGER NOT NULL DEFAULT 0 CHECK(role >= 0 AND role <= 2),
		server_id  TEXT    NOT NULL DEFAULT '',
		expires_at INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT 0
	);

	INSERT OR IGNORE INTO projection_state (id, applied_seq) VALUES (1, 0);
	`
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version      int
		statements   []string
		ignoreErrors bool
	}{
		{
			version:    1,
			statements: []string{schema},
		},
		{
			version: 2,
			statements: []string{
				"CREATE INDEX IF NOT EXISTS idx_invites_server_id ON invites(server_id)",
				"CREATE INDEX IF NOT EXISTS idx_claims_code ON claims(code)",
			},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if err := s.execMigration(ctx, stmt, m.ignoreErrors); err != nil {
				return err
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *Store) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (s *Store) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func (s *Store) execMigration(ctx context.Context, stmt string, ignoreErrors bool) error {
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		if ignoreErrors {
			return nil
		}
		return fmt.Errorf("datastore: migrate: %w", err)
	}
	return nil
}

// withTx runs fn in a transaction, committing only if fn succeeds.
func (s *Store) withTx(ctx context.Context, fn func(tx DB) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("datastore: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("datastore: commit: %w", err)
	}
	return nil
}

// Timestamps are stored as unix milliseconds; 0 means unset.
func toDBTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func fromDBTime(ms int64) time.Time {
	return model.UnixMilli(ms)
}

// ---- Journal ----

// AppendAction stores action and returns its assigned sequence number.
func (s *Store) AppendAction(ctx context.Context, action model.SignedAction) (uint64, error) {
	if !action.Type.IsValid() {
		return 0, fmt.Errorf("datastore: append action: empty type")
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO actions (type, payload, signer, signature, timestamp) VALUES (?, ?, ?, ?, ?)",
		string(action.Type), action.Payload, action.Signer, action.Signature, toDBTime(action.Timestamp))
	if err != nil {
		return 0, fmt.Errorf("datastore: append action: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("datastore: append action: %w", err)
	}
	return uint64(seq), nil //nolint:gosec // AUTOINCREMENT ids are positive
}

// ListActions returns up to limit actions with Seq > afterSeq, in order.
func (s *Store) ListActions(ctx context.Context, afterSeq uint64, limit int) ([]model.SignedAction, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT seq, type, payload, signer, signature, timestamp FROM actions WHERE seq > ? ORDER BY seq LIMIT ?",
		afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("datastore: list actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var actions []model.SignedAction
	for rows.Next() {
		var a model.SignedAction
		var actionType string
		var ts int64
		if err := rows.Scan(&a.Seq, &actionType, &a.Payload, &a.Signer, &a.Signature, &ts); err != nil {
			return nil, fmt.Errorf("datastore: scan action: %w", err)
		}
		a.Type = model.ActionType(actionType)
		a.Timestamp = fromDBTime(ts)
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// AppliedSeq returns the highest sequence number projected into the view.
func (s *Store) AppliedSeq(ctx context.Context) (uint64, error) {
	var seq uint64
	if err := s.db.QueryRowContext(ctx, "SELECT applied_seq FROM projection_state WHERE id = 1").Scan(&seq); err != nil {
		return 0, fmt.Errorf("datastore: read applied seq: %w", err)
	}
	return seq, nil
}

func markApplied(ctx context.Context, db DB, seq uint64) error {
	if _, err := db.ExecContext(ctx,
		"UPDATE projection_state SET applied_seq = MAX(applied_seq, ?) WHERE id = 1", seq); err != nil {
		return fmt.Errorf("datastore: mark applied: %w", err)
	}
	return nil
}

// ---- Projection ----

// ApplyInvite materializes an issued invite.
func (s *Store) ApplyInvite(ctx context.Context, seq uint64, invite model.Invite) error {
	if len(invite.ID) == 0 || invite.Code == "" {
		return fmt.Errorf("datastore: apply invite: missing id or code")
	}
	return s.withTx(ctx, func(tx DB) error {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO invites
				(id, code, server_id, public_key, payload, expires_at, protocol_expiry, created_at, created_by)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			invite.HexID(), invite.Code, invite.ServerID, invite.PublicKey, invite.Payload,
			toDBTime(invite.ExpiresAt), toDBTime(invite.ProtocolExpiry), toDBTime(invite.CreatedAt), invite.CreatedBy)
		if err != nil {
			return fmt.Errorf("datastore: apply invite: %w", err)
		}
		// A revocation may have replicated before the invite itself.
		_, err = tx.ExecContext(ctx, `
			UPDATE invites SET
				revoked = 1,
				revoked_at = (SELECT revoked_at FROM revocations WHERE code = ?),
				revoked_by = (SELECT revoked_by FROM revocations WHERE code = ?)
			WHERE code = ? AND revoked = 0
				AND EXISTS (SELECT 1 FROM revocations WHERE code = ?)`,
			invite.Code, invite.Code, invite.Code, invite.Code)
		if err != nil {
			return fmt.Errorf("datastore: apply invite: pending revocation: %w", err)
		}
		return markApplied(ctx, tx, seq)
	})
}

// ApplyRevocation records a revocation for code and marks the matching invite.
func (s *Store) ApplyRevocation(ctx context.Context, seq uint64, code string, revokedAt time.Time, revokedBy string) error {
	if code == "" {
		return fmt.Errorf("datastore: apply revocation: missing code")
	}
	return s.withTx(ctx, func(tx DB) error {
		res, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO revocations (code, revoked_at, revoked_by) VALUES (?, ?, ?)",
			code, toDBTime(revokedAt), revokedBy)
		if err != nil {
			return fmt.Errorf("datastore: apply revocation: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			if _, err := tx.ExecContext(ctx,
				"UPDATE invites SET revoked = 1, revoked_at = ?, revoked_by = ? WHERE code = ? AND revoked = 0",
				toDBTime(revokedAt), revokedBy, code); err != nil {
				return fmt.Errorf("datastore: apply revocation: %w", err)
			}
		}
		return markApplied(ctx, tx, seq)
	})
}

// ApplyClaim records a redemption attempt.
func (s *Store) ApplyClaim(ctx context.Context, seq uint64, claim model.Claim) error {
	return s.withTx(ctx, func(tx DB) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO claims (seq, code, claimed_by, timestamp) VALUES (?, ?, ?, ?)",
			seq, claim.Code, claim.ClaimedBy, toDBTime(claim.Timestamp)); err != nil {
			return fmt.Errorf("datastore: apply claim: %w", err)
		}
		return markApplied(ctx, tx, seq)
	})
}

// MarkApplied advances AppliedSeq without changing the view.
func (s *Store) MarkApplied(ctx context.Context, seq uint64) error {
	return markApplied(ctx, s.db, seq)
}

// ---- View ----

const inviteColumns = `id, code, server_id, public_key, payload, expires_at, protocol_expiry,
	created_at, created_by, revoked, revoked_at, revoked_by`

// FindInvites returns all invites matching filter, oldest first.
func (s *Store) FindInvites(ctx context.Context, filter store.InviteFilter) ([]model.Invite, error) {
	query := "SELECT " + inviteColumns + " FROM invites WHERE 1=1"
	var args []any
	if filter.ID != "" {
		query += " AND id = ?"
		args = append(args, filter.ID)
	}
	if filter.Code != "" {
		query += " AND code = ?"
		args = append(args, filter.Code)
	}
	if filter.ServerID != "" {
		query += " AND server_id = ?"
		args = append(args, filter.ServerID)
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("datastore: find invites: %w", err)
	}
	defer func() { _ = rows.Close() }()

	invites := make([]model.Invite, 0)
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, err
		}
		invites = append(invites, inv)
	}
	return invites, rows.Err()
}

// FindInvite returns the first invite matching filter. Returns (nil, nil) if not found.
func (s *Store) FindInvite(ctx context.Context, filter store.InviteFilter) (*model.Invite, error) {
	invites, err := s.FindInvites(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(invites) == 0 {
		return nil, nil
	}
	return &invites[0], nil
}

// ListInvites returns every invite in the view.
func (s *Store) ListInvites(ctx context.Context) ([]model.Invite, error) {
	return s.FindInvites(ctx, store.InviteFilter{})
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInvite(row scanner) (model.Invite, error) {
	var inv model.Invite
	var hexID string
	var expiresAt, protocolExpiry, createdAt, revokedAt int64
	var revoked int
	if err := row.Scan(&hexID, &inv.Code, &inv.ServerID, &inv.PublicKey, &inv.Payload,
		&expiresAt, &protocolExpiry, &createdAt, &inv.CreatedBy, &revoked, &revokedAt, &inv.RevokedBy); err != nil {
		return model.Invite{}, fmt.Errorf("datastore: scan invite: %w", err)
	}
	id, err := hex.DecodeString(hexID)
	if err != nil {
		return model.Invite{}, fmt.Errorf("datastore: invalid invite id %q: %w", hexID, err)
	}
	inv.ID = id
	inv.ExpiresAt = fromDBTime(expiresAt)
	inv.ProtocolExpiry = fromDBTime(protocolExpiry)
	inv.CreatedAt = fromDBTime(createdAt)
	inv.Revoked = revoked != 0
	inv.RevokedAt = fromDBTime(revokedAt)
	return inv, nil
}

// ListClaims returns the recorded claims for code, oldest first.
func (s *Store) ListClaims(ctx context.Context, code string) ([]model.Claim, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT seq, code, claimed_by, timestamp FROM claims WHERE code = ? ORDER BY seq", code)
	if err != nil {
		return nil, fmt.Errorf("datastore: list claims: %w", err)
	}
	defer func() { _ = rows.Close() }()

	claims := make([]model.Claim, 0)
	for rows.Next() {
		var c model.Claim
		var ts int64
		if err := rows.Scan(&c.Seq, &c.Code, &c.ClaimedBy, &ts); err != nil {
			return nil, fmt.Errorf("datastore: scan claim: %w", err)
		}
		c.Timestamp = fromDBTime(ts)
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

// ---- Tokens ----

// HasTokens returns true if any tokens exist in the database.
func (s *Store) HasTokens(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM api_tokens").Scan(&count); err != nil {
		return false, fmt.Errorf("datastore: count tokens: %w", err)
	}
	return count > 0, nil
}

// CreateToken stores a new token (hash only).
func (s *Store) CreateToken(ctx context.Context, token *model.APIToken) error {
	if token.Hash == "" {
		return fmt.Errorf("datastore: create token: empty hash")
	}
	createdAt := s.now()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO api_tokens (hash, label, role, server_id, expires_at, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		token.Hash, token.Label, int(token.Role), token.ServerID, toDBTime(token.ExpiresAt), toDBTime(createdAt))
	if err != nil {
		return fmt.Errorf("datastore: create token: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("datastore: create token: %w", err)
	}
	token.ID = id
	token.CreatedAt = fromDBTime(toDBTime(createdAt))
	return nil
}

// GetTokenByHash retrieves a token by hash. Returns (nil, nil) if not found.
func (s *Store) GetTokenByHash(ctx context.Context, hash string) (*model.APIToken, error) {
	var t model.APIToken
	var role int
	var expiresAt, createdAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id, hash, label, role, server_id, expires_at, created_at FROM api_tokens WHERE hash = ?", hash).
		Scan(&t.ID, &t.Hash, &t.Label, &role, &t.ServerID, &expiresAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get token: %w", err)
	}
	t.Role = model.Role(role)
	t.ExpiresAt = fromDBTime(expiresAt)
	t.CreatedAt = fromDBTime(createdAt)
	return &t, nil
}
