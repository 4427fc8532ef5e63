// Package identitystore persists OrganizationIdentity records and their
// NonceBindings, realizing identity.Store (spec §4.6) as a local
// SQLite-backed store and a cloud-backed (Postgres) one.
package identitystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/MultiplicityFoundation/gov-oracle/pkg/identity"
	_ "modernc.org/sqlite"
)

// LocalIdentityStore is a SQLite-backed identity.Store for dev, CI, and
// single-node deployments where Postgres is unavailable.
type LocalIdentityStore struct {
	db *sql.DB
}

// NewLocalIdentityStore opens or creates the SQLite database file at path.
func NewLocalIdentityStore(path string) (*LocalIdentityStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("identitystore: open: %w", err)
	}
	// modernc.org/sqlite connections don't tolerate concurrent writers; a
	// single pooled connection serializes them instead of surfacing
	// SQLITE_BUSY to callers.
	db.SetMaxOpenConns(1)

	s := &LocalIdentityStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *LocalIdentityStore) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS org_identities (
	org_id      TEXT PRIMARY KEY,
	provider    TEXT NOT NULL,
	subject     TEXT NOT NULL,
	verified    BOOLEAN NOT NULL,
	verified_at DATETIME,
	nonce_ref   TEXT
);
CREATE TABLE IF NOT EXISTS nonce_bindings (
	org_id         TEXT NOT NULL,
	nonce          TEXT PRIMARY KEY,
	public_key     TEXT NOT NULL,
	signature      TEXT NOT NULL,
	created_at     DATETIME NOT NULL,
	revoked        BOOLEAN NOT NULL DEFAULT 0,
	revoked_at     DATETIME,
	revoke_reason  TEXT,
	previous_nonce TEXT,
	version        INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS active_bindings (
	org_id TEXT PRIMARY KEY,
	nonce  TEXT NOT NULL
);`
	_, err := s.db.ExecContext(context.Background(), schema)
	if err != nil {
		return fmt.Errorf("identitystore: migrate: %w", err)
	}
	return nil
}

func (s *LocalIdentityStore) GetIdentity(orgID string) (identity.OrganizationIdentity, bool, error) {
	ctx := context.Background()
	row := s.db.QueryRowContext(ctx,
		`SELECT org_id, provider, subject, verified, verified_at, nonce_ref FROM org_identities WHERE org_id = ?`,
		orgID)

	var ident identity.OrganizationIdentity
	var verifiedAt sql.NullTime
	var nonceRef sql.NullString
	if err := row.Scan(&ident.OrgID, &ident.Provider, &ident.Subject, &ident.Verified, &verifiedAt, &nonceRef); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return identity.OrganizationIdentity{}, false, nil
		}
		return identity.OrganizationIdentity{}, false, fmt.Errorf("identitystore: query identity: %w", err)
	}
	if verifiedAt.Valid {
		ident.VerifiedAt = verifiedAt.Time
	}
	if nonceRef.Valid {
		ident.NonceRef = nonceRef.String
	}
	return ident, true, nil
}

func (s *LocalIdentityStore) PutIdentity(ident identity.OrganizationIdentity) error {
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO org_identities (org_id, provider, subject, verified, verified_at, nonce_ref)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (org_id) DO UPDATE SET
			provider = excluded.provider, subject = excluded.subject,
			verified = excluded.verified, verified_at = excluded.verified_at,
			nonce_ref = excluded.nonce_ref`,
		ident.OrgID, ident.Provider, ident.Subject, ident.Verified, nullableTime(ident.VerifiedAt), ident.NonceRef)
	if err != nil {
		return fmt.Errorf("identitystore: upsert identity: %w", err)
	}
	return nil
}

func (s *LocalIdentityStore) GetActiveBinding(orgID string) (identity.NonceBinding, bool, error) {
	ctx := context.Background()
	var nonce string
	err := s.db.QueryRowContext(ctx, `SELECT nonce FROM active_bindings WHERE org_id = ?`, orgID).Scan(&nonce)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.NonceBinding{}, false, nil
	}
	if err != nil {
		return identity.NonceBinding{}, false, fmt.Errorf("identitystore: query active binding: %w", err)
	}
	return s.GetBindingByNonce(orgID, nonce)
}

func (s *LocalIdentityStore) GetBindingByNonce(orgID, nonce string) (identity.NonceBinding, bool, error) {
	ctx := context.Background()
	row := s.db.QueryRowContext(ctx,
		`SELECT org_id, nonce, public_key, signature, created_at, revoked, revoked_at, revoke_reason, previous_nonce, version
		 FROM nonce_bindings WHERE org_id = ? AND nonce = ?`, orgID, nonce)
	b, ok, err := scanBinding(row)
	if err != nil || !ok {
		return identity.NonceBinding{}, false, err
	}
	return b, true, nil
}

func (s *LocalIdentityStore) PutBinding(binding identity.NonceBinding) error {
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO nonce_bindings (org_id, nonce, public_key, signature, created_at, revoked, revoked_at, revoke_reason, previous_nonce, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (nonce) DO UPDATE SET
			revoked = excluded.revoked, revoked_at = excluded.revoked_at,
			revoke_reason = excluded.revoke_reason, version = excluded.version`,
		binding.OrgID, binding.Nonce, binding.PublicKey, binding.Signature, binding.CreatedAt,
		binding.Revoked, nullableTime(binding.RevokedAt), nullableString(binding.RevokeReason),
		nullableString(binding.PreviousNonce), binding.Version)
	if err != nil {
		return fmt.Errorf("identitystore: upsert binding: %w", err)
	}
	return nil
}

func (s *LocalIdentityStore) SetActiveNonce(orgID, nonce string) error {
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO active_bindings (org_id, nonce) VALUES (?, ?)
		 ON CONFLICT (org_id) DO UPDATE SET nonce = excluded.nonce`,
		orgID, nonce)
	if err != nil {
		return fmt.Errorf("identitystore: set active nonce: %w", err)
	}
	return nil
}

// CommitRotation revokes the active binding and installs next in one
// transaction, CAS-guarded on revoked.Version so a concurrent rotation that
// already won is never silently overwritten (spec §5).
func (s *LocalIdentityStore) CommitRotation(orgID string, revoked, next identity.NonceBinding) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("identitystore: begin rotation tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE nonce_bindings SET revoked = ?, revoked_at = ?, revoke_reason = ?, version = version + 1
		 WHERE org_id = ? AND nonce = ? AND version = ? AND revoked = 0`,
		revoked.Revoked, nullableTime(revoked.RevokedAt), nullableString(revoked.RevokeReason),
		orgID, revoked.Nonce, revoked.Version)
	if err != nil {
		return fmt.Errorf("identitystore: revoke current binding: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("identitystore: rotation rows affected: %w", err)
	}
	if n == 0 {
		return identity.ErrVersionConflict
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO nonce_bindings (org_id, nonce, public_key, signature, created_at, revoked, revoked_at, revoke_reason, previous_nonce, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		next.OrgID, next.Nonce, next.PublicKey, next.Signature, next.CreatedAt,
		next.Revoked, nullableTime(next.RevokedAt), nullableString(next.RevokeReason),
		nullableString(next.PreviousNonce), next.Version,
	); err != nil {
		return fmt.Errorf("identitystore: insert new binding: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO active_bindings (org_id, nonce) VALUES (?, ?)
		 ON CONFLICT (org_id) DO UPDATE SET nonce = excluded.nonce`,
		orgID, next.Nonce,
	); err != nil {
		return fmt.Errorf("identitystore: set active nonce: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("identitystore: commit rotation: %w", err)
	}
	return nil
}

func scanBinding(row *sql.Row) (identity.NonceBinding, bool, error) {
	var b identity.NonceBinding
	var revokedAt sql.NullTime
	var revokeReason, previousNonce sql.NullString
	err := row.Scan(&b.OrgID, &b.Nonce, &b.PublicKey, &b.Signature, &b.CreatedAt,
		&b.Revoked, &revokedAt, &revokeReason, &previousNonce, &b.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return identity.NonceBinding{}, false, nil
		}
		return identity.NonceBinding{}, false, fmt.Errorf("identitystore: scan binding: %w", err)
	}
	if revokedAt.Valid {
		b.RevokedAt = revokedAt.Time
	}
	if revokeReason.Valid {
		b.RevokeReason = revokeReason.String
	}
	if previousNonce.Valid {
		b.PreviousNonce = previousNonce.String
	}
	return b, true, nil
}
