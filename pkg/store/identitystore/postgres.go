package identitystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MultiplicityFoundation/gov-oracle/pkg/identity"
	_ "github.com/lib/pq"
)

// PostgresIdentityStore is the cloud identity.Store realization, holding
// identities and the full nonce-binding chain (one row per historical
// binding, not just the active one) so GetRotationHistory can replay it.
type PostgresIdentityStore struct {
	db *sql.DB
}

// NewPostgresIdentityStore opens db and ensures its tables exist.
func NewPostgresIdentityStore(ctx context.Context, dsn string) (*PostgresIdentityStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("identitystore: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("identitystore: ping: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS org_identities (
	org_id      TEXT PRIMARY KEY,
	provider    TEXT NOT NULL,
	subject     TEXT NOT NULL,
	verified    BOOLEAN NOT NULL,
	verified_at TIMESTAMPTZ,
	nonce_ref   TEXT
);
CREATE TABLE IF NOT EXISTS nonce_bindings (
	org_id         TEXT NOT NULL,
	nonce          TEXT PRIMARY KEY,
	public_key     TEXT NOT NULL,
	signature      TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	revoked        BOOLEAN NOT NULL DEFAULT FALSE,
	revoked_at     TIMESTAMPTZ,
	revoke_reason  TEXT,
	previous_nonce TEXT,
	version        INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS active_bindings (
	org_id TEXT PRIMARY KEY,
	nonce  TEXT NOT NULL
);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("identitystore: migrate: %w", err)
	}
	return &PostgresIdentityStore{db: db}, nil
}

// NewPostgresIdentityStoreForTest wraps an already-open *sql.DB (a sqlmock
// connection) without running migrations.
func NewPostgresIdentityStoreForTest(db *sql.DB) *PostgresIdentityStore {
	return &PostgresIdentityStore{db: db}
}

func (p *PostgresIdentityStore) GetIdentity(orgID string) (identity.OrganizationIdentity, bool, error) {
	ctx := context.Background()
	row := p.db.QueryRowContext(ctx,
		`SELECT org_id, provider, subject, verified, verified_at, nonce_ref FROM org_identities WHERE org_id = $1`,
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

func (p *PostgresIdentityStore) PutIdentity(ident identity.OrganizationIdentity) error {
	ctx := context.Background()
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO org_identities (org_id, provider, subject, verified, verified_at, nonce_ref)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (org_id) DO UPDATE SET
			provider = EXCLUDED.provider, subject = EXCLUDED.subject,
			verified = EXCLUDED.verified, verified_at = EXCLUDED.verified_at,
			nonce_ref = EXCLUDED.nonce_ref`,
		ident.OrgID, ident.Provider, ident.Subject, ident.Verified, nullableTime(ident.VerifiedAt), ident.NonceRef)
	if err != nil {
		return fmt.Errorf("identitystore: upsert identity: %w", err)
	}
	return nil
}

func (p *PostgresIdentityStore) GetActiveBinding(orgID string) (identity.NonceBinding, bool, error) {
	ctx := context.Background()
	var nonce string
	err := p.db.QueryRowContext(ctx, `SELECT nonce FROM active_bindings WHERE org_id = $1`, orgID).Scan(&nonce)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.NonceBinding{}, false, nil
	}
	if err != nil {
		return identity.NonceBinding{}, false, fmt.Errorf("identitystore: query active binding: %w", err)
	}
	return p.GetBindingByNonce(orgID, nonce)
}

func (p *PostgresIdentityStore) GetBindingByNonce(orgID, nonce string) (identity.NonceBinding, bool, error) {
	ctx := context.Background()
	row := p.db.QueryRowContext(ctx,
		`SELECT org_id, nonce, public_key, signature, created_at, revoked, revoked_at, revoke_reason, previous_nonce, version
		 FROM nonce_bindings WHERE org_id = $1 AND nonce = $2`, orgID, nonce)

	var b identity.NonceBinding
	var revokedAt sql.NullTime
	var revokeReason, previousNonce sql.NullString
	if err := row.Scan(&b.OrgID, &b.Nonce, &b.PublicKey, &b.Signature, &b.CreatedAt, &b.Revoked, &revokedAt, &revokeReason, &previousNonce, &b.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return identity.NonceBinding{}, false, nil
		}
		return identity.NonceBinding{}, false, fmt.Errorf("identitystore: query binding: %w", err)
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

func (p *PostgresIdentityStore) PutBinding(binding identity.NonceBinding) error {
	ctx := context.Background()
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO nonce_bindings (org_id, nonce, public_key, signature, created_at, revoked, revoked_at, revoke_reason, previous_nonce, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (nonce) DO UPDATE SET
			revoked = EXCLUDED.revoked, revoked_at = EXCLUDED.revoked_at,
			revoke_reason = EXCLUDED.revoke_reason, version = EXCLUDED.version`,
		binding.OrgID, binding.Nonce, binding.PublicKey, binding.Signature, binding.CreatedAt,
		binding.Revoked, nullableTime(binding.RevokedAt), nullableString(binding.RevokeReason),
		nullableString(binding.PreviousNonce), binding.Version)
	if err != nil {
		return fmt.Errorf("identitystore: upsert binding: %w", err)
	}
	return nil
}

func (p *PostgresIdentityStore) SetActiveNonce(orgID, nonce string) error {
	ctx := context.Background()
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO active_bindings (org_id, nonce) VALUES ($1, $2)
		 ON CONFLICT (org_id) DO UPDATE SET nonce = EXCLUDED.nonce`,
		orgID, nonce)
	if err != nil {
		return fmt.Errorf("identitystore: set active nonce: %w", err)
	}
	return nil
}

// CommitRotation revokes the active binding and installs next in a single
// transaction, CAS-guarded on revoked.Version (spec §5, §7). A concurrent
// rotation that already advanced the version rolls this one back with
// identity.ErrVersionConflict instead of letting it clobber the winner.
func (p *PostgresIdentityStore) CommitRotation(orgID string, revoked, next identity.NonceBinding) error {
	ctx := context.Background()
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("identitystore: begin rotation tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE nonce_bindings SET revoked = $1, revoked_at = $2, revoke_reason = $3, version = version + 1
		 WHERE org_id = $4 AND nonce = $5 AND version = $6 AND revoked = FALSE`,
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
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		next.OrgID, next.Nonce, next.PublicKey, next.Signature, next.CreatedAt,
		next.Revoked, nullableTime(next.RevokedAt), nullableString(next.RevokeReason),
		nullableString(next.PreviousNonce), next.Version,
	); err != nil {
		return fmt.Errorf("identitystore: insert new binding: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO active_bindings (org_id, nonce) VALUES ($1, $2)
		 ON CONFLICT (org_id) DO UPDATE SET nonce = EXCLUDED.nonce`,
		orgID, next.Nonce,
	); err != nil {
		return fmt.Errorf("identitystore: set active nonce: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("identitystore: commit rotation: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
