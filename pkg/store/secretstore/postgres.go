package secretstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresSecretStore stands in for the cloud parameter store named in
// spec §2/§6 ("/guardian/<env>/redaction_nonce_v<N>"): no AWS SSM or
// Secrets Manager SDK is present anywhere in the retrieved example pack,
// so versioned nonces are kept in a Postgres table addressed by the same
// path convention, with the parameter name stored verbatim as the row key.
type PostgresSecretStore struct {
	db         *sql.DB
	paramsPath string
}

// NewPostgresSecretStore opens db and ensures the nonce_parameters table
// exists, namespacing rows by paramsPath (e.g. "/guardian/production").
func NewPostgresSecretStore(ctx context.Context, dsn, paramsPath string) (*PostgresSecretStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("secretstore: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSecretUnavailable, err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS nonce_parameters (
	params_path TEXT NOT NULL,
	version     INTEGER NOT NULL,
	value       TEXT NOT NULL,
	PRIMARY KEY (params_path, version)
)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("secretstore: migrate: %w", err)
	}
	return &PostgresSecretStore{db: db, paramsPath: paramsPath}, nil
}

// NewPostgresSecretStoreForTest wraps an already-open *sql.DB (a sqlmock
// connection in tests) without running migrations, so tests can assert
// exact query shapes without a real database.
func NewPostgresSecretStoreForTest(db *sql.DB, paramsPath string) *PostgresSecretStore {
	return &PostgresSecretStore{db: db, paramsPath: paramsPath}
}

func (p *PostgresSecretStore) GetNonce(ctx context.Context) (Nonce, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT version, value FROM nonce_parameters WHERE params_path = $1 ORDER BY version DESC LIMIT 1`,
		p.paramsPath)
	var n Nonce
	if err := row.Scan(&n.Version, &n.Value); err != nil {
		if err == sql.ErrNoRows {
			return Nonce{}, ErrSecretUnavailable
		}
		return Nonce{}, fmt.Errorf("secretstore: query: %w", err)
	}
	return n, nil
}

func (p *PostgresSecretStore) GetNonces(ctx context.Context) ([]Nonce, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT version, value FROM nonce_parameters WHERE params_path = $1 ORDER BY version DESC`,
		p.paramsPath)
	if err != nil {
		return nil, fmt.Errorf("secretstore: query: %w", err)
	}
	defer rows.Close()

	var out []Nonce
	for rows.Next() {
		var n Nonce
		if err := rows.Scan(&n.Version, &n.Value); err != nil {
			return nil, fmt.Errorf("secretstore: scan: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (p *PostgresSecretStore) RotateNonce(ctx context.Context, newValue string) (Nonce, error) {
	current, err := p.GetNonce(ctx)
	nextVersion := 1
	if err == nil {
		nextVersion = current.Version + 1
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO nonce_parameters (params_path, version, value) VALUES ($1, $2, $3)
		 ON CONFLICT (params_path, version) DO UPDATE SET value = EXCLUDED.value`,
		p.paramsPath, nextVersion, newValue)
	if err != nil {
		return Nonce{}, fmt.Errorf("secretstore: rotate: %w", err)
	}
	return Nonce{Version: nextVersion, Value: newValue}, nil
}

func (p *PostgresSecretStore) DropVersion(ctx context.Context, version int) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM nonce_parameters WHERE params_path = $1 AND version = $2`,
		p.paramsPath, version)
	if err != nil {
		return fmt.Errorf("secretstore: drop version: %w", err)
	}
	return nil
}
