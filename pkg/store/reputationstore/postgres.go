package reputationstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MultiplicityFoundation/gov-oracle/pkg/reputation"
	_ "github.com/lib/pq"
)

// PostgresReputationStore is the cloud reputation.Store realization.
type PostgresReputationStore struct {
	db *sql.DB
}

// NewPostgresReputationStore opens db and ensures its tables exist.
func NewPostgresReputationStore(ctx context.Context, dsn string) (*PostgresReputationStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("reputationstore: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("reputationstore: ping: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS org_reputations (
	org_id             TEXT PRIMARY KEY,
	reputation_score   DOUBLE PRECISION NOT NULL,
	stake_pledge       DOUBLE PRECISION NOT NULL,
	contribution_count INTEGER NOT NULL,
	flagged_count      INTEGER NOT NULL,
	consistency_score  DOUBLE PRECISION NOT NULL,
	age_score          DOUBLE PRECISION NOT NULL,
	volume_score       DOUBLE PRECISION NOT NULL,
	stake_status       TEXT NOT NULL,
	last_updated       TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS org_stakes (
	org_id       TEXT PRIMARY KEY,
	amount_usd   DOUBLE PRECISION NOT NULL,
	pledged_at   TIMESTAMPTZ NOT NULL,
	status       TEXT NOT NULL,
	slash_reason TEXT
);
CREATE TABLE IF NOT EXISTS contributions (
	org_id             TEXT NOT NULL,
	rule_id            TEXT NOT NULL,
	contributed_fp_rate DOUBLE PRECISION NOT NULL,
	consensus_fp_rate   DOUBLE PRECISION NOT NULL,
	ts                 TIMESTAMPTZ NOT NULL,
	event_count        INTEGER NOT NULL,
	deviation          DOUBLE PRECISION NOT NULL,
	consistency_score  DOUBLE PRECISION NOT NULL
);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("reputationstore: migrate: %w", err)
	}
	return &PostgresReputationStore{db: db}, nil
}

// NewPostgresReputationStoreForTest wraps an already-open *sql.DB (a
// sqlmock connection) without running migrations.
func NewPostgresReputationStoreForTest(db *sql.DB) *PostgresReputationStore {
	return &PostgresReputationStore{db: db}
}

func (p *PostgresReputationStore) GetReputation(orgID string) (reputation.OrganizationReputation, bool, error) {
	ctx := context.Background()
	row := p.db.QueryRowContext(ctx,
		`SELECT org_id, reputation_score, stake_pledge, contribution_count, flagged_count,
		        consistency_score, age_score, volume_score, stake_status, last_updated
		 FROM org_reputations WHERE org_id = $1`, orgID)

	var rec reputation.OrganizationReputation
	var status string
	if err := row.Scan(&rec.OrgID, &rec.ReputationScore, &rec.StakePledge, &rec.ContributionCount,
		&rec.FlaggedCount, &rec.ConsistencyScore, &rec.AgeScore, &rec.VolumeScore, &status, &rec.LastUpdated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return reputation.OrganizationReputation{}, false, nil
		}
		return reputation.OrganizationReputation{}, false, fmt.Errorf("reputationstore: query reputation: %w", err)
	}
	rec.StakeStatus = reputation.StakeStatus(status)
	return rec, true, nil
}

func (p *PostgresReputationStore) PutReputation(rec reputation.OrganizationReputation) error {
	ctx := context.Background()
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO org_reputations (org_id, reputation_score, stake_pledge, contribution_count, flagged_count,
		                               consistency_score, age_score, volume_score, stake_status, last_updated)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		 ON CONFLICT (org_id) DO UPDATE SET
			reputation_score = EXCLUDED.reputation_score, stake_pledge = EXCLUDED.stake_pledge,
			contribution_count = EXCLUDED.contribution_count, flagged_count = EXCLUDED.flagged_count,
			consistency_score = EXCLUDED.consistency_score, age_score = EXCLUDED.age_score,
			volume_score = EXCLUDED.volume_score, stake_status = EXCLUDED.stake_status,
			last_updated = EXCLUDED.last_updated`,
		rec.OrgID, rec.ReputationScore, rec.StakePledge, rec.ContributionCount, rec.FlaggedCount,
		rec.ConsistencyScore, rec.AgeScore, rec.VolumeScore, string(rec.StakeStatus), rec.LastUpdated)
	if err != nil {
		return fmt.Errorf("reputationstore: upsert reputation: %w", err)
	}
	return nil
}

func (p *PostgresReputationStore) ListReputationsByScore(minScore float64) ([]reputation.OrganizationReputation, error) {
	ctx := context.Background()
	rows, err := p.db.QueryContext(ctx,
		`SELECT org_id, reputation_score, stake_pledge, contribution_count, flagged_count,
		        consistency_score, age_score, volume_score, stake_status, last_updated
		 FROM org_reputations WHERE reputation_score >= $1 ORDER BY reputation_score DESC`, minScore)
	if err != nil {
		return nil, fmt.Errorf("reputationstore: query by score: %w", err)
	}
	defer rows.Close()

	var out []reputation.OrganizationReputation
	for rows.Next() {
		var rec reputation.OrganizationReputation
		var status string
		if err := rows.Scan(&rec.OrgID, &rec.ReputationScore, &rec.StakePledge, &rec.ContributionCount,
			&rec.FlaggedCount, &rec.ConsistencyScore, &rec.AgeScore, &rec.VolumeScore, &status, &rec.LastUpdated); err != nil {
			return nil, fmt.Errorf("reputationstore: scan reputation: %w", err)
		}
		rec.StakeStatus = reputation.StakeStatus(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *PostgresReputationStore) GetStake(orgID string) (reputation.StakePledge, bool, error) {
	ctx := context.Background()
	row := p.db.QueryRowContext(ctx,
		`SELECT org_id, amount_usd, pledged_at, status, slash_reason FROM org_stakes WHERE org_id = $1`, orgID)

	var p2 reputation.StakePledge
	var status string
	var slashReason sql.NullString
	if err := row.Scan(&p2.OrgID, &p2.AmountUSD, &p2.PledgedAt, &status, &slashReason); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return reputation.StakePledge{}, false, nil
		}
		return reputation.StakePledge{}, false, fmt.Errorf("reputationstore: query stake: %w", err)
	}
	p2.Status = reputation.StakeStatus(status)
	if slashReason.Valid {
		p2.SlashReason = slashReason.String
	}
	return p2, true, nil
}

func (p *PostgresReputationStore) PutStake(stake reputation.StakePledge) error {
	ctx := context.Background()
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO org_stakes (org_id, amount_usd, pledged_at, status, slash_reason)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (org_id) DO UPDATE SET
			amount_usd = EXCLUDED.amount_usd, pledged_at = EXCLUDED.pledged_at,
			status = EXCLUDED.status, slash_reason = EXCLUDED.slash_reason`,
		stake.OrgID, stake.AmountUSD, stake.PledgedAt, string(stake.Status), nullableString(stake.SlashReason))
	if err != nil {
		return fmt.Errorf("reputationstore: upsert stake: %w", err)
	}
	return nil
}

func (p *PostgresReputationStore) ListContributions(orgID string, since time.Time) ([]reputation.ContributionRecord, error) {
	ctx := context.Background()
	rows, err := p.db.QueryContext(ctx,
		`SELECT org_id, rule_id, contributed_fp_rate, consensus_fp_rate, ts, event_count, deviation, consistency_score
		 FROM contributions WHERE org_id = $1 AND ts >= $2 ORDER BY ts DESC`, orgID, since)
	if err != nil {
		return nil, fmt.Errorf("reputationstore: query contributions: %w", err)
	}
	defer rows.Close()

	var out []reputation.ContributionRecord
	for rows.Next() {
		var c reputation.ContributionRecord
		if err := rows.Scan(&c.OrgID, &c.RuleID, &c.ContributedFPRate, &c.ConsensusFPRate, &c.Timestamp,
			&c.EventCount, &c.Deviation, &c.ConsistencyScore); err != nil {
			return nil, fmt.Errorf("reputationstore: scan contribution: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *PostgresReputationStore) RecordContribution(rec reputation.ContributionRecord) error {
	ctx := context.Background()
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO contributions (org_id, rule_id, contributed_fp_rate, consensus_fp_rate, ts, event_count, deviation, consistency_score)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rec.OrgID, rec.RuleID, rec.ContributedFPRate, rec.ConsensusFPRate, rec.Timestamp, rec.EventCount, rec.Deviation, rec.ConsistencyScore)
	if err != nil {
		return fmt.Errorf("reputationstore: insert contribution: %w", err)
	}
	return nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
