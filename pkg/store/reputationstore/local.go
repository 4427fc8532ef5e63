// Package reputationstore persists organization reputation, stake, and
// contribution history, realizing reputation.Store (spec §4.6) as a local
// SQLite-backed store and a cloud-backed (Postgres) one.
package reputationstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MultiplicityFoundation/gov-oracle/pkg/reputation"
	_ "modernc.org/sqlite"
)

// LocalReputationStore is a SQLite-backed reputation.Store for dev, CI, and
// single-node deployments where Postgres is unavailable.
type LocalReputationStore struct {
	db *sql.DB
}

// NewLocalReputationStore opens or creates the SQLite database file at path.
func NewLocalReputationStore(path string) (*LocalReputationStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("reputationstore: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &LocalReputationStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *LocalReputationStore) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS org_reputations (
	org_id             TEXT PRIMARY KEY,
	reputation_score   REAL NOT NULL,
	stake_pledge       REAL NOT NULL,
	contribution_count INTEGER NOT NULL,
	flagged_count      INTEGER NOT NULL,
	consistency_score  REAL NOT NULL,
	age_score          REAL NOT NULL,
	volume_score       REAL NOT NULL,
	stake_status       TEXT NOT NULL,
	last_updated       DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS org_stakes (
	org_id       TEXT PRIMARY KEY,
	amount_usd   REAL NOT NULL,
	pledged_at   DATETIME NOT NULL,
	status       TEXT NOT NULL,
	slash_reason TEXT
);
CREATE TABLE IF NOT EXISTS contributions (
	org_id              TEXT NOT NULL,
	rule_id             TEXT NOT NULL,
	contributed_fp_rate REAL NOT NULL,
	consensus_fp_rate   REAL NOT NULL,
	ts                  DATETIME NOT NULL,
	event_count         INTEGER NOT NULL,
	deviation           REAL NOT NULL,
	consistency_score   REAL NOT NULL
);`
	_, err := s.db.ExecContext(context.Background(), schema)
	if err != nil {
		return fmt.Errorf("reputationstore: migrate: %w", err)
	}
	return nil
}

func (s *LocalReputationStore) GetReputation(orgID string) (reputation.OrganizationReputation, bool, error) {
	ctx := context.Background()
	row := s.db.QueryRowContext(ctx,
		`SELECT org_id, reputation_score, stake_pledge, contribution_count, flagged_count,
		        consistency_score, age_score, volume_score, stake_status, last_updated
		 FROM org_reputations WHERE org_id = ?`, orgID)

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

func (s *LocalReputationStore) PutReputation(rec reputation.OrganizationReputation) error {
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO org_reputations (org_id, reputation_score, stake_pledge, contribution_count, flagged_count,
		                               consistency_score, age_score, volume_score, stake_status, last_updated)
		 VALUES (?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT (org_id) DO UPDATE SET
			reputation_score = excluded.reputation_score, stake_pledge = excluded.stake_pledge,
			contribution_count = excluded.contribution_count, flagged_count = excluded.flagged_count,
			consistency_score = excluded.consistency_score, age_score = excluded.age_score,
			volume_score = excluded.volume_score, stake_status = excluded.stake_status,
			last_updated = excluded.last_updated`,
		rec.OrgID, rec.ReputationScore, rec.StakePledge, rec.ContributionCount, rec.FlaggedCount,
		rec.ConsistencyScore, rec.AgeScore, rec.VolumeScore, string(rec.StakeStatus), rec.LastUpdated)
	if err != nil {
		return fmt.Errorf("reputationstore: upsert reputation: %w", err)
	}
	return nil
}

// ListReputationsByScore returns every record with ReputationScore >=
// minScore, for audit (spec §4.6).
func (s *LocalReputationStore) ListReputationsByScore(minScore float64) ([]reputation.OrganizationReputation, error) {
	ctx := context.Background()
	rows, err := s.db.QueryContext(ctx,
		`SELECT org_id, reputation_score, stake_pledge, contribution_count, flagged_count,
		        consistency_score, age_score, volume_score, stake_status, last_updated
		 FROM org_reputations WHERE reputation_score >= ? ORDER BY reputation_score DESC`, minScore)
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

func (s *LocalReputationStore) GetStake(orgID string) (reputation.StakePledge, bool, error) {
	ctx := context.Background()
	row := s.db.QueryRowContext(ctx,
		`SELECT org_id, amount_usd, pledged_at, status, slash_reason FROM org_stakes WHERE org_id = ?`, orgID)

	var p reputation.StakePledge
	var status string
	var slashReason sql.NullString
	if err := row.Scan(&p.OrgID, &p.AmountUSD, &p.PledgedAt, &status, &slashReason); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return reputation.StakePledge{}, false, nil
		}
		return reputation.StakePledge{}, false, fmt.Errorf("reputationstore: query stake: %w", err)
	}
	p.Status = reputation.StakeStatus(status)
	if slashReason.Valid {
		p.SlashReason = slashReason.String
	}
	return p, true, nil
}

func (s *LocalReputationStore) PutStake(p reputation.StakePledge) error {
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO org_stakes (org_id, amount_usd, pledged_at, status, slash_reason)
		 VALUES (?,?,?,?,?)
		 ON CONFLICT (org_id) DO UPDATE SET
			amount_usd = excluded.amount_usd, pledged_at = excluded.pledged_at,
			status = excluded.status, slash_reason = excluded.slash_reason`,
		p.OrgID, p.AmountUSD, p.PledgedAt, string(p.Status), nullableString(p.SlashReason))
	if err != nil {
		return fmt.Errorf("reputationstore: upsert stake: %w", err)
	}
	return nil
}

func (s *LocalReputationStore) ListContributions(orgID string, since time.Time) ([]reputation.ContributionRecord, error) {
	ctx := context.Background()
	rows, err := s.db.QueryContext(ctx,
		`SELECT org_id, rule_id, contributed_fp_rate, consensus_fp_rate, ts, event_count, deviation, consistency_score
		 FROM contributions WHERE org_id = ? AND ts >= ? ORDER BY ts DESC`, orgID, since)
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

func (s *LocalReputationStore) RecordContribution(rec reputation.ContributionRecord) error {
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contributions (org_id, rule_id, contributed_fp_rate, consensus_fp_rate, ts, event_count, deviation, consistency_score)
		 VALUES (?,?,?,?,?,?,?,?)`,
		rec.OrgID, rec.RuleID, rec.ContributedFPRate, rec.ConsensusFPRate, rec.Timestamp, rec.EventCount, rec.Deviation, rec.ConsistencyScore)
	if err != nil {
		return fmt.Errorf("reputationstore: insert contribution: %w", err)
	}
	return nil
}
