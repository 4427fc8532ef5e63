package reputationstore_test

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/MultiplicityFoundation/gov-oracle/pkg/store/reputationstore"
	"github.com/stretchr/testify/require"
)

func TestPostgresReputationStore_GetReputationFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	cols := []string{"org_id", "reputation_score", "stake_pledge", "contribution_count", "flagged_count",
		"consistency_score", "age_score", "volume_score", "stake_status", "last_updated"}
	rows := sqlmock.NewRows(cols).
		AddRow("org-1", 0.75, 1000.0, 42, 2, 0.9, 0.5, 0.6, "active", now)
	mock.ExpectQuery("SELECT org_id, reputation_score, stake_pledge, contribution_count, flagged_count").
		WithArgs("org-1").
		WillReturnRows(rows)

	store := reputationstore.NewPostgresReputationStoreForTest(db)
	rec, ok, err := store.GetReputation("org-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0.75, rec.ReputationScore)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReputationStore_GetReputationNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cols := []string{"org_id", "reputation_score", "stake_pledge", "contribution_count", "flagged_count",
		"consistency_score", "age_score", "volume_score", "stake_status", "last_updated"}
	mock.ExpectQuery("SELECT org_id, reputation_score, stake_pledge, contribution_count, flagged_count").
		WithArgs("org-unknown").
		WillReturnRows(sqlmock.NewRows(cols))

	store := reputationstore.NewPostgresReputationStoreForTest(db)
	_, ok, err := store.GetReputation("org-unknown")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReputationStore_GetStakeWithSlashReason(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"org_id", "amount_usd", "pledged_at", "status", "slash_reason"}).
		AddRow("org-1", 500.0, time.Now(), "slashed", "repeated false positive suppression")
	mock.ExpectQuery("SELECT org_id, amount_usd, pledged_at, status, slash_reason FROM org_stakes").
		WithArgs("org-1").
		WillReturnRows(rows)

	store := reputationstore.NewPostgresReputationStoreForTest(db)
	stake, ok, err := store.GetStake("org-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "repeated false positive suppression", stake.SlashReason)
	require.NoError(t, mock.ExpectationsWereMet())
}
