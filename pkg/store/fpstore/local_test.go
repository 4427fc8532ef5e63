package fpstore

import (
	"testing"
	"time"

	"github.com/MultiplicityFoundation/gov-oracle/pkg/calibration"
	"github.com/stretchr/testify/require"
)

func TestLocalFPStore_RecordEventRejectsDuplicate(t *testing.T) {
	s := NewLocalFPStore(t.TempDir(), 0)
	e := calibration.FPEvent{RuleID: "MD-100", EventID: "ev-1", Timestamp: time.Now()}

	require.NoError(t, s.RecordEvent(e))
	err := s.RecordEvent(e)
	require.ErrorIs(t, err, calibration.ErrDuplicateEvent)
}

func TestLocalFPStore_GetWindowByCountOrdersNewestFirst(t *testing.T) {
	s := NewLocalFPStore(t.TempDir(), 0)
	base := time.Now()
	require.NoError(t, s.RecordEvent(calibration.FPEvent{RuleID: "MD-100", EventID: "e1", Timestamp: base}))
	require.NoError(t, s.RecordEvent(calibration.FPEvent{RuleID: "MD-100", EventID: "e2", Timestamp: base.Add(time.Minute)}))

	events, err := s.GetWindowByCount("MD-100", 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "e2", events[0].EventID)
}

func TestLocalFPStore_GetWindowBySinceExcludesOlder(t *testing.T) {
	s := NewLocalFPStore(t.TempDir(), 0)
	base := time.Now()
	require.NoError(t, s.RecordEvent(calibration.FPEvent{RuleID: "MD-100", EventID: "old", Timestamp: base.Add(-48 * time.Hour)}))
	require.NoError(t, s.RecordEvent(calibration.FPEvent{RuleID: "MD-100", EventID: "new", Timestamp: base}))

	events, err := s.GetWindowBySince("MD-100", base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "new", events[0].EventID)
}

func TestLocalFPStore_TTLExpiresOldEvents(t *testing.T) {
	s := NewLocalFPStore(t.TempDir(), time.Hour)
	require.NoError(t, s.RecordEvent(calibration.FPEvent{RuleID: "MD-100", EventID: "old", Timestamp: time.Now().Add(-2 * time.Hour)}))

	events, err := s.GetWindowByCount("MD-100", 0)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestLocalFPStore_MarkFalsePositiveThenIsFalsePositive(t *testing.T) {
	s := NewLocalFPStore(t.TempDir(), 0)
	require.NoError(t, s.RecordEvent(calibration.FPEvent{RuleID: "MD-100", EventID: "e1", FindingID: "f-1", Timestamp: time.Now()}))

	require.NoError(t, s.MarkFalsePositive("f-1", "reviewer@example.com", "TICKET-1"))

	isFP, err := s.IsFalsePositive("MD-100", "f-1")
	require.NoError(t, err)
	require.True(t, isFP)
}
