// Package fpstore persists FPEvent rows used by FP calibration, with the
// two realizations every adapter contract gets (spec §4.6): a local
// file-backed store and a cloud-backed one (here, Redis sorted sets).
package fpstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/MultiplicityFoundation/gov-oracle/pkg/calibration"
)

// LocalFPStore keeps one JSON file per ruleID under dataDir, atomically
// rewritten on every mutation.
type LocalFPStore struct {
	mu      sync.Mutex
	dataDir string
	ttl     time.Duration
	clock   func() time.Time
}

// NewLocalFPStore builds a LocalFPStore rooted at dataDir, expiring events
// older than ttl from read paths (spec §3's ~90 day retention).
func NewLocalFPStore(dataDir string, ttl time.Duration) *LocalFPStore {
	return &LocalFPStore{dataDir: dataDir, ttl: ttl, clock: time.Now}
}

func (s *LocalFPStore) rulePath(ruleID string) string {
	return filepath.Join(s.dataDir, "fpevents", ruleID+".json")
}

func (s *LocalFPStore) readAll(ruleID string) ([]calibration.FPEvent, error) {
	data, err := os.ReadFile(s.rulePath(ruleID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fpstore: read: %w", err)
	}
	var events []calibration.FPEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("fpstore: decode: %w", err)
	}
	return events, nil
}

func (s *LocalFPStore) writeAll(ruleID string, events []calibration.FPEvent) error {
	path := s.rulePath(ruleID)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("fpstore: mkdir: %w", err)
	}
	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return fmt.Errorf("fpstore: encode: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("fpstore: write temp: %w", err)
	}
	return os.Rename(tmp, path)
}

// RecordEvent rejects duplicates by (RuleID, EventID).
func (s *LocalFPStore) RecordEvent(e calibration.FPEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	events, err := s.readAll(e.RuleID)
	if err != nil {
		return err
	}
	for _, existing := range events {
		if existing.EventID == e.EventID {
			return calibration.ErrDuplicateEvent
		}
	}
	events = append(events, e)
	return s.writeAll(e.RuleID, events)
}

func (s *LocalFPStore) notExpired(e calibration.FPEvent) bool {
	if s.ttl <= 0 {
		return true
	}
	return s.clock().Sub(e.Timestamp) <= s.ttl
}

// GetWindowByCount returns the n most recent non-expired events for ruleID.
func (s *LocalFPStore) GetWindowByCount(ruleID string, n int) ([]calibration.FPEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events, err := s.readAll(ruleID)
	if err != nil {
		return nil, err
	}
	live := make([]calibration.FPEvent, 0, len(events))
	for _, e := range events {
		if s.notExpired(e) {
			live = append(live, e)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].Timestamp.After(live[j].Timestamp) })
	if n > 0 && n < len(live) {
		live = live[:n]
	}
	return live, nil
}

// GetWindowBySince returns every non-expired event at or after since.
func (s *LocalFPStore) GetWindowBySince(ruleID string, since time.Time) ([]calibration.FPEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events, err := s.readAll(ruleID)
	if err != nil {
		return nil, err
	}
	var out []calibration.FPEvent
	for _, e := range events {
		if s.notExpired(e) && !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

// MarkFalsePositive updates the outcome of an existing finding review
// across every rule file (findingID alone does not identify the rule).
func (s *LocalFPStore) MarkFalsePositive(findingID, reviewedBy, ticket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.dataDir, "fpevents"))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("fpstore: list rule files: %w", err)
	}

	for _, entry := range entries {
		ruleID := entry.Name()[:len(entry.Name())-len(filepath.Ext(entry.Name()))]
		events, err := s.readAll(ruleID)
		if err != nil {
			return err
		}
		changed := false
		for i := range events {
			if events[i].FindingID == findingID {
				events[i].IsFalsePositive = true
				events[i].ReviewedBy = reviewedBy
				events[i].SuppressionTicket = ticket
				events[i].ReviewedAt = s.clock()
				changed = true
			}
		}
		if changed {
			if err := s.writeAll(ruleID, events); err != nil {
				return err
			}
		}
	}
	return nil
}

// IsFalsePositive reports whether findingID under ruleID has been marked.
func (s *LocalFPStore) IsFalsePositive(ruleID, findingID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events, err := s.readAll(ruleID)
	if err != nil {
		return false, err
	}
	for _, e := range events {
		if e.FindingID == findingID {
			return e.IsFalsePositive, nil
		}
	}
	return false, nil
}
