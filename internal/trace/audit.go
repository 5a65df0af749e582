package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// AuditRecord is one persisted release decision (§3 "Audit record", §4.6):
// did this (workflow, instant) pair already fire, and what happened.
type AuditRecord struct {
	Workflow string    `json:"workflow"`
	Instant  time.Time `json:"instant"`
	RunID    string    `json:"run_id"`
	Status   string    `json:"status"`
	Skipped  bool      `json:"skipped,omitempty"`
	Reason   string    `json:"reason,omitempty"`
}

const auditTimeLayout = "20060102150405"

// Store is the append-only audit store keyed by (workflow name, release
// instant), backed by one JSON file per fire under
// <audit-path>/<workflow-name>/<YYYYMMDDHHMMSS>.json. The dedup query itself
// (IsRecorded) is the mechanism behind "skip a fire that's already been
// recorded."
type Store struct {
	fs        afero.Fs
	auditPath string
}

// NewStore returns a Store rooted at auditPath on fs.
func NewStore(fs afero.Fs, auditPath string) *Store {
	return &Store{fs: fs, auditPath: auditPath}
}

func (s *Store) recordPath(workflow string, instant time.Time) string {
	return filepath.Join(s.auditPath, workflow, instant.UTC().Format(auditTimeLayout)+".json")
}

// IsRecorded reports whether (workflow, instant) already has an audit
// record, i.e. that fire has already been handled and must not be re-run
// (§8 testable invariant 8: "the same (workflow, instant) pair is never
// executed twice").
func (s *Store) IsRecorded(workflow string, instant time.Time) (bool, error) {
	exists, err := afero.Exists(s.fs, s.recordPath(workflow, instant))
	if err != nil {
		return false, err
	}
	return exists, nil
}

// Save writes rec to its canonical path, creating the workflow's directory
// as needed. Save does not check for an existing record: a second Save for
// the same (workflow, instant), such as a forced re-run, overwrites the
// first.
func (s *Store) Save(rec AuditRecord) error {
	dir := filepath.Join(s.auditPath, rec.Workflow)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return afero.WriteFile(s.fs, s.recordPath(rec.Workflow, rec.Instant), data, 0o644)
}

// List returns every audit record for workflow, in filename (i.e.
// chronological) order. Used by administrative/inspection tooling, not by
// the hot dedup path (which only needs IsRecorded).
func (s *Store) List(workflow string) ([]AuditRecord, error) {
	dir := filepath.Join(s.auditPath, workflow)
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	records := make([]AuditRecord, 0, len(entries))
	for _, fi := range entries {
		if fi.IsDir() {
			continue
		}
		data, err := afero.ReadFile(s.fs, filepath.Join(dir, fi.Name()))
		if err != nil {
			return nil, err
		}
		var rec AuditRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("audit record %s: %w", fi.Name(), err)
		}
		records = append(records, rec)
	}
	return records, nil
}
