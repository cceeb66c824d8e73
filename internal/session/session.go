// Package session tracks one run of the process: its identifier, capture
// counter and running flag, plus the start and end records written to disk.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// IDLayout formats session identifiers from the start time.
const IDLayout = "20060102_150405"

// NewID derives a session identifier from t.
func NewID(t time.Time) string { return t.Format(IDLayout) }

// StartRecord is persisted when the loop starts.
type StartRecord struct {
	SessionID string    `json:"session_id"`
	StartTime time.Time `json:"start_time"`
	Config    any       `json:"config"`
}

// EndRecord is persisted when the loop stops.
type EndRecord struct {
	SessionID     string    `json:"session_id"`
	EndTime       time.Time `json:"end_time"`
	TotalCaptures int64     `json:"total_captures"`
}

// Session is safe for concurrent use. The loop is the only writer of the
// counter; shutdown only ever clears the running flag.
type Session struct {
	id      string
	started time.Time
	dir     string
	count   atomic.Int64
	running atomic.Bool
}

// New creates a session started at now whose records go to dir.
func New(dir string, now time.Time) *Session {
	return &Session{id: NewID(now), started: now, dir: dir}
}

func (s *Session) ID() string { return s.id }
func (s *Session) Started() time.Time { return s.started }
func (s *Session) Count() int64 { return s.count.Load() }
func (s *Session) Running() bool { return s.running.Load() }
func (s *Session) SetRunning(on bool) { s.running.Store(on) }
func (s *Session) Increment() int64 { return s.count.Add(1) }

// Next is the index the next completed capture will carry.
func (s *Session) Next() int64 { return s.count.Load() + 1 }

// StartPath and EndPath locate the session records.
func (s *Session) StartPath() string {
	return filepath.Join(s.dir, fmt.Sprintf("session_%s.json", s.id))
}

func (s *Session) EndPath() string {
	return filepath.Join(s.dir, fmt.Sprintf("session_%s_end.json", s.id))
}

// WriteStart persists the start record with a snapshot of cfg.
func (s *Session) WriteStart(cfg any) error {
	return writeJSON(s.StartPath(), StartRecord{SessionID: s.id, StartTime: s.started, Config: cfg})
}

// WriteEnd persists the end record with the current counter.
func (s *Session) WriteEnd(at time.Time) (EndRecord, error) {
	rec := EndRecord{SessionID: s.id, EndTime: at, TotalCaptures: s.Count()}
	return rec, writeJSON(s.EndPath(), rec)
}

// ReadEnd loads an end record.
func ReadEnd(path string) (EndRecord, error) {
	var rec EndRecord
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, err
	}
	err = json.Unmarshal(data, &rec)
	return rec, err
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
