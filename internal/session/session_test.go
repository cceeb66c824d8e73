package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID(t *testing.T) {
	at := time.Date(2026, 10, 17, 9, 8, 7, 0, time.Local)
	s := New(t.TempDir(), at)

	assert.Equal(t, "20261017_090807", s.ID())
	assert.Equal(t, at, s.Started())
	assert.Zero(t, s.Count())
	assert.Equal(t, int64(1), s.Next())
	assert.False(t, s.Running())
}

func TestCounterAndFlag(t *testing.T) {
	s := New(t.TempDir(), time.Now())
	s.SetRunning(true)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Increment()
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), s.Count())
	assert.True(t, s.Running())
	s.SetRunning(false)
	assert.False(t, s.Running())
}

func TestWriteStart(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "session_logs")
	s := New(dir, time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))

	require.NoError(t, s.WriteStart(map[string]any{"capture_interval": 300}))

	data, err := os.ReadFile(filepath.Join(dir, "session_20260101_120000.json"))
	require.NoError(t, err)

	var rec struct {
		SessionID string         `json:"session_id"`
		StartTime string         `json:"start_time"`
		Config    map[string]any `json:"config"`
	}
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, "20260101_120000", rec.SessionID)
	assert.Equal(t, "2026-01-01T12:00:00Z", rec.StartTime)
	assert.EqualValues(t, 300, rec.Config["capture_interval"])
}

func TestWriteEnd(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	s.Increment()
	s.Increment()
	s.Increment()

	end := time.Date(2026, 1, 1, 12, 5, 0, 0, time.UTC)
	rec, err := s.WriteEnd(end)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.TotalCaptures)

	loaded, err := ReadEnd(s.EndPath())
	require.NoError(t, err)
	assert.Equal(t, "20260101_120000", loaded.SessionID)
	assert.Equal(t, int64(3), loaded.TotalCaptures)
	assert.True(t, loaded.EndTime.Equal(end))
	assert.Equal(t, filepath.Join(dir, "session_20260101_120000_end.json"), s.EndPath())
}
