package pipeline

import "time"

// State is the loop lifecycle: idle → running → stopping → stopped.
type State int32

const (
	Idle State = iota
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText lets State render as its name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Outcome summarizes one iteration.
type Outcome struct {
	ID             string        `json:"id"`
	Index          int64         `json:"index"`
	At             time.Time     `json:"at"`
	Captured       bool          `json:"captured"`
	Unchanged      bool          `json:"unchanged,omitempty"`
	Counted        bool          `json:"counted"`
	Hash           string        `json:"hash,omitempty"`
	Width          int           `json:"width,omitempty"`
	Height         int           `json:"height,omitempty"`
	ArchivePath    string        `json:"archive_path,omitempty"`
	Bytes          int           `json:"bytes,omitempty"`
	Quality        int           `json:"quality,omitempty"`
	MetCeiling     bool          `json:"met_ceiling"`
	LocationStatus string        `json:"location_status,omitempty"`
	Delivered      bool          `json:"delivered"`
	DeliveryStatus int           `json:"delivery_status,omitempty"`
	Err            string        `json:"error,omitempty"`
	Panicked       bool          `json:"panicked,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// Status is the live view of the session published to observers.
type Status struct {
	SessionID string    `json:"session_id"`
	State     State     `json:"state"`
	StartedAt time.Time `json:"started_at"`
	Captures  int64     `json:"captures"`
	Limit     int64     `json:"limit"`
	Last      *Outcome  `json:"last,omitempty"`
}
