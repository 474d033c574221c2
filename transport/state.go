package transport

import (
	"errors"
	"math"
)

// Status is the lifecycle stage of a deck.
type Status int

const (
	Empty Status = iota
	Loading
	Loaded
	Playing
	Paused
	Error
)

var statusNames = [...]string{"empty", "loading", "loaded", "playing", "paused", "error"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// MarshalText renders the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Tempo limits applied by ChangeTempo.
const (
	MinTempo = 30.0
	MaxTempo = 300.0
)

// ErrLoadInProgress rejects a second load while one is still running.
var ErrLoadInProgress = errors.New("load already in progress")

// State is a consistent snapshot of a deck's transport.
type State struct {
	Status       Status  `json:"status"`
	PausedAt     float64 `json:"pausedAt"`
	Rate         float64 `json:"rate"`
	StartedAt    float64 `json:"startedAt"`
	Duration     float64 `json:"duration"`
	CurrentTempo float64 `json:"currentTempo"`
	InitialTempo float64 `json:"initialTempo"`
	Err          string  `json:"error,omitempty"`
}

// PositionAt projects the logical track time at audio clock reading now
// without changing anything.
func (s State) PositionAt(now float64) float64 {
	if s.Status != Playing {
		return s.PausedAt
	}
	return clamp(s.PausedAt+(now-s.StartedAt)*s.Rate, 0, s.Duration)
}

// ProgressAt is PositionAt as a fraction of the duration, clamped to [0, 1].
func (s State) ProgressAt(now float64) float64 {
	if s.Duration <= 0 {
		return 0
	}
	return clamp(s.PositionAt(now)/s.Duration, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(math.Max(v, lo), hi)
}

func emptyState() State {
	return State{Status: Empty, Rate: 1}
}
