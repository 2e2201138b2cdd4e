package service

import "time"

// State is the lifecycle state of the engine.
type State int

const (
	StateEmpty State = iota
	StateReady
	StateBuilding
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateReady:
		return "ready"
	case StateBuilding:
		return "building"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Stats is a point-in-time view of the engine.
type Stats struct {
	State      State     `json:"state"`
	Generation string    `json:"generation,omitempty"`
	Chunks     int       `json:"chunks"`
	Dimension  int       `json:"dimension"`
	BuiltAt    time.Time `json:"built_at,omitzero"`
	LastError  string    `json:"last_error,omitempty"`
	// Progress is set only while a build runs.
	Progress *Progress `json:"progress,omitempty"`
}

// Progress tracks the embedding phase of a running build.
type Progress struct {
	Files       int `json:"files"`
	ChunksDone  int `json:"chunks_done"`
	ChunksTotal int `json:"chunks_total"`
}
