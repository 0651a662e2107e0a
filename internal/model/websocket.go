package model

import "time"

// WebSocket message types
const (
	WSMessageTypeState = "state"
	WSMessageTypeError = "error"
	WSMessageTypePing  = "ping"
	WSMessageTypePong  = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// OrchestratorState is the externally visible state of one orchestrator.
type OrchestratorState struct {
	Kind      JobKind   `json:"kind"`
	Phase     Phase     `json:"phase"`
	JobID     string    `json:"jobId,omitempty"`
	Status    JobStatus `json:"status,omitempty"`
	Result    string    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Transition records one phase change.
type Transition struct {
	From Phase     `json:"from"`
	To   Phase     `json:"to"`
	At   time.Time `json:"at"`
}

// WSStateMessage pushes an orchestrator state change to subscribers.
type WSStateMessage struct {
	Type  string            `json:"type"`
	State OrchestratorState `json:"state"`
}

// WSErrorMessage represents an error
type WSErrorMessage struct {
	Type  string  `json:"type"`
	Error WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
