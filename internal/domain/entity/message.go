package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// StepMessage is the inbound request from the orchestrator to run one step.
type StepMessage struct {
	JobID     uuid.UUID       `json:"job_id"`
	UserID    string          `json:"user_id"`
	UserEmail string          `json:"user_email"`
	State     State           `json:"state"`
	Payload   json.RawMessage `json:"payload"`
}

// StepResultMessage is published after every step invocation.
type StepResultMessage struct {
	JobID        uuid.UUID       `json:"job_id"`
	UserID       string          `json:"user_id"`
	State        State           `json:"state"`
	Status       JobStatus       `json:"status"`
	RunStatus    RunStatus       `json:"run_status,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Attempt      int             `json:"attempt"`
	MaxAttempts  int             `json:"max_attempts"`
}

// Invocation carries the per-delivery execution budget into a step.
type Invocation struct {
	JobID    uuid.UUID
	Deadline time.Time
}
