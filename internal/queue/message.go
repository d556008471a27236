package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TaskMessage is the broker payload of a job-runner task that became due.
type TaskMessage struct {
	Handle        string          `json:"handle"`
	Task          string          `json:"task"`
	Payload       json.RawMessage `json:"payload"`
	RunAt         time.Time       `json:"runAt"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

func (m TaskMessage) Validate() error {
	if strings.TrimSpace(m.Handle) == "" {
		return fmt.Errorf("handle is required")
	}
	if strings.TrimSpace(m.Task) == "" {
		return fmt.Errorf("task is required")
	}
	if len(m.Payload) == 0 || !json.Valid(m.Payload) {
		return fmt.Errorf("payload must be valid JSON")
	}
	return nil
}

// Decode unmarshals the payload into v.
func (m TaskMessage) Decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", m.Task, err)
	}
	return nil
}
