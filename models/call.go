package models

import "time"

const (
	CallStatusDone    = "done"
	CallStatusFailed  = "failed"
	CallStatusTimeout = "timeout"
)

const (
	TranscriptRoleUser  = "user"
	TranscriptRoleAgent = "agent"
)

type TranscriptEntry struct {
	Role           string   `json:"role"`
	Message        string   `json:"message"`
	TimeInCallSecs *float64 `json:"time_in_call_secs,omitempty"`
}

// CallEvent is one finished conversation as reported by the voice provider.
// It is never persisted.
type CallEvent struct {
	CallId          string
	StartTime       time.Time
	DurationSeconds int
	Status          string
	Transcript      []TranscriptEntry
	AudioRef        string
}

func (e CallEvent) EndTime() time.Time {
	return e.StartTime.Add(time.Duration(e.DurationSeconds) * time.Second)
}

func (e CallEvent) Done() bool {
	return e.Status == CallStatusDone
}

type RosterEntry struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}
