package models

import "time"

const (
	CorrelationModePerCall = "per_call"
	CorrelationModeBatch   = "batch"
)

const (
	CorrelationRunStatusRunning = "running"
	CorrelationRunStatusSuccess = "success"
	CorrelationRunStatusPartial = "partial"
	CorrelationRunStatusFailed  = "failed"
	CorrelationRunStatusNoop    = "noop"
)

const (
	CorrelationTriggeredWebhook  = "webhook"
	CorrelationTriggeredManual   = "manual"
	CorrelationTriggeredSchedule = "schedule"
	CorrelationTriggeredReplay   = "replay"
	CorrelationTriggeredCLI      = "cli"
)

const (
	CorrelationStageScan   = "scan"
	CorrelationStageFetch  = "fetch"
	CorrelationStageClaim  = "claim"
	CorrelationStageUpload = "upload"
	CorrelationStageUpdate = "update"
)

type CorrelationRun struct {
	ID             uint       `gorm:"primary_key" json:"id"`
	Mode           string     `gorm:"index;size:20;not null" json:"mode"`
	TriggeredBy    string     `gorm:"size:20" json:"triggered_by"`
	Status         string     `gorm:"size:20;not null" json:"status"`
	EventsSeen     int        `json:"events_seen"`
	CandidateCount int        `json:"candidate_count"`
	LinkedCount    int        `json:"linked_count"`
	FailedCount    int        `json:"failed_count"`
	StartedAt      *time.Time `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at"`
	DurationMs     int64      `json:"duration_ms"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type CorrelationFailure struct {
	ID          uint      `gorm:"primary_key" json:"id"`
	RunId       uint      `gorm:"index" json:"run_id"`
	CallId      string    `gorm:"index;size:128" json:"call_id"`
	ReportId    string    `gorm:"index;size:64" json:"report_id"`
	Stage       string    `gorm:"size:20" json:"stage"`
	Message     string    `gorm:"type:text" json:"message"`
	PayloadJSON []byte    `gorm:"type:json" json:"payload"`
	Retryable   bool      `gorm:"default:false" json:"retryable"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}
