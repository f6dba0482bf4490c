package ingest

import "encoding/json"

type EmployeeInput struct {
	Name          string   `json:"name" validate:"required"`
	RegularHours  *float64 `json:"regular_hours" validate:"omitempty,gte=0"`
	OvertimeHours *float64 `json:"overtime_hours" validate:"omitempty,gte=0"`
}

// SubmitRequest is the tool-call payload sent by the conversational agent.
type SubmitRequest struct {
	JobSite        string          `json:"job_site"`
	Employees      []EmployeeInput `json:"employees" validate:"required,min=1,dive"`
	Deliveries     json.RawMessage `json:"deliveries,omitempty"`
	Equipment      json.RawMessage `json:"equipment,omitempty"`
	Subcontractors json.RawMessage `json:"subcontractors,omitempty"`
	Safety         json.RawMessage `json:"safety,omitempty"`
	Delays         json.RawMessage `json:"delays,omitempty"`
	WorkPerformed  json.RawMessage `json:"work_performed,omitempty"`
	Shortages      string          `json:"shortages,omitempty"`
	Notes          string          `json:"notes,omitempty"`
}

// SubmitResponse is read back to the caller by the agent; Message must be speakable.
type SubmitResponse struct {
	Success  bool     `json:"success"`
	ReportId string   `json:"reportId,omitempty"`
	Message  string   `json:"message"`
	Warnings []string `json:"warnings,omitempty"`
}
