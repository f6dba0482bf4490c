package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type ArtifactLinks struct {
	AudioURL      string `json:"audioUrl,omitempty"`
	TranscriptURL string `json:"transcriptUrl,omitempty"`
}

// Linked reports whether any artifact has been attached.
func (l ArtifactLinks) Linked() bool {
	return l.AudioURL != "" || l.TranscriptURL != ""
}

type EmployeeHours struct {
	Name           string          `json:"name"`
	NormalizedName string          `json:"normalizedName"`
	EmployeeId     string          `json:"employeeId,omitempty"`
	RegularHours   decimal.Decimal `json:"regularHours"`
	OvertimeHours  decimal.Decimal `json:"overtimeHours"`
	TotalHours     decimal.Decimal `json:"totalHours"`
}

// NewEmployeeHours is the only constructor that sets TotalHours.
func NewEmployeeHours(name, normalizedName, employeeId string, regular, overtime decimal.Decimal) EmployeeHours {
	return EmployeeHours{
		Name:           name,
		NormalizedName: normalizedName,
		EmployeeId:     employeeId,
		RegularHours:   regular,
		OvertimeHours:  overtime,
		TotalHours:     regular.Add(overtime),
	}
}

// Ancillary holds the report sections this service stores but does not interpret.
type Ancillary struct {
	Deliveries     json.RawMessage `json:"deliveries,omitempty"`
	Equipment      json.RawMessage `json:"equipment,omitempty"`
	Subcontractors json.RawMessage `json:"subcontractors,omitempty"`
	Safety         json.RawMessage `json:"safety,omitempty"`
	Delays         json.RawMessage `json:"delays,omitempty"`
	WorkPerformed  json.RawMessage `json:"work_performed,omitempty"`
	Shortages      string          `json:"shortages,omitempty"`
	Notes          string          `json:"notes,omitempty"`
}

type Report struct {
	ID            string          `json:"id"`
	SubmittedAt   time.Time       `json:"submittedAt"`
	JobSite       string          `json:"jobSite,omitempty"`
	EmployeeHours []EmployeeHours `json:"employeeHours"`
	Ancillary     Ancillary       `json:"ancillary"`
	Links         ArtifactLinks   `json:"artifactLinks"`
	// CallId is written together with Links and marks the call as consumed.
	CallId string `json:"callId,omitempty"`
}

func (r Report) Linked() bool {
	return r.Links.Linked()
}
