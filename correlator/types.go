package correlator

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/mmdatafocus/fieldreport_backend/models"
)

// CallFinishedPayload is the provider's post-call notification. Some provider
// versions wrap it as {"type": ..., "data": {...}}; both shapes are accepted.
type CallFinishedPayload struct {
	ConversationId   string                   `json:"conversation_id"`
	Status           string                   `json:"status"`
	CallDurationSecs *float64                 `json:"call_duration_secs,omitempty"`
	RecordingURL     string                   `json:"recording_url,omitempty"`
	Transcript       []models.TranscriptEntry `json:"transcript,omitempty"`
	Metadata         *conversationMetadata    `json:"metadata,omitempty"`
}

type callFinishedEnvelope struct {
	Type string               `json:"type"`
	Data *CallFinishedPayload `json:"data"`
}

func DecodeCallFinished(body []byte) (CallFinishedPayload, error) {
	var p CallFinishedPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return CallFinishedPayload{}, err
	}
	if p.ConversationId == "" {
		var env callFinishedEnvelope
		if err := json.Unmarshal(body, &env); err == nil && env.Data != nil {
			p = *env.Data
		}
	}
	p.ConversationId = strings.TrimSpace(p.ConversationId)
	p.Status = strings.ToLower(strings.TrimSpace(p.Status))
	return p, nil
}

// Event converts the notification. StartTime stays zero unless the payload
// carries call metadata.
func (p CallFinishedPayload) Event() models.CallEvent {
	ev := models.CallEvent{
		CallId:     p.ConversationId,
		Status:     p.Status,
		Transcript: p.Transcript,
		AudioRef:   p.RecordingURL,
	}
	if p.CallDurationSecs != nil {
		ev.DurationSeconds = int(*p.CallDurationSecs + 0.5)
	}
	if p.Metadata != nil {
		if p.Metadata.StartTimeUnixSecs > 0 {
			ev.StartTime = time.Unix(p.Metadata.StartTimeUnixSecs, 0).UTC()
		}
		if ev.DurationSeconds == 0 {
			ev.DurationSeconds = p.Metadata.CallDurationSecs
		}
	}
	return ev
}

type conversationMetadata struct {
	StartTimeUnixSecs int64 `json:"start_time_unix_secs"`
	CallDurationSecs  int   `json:"call_duration_secs"`
}

type conversationSummary struct {
	ConversationId    string `json:"conversation_id"`
	AgentId           string `json:"agent_id"`
	Status            string `json:"status"`
	StartTimeUnixSecs int64  `json:"start_time_unix_secs"`
	CallDurationSecs  int    `json:"call_duration_secs"`
}

type conversationListResponse struct {
	Conversations []conversationSummary `json:"conversations"`
	HasMore       bool                  `json:"has_more"`
	NextCursor    *string               `json:"next_cursor"`
}

type conversationDetail struct {
	ConversationId string                   `json:"conversation_id"`
	AgentId        string                   `json:"agent_id"`
	Status         string                   `json:"status"`
	Transcript     []models.TranscriptEntry `json:"transcript"`
	Metadata       conversationMetadata     `json:"metadata"`
	HasAudio       *bool                    `json:"has_audio,omitempty"`
}

func (s conversationSummary) event() models.CallEvent {
	return models.CallEvent{
		CallId:          s.ConversationId,
		StartTime:       time.Unix(s.StartTimeUnixSecs, 0).UTC(),
		DurationSeconds: s.CallDurationSecs,
		Status:          strings.ToLower(s.Status),
	}
}

func (d conversationDetail) event() models.CallEvent {
	ev := models.CallEvent{
		CallId:          d.ConversationId,
		DurationSeconds: d.Metadata.CallDurationSecs,
		Status:          strings.ToLower(d.Status),
		Transcript:      d.Transcript,
	}
	if d.Metadata.StartTimeUnixSecs > 0 {
		ev.StartTime = time.Unix(d.Metadata.StartTimeUnixSecs, 0).UTC()
	}
	return ev
}

// PubSubPushEnvelope is the body Pub/Sub push subscriptions POST.
type PubSubPushEnvelope struct {
	Message struct {
		Data       []byte            `json:"data"`
		ID         string            `json:"messageId"`
		Attributes map[string]string `json:"attributes"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// DeadLetterMessage is what a failed per-call attempt publishes for replay.
// ReportId is set once the attempt had chosen a report; a replay retries that
// pair rather than matching again.
type DeadLetterMessage struct {
	CallId          string                   `json:"call_id"`
	Status          string                   `json:"status"`
	StartTime       time.Time                `json:"start_time"`
	DurationSeconds int                      `json:"duration_seconds,omitempty"`
	AudioRef        string                   `json:"audio_ref,omitempty"`
	Transcript      []models.TranscriptEntry `json:"transcript,omitempty"`
	ReportId        string                   `json:"report_id,omitempty"`
	Stage           string                   `json:"stage"`
	Reason          string                   `json:"reason"`
	FailedAt        time.Time                `json:"failed_at"`
}

func newDeadLetterMessage(ev models.CallEvent, reportId, stage, reason string, at time.Time) DeadLetterMessage {
	return DeadLetterMessage{
		CallId:          ev.CallId,
		Status:          ev.Status,
		StartTime:       ev.StartTime,
		DurationSeconds: ev.DurationSeconds,
		AudioRef:        ev.AudioRef,
		Transcript:      ev.Transcript,
		ReportId:        reportId,
		Stage:           stage,
		Reason:          reason,
		FailedAt:        at,
	}
}

func (m DeadLetterMessage) Event() models.CallEvent {
	return models.CallEvent{
		CallId:          m.CallId,
		Status:          m.Status,
		StartTime:       m.StartTime,
		DurationSeconds: m.DurationSeconds,
		AudioRef:        m.AudioRef,
		Transcript:      m.Transcript,
	}
}
