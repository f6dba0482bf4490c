package correlator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path"
	"strings"

	"github.com/mmdatafocus/fieldreport_backend/models"
)

var (
	ErrNoArtifacts = errors.New("no artifact could be attached")
	ErrNoObjectURL = errors.New("uploader returned no object url")
)

// Uploader stores one artifact and returns the link written to the report.
type Uploader interface {
	Upload(ctx context.Context, objectName string, data []byte, contentType string) (string, error)
}

// StageError tags a failure with the correlation step it happened in.
type StageError struct {
	Stage     string
	Err       error
	Retryable bool
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }

func (e *StageError) Unwrap() error { return e.Err }

func stageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

func retryable(err error) bool {
	var se *StageError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return true
}

// AudioObjectName is deterministic so a retried upload overwrites the same object.
func AudioObjectName(reportId, callId, contentType string) string {
	return path.Join("recordings", reportId, callId+audioExtension(contentType))
}

func TranscriptObjectName(reportId, callId string) string {
	return path.Join("transcripts", reportId, callId+".txt")
}

// collectArtifacts fetches and uploads the recording and the transcript. The
// two are independent: either may fail without affecting the other. The
// returned errors list every artifact that could not be attached.
func (c *Correlator) collectArtifacts(ctx context.Context, ev models.CallEvent, reportId string) (models.ArtifactLinks, []error) {
	var (
		links models.ArtifactLinks
		errs  []error
	)

	if url, err := c.attachAudio(ctx, ev, reportId); err != nil {
		errs = append(errs, err)
	} else {
		links.AudioURL = url
	}

	if url, err := c.attachTranscript(ctx, ev, reportId); err != nil {
		errs = append(errs, err)
	} else {
		links.TranscriptURL = url
	}
	return links, errs
}

func (c *Correlator) attachAudio(ctx context.Context, ev models.CallEvent, reportId string) (string, error) {
	data, contentType, err := c.calls.FetchAudio(ctx, ev.CallId, ev.AudioRef)
	if err != nil {
		return "", &StageError{Stage: models.CorrelationStageFetch, Err: fmt.Errorf("audio: %w", err), Retryable: !errors.Is(err, ErrNotFound)}
	}
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	url, err := c.uploader.Upload(ctx, AudioObjectName(reportId, ev.CallId, contentType), data, contentType)
	if err == nil && url == "" {
		err = ErrNoObjectURL
	}
	if err != nil {
		return "", &StageError{Stage: models.CorrelationStageUpload, Err: fmt.Errorf("audio: %w", err), Retryable: true}
	}
	return url, nil
}

func (c *Correlator) attachTranscript(ctx context.Context, ev models.CallEvent, reportId string) (string, error) {
	entries := ev.Transcript
	if len(entries) == 0 {
		detail, err := c.calls.GetCall(ctx, ev.CallId)
		if err != nil {
			return "", &StageError{Stage: models.CorrelationStageFetch, Err: fmt.Errorf("transcript: %w", err), Retryable: !errors.Is(err, ErrNotFound)}
		}
		entries = detail.Transcript
	}
	text := RenderTranscript(entries)
	if text == "" {
		return "", &StageError{Stage: models.CorrelationStageFetch, Err: errors.New("transcript: empty"), Retryable: false}
	}
	url, err := c.uploader.Upload(ctx, TranscriptObjectName(reportId, ev.CallId), []byte(text), "text/plain; charset=utf-8")
	if err == nil && url == "" {
		err = ErrNoObjectURL
	}
	if err != nil {
		return "", &StageError{Stage: models.CorrelationStageUpload, Err: fmt.Errorf("transcript: %w", err), Retryable: true}
	}
	return url, nil
}

// RenderTranscript formats turns as "[mm:ss] Role: message", one per line.
func RenderTranscript(entries []models.TranscriptEntry) string {
	var b strings.Builder
	for _, e := range entries {
		msg := strings.TrimSpace(e.Message)
		if msg == "" {
			continue
		}
		if e.TimeInCallSecs != nil {
			secs := int(math.Round(*e.TimeInCallSecs))
			fmt.Fprintf(&b, "[%02d:%02d] ", secs/60, secs%60)
		}
		b.WriteString(roleLabel(e.Role))
		b.WriteString(": ")
		b.WriteString(msg)
		b.WriteString("\n")
	}
	return b.String()
}

func roleLabel(role string) string {
	switch strings.ToLower(role) {
	case models.TranscriptRoleAgent:
		return "Agent"
	case models.TranscriptRoleUser:
		return "Caller"
	case "":
		return "Unknown"
	default:
		return strings.ToUpper(role[:1]) + strings.ToLower(role[1:])
	}
}

func audioExtension(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	switch ct {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/ogg":
		return ".ogg"
	case "audio/webm":
		return ".webm"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return ".m4a"
	default:
		return ".mp3"
	}
}
