package correlator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mmdatafocus/fieldreport_backend/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *VoiceClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewVoiceClient(config.VoiceSettings{
		BaseURL: srv.URL,
		APIKey:  "k-123",
		AgentID: "agent-1",
	}, srv.Client())
	require.NoError(t, err)
	return c
}

func TestVoiceClient_ListCallsPaginates(t *testing.T) {
	var calls int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "k-123", r.Header.Get("xi-api-key"))
		assert.Equal(t, "/v1/convai/conversations", r.URL.Path)
		assert.Equal(t, "agent-1", r.URL.Query().Get("agent_id"))
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("cursor") == "" {
			_, _ = w.Write([]byte(`{"conversations":[{"conversation_id":"c2","status":"done","start_time_unix_secs":1772460000,"call_duration_secs":90}],"has_more":true,"next_cursor":"p2"}`))
			return
		}
		_, _ = w.Write([]byte(`{"conversations":[{"conversation_id":"c1","status":"failed","start_time_unix_secs":1772450000,"call_duration_secs":30}],"has_more":false,"next_cursor":null}`))
	})

	events, err := c.ListCalls(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "c2", events[0].CallId)
	assert.True(t, events[0].Done())
	assert.Equal(t, time.Unix(1772460000+90, 0).UTC(), events[0].EndTime())
	assert.False(t, events[1].Done())
}

func TestVoiceClient_ListCallsRespectsLimit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("page_size"))
		_, _ = w.Write([]byte(`{"conversations":[{"conversation_id":"c2","status":"done"}],"has_more":true,"next_cursor":"p2"}`))
	})
	events, err := c.ListCalls(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestVoiceClient_GetCall(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/convai/conversations/c1":
			_, _ = w.Write([]byte(`{"conversation_id":"c1","status":"done","transcript":[{"role":"agent","message":"Hello","time_in_call_secs":0}],"metadata":{"start_time_unix_secs":1772460000,"call_duration_secs":61}}`))
		default:
			http.Error(w, `{"detail":"not found"}`, http.StatusNotFound)
		}
	})

	ev, err := c.GetCall(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 61, ev.DurationSeconds)
	require.Len(t, ev.Transcript, 1)
	assert.Equal(t, "Hello", ev.Transcript[0].Message)

	_, err = c.GetCall(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestVoiceClient_FetchAudio(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/convai/conversations/c1/audio":
			assert.Equal(t, "k-123", r.Header.Get("xi-api-key"))
			w.Header().Set("Content-Type", "audio/mpeg")
			_, _ = w.Write([]byte("ID3audio"))
		case "/v1/convai/conversations/empty/audio":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	})

	data, ct, err := c.FetchAudio(context.Background(), "c1", "")
	require.NoError(t, err)
	assert.Equal(t, "ID3audio", string(data))
	assert.Equal(t, "audio/mpeg", ct)

	_, _, err = c.FetchAudio(context.Background(), "empty", "")
	assert.Error(t, err)

	_, _, err = c.FetchAudio(context.Background(), "boom", "")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestVoiceClient_FetchAudioFromForeignURLOmitsKey(t *testing.T) {
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("xi-api-key"))
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte("RIFF"))
	}))
	defer foreign.Close()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("provider should not be called, got %s", r.URL.Path)
	})
	data, ct, err := c.FetchAudio(context.Background(), "c1", foreign.URL+"/rec.wav")
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data))
	assert.Equal(t, "audio/wav", ct)
}

func TestNewVoiceClient_RequiresKey(t *testing.T) {
	_, err := NewVoiceClient(config.VoiceSettings{}, nil)
	assert.Error(t, err)
}
