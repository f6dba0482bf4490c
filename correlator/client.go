package correlator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/fieldreport_backend/config"
	"github.com/mmdatafocus/fieldreport_backend/models"
)

// CallSource is the voice provider as seen by the correlator.
type CallSource interface {
	// ListCalls returns up to limit of the most recent calls, newest first.
	ListCalls(ctx context.Context, limit int) ([]models.CallEvent, error)
	GetCall(ctx context.Context, callId string) (models.CallEvent, error)
	// FetchAudio downloads the recording. ref is the recording URL from the
	// notification, if any.
	FetchAudio(ctx context.Context, callId, ref string) ([]byte, string, error)
}

var ErrNotFound = errors.New("not found on voice provider")

const maxPageSize = 100

type VoiceClient struct {
	baseURL   string
	apiKey    string
	apiKeyHdr string
	agentId   string
	http      *http.Client
	limiter   <-chan time.Time
}

func NewVoiceClient(s config.VoiceSettings, httpClient *http.Client) (*VoiceClient, error) {
	if strings.TrimSpace(s.APIKey) == "" {
		return nil, errors.New("voice api key is empty")
	}
	baseURL := strings.TrimSpace(s.BaseURL)
	if baseURL == "" {
		baseURL = "https://api.elevenlabs.io"
	}
	apiKeyHeader := strings.TrimSpace(s.APIKeyHeader)
	if apiKeyHeader == "" {
		apiKeyHeader = "xi-api-key"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	c := &VoiceClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    s.APIKey,
		apiKeyHdr: apiKeyHeader,
		agentId:   strings.TrimSpace(s.AgentID),
		http:      httpClient,
	}
	// RateLimitPerMin <= 0 disables client-side throttling.
	if s.RateLimitPerMin > 0 {
		c.limiter = time.Tick(time.Minute / time.Duration(s.RateLimitPerMin))
	}
	return c, nil
}

func (c *VoiceClient) ListCalls(ctx context.Context, limit int) ([]models.CallEvent, error) {
	if limit <= 0 {
		return nil, nil
	}
	var (
		out    []models.CallEvent
		cursor string
	)
	for len(out) < limit {
		params := url.Values{}
		params.Set("page_size", strconv.Itoa(min(limit-len(out), maxPageSize)))
		if c.agentId != "" {
			params.Set("agent_id", c.agentId)
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		var page conversationListResponse
		if err := c.getJSON(ctx, "/v1/convai/conversations", params, &page); err != nil {
			return nil, err
		}
		for _, s := range page.Conversations {
			out = append(out, s.event())
		}
		if !page.HasMore || page.NextCursor == nil || *page.NextCursor == "" || len(page.Conversations) == 0 {
			break
		}
		cursor = *page.NextCursor
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c *VoiceClient) GetCall(ctx context.Context, callId string) (models.CallEvent, error) {
	var d conversationDetail
	if err := c.getJSON(ctx, "/v1/convai/conversations/"+url.PathEscape(callId), nil, &d); err != nil {
		return models.CallEvent{}, err
	}
	if d.ConversationId == "" {
		d.ConversationId = callId
	}
	return d.event(), nil
}

func (c *VoiceClient) FetchAudio(ctx context.Context, callId, ref string) ([]byte, string, error) {
	endpoint := c.baseURL + "/v1/convai/conversations/" + url.PathEscape(callId) + "/audio"
	withKey := true
	if ref != "" && (strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "http://")) {
		endpoint = ref
		// Only send the key back to the provider's own host.
		withKey = strings.HasPrefix(ref, c.baseURL+"/")
	}

	resp, err := c.do(ctx, endpoint, "audio/*", withKey)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	if err := statusError(resp, body); err != nil {
		return nil, "", err
	}
	if len(body) == 0 {
		return nil, "", fmt.Errorf("empty recording for call %s", callId)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(body)
	}
	return body, contentType, nil
}

func (c *VoiceClient) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	resp, err := c.do(ctx, endpoint, "application/json", true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if err := statusError(resp, body); err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func (c *VoiceClient) do(ctx context.Context, endpoint, accept string, withKey bool) (*http.Response, error) {
	if c.limiter != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.limiter:
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if withKey {
		req.Header.Set(c.apiKeyHdr, c.apiKey)
	}
	req.Header.Set("Accept", accept)
	return c.http.Do(req)
}

func statusError(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	}
	return fmt.Errorf("voice api error %d: %s", resp.StatusCode, msg)
}
