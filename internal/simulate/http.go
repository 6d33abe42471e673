package simulate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// HTTPClient wraps http.Client with timeout
type HTTPClient struct {
	client  *http.Client
	baseURL string
}

// apiError is a non-2xx reply.
type apiError struct {
	Status int
	Code   string `json:"code"`
	Msg    string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("status %d: %s: %s", e.Status, e.Code, e.Msg)
}

// newHTTPClient creates a new HTTP client with timeout
func newHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// do sends a request and decodes a JSON reply into out when out is non-nil.
func (c *HTTPClient) do(ctx context.Context, method, path, contentType string, body io.Reader, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(b)
	}
	return c.do(ctx, http.MethodPost, path, "application/json", body, nil, out)
}

// Health checks GET /healthz.
func (c *HTTPClient) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", "", nil, nil, nil)
}

// Open opens a session.
func (c *HTTPClient) Open(ctx context.Context, roomID, nickname, interviewer string) (view, error) {
	var v view
	err := c.postJSON(ctx, "/sessions", map[string]string{
		"room_id":     roomID,
		"nickname":    nickname,
		"interviewer": interviewer,
	}, &v)
	return v, err
}

// Start requests the face capture.
func (c *HTTPClient) Start(ctx context.Context, id string) error {
	return c.postJSON(ctx, "/sessions/"+id+"/start", nil, nil)
}

// Leave leaves the waiting room.
func (c *HTTPClient) Leave(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/sessions/"+id, "", nil, nil, nil)
}

// Handoff fetches the published handoff.
func (c *HTTPClient) Handoff(ctx context.Context, id string) (handoffBody, error) {
	var h handoffBody
	err := c.do(ctx, http.MethodGet, "/sessions/"+id+"/handoff", "", nil, nil, &h)
	return h, err
}

// PushFrame uploads a raw gray8 frame.
func (c *HTTPClient) PushFrame(ctx context.Context, id string, data []byte, width, height int) error {
	header := http.Header{}
	header.Set("X-Frame-Width", strconv.Itoa(width))
	header.Set("X-Frame-Height", strconv.Itoa(height))
	return c.do(ctx, http.MethodPost, "/sessions/"+id+"/frames", "application/octet-stream", bytes.NewReader(data), header, nil)
}

// EventsURL returns the websocket URL of a session's notice stream.
func (c *HTTPClient) EventsURL(id string) string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/sessions/" + id + "/events"
}
