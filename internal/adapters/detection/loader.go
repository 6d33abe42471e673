// Package detection loads face-landmark models hosted by a remote inference
// service.
package detection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/okian/readyroom/internal/adapters/breaker"
	"github.com/okian/readyroom/internal/domain/landmark"
	"github.com/okian/readyroom/internal/domain/video"
	"github.com/okian/readyroom/pkg/logger"
)

const (
	defaultTimeout   = 10 * time.Second
	maxResponseBytes = 1 << 20
)

// ErrStatus is returned for a non-2xx inference response.
var ErrStatus = errors.New("unexpected inference status")

// Loader creates model instances on the inference service. Each Load maps to
// one remote model that is deleted on Close.
type Loader struct {
	baseURL string
	model   string
	http    *http.Client
	breaker *breaker.Breaker[[]byte]
	logger  logger.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(l *Loader) {
		if c != nil {
			l.http = c
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(lg logger.Logger) Option {
	return func(l *Loader) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// NewLoader creates a loader for the named model on baseURL.
func NewLoader(baseURL, model string, opts ...Option) *Loader {
	l := &Loader{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  logger.Get().Named("detection"),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.breaker = breaker.New[[]byte]("inference", breaker.Settings{}, l.logger)
	return l
}

type createResponse struct {
	ID string `json:"id"`
}

type estimateResponse struct {
	Faces []landmark.Face `json:"faces"`
}

// Load implements landmark.Loader.
func (l *Loader) Load(ctx context.Context) (landmark.Model, error) {
	body, err := json.Marshal(map[string]any{"model": l.model, "max_faces": 1, "refine_landmarks": true})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", landmark.ErrModelLoad, err)
	}
	data, err := l.do(ctx, http.MethodPost, "/models", bytes.NewReader(body), "application/json", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", landmark.ErrModelLoad, err)
	}
	var created createResponse
	if err := json.Unmarshal(data, &created); err != nil || created.ID == "" {
		return nil, fmt.Errorf("%w: bad create response", landmark.ErrModelLoad)
	}
	l.logger.Debug(ctx, "remote model created", logger.String("model_id", created.ID))
	return &remoteModel{loader: l, id: created.ID}, nil
}

func (l *Loader) do(ctx context.Context, method, path string, body io.Reader, contentType string, header http.Header) ([]byte, error) {
	return l.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, l.baseURL+path, body)
		if err != nil {
			return nil, err
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		for k, v := range header {
			req.Header[k] = v
		}
		resp, err := l.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("%w: %s %s: %d", ErrStatus, method, path, resp.StatusCode)
		}
		return data, nil
	})
}

type remoteModel struct {
	loader *Loader
	id     string
	closed atomic.Bool
}

func (m *remoteModel) path(suffix string) string {
	return "/models/" + url.PathEscape(m.id) + suffix
}

func (m *remoteModel) Estimate(ctx context.Context, frame video.Frame) ([]landmark.Face, error) {
	if m.closed.Load() {
		return nil, landmark.ErrReleased
	}
	header := http.Header{}
	header.Set("X-Frame-Encoding", frame.Encoding)
	header.Set("X-Frame-Width", strconv.Itoa(frame.Width))
	header.Set("X-Frame-Height", strconv.Itoa(frame.Height))
	data, err := m.loader.do(ctx, http.MethodPost, m.path("/estimate"), bytes.NewReader(frame.Data), "application/octet-stream", header)
	if err != nil {
		return nil, err
	}
	var out estimateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode estimate: %w", err)
	}
	return out.Faces, nil
}

func (m *remoteModel) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	_, err := m.loader.do(ctx, http.MethodDelete, m.path(""), http.NoBody, "", nil)
	return err
}
