// Package rooms talks to the room-management service.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/okian/readyroom/internal/adapters/breaker"
	"github.com/okian/readyroom/pkg/logger"
)

const defaultTimeout = 5 * time.Second

// ErrStatus is returned for a response the release cannot be confirmed from.
var ErrStatus = errors.New("unexpected room service status")

// Client deletes interview rooms over HTTP. A 404 counts as released so
// repeated deletes are harmless.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	breaker *breaker.Breaker[struct{}]
	logger  logger.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithBearerToken authenticates requests with token.
func WithBearerToken(token string) Option {
	return func(cl *Client) { cl.token = token }
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

// WithBreaker sets the breaker settings.
func WithBreaker(s breaker.Settings) Option {
	return func(cl *Client) {
		cl.breaker = breaker.New[struct{}]("room-service", s, cl.logger)
	}
}

// NewClient creates a room service client.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  logger.Get().Named("rooms"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = breaker.New[struct{}]("room-service", breaker.Settings{}, c.logger)
	}
	return c
}

// ReleaseRoom deletes the room.
func (c *Client) ReleaseRoom(ctx context.Context, roomID string) error {
	_, err := c.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, c.release(ctx, roomID)
	})
	return err
}

func (c *Client) release(ctx context.Context, roomID string) error {
	u := c.baseURL + "/interview/rooms/" + url.PathEscape(roomID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, http.NoBody)
	if err != nil {
		return fmt.Errorf("build release request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("release room %s: %w", roomID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.logger.Debug(ctx, "room already gone", logger.String("room_id", roomID))
		return nil
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		return nil
	}
	return fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
}

// Nop releases nothing. It stands in when no room service is configured.
type Nop struct{}

// ReleaseRoom implements the room releaser contract.
func (Nop) ReleaseRoom(context.Context, string) error { return nil }
