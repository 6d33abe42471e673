// Package speech issues speech-service authorization tokens over HTTP.
package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"

	"github.com/okian/readyroom/internal/adapters/breaker"
	"github.com/okian/readyroom/internal/domain/credential"
	"github.com/okian/readyroom/pkg/logger"
)

const (
	defaultTokenPath = "/sts/v1.0/issueToken"
	defaultTokenTTL  = 10 * time.Minute
	defaultTimeout   = 5 * time.Second
	maxTokenBytes    = 16 << 10
	keyHeader        = "Ocp-Apim-Subscription-Key"
)

var (
	// ErrStatus is returned for a non-2xx token response.
	ErrStatus = errors.New("unexpected token service status")
	// ErrEmptyToken is returned when the service answered without a token.
	ErrEmptyToken = errors.New("token service returned no token")
)

// Client fetches tokens from a speech token endpoint. The endpoint answers
// either with the raw token as text or with a JSON object carrying token,
// region and expires_in.
type Client struct {
	endpoint string
	key      string
	region   string
	ttl      time.Duration
	http     *http.Client
	breaker  *breaker.Breaker[credential.Credential]
	now      func() time.Time
	logger   logger.Logger
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

// WithTokenTTL sets the lifetime assumed for tokens that carry no expiry.
func WithTokenTTL(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.ttl = d
		}
	}
}

// WithBreaker sets the breaker settings.
func WithBreaker(s breaker.Settings) Option {
	return func(cl *Client) {
		cl.breaker = breaker.New[credential.Credential]("speech-token", s, cl.logger)
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(cl *Client) {
		if now != nil {
			cl.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

// NewClient creates a token client for baseURL.
func NewClient(baseURL, key, region string, opts ...Option) *Client {
	c := &Client{
		endpoint: strings.TrimRight(baseURL, "/") + defaultTokenPath,
		key:      key,
		region:   region,
		ttl:      defaultTokenTTL,
		http:     &http.Client{Timeout: defaultTimeout},
		now:      time.Now,
		logger:   logger.Get().Named("speech"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = breaker.New[credential.Credential]("speech-token", breaker.Settings{}, c.logger)
	}
	return c
}

// Issue implements credential.Source.
func (c *Client) Issue(ctx context.Context) (credential.Credential, error) {
	return c.breaker.Execute(func() (credential.Credential, error) {
		return c.issue(ctx)
	})
}

func (c *Client) issue(ctx context.Context) (credential.Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, http.NoBody)
	if err != nil {
		return credential.Credential{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set(keyHeader, c.key)

	resp, err := c.http.Do(req)
	if err != nil {
		return credential.Credential{}, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenBytes))
	if err != nil {
		return credential.Credential{}, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return credential.Credential{}, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}

	cred, err := c.decode(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return credential.Credential{}, err
	}
	c.logger.Debug(ctx, "speech token issued",
		logger.String("region", cred.Region),
		logger.Duration("ttl", cred.ExpiresAt.Sub(c.now())),
	)
	return cred, nil
}

type tokenJSON struct {
	Token     string `json:"token"`
	Region    string `json:"region"`
	ExpiresIn int64  `json:"expires_in"`
}

func (c *Client) decode(contentType string, body []byte) (credential.Credential, error) {
	cred := credential.Credential{Region: c.region}
	if strings.HasPrefix(contentType, "application/json") {
		var v tokenJSON
		if err := json.Unmarshal(body, &v); err != nil {
			return credential.Credential{}, fmt.Errorf("decode token response: %w", err)
		}
		cred.Token = v.Token
		if v.Region != "" {
			cred.Region = v.Region
		}
		if v.ExpiresIn > 0 {
			cred.ExpiresAt = c.now().Add(time.Duration(v.ExpiresIn) * time.Second)
		}
	} else {
		cred.Token = strings.TrimSpace(string(body))
	}
	if cred.Token == "" {
		return credential.Credential{}, ErrEmptyToken
	}
	if cred.ExpiresAt.IsZero() {
		cred.ExpiresAt = c.expiry(cred.Token)
	}
	return cred, nil
}

// expiry reads the exp claim of a JWT token. The signature is not checked:
// the token is only forwarded to the speech service, which verifies it.
func (c *Client) expiry(token string) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	return c.now().Add(c.ttl)
}
