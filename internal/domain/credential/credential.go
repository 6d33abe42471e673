// Package credential provisions the short-lived speech-service token a
// session needs once the live interview starts.
package credential

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/readyroom/pkg/logger"
)

// Credential is a short-lived speech authorization token.
type Credential struct {
	Token     string    `json:"token"`
	Region    string    `json:"region,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the credential is no longer usable at now. A zero
// ExpiresAt never expires.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Source issues credentials, usually over the network.
type Source interface {
	Issue(ctx context.Context) (Credential, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (Credential, error)

// Issue implements Source.
func (f SourceFunc) Issue(ctx context.Context) (Credential, error) { return f(ctx) }

// Provisioner fetches one credential per session. A failed fetch is never
// retried and stays failed for the life of the provisioner. A credential that
// expired is replaced by a fresh fetch, never refreshed in place.
type Provisioner struct {
	source Source
	logger logger.Logger

	mu        sync.Mutex
	inflight  chan struct{} // closed when the current issue finishes
	fetched   bool
	cred      Credential
	err       error
	discarded bool
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Provisioner) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewProvisioner creates a provisioner over source.
func NewProvisioner(source Source, opts ...Option) *Provisioner {
	p := &Provisioner{source: source}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Get().Named("credential")
	}
	return p
}

// Fetch issues the credential the first time it is called and returns the
// outcome of that issue on every later call, until the credential expires:
// the next Fetch after expiry issues a new one. Callers that give up waiting
// (ctx done) get ctx.Err() while the issue keeps its own outcome. After
// Discard, Fetch returns ErrDiscarded and any late result from the source is
// dropped.
func (p *Provisioner) Fetch(ctx context.Context) error {
	p.mu.Lock()
	if p.discarded {
		p.mu.Unlock()
		return ErrDiscarded
	}
	if p.inflight == nil || p.expiredLocked(time.Now()) {
		p.inflight = make(chan struct{})
		p.fetched = false
		go p.issue(ctx, p.inflight)
	}
	done := p.inflight
	p.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.discarded {
		return ErrDiscarded
	}
	return p.err
}

func (p *Provisioner) issue(ctx context.Context, done chan struct{}) {
	cred, err := p.source.Issue(ctx)
	switch {
	case err != nil:
		err = fmt.Errorf("%w: %w", ErrFetch, err)
	case cred.Token == "":
		err = fmt.Errorf("%w: empty token", ErrFetch)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	defer close(done)
	if p.discarded {
		p.logger.Debug(ctx, "dropping credential result after discard")
		return
	}
	p.cred, p.err, p.fetched = cred, err, true
}

// Expired reports whether the fetched credential is no longer usable at now.
// It is false before a successful fetch.
func (p *Provisioner) Expired(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.expiredLocked(now)
}

func (p *Provisioner) expiredLocked(now time.Time) bool {
	return p.fetched && p.err == nil && p.cred.Expired(now)
}

// Credential returns the fetched credential.
func (p *Provisioner) Credential() (Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.discarded:
		return Credential{}, ErrDiscarded
	case p.err != nil:
		return Credential{}, p.err
	case !p.fetched || p.cred.Token == "":
		return Credential{}, ErrNotFetched
	}
	return p.cred, nil
}

// Discard drops the credential and ignores any fetch still in flight. It is
// safe to call more than once.
func (p *Provisioner) Discard() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discarded = true
	p.cred = Credential{}
}
