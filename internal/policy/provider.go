// Package policy serves typed policy documents from a cached config source.
package policy

import (
	"context"
	"log"
	"sync"
	"time"

	"retention-notifier/internal/policy/domain"
	"retention-notifier/internal/policy/repository"
)

// DefaultTTL is how long a fetched document is reused before the source is read again.
const DefaultTTL = 30 * time.Second

type cacheEntry struct {
	raw       []byte
	fetchedAt time.Time
}

// Provider caches raw documents per key. Typed accessors never fail: a source error keeps
// serving the last good document, or the defaults when there is none.
type Provider struct {
	source repository.Source
	ttl    time.Duration
	nowF   func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewProvider returns a Provider reading from source. ttl <= 0 uses DefaultTTL.
// A nil source always yields defaults.
func NewProvider(source repository.Source, ttl time.Duration) *Provider {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Provider{
		source:  source,
		ttl:     ttl,
		nowF:    time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// Retention returns the retention policy.
func (p *Provider) Retention(ctx context.Context) domain.RetentionPolicy {
	raw, fresh := p.raw(ctx, domain.KeyRetention)
	out, err := domain.ParseRetention(raw)
	logParseError(domain.KeyRetention, fresh, err)
	return out
}

// Session returns the session policy.
func (p *Provider) Session(ctx context.Context) domain.SessionPolicy {
	raw, fresh := p.raw(ctx, domain.KeySession)
	out, err := domain.ParseSession(raw)
	logParseError(domain.KeySession, fresh, err)
	return out
}

// InterviewInvite returns the interview invite policy.
func (p *Provider) InterviewInvite(ctx context.Context) domain.InterviewInvitePolicy {
	raw, fresh := p.raw(ctx, domain.KeyInterviewInvite)
	out, err := domain.ParseInterviewInvite(raw)
	logParseError(domain.KeyInterviewInvite, fresh, err)
	return out
}

// Paywall returns the paywall rules.
func (p *Provider) Paywall(ctx context.Context) domain.PaywallRules {
	raw, fresh := p.raw(ctx, domain.KeyPaywall)
	out, err := domain.ParsePaywall(raw)
	logParseError(domain.KeyPaywall, fresh, err)
	return out
}

// Invalidate drops every cached document so the next read hits the source.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = make(map[string]cacheEntry)
}

// raw returns the cached document for key, refreshing it once the TTL has passed. fresh reports
// whether the document was just read from the source.
// The lock is held across the fetch so concurrent readers trigger a single source read.
func (p *Provider) raw(ctx context.Context, key string) (doc []byte, fresh bool) {
	if p.source == nil {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.nowF()
	e, ok := p.entries[key]
	if ok && now.Sub(e.fetchedAt) < p.ttl {
		return e.raw, false
	}
	raw, err := p.source.Get(ctx, key)
	if err != nil {
		log.Printf("policy: read %s: %v (using last known document)", key, err)
		// Back off for a full TTL instead of hitting a failing source on every call.
		p.entries[key] = cacheEntry{raw: e.raw, fetchedAt: now}
		return e.raw, false
	}
	p.entries[key] = cacheEntry{raw: raw, fetchedAt: now}
	return raw, true
}

// logParseError reports a malformed document once per fetch; cached reads stay quiet.
func logParseError(key string, fresh bool, err error) {
	if err != nil && fresh {
		log.Printf("policy: %s: %v (falling back per field)", key, err)
	}
}
