// Package tokenpool rotates a small set of vendor bearer tokens so that no
// single token is used more often than a minimum gap allows.
package tokenpool

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/papertrader/internal/domain"
)

// MaxTokens is the largest pool the vendor account model supports.
const MaxTokens = 5

type credential struct {
	token      string
	active     bool
	lastUsedAt time.Time
	lastError  string
	callsMade  int
}

func (c *credential) snapshot() domain.Credential {
	return domain.Credential{
		Token:      c.token,
		Active:     c.active,
		LastUsedAt: c.lastUsedAt,
		LastError:  c.lastError,
		CallsMade:  c.callsMade,
	}
}

// Pool is safe for concurrent use. Inactive credentials stay visible in
// Statuses but are never chosen again.
type Pool struct {
	mu     sync.Mutex
	creds  []*credential
	minGap time.Duration
	cursor int
	now    func() time.Time
}

// Option customizes a Pool.
type Option func(*Pool)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// New builds a pool from raw token strings. Blank entries are dropped and
// duplicates collapsed, keeping first-seen order. It fails with
// domain.ErrConfig when nothing usable remains or more than MaxTokens remain.
func New(tokens []string, minGap time.Duration, opts ...Option) (*Pool, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("tokenpool.New: at least one token is required: %w", domain.ErrConfig)
	}

	seen := make(map[string]bool, len(tokens))
	creds := make([]*credential, 0, len(tokens))
	for _, raw := range tokens {
		t := strings.TrimSpace(raw)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		creds = append(creds, &credential{token: t, active: true})
	}

	if len(creds) == 0 {
		return nil, fmt.Errorf("tokenpool.New: no usable token: %w", domain.ErrConfig)
	}
	if len(creds) > MaxTokens {
		return nil, fmt.Errorf("tokenpool.New: %d tokens, max %d: %w", len(creds), MaxTokens, domain.ErrConfig)
	}
	if minGap < 0 {
		minGap = 0
	}

	p := &Pool{creds: creds, minGap: minGap, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Size returns the number of credentials, active or not.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}

// ActiveCount returns how many credentials can still be chosen.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.creds {
		if c.active {
			n++
		}
	}
	return n
}

// Statuses returns copies of every credential in insertion order.
func (p *Pool) Statuses() []domain.Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Credential, len(p.creds))
	for i, c := range p.creds {
		out[i] = c.snapshot()
	}
	return out
}

// MarkFailed deactivates token and records why. Marking an inactive token
// again only overwrites the message. Unknown tokens are ignored.
func (p *Pool) MarkFailed(token, errMsg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.creds {
		if c.token != token {
			continue
		}
		wasActive := c.active
		c.active = false
		c.lastError = errMsg
		if wasActive {
			slog.Warn("tokenpool: credential failed",
				"token", domain.MaskToken(token),
				"err", errMsg,
			)
		}
		return
	}
}

// ChooseNext returns the next active credential in round-robin order that
// has not been used within the minimum gap. When every active credential is
// cooling down it returns the least recently used one instead of blocking.
// It fails with domain.ErrExhausted only when no credential is active.
func (p *Pool) ChooseNext() (domain.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	n := len(p.creds)

	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		c := p.creds[idx]
		if !c.active {
			continue
		}
		if !c.lastUsedAt.IsZero() && now.Sub(c.lastUsedAt) < p.minGap {
			continue
		}
		return p.use(idx, now), nil
	}

	// Every active credential is cooling down. Ties on last use go to the
	// first one in rotation order from the cursor.
	lru := -1
	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		c := p.creds[idx]
		if !c.active {
			continue
		}
		if lru < 0 || c.lastUsedAt.Before(p.creds[lru].lastUsedAt) {
			lru = idx
		}
	}
	if lru < 0 {
		return domain.Credential{}, fmt.Errorf("tokenpool.ChooseNext: %w", domain.ErrExhausted)
	}

	slog.Debug("tokenpool: all credentials cooling down, reusing least recent",
		"token", domain.MaskToken(p.creds[lru].token),
	)
	return p.use(lru, now), nil
}

// use must be called with mu held.
func (p *Pool) use(idx int, now time.Time) domain.Credential {
	c := p.creds[idx]
	c.lastUsedAt = now
	c.callsMade++
	p.cursor = (idx + 1) % len(p.creds)
	return c.snapshot()
}
