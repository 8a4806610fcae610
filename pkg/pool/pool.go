// Package pool implements the Pool Manager: a process-wide
// coordinator that owns the credential list, selects a credential per
// outbound request according to a rotation policy, and executes
// keyword lookups against the two upstream SERP providers with
// retry, quota, and rate-limit handling.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/projectdiscovery/ratelimit"
	"golang.org/x/exp/slices"

	"github.com/rankpilot/serpengine/pkg/credential"
	"github.com/rankpilot/serpengine/pkg/rankparse"
)

// Strategy is the credential-ranking policy used by SelectNext.
type Strategy string

const (
	StrategyPriority   Strategy = "priority"
	StrategyLeastUsed  Strategy = "least_used"
	StrategyRoundRobin Strategy = "round_robin"
)

// Config tunes the pool's behavior; every field has a sensible
// default applied by NewPool when the zero value is passed.
type Config struct {
	Strategy           Strategy
	MaxRetries         int
	RequestTimeout     time.Duration
	RateLimitPerSecond uint
	Endpoints          Endpoints
}

func (c Config) withDefaults() Config {
	if c.Strategy == "" {
		c.Strategy = StrategyPriority
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.RateLimitPerSecond == 0 {
		c.RateLimitPerSecond = 10
	}
	if c.Endpoints == (Endpoints{}) {
		c.Endpoints = DefaultEndpoints()
	}
	return c
}

// Pool is the Pool Manager. It owns the authoritative in-memory
// credential list and the in-flight lock set; every field it mutates
// during a lookup is guarded by mu.
type Pool struct {
	mu            sync.Mutex
	credentials   []*credential.Credential
	inFlight      map[string]struct{}
	roundRobinPos int

	store    credential.Store
	executor httpExecutor
	cfg      Config
	limiters map[credential.Provider]*ratelimit.Limiter

	limiterCtx    context.Context
	limiterCancel context.CancelFunc
	persist       func(rankparse.RankingRecord)

	now func() time.Time
}

// NewPool constructs a Pool against the given durable store. Call
// Init to load and merge the credential list before first use.
func NewPool(store credential.Store, cfg Config) *Pool {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		inFlight:      make(map[string]struct{}),
		store:         store,
		executor:      newRetryableExecutor(),
		cfg:           cfg,
		limiters:      make(map[credential.Provider]*ratelimit.Limiter),
		limiterCtx:    ctx,
		limiterCancel: cancel,
		now:           time.Now,
	}
	p.limiters[credential.NativeSERP] = ratelimit.New(ctx, cfg.RateLimitPerSecond, time.Second)
	p.limiters[credential.CustomSearch] = ratelimit.New(ctx, cfg.RateLimitPerSecond, time.Second)
	return p
}

// Shutdown releases the pool's rate limiters. Call once at process
// exit.
func (p *Pool) Shutdown() {
	p.limiterCancel()
}

// Init merges configured credentials, user-added credentials already
// in the store, and reconciles quota counters. It skips duplicates by
// secret and rejects empty, short, or placeholder configured secrets
// outright via the same ValidateSecret rule add() applies (a single
// bad entry among several good ones should not block boot, so rejects
// are logged by the caller via the returned count, not a hard error).
func (p *Pool) Init(ctx context.Context, configured []*credential.Credential) (rejected int, err error) {
	stored, err := p.store.LoadAll(ctx)
	if err != nil {
		return 0, err
	}

	bySecret := make(map[string]*credential.Credential, len(stored))
	for _, c := range stored {
		bySecret[c.Secret] = c
	}

	var merged []*credential.Credential
	seen := make(map[string]bool)

	for _, c := range configured {
		if err := credential.ValidateSecret(c.Provider, c.Secret); err != nil {
			rejected++
			continue
		}
		if existing, ok := bySecret[c.Secret]; ok {
			c.ID = existing.ID
			c.UsedToday = existing.UsedToday
			c.UsedThisMonth = existing.UsedThisMonth
			c.Status = existing.Status
			c.ErrorCount = existing.ErrorCount
			c.LastUsed = existing.LastUsed
			c.MonthlyResetAt = existing.MonthlyResetAt
			merged = append(merged, c)
			seen[c.Secret] = true
			continue
		}
		if err := p.store.Upsert(ctx, c); err != nil {
			return rejected, err
		}
		merged = append(merged, c)
		seen[c.Secret] = true
	}

	for _, c := range stored {
		if c.Origin == credential.OriginUserAdded && !seen[c.Secret] {
			merged = append(merged, c)
			seen[c.Secret] = true
		}
	}

	p.mu.Lock()
	p.credentials = merged
	p.mu.Unlock()

	p.CheckMonthlyIfStale(ctx)

	return rejected, nil
}

// selectNextLocked returns the highest-ranked available credential for the
// given provider, or nil if none qualifies. Available = status
// active, under both quotas, matching provider, and not already in
// the in-flight lock set. Must be called with p.mu held by the
// caller that will also acquire the in-flight lock, so selection is
// atomic with respect to locking.
func (p *Pool) selectNextLocked(provider credential.Provider) *credential.Credential {
	var candidates []*credential.Credential
	for _, c := range p.credentials {
		if !c.Available(provider) {
			continue
		}
		if _, locked := p.inFlight[c.ID]; locked {
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return nil
	}

	switch p.cfg.Strategy {
	case StrategyLeastUsed:
		return slices.MinFunc(candidates, func(a, b *credential.Credential) int {
			return a.UsedToday - b.UsedToday
		})
	case StrategyRoundRobin:
		c := candidates[p.roundRobinPos%len(candidates)]
		p.roundRobinPos++
		return c
	default: // priority, lower value ranks higher
		return slices.MinFunc(candidates, func(a, b *credential.Credential) int {
			return a.Priority - b.Priority
		})
	}
}

// SelectNext is the exported, independently-lockable form of
// selectNextLocked, used by callers that only want to inspect
// selection without holding a lock across an HTTP call (e.g. tests).
func (p *Pool) SelectNext(provider credential.Provider) *credential.Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selectNextLocked(provider)
}

func (p *Pool) limiterFor(provider credential.Provider) *ratelimit.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.limiters[provider]
}
