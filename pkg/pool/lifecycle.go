package pool

import (
	"context"

	"github.com/rankpilot/serpengine/pkg/credential"
	"github.com/rankpilot/serpengine/pkg/rankparse"
)

// probeKeyword and probeDomain are the canned probe values used by
// add()/TestUserKey: a harmless query used only to confirm
// a secret authenticates, never persisted as a real ranking lookup.
const (
	probeKeyword = "test query"
	probeDomain  = "example.com"
	probeCountry = "US"
)

// Add validates and onboards a new user-added credential: format
// check, duplicate check against other user-added secrets only
// (duplication against a configured credential is allowed, just
// unusual), a live probe against the provider, and persistence with
// lowest-priority placement.
func (p *Pool) Add(ctx context.Context, provider credential.Provider, secret, searchEngineID string, dailyLimit, monthlyLimit int) (string, error) {
	if err := credential.ValidateSecret(provider, secret); err != nil {
		return "", newError(KindInvalidRequest, "secret format rejected", err)
	}

	p.mu.Lock()
	for _, c := range p.credentials {
		if c.Origin == credential.OriginUserAdded && c.Secret == secret {
			p.mu.Unlock()
			return "", newError(KindInvalidRequest, "duplicate user-added secret", nil)
		}
	}
	priority := len(p.credentials) + 1
	p.mu.Unlock()

	probe := &credential.Credential{Provider: provider, Secret: secret, SearchEngineID: searchEngineID}
	if _, kind, err := p.execute(ctx, probe, probeKeyword, rankparse.SearchOptions{
		TargetDomain: probeDomain,
		Country:      probeCountry,
		Provider:     rankparse.Provider(provider),
	}); err != nil {
		if kind == KindRateLimited {
			return "", newError(KindRateLimited, "probe hit a rate limit, secret validity undetermined", err)
		}
		return "", newError(KindInvalidRequest, "probe failed", err)
	}

	c := credential.New(provider, secret, dailyLimit, monthlyLimit, credential.OriginUserAdded)
	c.SearchEngineID = searchEngineID
	c.Priority = priority

	if err := p.store.Upsert(ctx, c); err != nil {
		return "", err
	}

	p.mu.Lock()
	p.credentials = append(p.credentials, c)
	p.mu.Unlock()

	return c.ID, nil
}

// TestUserKey runs the same probe as Add without persisting anything,
// returning the ranking record the probe produced.
func (p *Pool) TestUserKey(ctx context.Context, provider credential.Provider, secret, searchEngineID string) (rankparse.RankingRecord, error) {
	probe := &credential.Credential{Provider: provider, Secret: secret, SearchEngineID: searchEngineID}
	record, kind, err := p.execute(ctx, probe, probeKeyword, rankparse.SearchOptions{
		TargetDomain: probeDomain,
		Country:      probeCountry,
		Provider:     rankparse.Provider(provider),
	})
	if err != nil {
		if kind == KindRateLimited {
			return rankparse.RankingRecord{}, newError(KindRateLimited, "probe hit a rate limit, secret validity undetermined", err)
		}
		return rankparse.RankingRecord{}, newError(KindInvalidRequest, "probe failed", err)
	}
	return record, nil
}

// UpdatePatch is a partial update applied to a credential's tunables.
type UpdatePatch struct {
	DailyLimit   *int
	MonthlyLimit *int
	Priority     *int
}

// Update mutates a credential's limits/priority in memory and in the
// durable store.
func (p *Pool) Update(ctx context.Context, id string, patch UpdatePatch) error {
	p.mu.Lock()
	var target *credential.Credential
	for _, c := range p.credentials {
		if c.ID == id {
			target = c
			break
		}
	}
	if target == nil {
		p.mu.Unlock()
		return newError(KindInvalidRequest, "no such credential", nil)
	}
	if patch.DailyLimit != nil {
		target.DailyLimit = *patch.DailyLimit
	}
	if patch.MonthlyLimit != nil {
		target.MonthlyLimit = *patch.MonthlyLimit
	}
	if patch.Priority != nil {
		target.Priority = *patch.Priority
	}
	cp := *target
	p.mu.Unlock()

	return p.store.Upsert(ctx, &cp)
}

// Remove splices a credential out of memory and the durable store.
func (p *Pool) Remove(ctx context.Context, id string) error {
	p.mu.Lock()
	idx := -1
	for i, c := range p.credentials {
		if c.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		p.mu.Unlock()
		return newError(KindInvalidRequest, "no such credential", nil)
	}
	p.credentials = append(p.credentials[:idx], p.credentials[idx+1:]...)
	delete(p.inFlight, id)
	p.mu.Unlock()

	return p.store.Delete(ctx, id)
}

// ResetDailyAll zeroes used_today/error_count and reactivates every
// credential not paused, both in memory and in the store.
func (p *Pool) ResetDailyAll(ctx context.Context) error {
	if err := p.store.ResetDailyAll(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.credentials {
		c.UsedToday = 0
		c.ErrorCount = 0
		if c.Status != credential.StatusPaused {
			c.Status = credential.StatusActive
		}
	}
	return nil
}

// ResetMonthlyAll zeroes used_this_month and reopens exhausted
// credentials whose daily counter is still under limit.
func (p *Pool) ResetMonthlyAll(ctx context.Context) error {
	if err := p.store.ResetMonthlyAll(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	for _, c := range p.credentials {
		c.UsedThisMonth = 0
		if c.Status == credential.StatusExhausted && c.UsedToday < c.DailyLimit {
			c.Status = credential.StatusActive
		}
		c.MonthlyResetAt = now
	}
	return nil
}

// CheckMonthlyIfStale triggers ResetMonthlyAll once if any credential's
// stored monthly_reset_at falls in a prior calendar month or year,
// covering the reset scheduler's downtime gap.
func (p *Pool) CheckMonthlyIfStale(ctx context.Context) {
	p.mu.Lock()
	now := p.now()
	stale := false
	for _, c := range p.credentials {
		if c.MonthlyResetAt.Year() < now.Year() || (c.MonthlyResetAt.Year() == now.Year() && c.MonthlyResetAt.Month() < now.Month()) {
			stale = true
			break
		}
	}
	p.mu.Unlock()

	if stale {
		_ = p.ResetMonthlyAll(ctx)
	}
}
