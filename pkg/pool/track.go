package pool

import (
	"context"
	"time"

	"github.com/rankpilot/serpengine/pkg/credential"
	"github.com/rankpilot/serpengine/pkg/rankparse"
)

// Track executes one keyword lookup: a user-supplied secret bypasses
// the pool entirely;
// otherwise the pool path rotates through available credentials up
// to max_retries times.
func (p *Pool) Track(ctx context.Context, keyword string, opts rankparse.SearchOptions) (rankparse.RankingRecord, error) {
	if opts.APIKey != "" {
		return p.trackWithUserKey(ctx, keyword, opts)
	}
	return p.trackWithPool(ctx, keyword, opts)
}

func (p *Pool) trackWithUserKey(ctx context.Context, keyword string, opts rankparse.SearchOptions) (rankparse.RankingRecord, error) {
	provider := opts.Provider
	if provider == "" {
		provider = rankparse.NativeSERP
	}
	pseudo := &credential.Credential{
		Provider:       credential.Provider(provider),
		Secret:         opts.APIKey,
		SearchEngineID: opts.Extra["search_engine_id"],
		DailyLimit:     0,
		MonthlyLimit:   0,
	}

	start := p.now()
	record, _, err := p.execute(ctx, pseudo, keyword, opts)
	if err != nil {
		return rankparse.RankingRecord{}, newError(KindInvalidRequest, "user-supplied key lookup failed", err)
	}
	record.Metadata.ProcessingTime = p.now().Sub(start)
	return record, nil
}

func (p *Pool) trackWithPool(ctx context.Context, keyword string, opts rankparse.SearchOptions) (rankparse.RankingRecord, error) {
	provider := opts.Provider
	if provider == "" {
		provider = rankparse.NativeSERP
	}
	credProvider := credential.Provider(provider)

	maxRetries := p.cfg.MaxRetries
	if poolSize := p.poolSize(); poolSize > 0 && poolSize < maxRetries {
		maxRetries = poolSize
	}

	var lastErr error
	start := p.now()

	for attempt := 0; attempt < maxRetries; attempt++ {
		c := p.lockNext(credProvider)
		if c == nil {
			return rankparse.RankingRecord{}, newError(KindAllExhausted, "no credential satisfies select_next", lastErr)
		}

		record, kind, err := p.execute(ctx, c, keyword, opts)
		p.releaseLock(c.ID)

		if err == nil {
			record.Metadata.ProcessingTime = p.now().Sub(start)
			p.onSuccess(ctx, c)
			p.persistAsync(record)
			return record, nil
		}

		lastErr = err
		p.onFailure(ctx, c, kind)
		if !kind.Retryable() {
			return rankparse.RankingRecord{}, newError(kind, "lookup failed", err)
		}
	}

	return rankparse.RankingRecord{}, newError(KindUnknown, "retries exhausted", lastErr)
}

// lockNext selects and locks a credential atomically: selection and
// locking happen under the same mutex acquisition so two concurrent
// lookups can never observe and lock the same credential.
func (p *Pool) lockNext(provider credential.Provider) *credential.Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.selectNextLocked(provider)
	if c == nil {
		return nil
	}
	p.inFlight[c.ID] = struct{}{}
	return c
}

func (p *Pool) releaseLock(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, id)
}

func (p *Pool) poolSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.credentials)
}

func (p *Pool) execute(ctx context.Context, c *credential.Credential, keyword string, opts rankparse.SearchOptions) (rankparse.RankingRecord, Kind, error) {
	if limiter := p.limiterFor(c.Provider); limiter != nil {
		limiter.Take()
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	target := buildRequestURL(p.cfg.Endpoints, c, keyword, opts)
	status, body, transportErr := p.executor.Execute(reqCtx, target)

	if transportErr != nil {
		kind := classify(status, body, transportErr)
		return rankparse.RankingRecord{}, kind, newError(kind, "upstream call failed", transportErr)
	}

	if status < 200 || status >= 300 {
		kind := classify(status, body, nil)
		return rankparse.RankingRecord{}, kind, newError(kind, "upstream call failed", nil)
	}

	parseOpts := opts
	parseOpts.TargetDomain = opts.TargetDomain
	parseOpts.Provider = rankparse.Provider(c.Provider)
	record, perr := rankparse.Parse(keyword, body, parseOpts)
	if perr == nil {
		return record, "", nil
	}

	// A 2xx body that failed to parse may still be a genuine
	// provider error (quota/rate-limit text in an otherwise-200
	// response); sniff it before falling back to a plain parse error.
	kind := classify(status, body, nil)
	if kind == KindUnknown {
		kind = KindParseError
	}
	return rankparse.RankingRecord{}, kind, newError(kind, "parse failed", perr)
}

func (p *Pool) onSuccess(ctx context.Context, c *credential.Credential) {
	p.mu.Lock()
	c.RecordSuccess()
	status := c.Status
	usedToday := c.UsedToday
	usedMonth := c.UsedThisMonth
	successRate := c.SuccessRate
	lastUsed := c.LastUsed
	p.mu.Unlock()

	_ = p.store.UpsertUsage(ctx, c.ID, credential.UsagePatch{
		UsedToday:     &usedToday,
		UsedThisMonth: &usedMonth,
		Status:        &status,
		SuccessRate:   &successRate,
		LastUsed:      &lastUsed,
	})
}

func (p *Pool) onFailure(ctx context.Context, c *credential.Credential, kind Kind) {
	p.mu.Lock()
	switch kind {
	case KindQuotaExceeded:
		c.Status = credential.StatusExhausted
	case KindRateLimited:
		prior := c.Status
		c.Status = credential.StatusPaused
		go p.unpauseAfter(c.ID, prior, 60*time.Second)
	default:
		c.RecordFailure()
	}
	status := c.Status
	errorCount := c.ErrorCount
	p.mu.Unlock()

	_ = p.store.UpsertUsage(ctx, c.ID, credential.UsagePatch{
		Status:     &status,
		ErrorCount: &errorCount,
	})
}

func (p *Pool) unpauseAfter(id string, priorStatus credential.Status, d time.Duration) {
	time.Sleep(d)
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.credentials {
		if c.ID == id && c.Status == credential.StatusPaused {
			c.Status = priorStatus
		}
	}
}

// persistAsync schedules a non-blocking durability write; the caller
// never waits on it, since persistence is explicitly off the critical
// path.
func (p *Pool) persistAsync(record rankparse.RankingRecord) {
	if p.persist == nil {
		return
	}
	go p.persist(record)
}

// SetPersister wires an asynchronous sink for successful ranking
// records (normally pkg/rankrepo's RankingRepository.Persist).
func (p *Pool) SetPersister(fn func(rankparse.RankingRecord)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.persist = fn
}
