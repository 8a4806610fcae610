// Package bulk batches keyword lookups through the pool manager,
// bounding concurrency, pacing batches adaptively against observed
// success rate and pool usage, and retrying persistent failures.
package bulk

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rankpilot/serpengine/pkg/pool"
	"github.com/rankpilot/serpengine/pkg/rankparse"
)

// Config tunes the executor; zero values take the defaults in
// withDefaults.
type Config struct {
	BatchSize       int
	InterBatchDelay time.Duration
	MaxConcurrent   int
	RetryEnabled    bool
	MaxRetries      int
	AdaptiveDelay   bool
	WallClockBudget time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.InterBatchDelay <= 0 {
		c.InterBatchDelay = 2000 * time.Millisecond
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 2
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.WallClockBudget <= 0 {
		c.WallClockBudget = 290 * time.Second
	}
	return c
}

// FailedLookup records one keyword's failure.
type FailedLookup struct {
	Keyword      string
	Message      string
	Kind         pool.Kind
	Timestamp    time.Time
	RetryCount   int
	CredentialID string
}

// Result is the outcome of one bulk run.
type Result struct {
	TotalProcessed   int
	Records          []rankparse.RankingRecord
	Failed           []FailedLookup
	Duration         time.Duration
	PoolSnapshot     pool.Stats
	QualityHistogram map[string]int
}

// ProgressEvent reports batch/retry progress. Channel-based rather
// than a callback: a caller with no interest in progress passes a nil
// channel. Run sends on a non-nil channel with blocking sends, so the
// caller must drain it; Run closes it when done.
type ProgressEvent struct {
	Processed    int
	Total        int
	SuccessCount int
	FailureCount int
	PoolSnapshot pool.Stats
	RetryAttempt int
}

// Executor is the Bulk Executor (C5): it delegates every individual
// keyword lookup to a pool.Pool.
type Executor struct {
	pool *pool.Pool
	cfg  Config
	now  func() time.Time
}

// NewExecutor constructs a bulk Executor against the given pool.
func NewExecutor(p *pool.Pool, cfg Config) *Executor {
	return &Executor{pool: p, cfg: cfg.withDefaults(), now: time.Now}
}

// Run batches keywords, bounds concurrency within each batch, paces
// between batches, and retries persistent failures.
func (e *Executor) Run(ctx context.Context, keywords []string, opts rankparse.SearchOptions, progress chan<- ProgressEvent) Result {
	start := e.now()
	if progress != nil {
		defer close(progress)
	}

	cleaned := cleanKeywords(keywords)
	if len(cleaned) == 0 {
		return Result{PoolSnapshot: e.pool.Stats(), QualityHistogram: map[string]int{}}
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.WallClockBudget)
	defer cancel()

	batches := partition(cleaned, e.cfg.BatchSize)

	var (
		records []rankparse.RankingRecord
		failed  []FailedLookup
	)
	delay := e.cfg.InterBatchDelay
	processed := 0

	for bi, batch := range batches {
		if ctx.Err() != nil {
			for _, kw := range batch {
				failed = append(failed, FailedLookup{Keyword: kw, Message: "wall-clock budget expired", Kind: pool.KindTimeout, Timestamp: e.now()})
			}
			processed += len(batch)
			continue
		}

		batchRecords, batchFailed := e.runBatch(ctx, batch, opts)
		records = append(records, batchRecords...)
		failed = append(failed, batchFailed...)
		processed += len(batch)

		if progress != nil {
			progress <- ProgressEvent{
				Processed:    processed,
				Total:        len(cleaned),
				SuccessCount: len(batchRecords),
				FailureCount: len(batchFailed),
				PoolSnapshot: e.pool.Stats(),
			}
		}

		isLastBatch := bi == len(batches)-1
		if !isLastBatch {
			if e.cfg.AdaptiveDelay {
				delay = e.nextDelay(delay, len(batchRecords), len(batch))
			}
			sleepCtx(ctx, delay)
		}
	}

	if e.cfg.RetryEnabled && len(failed) > 0 {
		records, failed = e.retryFailed(ctx, records, failed, opts, progress)
	}

	return Result{
		TotalProcessed:   processed,
		Records:          records,
		Failed:           failed,
		Duration:         e.now().Sub(start),
		PoolSnapshot:     e.pool.Stats(),
		QualityHistogram: histogram(records),
	}
}

// nextDelay implements the adaptive pacing rule: speed up after
// a clean batch when above baseline, slow down when pool usage is
// high or the batch's success rate dipped below 80%.
func (e *Executor) nextDelay(current time.Duration, successes, batchSize int) time.Duration {
	baseline := e.cfg.InterBatchDelay
	usagePct := e.pool.Stats().UsagePercentage
	successRate := 1.0
	if batchSize > 0 {
		successRate = float64(successes) / float64(batchSize)
	}

	if usagePct > 80 || successRate < 0.8 {
		next := time.Duration(float64(current) * 1.5)
		if next > 10*time.Second {
			next = 10 * time.Second
		}
		return next
	}
	if successes == batchSize && current > baseline {
		next := time.Duration(float64(current) * 0.8)
		if next < baseline {
			next = baseline
		}
		return next
	}
	return current
}

func (e *Executor) runBatch(ctx context.Context, batch []string, opts rankparse.SearchOptions) ([]rankparse.RankingRecord, []FailedLookup) {
	var g errgroup.Group
	g.SetLimit(e.cfg.MaxConcurrent)

	var mu sync.Mutex
	var records []rankparse.RankingRecord
	var failed []FailedLookup

	for _, kw := range batch {
		keyword := kw
		g.Go(func() error {
			record, err := e.pool.Track(ctx, keyword, opts)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, toFailedLookup(keyword, err, e.now()))
				return nil
			}
			records = append(records, record)
			return nil
		})
	}
	g.Wait()
	return records, failed
}

func (e *Executor) retryFailed(ctx context.Context, records []rankparse.RankingRecord, failed []FailedLookup, opts rankparse.SearchOptions, progress chan<- ProgressEvent) ([]rankparse.RankingRecord, []FailedLookup) {
	baseline := e.cfg.InterBatchDelay
	remaining := failed

	for attempt := 1; attempt <= e.cfg.MaxRetries && len(remaining) > 0; attempt++ {
		sleep := baseline * time.Duration(attempt)
		if sleep > 5*time.Second {
			sleep = 5 * time.Second
		}
		sleepCtx(ctx, sleep)

		var stillFailed []FailedLookup
		for _, f := range remaining {
			record, err := e.pool.Track(ctx, f.Keyword, opts)
			if err != nil {
				f.RetryCount++
				f.Message = err.Error()
				stillFailed = append(stillFailed, f)
				continue
			}
			records = append(records, record)
		}
		remaining = stillFailed

		if progress != nil {
			progress <- ProgressEvent{
				Processed:    len(records) + len(remaining),
				Total:        len(records) + len(remaining),
				SuccessCount: len(records),
				FailureCount: len(remaining),
				PoolSnapshot: e.pool.Stats(),
				RetryAttempt: attempt,
			}
		}

		sleepCtx(ctx, 2*sleep)
	}

	return records, remaining
}

func toFailedLookup(keyword string, err error, ts time.Time) FailedLookup {
	f := FailedLookup{Keyword: keyword, Message: err.Error(), Timestamp: ts, Kind: pool.KindUnknown}
	if lookupErr, ok := err.(*pool.LookupError); ok {
		f.Kind = lookupErr.Kind
	}
	return f
}

func cleanKeywords(keywords []string) []string {
	var out []string
	for _, k := range keywords {
		trimmed := strings.TrimSpace(k)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func partition(keywords []string, size int) [][]string {
	var batches [][]string
	for i := 0; i < len(keywords); i += size {
		end := i + size
		if end > len(keywords) {
			end = len(keywords)
		}
		batches = append(batches, keywords[i:end])
	}
	return batches
}

func histogram(records []rankparse.RankingRecord) map[string]int {
	h := make(map[string]int)
	for _, r := range records {
		h[string(r.ReliabilityTag())]++
	}
	return h
}

// sleepCtx sleeps for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
