// Command serpengine is the composition root: it wires configuration,
// the credential pool, the reset scheduler, the bulk executor, and
// the request facade, then runs a single lookup or a bulk run
// depending on the keywords supplied on the command line.
package main

import (
	"bufio"
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/projectdiscovery/fdmax"
	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/gologger/levels"

	"github.com/rankpilot/serpengine/pkg/bulk"
	"github.com/rankpilot/serpengine/pkg/credential"
	"github.com/rankpilot/serpengine/pkg/facade"
	"github.com/rankpilot/serpengine/pkg/pool"
	"github.com/rankpilot/serpengine/pkg/rankconfig"
	"github.com/rankpilot/serpengine/pkg/rankparse"
	"github.com/rankpilot/serpengine/pkg/rankrepo"
	"github.com/rankpilot/serpengine/pkg/scheduler"
)

func main() {
	options, err := rankconfig.ParseOptions()
	if err != nil {
		gologger.Fatal().Msgf("could not parse options: %s", err)
	}
	configureLogging(options)

	if limit, err := fdmax.Max(); err != nil {
		gologger.Warning().Msgf("could not raise file descriptor limit: %s", err)
	} else {
		gologger.Debug().Msgf("file descriptor limit raised to %d", limit)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, recordRepo, err := buildStores(ctx, options)
	if err != nil {
		gologger.Fatal().Msgf("could not initialize storage: %s", err)
	}

	p := pool.NewPool(store, pool.Config{
		Strategy:           pool.Strategy(options.RotationStrategy),
		MaxRetries:         options.MaxRetries,
		RequestTimeout:     options.RequestTimeout,
		RateLimitPerSecond: uint(options.RateLimitMax),
	})
	defer p.Shutdown()

	if recordRepo != nil {
		p.SetPersister(func(record rankparse.RankingRecord) {
			if err := recordRepo.Persist(context.Background(), record); err != nil {
				gologger.Warning().Msgf("could not persist ranking record: %s", err)
			}
		})
	}

	rejected, err := p.Init(ctx, options.ToCredentials())
	if err != nil {
		gologger.Fatal().Msgf("could not initialize credential pool: %s", err)
	}
	if rejected > 0 {
		gologger.Warning().Msgf("rejected %d configured credential(s) with empty, too-short, or placeholder secrets", rejected)
	}

	var recordStore scheduler.RecordStore = noopRecordStore{}
	if recordRepo != nil {
		recordStore = recordRepo
	}
	sched := scheduler.New(p, recordStore, scheduler.Config{RetentionDays: options.CleanupRetentionDays})
	go func() {
		if err := sched.Start(ctx); err != nil {
			gologger.Warning().Msgf("scheduler exited: %s", err)
		}
	}()
	defer sched.Stop()

	executor := bulk.NewExecutor(p, bulk.Config{
		BatchSize:       options.BulkBatchSize,
		InterBatchDelay: options.BulkInterBatchDelay,
		MaxConcurrent:   options.BulkMaxConcurrent,
		RetryEnabled:    options.BulkRetryEnabled,
		MaxRetries:      options.BulkMaxRetries,
		AdaptiveDelay:   options.BulkAdaptiveDelay,
	})

	f := facade.New(p, executor)

	sigCtx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	keywords := collectKeywords(options)
	if len(keywords) == 0 {
		gologger.Info().Msg("no keywords supplied; scheduler running in the background, press Ctrl+C to exit")
		<-sigCtx.Done()
		return
	}

	run(sigCtx, f, options, keywords)
}

// noopRecordStore backs the weekly cleanup job when no database is
// configured: nothing was persisted, so there is nothing to delete.
type noopRecordStore struct{}

func (noopRecordStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func buildStores(ctx context.Context, options *rankconfig.Options) (credential.Store, *rankrepo.RankingRepository, error) {
	if options.DatabaseDSN == "" {
		gologger.Debug().Msg("no database DSN configured, using an in-memory credential store")
		return credential.NewMemoryStore(), nil, nil
	}

	repo, err := rankrepo.Open(ctx, options.DatabaseDSN)
	if err != nil {
		return nil, nil, err
	}
	return rankrepo.NewPostgresCredentialStore(repo), rankrepo.NewRankingRepository(repo), nil
}

func collectKeywords(options *rankconfig.Options) []string {
	keywords := append([]string{}, options.Keywords...)
	if options.KeywordsFile == "" {
		return keywords
	}
	file, err := os.Open(options.KeywordsFile)
	if err != nil {
		gologger.Warning().Msgf("could not read keyword list %s: %s", options.KeywordsFile, err)
		return keywords
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			keywords = append(keywords, line)
		}
	}
	return keywords
}

func run(ctx context.Context, f *facade.Facade, options *rankconfig.Options, keywords []string) {
	req := facade.Request{
		Keywords:         keywords,
		TargetDomain:     options.TargetDomain,
		Country:          options.Country,
		Language:         options.Language,
		City:             options.City,
		State:            options.State,
		Device:           rankparse.Device(options.Device),
		VerificationMode: options.VerificationMode,
		APIKey:           options.APIKey,
	}

	progress := make(chan bulk.ProgressEvent, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range progress {
			gologger.Info().Msgf("bulk progress: %d/%d processed (%d ok, %d failed)", event.Processed, event.Total, event.SuccessCount, event.FailureCount)
		}
	}()

	single, bulkResp, err := f.Handle(ctx, req, progress)
	if bulkResp == nil {
		// Only a bulk run closes progress; the single-lookup path never uses it.
		close(progress)
	}
	<-done

	if err != nil {
		gologger.Fatal().Msgf("lookup failed: %s", err)
	}

	if single != nil {
		gologger.Info().Msgf("keyword=%q domain=%q found=%v position=%v confidence=%d — %s",
			keywords[0], options.TargetDomain, single.Record.Found, single.Record.Position, single.Record.Validation.Confidence, single.Insight)
		return
	}

	gologger.Info().Msgf("bulk run: %d keywords processed in %s, %d failed — %s",
		bulkResp.Result.TotalProcessed, bulkResp.Result.Duration.Round(time.Millisecond), len(bulkResp.Result.Failed), bulkResp.Insight)
}

func configureLogging(options *rankconfig.Options) {
	switch strings.ToLower(options.LogLevel) {
	case "debug":
		gologger.DefaultLogger.SetMaxLevel(levels.LevelDebug)
	case "warning":
		gologger.DefaultLogger.SetMaxLevel(levels.LevelWarning)
	case "error":
		gologger.DefaultLogger.SetMaxLevel(levels.LevelError)
	default:
		gologger.DefaultLogger.SetMaxLevel(levels.LevelInfo)
	}
	if options.Verbose {
		gologger.DefaultLogger.SetMaxLevel(levels.LevelVerbose)
	}
}
