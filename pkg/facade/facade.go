// Package facade is the engine's single public entry point: it
// normalizes an inbound request, dispatches to the pool manager or
// the bulk executor, and shapes the reply with pool statistics and a
// human-readable insight summary.
package facade

import (
	"context"
	"fmt"
	"strings"

	"github.com/rankpilot/serpengine/pkg/bulk"
	"github.com/rankpilot/serpengine/pkg/pool"
	"github.com/rankpilot/serpengine/pkg/rankparse"
)

// Tracker is the subset of pkg/pool's Pool a single lookup needs.
type Tracker interface {
	Track(ctx context.Context, keyword string, opts rankparse.SearchOptions) (rankparse.RankingRecord, error)
	Stats() pool.Stats
}

// BulkRunner is the subset of pkg/bulk's Executor a bulk request needs.
type BulkRunner interface {
	Run(ctx context.Context, keywords []string, opts rankparse.SearchOptions, progress chan<- bulk.ProgressEvent) bulk.Result
}

// Facade is the Request Facade (C7).
type Facade struct {
	pool Tracker
	bulk BulkRunner
}

// New constructs a Facade over a pool and a bulk executor.
func New(p Tracker, b BulkRunner) *Facade {
	return &Facade{pool: p, bulk: b}
}

// Request is the raw inbound shape before normalization.
type Request struct {
	Keywords         []string
	TargetDomain     string
	Country          string
	Language         string
	City             string
	State            string
	PostalCode       string
	Device           rankparse.Device
	VerificationMode bool
	APIKey           string
	Provider         rankparse.Provider
}

// SingleResponse wraps one ranking record with pool stats and an
// insight line.
type SingleResponse struct {
	Record  rankparse.RankingRecord
	Stats   pool.Stats
	Insight string
}

// BulkResponse wraps a bulk run with pool stats and an insight line.
type BulkResponse struct {
	Result  bulk.Result
	Stats   pool.Stats
	Insight string
}

// Handle normalizes req and dispatches to a single lookup or a bulk
// run depending on how many keywords were supplied after trimming
// blanks: zero or one keyword always takes the single-lookup path, a
// one-element list collapses to a single lookup rather than a bulk
// run of size one.
func (f *Facade) Handle(ctx context.Context, req Request, progress chan<- bulk.ProgressEvent) (*SingleResponse, *BulkResponse, error) {
	opts := normalizeOptions(req)
	keywords := cleanKeywords(req.Keywords)

	if len(keywords) <= 1 {
		keyword := ""
		if len(keywords) == 1 {
			keyword = keywords[0]
		}
		record, err := f.pool.Track(ctx, keyword, opts)
		if err != nil {
			return nil, nil, err
		}
		return &SingleResponse{
			Record:  record,
			Stats:   f.pool.Stats(),
			Insight: singleInsight(record),
		}, nil, nil
	}

	result := f.bulk.Run(ctx, keywords, opts, progress)
	return nil, &BulkResponse{
		Result:  result,
		Stats:   f.pool.Stats(),
		Insight: bulkInsight(result),
	}, nil
}

func normalizeOptions(req Request) rankparse.SearchOptions {
	device := req.Device
	if device == "" {
		device = rankparse.DeviceDesktop
	}
	return rankparse.SearchOptions{
		TargetDomain:     strings.TrimSpace(req.TargetDomain),
		Country:          strings.ToUpper(strings.TrimSpace(req.Country)),
		Language:         strings.ToLower(strings.TrimSpace(req.Language)),
		City:             strings.TrimSpace(req.City),
		State:            strings.TrimSpace(req.State),
		PostalCode:       strings.TrimSpace(req.PostalCode),
		Device:           device,
		VerificationMode: req.VerificationMode,
		APIKey:           req.APIKey,
		Provider:         req.Provider,
	}
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

// singleInsight bands a found position into a human-readable summary.
// Position bands: top 10, top 20, top 50, beyond.
func singleInsight(r rankparse.RankingRecord) string {
	if !r.Found {
		return "not found in the scanned results"
	}
	switch {
	case r.Position <= 10:
		return fmt.Sprintf("ranking #%d, on page one", r.Position)
	case r.Position <= 20:
		return fmt.Sprintf("ranking #%d, just off page one", r.Position)
	case r.Position <= 50:
		return fmt.Sprintf("ranking #%d, needs work to reach page one", r.Position)
	default:
		return fmt.Sprintf("ranking #%d, far from visibility", r.Position)
	}
}

// bulkInsight bands the run's visibility rate (share of keywords
// where the target was found) at 70% and 40%.
func bulkInsight(result bulk.Result) string {
	total := len(result.Records) + len(result.Failed)
	foundCount := 0
	for _, r := range result.Records {
		if r.Found {
			foundCount++
		}
	}
	if total == 0 {
		return "no keywords processed"
	}
	rate := float64(foundCount) / float64(total) * 100

	switch {
	case rate >= 70:
		return fmt.Sprintf("strong visibility: found in %.0f%% of %d keywords", rate, total)
	case rate >= 40:
		return fmt.Sprintf("moderate visibility: found in %.0f%% of %d keywords", rate, total)
	default:
		return fmt.Sprintf("weak visibility: found in %.0f%% of %d keywords", rate, total)
	}
}
