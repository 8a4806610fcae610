package rankrepo

import (
	"context"
	"time"

	"github.com/rankpilot/serpengine/pkg/rankparse"
	"github.com/rs/xid"
)

const rankingsCollection = "rankings"

// RankingRepository persists canonical ranking records and supports
// the retention cleanup the reset scheduler runs weekly.
type RankingRepository struct {
	repo Repository
}

// NewRankingRepository wraps a Repository for the rankings
// collection.
func NewRankingRepository(repo Repository) *RankingRepository {
	return &RankingRepository{repo: repo}
}

// Persist appends a ranking record, assigning it an id.
func (r *RankingRepository) Persist(ctx context.Context, record rankparse.RankingRecord) error {
	id := xid.New().String()
	doc := map[string]any{
		"id":              id,
		"keyword":         record.Keyword,
		"domain":          record.TargetDomain,
		"position":        nullableInt(record.HasPosition, record.Position),
		"found":           record.Found,
		"url":             record.URL,
		"title":           record.Title,
		"snippet":         record.Snippet,
		"location":        record.Location,
		"total_results":   record.TotalResults,
		"organic_scanned": record.OrganicScanned,
		"timestamp":       record.Timestamp,
		"confidence":      record.Validation.Confidence,
		"position_source": string(record.Validation.PositionSource),
		"country":         record.Metadata.Country,
	}
	return r.repo.Create(ctx, rankingsCollection, id, doc)
}

// DeleteOlderThan removes ranking records with a timestamp before
// cutoff, returning the number of rows removed.
func (r *RankingRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return r.repo.DeleteMany(ctx, rankingsCollection, Filter{}, &Range{Field: "created_at", Lt: cutoff})
}

// CountByDomain returns the number of stored records for a domain,
// used by analytics read models outside this core.
func (r *RankingRepository) CountByDomain(ctx context.Context, domain string) (int64, error) {
	return r.repo.Count(ctx, rankingsCollection, Filter{"domain": domain})
}

func nullableInt(has bool, v int) any {
	if !has {
		return nil
	}
	return v
}
