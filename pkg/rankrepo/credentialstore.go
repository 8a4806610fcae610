package rankrepo

import (
	"context"
	"fmt"
	"time"

	"github.com/rankpilot/serpengine/pkg/credential"
)

const credentialsCollection = "credentials"

// PostgresCredentialStore adapts a Repository into credential.Store,
// giving the pool manager a durable backing without coupling it to
// SQL directly.
type PostgresCredentialStore struct {
	repo Repository
}

// NewPostgresCredentialStore wraps a Repository for the credentials
// collection.
func NewPostgresCredentialStore(repo Repository) *PostgresCredentialStore {
	return &PostgresCredentialStore{repo: repo}
}

func (s *PostgresCredentialStore) LoadAll(ctx context.Context) ([]*credential.Credential, error) {
	docs, err := s.repo.FindMany(ctx, credentialsCollection, Filter{}, nil, 0, 0)
	if err != nil {
		return nil, err
	}
	out := make([]*credential.Credential, 0, len(docs))
	for _, doc := range docs {
		c, err := decodeCredential(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *PostgresCredentialStore) UpsertUsage(ctx context.Context, id string, patch credential.UsagePatch) error {
	update := map[string]any{}
	if patch.UsedToday != nil {
		update["used_today"] = *patch.UsedToday
	}
	if patch.UsedThisMonth != nil {
		update["used_this_month"] = *patch.UsedThisMonth
	}
	if patch.Status != nil {
		update["status"] = string(*patch.Status)
	}
	if patch.ErrorCount != nil {
		update["error_count"] = *patch.ErrorCount
	}
	if patch.SuccessRate != nil {
		update["success_rate"] = *patch.SuccessRate
	}
	if patch.LastUsed != nil {
		update["last_used"] = *patch.LastUsed
	}
	return s.repo.UpdateOne(ctx, credentialsCollection, Filter{"id": id}, update, false)
}

func (s *PostgresCredentialStore) Delete(ctx context.Context, id string) error {
	return s.repo.DeleteOne(ctx, credentialsCollection, Filter{"id": id})
}

func (s *PostgresCredentialStore) Upsert(ctx context.Context, c *credential.Credential) error {
	return s.repo.UpdateOne(ctx, credentialsCollection, Filter{"id": c.ID}, encodeCredential(c), true)
}

func (s *PostgresCredentialStore) ResetDailyAll(ctx context.Context) error {
	all, err := s.LoadAll(ctx)
	if err != nil {
		return err
	}
	for _, c := range all {
		c.UsedToday = 0
		c.ErrorCount = 0
		if c.Status != credential.StatusPaused {
			c.Status = credential.StatusActive
		}
		if err := s.Upsert(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresCredentialStore) ResetMonthlyAll(ctx context.Context) error {
	all, err := s.LoadAll(ctx)
	if err != nil {
		return err
	}
	for _, c := range all {
		c.UsedThisMonth = 0
		if c.Status == credential.StatusExhausted && c.UsedToday < c.DailyLimit {
			c.Status = credential.StatusActive
		}
		c.MonthlyResetAt = time.Now()
		if err := s.Upsert(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func encodeCredential(c *credential.Credential) map[string]any {
	return map[string]any{
		"id":               c.ID,
		"provider":         string(c.Provider),
		"secret":           c.Secret,
		"search_engine_id": c.SearchEngineID,
		"daily_limit":      c.DailyLimit,
		"monthly_limit":    c.MonthlyLimit,
		"used_today":       c.UsedToday,
		"used_this_month":  c.UsedThisMonth,
		"status":           string(c.Status),
		"priority":         c.Priority,
		"last_used":        c.LastUsed,
		"error_count":      c.ErrorCount,
		"success_rate":     c.SuccessRate,
		"monthly_reset_at": c.MonthlyResetAt,
		"origin":           string(c.Origin),
		"created_at":       c.CreatedAt,
		"updated_at":       c.UpdatedAt,
	}
}

func decodeCredential(doc map[string]any) (*credential.Credential, error) {
	c := &credential.Credential{}
	var ok bool
	if c.ID, ok = doc["id"].(string); !ok {
		return nil, fmt.Errorf("rankrepo: credential document missing id")
	}
	c.Provider = credential.Provider(asString(doc["provider"]))
	c.Secret = asString(doc["secret"])
	c.SearchEngineID = asString(doc["search_engine_id"])
	c.DailyLimit = asInt(doc["daily_limit"])
	c.MonthlyLimit = asInt(doc["monthly_limit"])
	c.UsedToday = asInt(doc["used_today"])
	c.UsedThisMonth = asInt(doc["used_this_month"])
	c.Status = credential.Status(asString(doc["status"]))
	c.Priority = asInt(doc["priority"])
	c.ErrorCount = asInt(doc["error_count"])
	c.SuccessRate = asFloat(doc["success_rate"])
	c.Origin = credential.Origin(asString(doc["origin"]))
	parseTime := func(v any) time.Time {
		t, _ := time.Parse(time.RFC3339Nano, asString(v))
		return t
	}
	c.LastUsed = parseTime(doc["last_used"])
	c.MonthlyResetAt = parseTime(doc["monthly_reset_at"])
	c.CreatedAt = parseTime(doc["created_at"])
	c.UpdatedAt = parseTime(doc["updated_at"])
	return c, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}
