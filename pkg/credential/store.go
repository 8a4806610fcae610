package credential

import (
	"context"
	"sync"
	"time"
)

// UsagePatch is a partial update applied by upsert_usage — only
// non-nil fields are written.
type UsagePatch struct {
	UsedToday     *int
	UsedThisMonth *int
	Status        *Status
	ErrorCount    *int
	SuccessRate   *float64
	LastUsed      *time.Time
}

// Store is the durable projection of Credential entities that C4
// consumes. Implementations must be safe for concurrent use; C4 never
// blocks a lookup on a Store write completing (see the pool's
// asynchronous durability upsert).
type Store interface {
	LoadAll(ctx context.Context) ([]*Credential, error)
	UpsertUsage(ctx context.Context, id string, patch UsagePatch) error
	Delete(ctx context.Context, id string) error
	Upsert(ctx context.Context, c *Credential) error
	ResetDailyAll(ctx context.Context) error
	ResetMonthlyAll(ctx context.Context) error
}

// MemoryStore is an in-process Store backed by a guarded map. It is
// the default store for single-process deployments and the one
// exercised directly by the pool's unit tests; PostgresCredentialStore (in
// pkg/rankrepo) is the durable counterpart wired by cmd/serpengine.
type MemoryStore struct {
	mu   sync.Mutex
	byID map[string]*Credential
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Credential)}
}

func (s *MemoryStore) LoadAll(_ context.Context) ([]*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Credential, 0, len(s.byID))
	for _, c := range s.byID {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) UpsertUsage(_ context.Context, id string, patch UsagePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return &NotFoundError{ID: id}
	}
	if patch.UsedToday != nil {
		c.UsedToday = *patch.UsedToday
	}
	if patch.UsedThisMonth != nil {
		c.UsedThisMonth = *patch.UsedThisMonth
	}
	if patch.Status != nil {
		c.Status = *patch.Status
	}
	if patch.ErrorCount != nil {
		c.ErrorCount = *patch.ErrorCount
	}
	if patch.SuccessRate != nil {
		c.SuccessRate = *patch.SuccessRate
	}
	if patch.LastUsed != nil {
		c.LastUsed = *patch.LastUsed
	}
	c.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
	return nil
}

func (s *MemoryStore) Upsert(_ context.Context, c *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.byID[c.ID] = &cp
	return nil
}

func (s *MemoryStore) ResetDailyAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.byID {
		c.UsedToday = 0
		c.ErrorCount = 0
		if c.Status != StatusPaused {
			c.Status = StatusActive
		}
		c.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemoryStore) ResetMonthlyAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, c := range s.byID {
		c.UsedThisMonth = 0
		if c.Status == StatusExhausted && c.UsedToday < c.DailyLimit {
			c.Status = StatusActive
		}
		c.MonthlyResetAt = now
		c.UpdatedAt = now
	}
	return nil
}

// NotFoundError reports that no credential exists with the given id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return "credential: no record with id " + e.ID
}
