// Package credential models a rotated API credential — its identity,
// quotas, usage counters, and health — independent of how it is
// selected or persisted.
package credential

import (
	"time"

	"github.com/VividCortex/ewma"
	"github.com/rs/xid"
)

// Provider tags which upstream a credential authenticates against.
type Provider string

const (
	NativeSERP   Provider = "native_serp"
	CustomSearch Provider = "custom_search"
)

// Status is the lifecycle state of a credential.
type Status string

const (
	StatusActive    Status = "active"
	StatusExhausted Status = "exhausted"
	StatusPaused    Status = "paused"
	StatusError     Status = "error"
)

// Origin distinguishes credentials loaded from configuration from
// ones added at runtime.
type Origin string

const (
	OriginConfigured Origin = "configured"
	OriginUserAdded  Origin = "user_added"
)

// ewmaAge approximates an alpha=0.05 exponential decay: the library's
// decay factor is 2/(age+1), so age=39 gives decay≈0.05.
const ewmaAge = 39.0

// Credential is a single rotated upstream API key, with quota
// counters and a success-rate moving average.
type Credential struct {
	ID             string
	Provider       Provider
	Secret         string
	SearchEngineID string
	DailyLimit     int
	MonthlyLimit   int
	UsedToday      int
	UsedThisMonth  int
	Status         Status
	Priority       int
	LastUsed       time.Time
	ErrorCount     int
	SuccessRate    float64
	MonthlyResetAt time.Time
	Origin         Origin
	CreatedAt      time.Time
	UpdatedAt      time.Time

	successRate ewma.MovingAverage
}

// New constructs a credential with a fresh opaque id and sane
// zero-state counters. Priority defaults to 1 (highest); callers
// append-load it into the pool with pool-size+1 to rank it last.
func New(provider Provider, secret string, dailyLimit, monthlyLimit int, origin Origin) *Credential {
	now := time.Now()
	c := &Credential{
		ID:             xid.New().String(),
		Provider:       provider,
		Secret:         secret,
		DailyLimit:     dailyLimit,
		MonthlyLimit:   monthlyLimit,
		Status:         StatusActive,
		Priority:       1,
		Origin:         origin,
		MonthlyResetAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	c.successRate = ewma.NewMovingAverage(ewmaAge)
	c.successRate.Set(100)
	c.SuccessRate = 100
	return c
}

// RecordSuccess updates the success-rate moving average on a
// successful call and bumps usage counters.
func (c *Credential) RecordSuccess() {
	c.ensureEWMA()
	c.successRate.Add(100)
	c.SuccessRate = c.successRate.Value()
	c.UsedToday++
	c.UsedThisMonth++
	c.LastUsed = time.Now()
	c.UpdatedAt = c.LastUsed
	if c.UsedToday >= c.DailyLimit || (c.MonthlyLimit > 0 && c.UsedThisMonth >= c.MonthlyLimit) {
		c.Status = StatusExhausted
	}
}

// RecordFailure updates the success-rate moving average on a failed
// call without touching usage counters (the call never reached the
// provider's quota-counted path).
func (c *Credential) RecordFailure() {
	c.ensureEWMA()
	c.successRate.Add(0)
	c.SuccessRate = c.successRate.Value()
	c.ErrorCount++
	c.UpdatedAt = time.Now()
}

func (c *Credential) ensureEWMA() {
	if c.successRate == nil {
		c.successRate = ewma.NewMovingAverage(ewmaAge)
		c.successRate.Set(c.SuccessRate)
	}
}

// Available reports whether the credential currently qualifies for
// selection against the given provider, ignoring the in-flight lock
// set (the pool checks that separately).
func (c *Credential) Available(provider Provider) bool {
	if c.Provider != provider {
		return false
	}
	if c.Status != StatusActive {
		return false
	}
	if c.UsedToday >= c.DailyLimit {
		return false
	}
	if c.MonthlyLimit > 0 && c.UsedThisMonth >= c.MonthlyLimit {
		return false
	}
	return true
}

// HealthBand buckets the credential's usage against its daily limit.
type HealthBand string

const (
	HealthHealthy   HealthBand = "healthy"
	HealthWarning   HealthBand = "warning"
	HealthCritical  HealthBand = "critical"
	HealthExhausted HealthBand = "exhausted"
)

// Health reports the credential's usage band.
func (c *Credential) Health() HealthBand {
	if c.Status == StatusExhausted {
		return HealthExhausted
	}
	if c.DailyLimit <= 0 {
		return HealthHealthy
	}
	pct := float64(c.UsedToday) / float64(c.DailyLimit) * 100
	switch {
	case pct >= 90:
		return HealthCritical
	case pct >= 75:
		return HealthWarning
	default:
		return HealthHealthy
	}
}
