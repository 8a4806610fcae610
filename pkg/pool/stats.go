package pool

import (
	"time"

	"github.com/rankpilot/serpengine/pkg/credential"
)

// CredentialSnapshot is the read-only health view of one credential
// exposed in pool statistics.
type CredentialSnapshot struct {
	ID            string
	Provider      credential.Provider
	Status        credential.Status
	Priority      int
	UsedToday     int
	DailyLimit    int
	UsedThisMonth int
	MonthlyLimit  int
	SuccessRate   float64
	Health        credential.HealthBand
}

// Stats is the pool-wide snapshot returned alongside every lookup and
// by the facade's wrapped replies.
type Stats struct {
	Total                 int
	Active                int
	Exhausted             int
	Paused                int
	Error                 int
	UsedTodayTotal        int
	DailyCapacityTotal    int
	UsedThisMonthTotal    int
	MonthlyCapacityTotal  int
	UsagePercentage       float64
	EstimatedExhaustionIn time.Duration
	Credentials           []CredentialSnapshot
}

// Stats computes pool statistics on demand; nothing here is cached
// across calls.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	var s Stats
	now := p.now()
	hoursSinceMidnight := now.Sub(time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())).Hours()
	if hoursSinceMidnight <= 0 {
		hoursSinceMidnight = 1.0 / 60
	}

	for _, c := range p.credentials {
		s.Total++
		switch c.Status {
		case credential.StatusActive:
			s.Active++
		case credential.StatusExhausted:
			s.Exhausted++
		case credential.StatusPaused:
			s.Paused++
		case credential.StatusError:
			s.Error++
		}
		s.UsedTodayTotal += c.UsedToday
		s.DailyCapacityTotal += c.DailyLimit
		s.UsedThisMonthTotal += c.UsedThisMonth
		s.MonthlyCapacityTotal += c.MonthlyLimit

		s.Credentials = append(s.Credentials, CredentialSnapshot{
			ID:            c.ID,
			Provider:      c.Provider,
			Status:        c.Status,
			Priority:      c.Priority,
			UsedToday:     c.UsedToday,
			DailyLimit:    c.DailyLimit,
			UsedThisMonth: c.UsedThisMonth,
			MonthlyLimit:  c.MonthlyLimit,
			SuccessRate:   c.SuccessRate,
			Health:        c.Health(),
		})
	}

	if s.DailyCapacityTotal > 0 {
		s.UsagePercentage = float64(s.UsedTodayTotal) / float64(s.DailyCapacityTotal) * 100
	}

	remaining := s.DailyCapacityTotal - s.UsedTodayTotal
	rate := float64(s.UsedTodayTotal) / hoursSinceMidnight
	if rate > 0 && remaining > 0 {
		s.EstimatedExhaustionIn = time.Duration(float64(remaining)/rate*float64(time.Hour))
	}

	return s
}
