package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePool struct {
	dailyResets   int
	monthlyResets int
	staleChecks   int
	failDaily     bool
}

func (f *fakePool) ResetDailyAll(ctx context.Context) error {
	if f.failDaily {
		return assert.AnError
	}
	f.dailyResets++
	return nil
}

func (f *fakePool) ResetMonthlyAll(ctx context.Context) error {
	f.monthlyResets++
	return nil
}

func (f *fakePool) CheckMonthlyIfStale(ctx context.Context) {
	f.staleChecks++
}

type fakeRecordStore struct {
	deleteCalls int
	lastCutoff  time.Time
	deletedN    int64
}

func (f *fakeRecordStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.deleteCalls++
	f.lastCutoff = cutoff
	return f.deletedN, nil
}

func atMidnight(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func TestRunDailyResetFiresOnlyAtMidnightOncePerDay(t *testing.T) {
	p := &fakePool{}
	now := atMidnight(2026, 7, 31)
	s := New(p, &fakeRecordStore{}, Config{Now: func() time.Time { return now }})

	s.runDailyReset(context.Background())
	assert.Equal(t, 1, p.dailyResets)

	s.runDailyReset(context.Background())
	assert.Equal(t, 1, p.dailyResets, "a second tick on the same day must not reset again")
}

func TestRunDailyResetSkipsNonMidnightTick(t *testing.T) {
	p := &fakePool{}
	now := time.Date(2026, 7, 31, 14, 0, 0, 0, time.UTC)
	s := New(p, &fakeRecordStore{}, Config{Now: func() time.Time { return now }})

	s.runDailyReset(context.Background())
	assert.Equal(t, 0, p.dailyResets)
}

func TestRunMonthlyResetFiresOnlyOnFirstOfMonthMidnight(t *testing.T) {
	p := &fakePool{}
	now := atMidnight(2026, 8, 1)
	s := New(p, &fakeRecordStore{}, Config{Now: func() time.Time { return now }})

	s.runMonthlyReset(context.Background())
	assert.Equal(t, 1, p.monthlyResets)

	notFirst := atMidnight(2026, 8, 2)
	s2 := New(p, &fakeRecordStore{}, Config{Now: func() time.Time { return notFirst }})
	s2.runMonthlyReset(context.Background())
	assert.Equal(t, 1, p.monthlyResets)
}

func TestRunWeeklyCleanupFiresOnlyOnSundayAtTwoAM(t *testing.T) {
	p := &fakePool{}
	records := &fakeRecordStore{deletedN: 7}

	var sunday time.Time
	for d := 0; d < 7; d++ {
		candidate := atMidnight(2026, 8, 2).AddDate(0, 0, d).Add(2 * time.Hour)
		if candidate.Weekday() == time.Sunday {
			sunday = candidate
			break
		}
	}
	require.False(t, sunday.IsZero())

	s := New(p, records, Config{RetentionDays: 90, Now: func() time.Time { return sunday }})
	s.runWeeklyCleanup(context.Background())

	require.Equal(t, 1, records.deleteCalls)
	assert.Equal(t, sunday.AddDate(0, 0, -90), records.lastCutoff)
}

func TestRunStalenessCheckDelegatesToPool(t *testing.T) {
	p := &fakePool{}
	s := New(p, &fakeRecordStore{}, Config{})
	s.runStalenessCheck(context.Background())
	assert.Equal(t, 1, p.staleChecks)
}

func TestDailyResetFailureDoesNotAdvanceLastReset(t *testing.T) {
	p := &fakePool{failDaily: true}
	now := atMidnight(2026, 7, 31)
	s := New(p, &fakeRecordStore{}, Config{Now: func() time.Time { return now }})

	s.runDailyReset(context.Background())
	assert.Equal(t, 0, p.dailyResets)
	assert.True(t, s.lastDailyReset.IsZero())
}
