package pool

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rankpilot/serpengine/pkg/credential"
	"github.com/rankpilot/serpengine/pkg/rankparse"
)

// fakeExecutor returns a scripted sequence of responses, one per
// call, looping the last entry once exhausted.
type fakeExecutor struct {
	mu        sync.Mutex
	responses []fakeResponse
	calls     int
}

type fakeResponse struct {
	status int
	body   []byte
	err    error
}

func (f *fakeExecutor) Execute(_ context.Context, _ string) (int, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	r := f.responses[idx]
	return r.status, r.body, r.err
}

func okBody(t *testing.T, position int) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"search_information": map[string]any{"total_results": 10},
		"organic_results": []map[string]any{
			{"position": position, "link": "https://www.example.com", "title": "A"},
		},
	})
	require.NoError(t, err)
	return raw
}

func newTestPool(t *testing.T, executor httpExecutor, creds ...*credential.Credential) *Pool {
	t.Helper()
	store := credential.NewMemoryStore()
	ctx := context.Background()
	for _, c := range creds {
		require.NoError(t, store.Upsert(ctx, c))
	}
	p := NewPool(store, Config{MaxRetries: len(creds) + 1})
	t.Cleanup(p.Shutdown)
	p.executor = executor
	_, err := p.Init(ctx, creds)
	require.NoError(t, err)
	return p
}

func TestSelectNextPriorityStrategy(t *testing.T) {
	low := credential.New(credential.NativeSERP, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", 100, 3000, credential.OriginConfigured)
	low.Priority = 2
	high := credential.New(credential.NativeSERP, "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", 100, 3000, credential.OriginConfigured)
	high.Priority = 1

	p := newTestPool(t, &fakeExecutor{}, low, high)
	chosen := p.SelectNext(credential.NativeSERP)
	require.NotNil(t, chosen)
	assert.Equal(t, high.ID, chosen.ID)
}

func TestSelectNextSkipsExhaustedAndWrongProvider(t *testing.T) {
	exhausted := credential.New(credential.NativeSERP, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", 1, 3000, credential.OriginConfigured)
	exhausted.UsedToday = 1
	exhausted.Status = credential.StatusExhausted
	wrongProvider := credential.New(credential.CustomSearch, "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", 100, 3000, credential.OriginConfigured)
	good := credential.New(credential.NativeSERP, "cccccccccccccccccccccccccccccccccc", 100, 3000, credential.OriginConfigured)

	p := newTestPool(t, &fakeExecutor{}, exhausted, wrongProvider, good)
	chosen := p.SelectNext(credential.NativeSERP)
	require.NotNil(t, chosen)
	assert.Equal(t, good.ID, chosen.ID)
}

func TestTrackPoolPathSuccessIncrementsUsage(t *testing.T) {
	c := credential.New(credential.NativeSERP, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", 100, 3000, credential.OriginConfigured)
	exec := &fakeExecutor{responses: []fakeResponse{{status: 200, body: okBody(t, 1)}}}
	p := newTestPool(t, exec, c)

	record, err := p.Track(context.Background(), "shoes", rankparse.SearchOptions{TargetDomain: "example.com"})
	require.NoError(t, err)
	assert.True(t, record.Found)
	assert.Equal(t, 1, c.UsedToday)
}

func TestTrackRotatesOnQuotaExceeded(t *testing.T) {
	first := credential.New(credential.NativeSERP, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", 100, 3000, credential.OriginConfigured)
	first.Priority = 1
	second := credential.New(credential.NativeSERP, "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", 100, 3000, credential.OriginConfigured)
	second.Priority = 2

	exec := &fakeExecutor{responses: []fakeResponse{
		{status: 403, body: []byte(`{"error":"quota exceeded"}`)},
		{status: 200, body: okBody(t, 2)},
	}}
	p := newTestPool(t, exec, first, second)

	record, err := p.Track(context.Background(), "shoes", rankparse.SearchOptions{TargetDomain: "example.com"})
	require.NoError(t, err)
	assert.True(t, record.Found)
	assert.Equal(t, credential.StatusExhausted, first.Status)
	assert.Equal(t, 1, second.UsedToday)
}

func TestTrackSuccessfulBodyContainingQuotaWordIsNotMisclassified(t *testing.T) {
	c := credential.New(credential.NativeSERP, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", 100, 3000, credential.OriginConfigured)
	raw, err := json.Marshal(map[string]any{
		"search_information": map[string]any{"total_results": 10},
		"organic_results": []map[string]any{
			{"position": 1, "link": "https://www.example.com", "title": "What is your credit card limit?"},
		},
	})
	require.NoError(t, err)
	exec := &fakeExecutor{responses: []fakeResponse{{status: 200, body: raw}}}
	p := newTestPool(t, exec, c)

	record, err := p.Track(context.Background(), "credit card limit", rankparse.SearchOptions{TargetDomain: "example.com"})
	require.NoError(t, err)
	assert.True(t, record.Found)
	assert.NotEqual(t, credential.StatusExhausted, c.Status)
}

func TestInitRejectsShortNativeSERPSecret(t *testing.T) {
	store := credential.NewMemoryStore()
	ctx := context.Background()
	p := NewPool(store, Config{})
	t.Cleanup(p.Shutdown)

	short := credential.New(credential.NativeSERP, "tooshort", 100, 3000, credential.OriginConfigured)
	good := credential.New(credential.NativeSERP, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", 100, 3000, credential.OriginConfigured)

	rejected, err := p.Init(ctx, []*credential.Credential{short, good})
	require.NoError(t, err)
	assert.Equal(t, 1, rejected)
	chosen := p.SelectNext(credential.NativeSERP)
	require.NotNil(t, chosen)
	assert.Equal(t, good.ID, chosen.ID)
}

func TestTrackAllExhaustedRaisesAllExhausted(t *testing.T) {
	only := credential.New(credential.NativeSERP, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", 1, 3000, credential.OriginConfigured)
	only.UsedToday = 1
	only.Status = credential.StatusExhausted

	p := newTestPool(t, &fakeExecutor{}, only)
	_, err := p.Track(context.Background(), "shoes", rankparse.SearchOptions{TargetDomain: "example.com"})
	require.Error(t, err)
	lookupErr, ok := err.(*LookupError)
	require.True(t, ok)
	assert.Equal(t, KindAllExhausted, lookupErr.Kind)
}

func TestInFlightLockPreventsConcurrentDoubleUse(t *testing.T) {
	c := credential.New(credential.NativeSERP, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", 100, 3000, credential.OriginConfigured)
	p := newTestPool(t, &fakeExecutor{}, c)

	first := p.lockNext(credential.NativeSERP)
	require.NotNil(t, first)

	second := p.lockNext(credential.NativeSERP)
	assert.Nil(t, second, "credential already in flight must not be selected again")

	p.releaseLock(first.ID)
	third := p.lockNext(credential.NativeSERP)
	assert.NotNil(t, third)
}

func TestBuildNativeSERPURLOmitsLocationWhenEmpty(t *testing.T) {
	target := buildNativeSERPURL("https://serpapi.com/search", "key", "shoes", rankparse.SearchOptions{})
	assert.NotContains(t, target, "location=")
}

func TestBuildNativeSERPURLIncludesComposedLocation(t *testing.T) {
	target := buildNativeSERPURL("https://serpapi.com/search", "key", "shoes", rankparse.SearchOptions{
		City: "Austin", State: "TX", Country: "us",
	})
	assert.Contains(t, target, "location=")
}

func TestClassifyRecognizesRateLimitAndQuota(t *testing.T) {
	assert.Equal(t, KindRateLimited, classify(429, nil, nil))
	assert.Equal(t, KindQuotaExceeded, classify(403, []byte(`{"error":"quota exceeded"}`), nil))
	assert.Equal(t, KindUnknown, classify(200, nil, nil))
}

func TestResetDailyAllReactivatesNonPaused(t *testing.T) {
	c := credential.New(credential.NativeSERP, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", 1, 3000, credential.OriginConfigured)
	c.UsedToday = 1
	c.Status = credential.StatusExhausted
	p := newTestPool(t, &fakeExecutor{}, c)

	require.NoError(t, p.ResetDailyAll(context.Background()))
	assert.Equal(t, 0, c.UsedToday)
	assert.Equal(t, credential.StatusActive, c.Status)
}

func TestStatsComputesTotalsAndHealth(t *testing.T) {
	c := credential.New(credential.NativeSERP, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", 100, 3000, credential.OriginConfigured)
	c.UsedToday = 90
	p := newTestPool(t, &fakeExecutor{}, c)

	stats := p.Stats()
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Active)
	require.Len(t, stats.Credentials, 1)
	assert.Equal(t, credential.HealthCritical, stats.Credentials[0].Health)
}
