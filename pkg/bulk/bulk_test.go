package bulk

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rankpilot/serpengine/pkg/credential"
	"github.com/rankpilot/serpengine/pkg/pool"
	"github.com/rankpilot/serpengine/pkg/rankparse"
)

type scriptedExecutor struct {
	statuses []int
	bodies   [][]byte
	idx      int
}

func (s *scriptedExecutor) Execute(_ context.Context, _ string) (int, []byte, error) {
	i := s.idx
	if i >= len(s.statuses) {
		i = len(s.statuses) - 1
	}
	s.idx++
	return s.statuses[i], s.bodies[i], nil
}

func okBody(t *testing.T) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"search_information": map[string]any{"total_results": 10},
		"organic_results": []map[string]any{
			{"position": 1, "link": "https://www.example.com", "title": "A"},
		},
	})
	require.NoError(t, err)
	return raw
}

func newTestExecutorPool(t *testing.T, statuses []int, bodies [][]byte, creds ...*credential.Credential) *pool.Pool {
	t.Helper()
	store := credential.NewMemoryStore()
	ctx := context.Background()
	for _, c := range creds {
		require.NoError(t, store.Upsert(ctx, c))
	}
	p := pool.NewPool(store, pool.Config{MaxRetries: len(creds) + 1})
	t.Cleanup(p.Shutdown)
	p.SetExecutor(&scriptedExecutor{statuses: statuses, bodies: bodies})
	_, err := p.Init(ctx, creds)
	require.NoError(t, err)
	return p
}

func TestRunEmptyKeywordListProcessesNothing(t *testing.T) {
	p := newTestExecutorPool(t, nil, nil)
	e := NewExecutor(p, Config{})

	result := e.Run(context.Background(), []string{"", "   "}, rankparse.SearchOptions{TargetDomain: "example.com"}, nil)
	assert.Equal(t, 0, result.TotalProcessed)
	assert.Empty(t, result.Records)
	assert.Empty(t, result.Failed)
}

func TestRunBatchSizeOneSingleConcurrencyOrdersLookups(t *testing.T) {
	c := credential.New(credential.NativeSERP, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", 100, 3000, credential.OriginConfigured)
	p := newTestExecutorPool(t, []int{200, 200}, [][]byte{okBody(t), okBody(t)}, c)
	e := NewExecutor(p, Config{BatchSize: 1, MaxConcurrent: 1, InterBatchDelay: time.Millisecond})

	result := e.Run(context.Background(), []string{"a", "b"}, rankparse.SearchOptions{TargetDomain: "example.com"}, nil)
	assert.Equal(t, 2, result.TotalProcessed)
	require.Len(t, result.Records, 2)
	assert.Equal(t, "a", result.Records[0].Keyword)
	assert.Equal(t, "b", result.Records[1].Keyword)
	assert.Empty(t, result.Failed)
}

func TestRunOnlyExhaustedCredentialFailsEveryKeyword(t *testing.T) {
	exhausted := credential.New(credential.NativeSERP, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", 1, 3000, credential.OriginConfigured)
	exhausted.UsedToday = 1
	exhausted.Status = credential.StatusExhausted

	p := newTestExecutorPool(t, nil, nil, exhausted)
	e := NewExecutor(p, Config{BatchSize: 2, MaxConcurrent: 2, RetryEnabled: false})

	result := e.Run(context.Background(), []string{"a", "b"}, rankparse.SearchOptions{TargetDomain: "example.com"}, nil)
	assert.Equal(t, 2, result.TotalProcessed)
	assert.Empty(t, result.Records)
	require.Len(t, result.Failed, 2)
	for _, f := range result.Failed {
		assert.Equal(t, pool.KindAllExhausted, f.Kind)
	}
}

func TestNextDelaySlowsDownOnHighUsage(t *testing.T) {
	c := credential.New(credential.NativeSERP, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", 10, 3000, credential.OriginConfigured)
	c.UsedToday = 9
	p := newTestExecutorPool(t, nil, nil, c)
	e := NewExecutor(p, Config{InterBatchDelay: 2 * time.Second})

	next := e.nextDelay(2*time.Second, 2, 2)
	assert.Equal(t, 3*time.Second, next)
}

func TestNextDelaySpeedsUpOnCleanBatch(t *testing.T) {
	c := credential.New(credential.NativeSERP, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", 100, 3000, credential.OriginConfigured)
	p := newTestExecutorPool(t, nil, nil, c)
	e := NewExecutor(p, Config{InterBatchDelay: 2 * time.Second})

	next := e.nextDelay(4*time.Second, 2, 2)
	assert.Equal(t, 3200*time.Millisecond, next)
}

func TestPartitionSplitsIntoContiguousBatches(t *testing.T) {
	batches := partition([]string{"a", "b", "c", "d", "e"}, 2)
	require.Len(t, batches, 3)
	assert.Equal(t, []string{"a", "b"}, batches[0])
	assert.Equal(t, []string{"c", "d"}, batches[1])
	assert.Equal(t, []string{"e"}, batches[2])
}
