package facade

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rankpilot/serpengine/pkg/bulk"
	"github.com/rankpilot/serpengine/pkg/pool"
	"github.com/rankpilot/serpengine/pkg/rankparse"
)

type fakeTracker struct {
	record rankparse.RankingRecord
	err    error
	stats  pool.Stats
}

func (f *fakeTracker) Track(ctx context.Context, keyword string, opts rankparse.SearchOptions) (rankparse.RankingRecord, error) {
	return f.record, f.err
}

func (f *fakeTracker) Stats() pool.Stats {
	return f.stats
}

type fakeBulkRunner struct {
	result bulk.Result
	gotKeywords []string
}

func (f *fakeBulkRunner) Run(ctx context.Context, keywords []string, opts rankparse.SearchOptions, progress chan<- bulk.ProgressEvent) bulk.Result {
	f.gotKeywords = keywords
	return f.result
}

func TestHandleSingleKeywordCollapsesToTrackPath(t *testing.T) {
	tracker := &fakeTracker{record: rankparse.RankingRecord{Found: true, Position: 3}}
	runner := &fakeBulkRunner{}
	f := New(tracker, runner)

	single, bulkResp, err := f.Handle(context.Background(), Request{
		Keywords:     []string{"shoes"},
		TargetDomain: "example.com",
		Country:      "  us ",
		Language:     "EN",
	}, nil)

	require.NoError(t, err)
	require.NotNil(t, single)
	assert.Nil(t, bulkResp)
	assert.Equal(t, "ranking #3, on page one", single.Insight)
}

func TestHandleMultiKeywordDispatchesToBulk(t *testing.T) {
	tracker := &fakeTracker{}
	runner := &fakeBulkRunner{result: bulk.Result{
		Records: []rankparse.RankingRecord{{Found: true}, {Found: true}},
		Failed:  []bulk.FailedLookup{{Keyword: "c"}},
	}}
	f := New(tracker, runner)

	single, bulkResp, err := f.Handle(context.Background(), Request{
		Keywords:     []string{"a", "b", "c"},
		TargetDomain: "example.com",
	}, nil)

	require.NoError(t, err)
	assert.Nil(t, single)
	require.NotNil(t, bulkResp)
	assert.Equal(t, []string{"a", "b", "c"}, runner.gotKeywords)
	assert.Contains(t, bulkResp.Insight, "moderate visibility")
}

func TestNormalizeOptionsUppercasesCountryLowercasesLanguageDefaultsDevice(t *testing.T) {
	opts := normalizeOptions(Request{Country: " us ", Language: "EN-us"})
	assert.Equal(t, "US", opts.Country)
	assert.Equal(t, "en-us", opts.Language)
	assert.Equal(t, rankparse.DeviceDesktop, opts.Device)
}

func TestSingleInsightNotFound(t *testing.T) {
	assert.Equal(t, "not found in the scanned results", singleInsight(rankparse.RankingRecord{Found: false}))
}

func TestBulkInsightEmptyRun(t *testing.T) {
	assert.Equal(t, "no keywords processed", bulkInsight(bulk.Result{}))
}

func TestCleanKeywordsDropsBlankEntries(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, cleanKeywords([]string{" a ", "", "  ", "b"}))
}
