package rankparse

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNativeProviderFieldPresent(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"search_metadata": map[string]any{"id": "s1"},
		"search_information": map[string]any{"total_results": "About 1,240,000 results"},
		"organic_results": []map[string]any{
			{"position": 3, "link": "https://www.example.com/a", "title": "A"},
			{"position": 1, "link": "https://other.com", "title": "B"},
		},
	})
	require.NoError(t, err)

	record, err := Parse("widgets", raw, SearchOptions{TargetDomain: "example.com", Provider: NativeSERP})
	require.NoError(t, err)

	assert.True(t, record.Found)
	assert.Equal(t, 3, record.Position)
	assert.Equal(t, SourceProviderField, record.Validation.PositionSource)
	assert.GreaterOrEqual(t, record.Validation.Confidence, 80)
	assert.Equal(t, int64(1240000), record.TotalResults)
}

func TestParseNativeFeatureOffsetFallback(t *testing.T) {
	organic := []map[string]any{
		{"link": "https://somewhere-else.com", "title": "filler"},
		{"link": "https://shop.example.com/x", "title": "target"},
	}
	for i := 0; i < 8; i++ {
		organic = append(organic, map[string]any{"link": "https://filler-result.com", "title": "filler"})
	}

	raw, err := json.Marshal(map[string]any{
		"search_information": map[string]any{"total_results": 500},
		"ads": []map[string]any{
			{"link": "https://ad1.com"},
			{"link": "https://ad2.com"},
		},
		"answer_box":      map[string]any{"answer": "x"},
		"organic_results": organic,
	})
	require.NoError(t, err)

	record, err := Parse("shoes", raw, SearchOptions{TargetDomain: "shop.example.com", Provider: NativeSERP})
	require.NoError(t, err)

	assert.True(t, record.Found)
	assert.Equal(t, 5, record.Position)
	assert.Equal(t, SourceArrayIndexFallback, record.Validation.PositionSource)
	assert.NotEmpty(t, record.Validation.Warnings)
	assert.Equal(t, 55, record.Validation.Confidence)
}

func TestParseNativeEmptyOrganicResults(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"search_information": map[string]any{"total_results": 0},
		"organic_results":    []map[string]any{},
	})
	require.NoError(t, err)

	record, err := Parse("nothing", raw, SearchOptions{TargetDomain: "example.com", Provider: NativeSERP})
	require.NoError(t, err)

	assert.False(t, record.Found)
	assert.False(t, record.HasPosition)
	assert.Equal(t, 0, record.Validation.Confidence)
}

func TestParseDeterministicModuloTimestamp(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"search_information": map[string]any{"total_results": 10},
		"organic_results": []map[string]any{
			{"position": 1, "link": "https://example.com", "title": "A"},
		},
	})
	require.NoError(t, err)

	opts := SearchOptions{TargetDomain: "example.com", Provider: NativeSERP}
	r1, err := Parse("x", raw, opts)
	require.NoError(t, err)
	r2, err := Parse("x", raw, opts)
	require.NoError(t, err)

	r1.Timestamp = r2.Timestamp
	assert.Equal(t, r1, r2)
}

func TestParseExactMatchWithoutPositionDoesNotShortCircuit(t *testing.T) {
	// An exact match without a position field is still the highest-
	// confidence candidate, so a later, lower-confidence but
	// position-bearing result never displaces it — the scan does not
	// short-circuit on the exact match (it lacks a position), but the
	// exact match wins anyway on confidence and falls back to its
	// array index.
	raw, err := json.Marshal(map[string]any{
		"search_information": map[string]any{"total_results": 10},
		"organic_results": []map[string]any{
			{"link": "https://example.com", "title": "exact but no position"},
			{"position": 4, "link": "https://www.example.com/x", "title": "later but positioned"},
		},
	})
	require.NoError(t, err)

	record, err := Parse("x", raw, SearchOptions{TargetDomain: "example.com", Provider: NativeSERP})
	require.NoError(t, err)

	assert.True(t, record.Found)
	assert.Equal(t, 1, record.Position)
	assert.Equal(t, SourceArrayIndexFallback, record.Validation.PositionSource)
}

func TestParseExactMatchWithPositionShortCircuits(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"search_information": map[string]any{"total_results": 10},
		"organic_results": []map[string]any{
			{"link": "https://example.com", "title": "exact, no position"},
			{"position": 4, "link": "https://example.com/page2", "title": "exact, positioned"},
		},
	})
	require.NoError(t, err)

	record, err := Parse("x", raw, SearchOptions{TargetDomain: "example.com", Provider: NativeSERP})
	require.NoError(t, err)

	assert.True(t, record.Found)
	assert.Equal(t, 4, record.Position)
	assert.Equal(t, SourceProviderField, record.Validation.PositionSource)
}

func TestParseCustomSearchArrayIndexPosition(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"searchInformation": map[string]any{"totalResults": "42"},
		"items": []map[string]any{
			{"link": "https://other.com", "title": "A"},
			{"link": "https://example.com/page", "title": "B"},
		},
	})
	require.NoError(t, err)

	record, err := Parse("kw", raw, SearchOptions{TargetDomain: "example.com", Provider: CustomSearch})
	require.NoError(t, err)

	assert.True(t, record.Found)
	assert.Equal(t, 2, record.Position)
	assert.Equal(t, int64(42), record.TotalResults)
}

func TestParseRejectsEmptyKeywordOrDomain(t *testing.T) {
	_, err := Parse("", []byte(`{}`), SearchOptions{TargetDomain: "example.com"})
	assert.Error(t, err)

	_, err = Parse("kw", []byte(`{}`), SearchOptions{})
	assert.Error(t, err)
}
