package rankparse

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var errMissingSearchInformation = errors.New("response carries neither organic results nor search information")

// ParseError wraps a decode or shape failure encountered while
// turning a raw provider response into a RankingRecord.
type ParseError struct {
	Cause error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("rankparse: %v", e.Cause)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// nowFunc is indirected so tests can pin the clock.
var nowFunc = time.Now

// Parse turns a raw provider response into a canonical RankingRecord,
// dispatching on opts.Provider. The raw bytes are retained on the
// record only when opts.Extra["keep_raw"] is "true", since most callers
// have no use for the original payload once it is parsed.
func Parse(keyword string, raw []byte, opts SearchOptions) (RankingRecord, error) {
	if keyword == "" {
		return RankingRecord{}, &ParseError{Cause: errors.New("keyword must not be empty")}
	}
	if opts.TargetDomain == "" {
		return RankingRecord{}, &ParseError{Cause: errors.New("target domain must not be empty")}
	}

	var (
		record RankingRecord
		err    error
	)

	switch opts.Provider {
	case CustomSearch:
		record, err = parseCustomSearch(keyword, raw, opts)
	default:
		record, err = parseNative(keyword, raw, opts)
	}
	if err != nil {
		return RankingRecord{}, err
	}

	if opts.Extra["keep_raw"] == "true" {
		record.RawResponse = append([]byte(nil), raw...)
	}

	return record, nil
}

func buildLocationEcho(opts SearchOptions) string {
	var parts []string
	for _, p := range []string{opts.City, opts.State, opts.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, ", ")
}

// computeConfidence derives the 0-100 confidence score: start at 100,
// subtract 30 for an array-index-derived position (50 for unknown),
// subtract min(5*feature_count, 20), subtract 10 when fewer than 10
// organic results were scanned, subtract min(5*warning_count, 15).
func computeConfidence(source PositionSource, featureCount, organicCount, warningCount int, found bool) int {
	if !found {
		return 0
	}

	score := 100
	switch source {
	case SourceArrayIndexFallback:
		score -= 30
	case SourceUnknown:
		score -= 50
	}

	if f := 5 * featureCount; f > 0 {
		if f > 20 {
			f = 20
		}
		score -= f
	}

	if organicCount < 10 {
		score -= 10
	}

	if w := 5 * warningCount; w > 0 {
		if w > 15 {
			w = 15
		}
		score -= w
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

// qualityTags annotates a record with short, queryable labels
// describing how it was derived, for downstream reporting.
func qualityTags(record RankingRecord) []string {
	var tags []string
	if !record.Found {
		tags = append(tags, "not_found")
		return tags
	}
	switch record.Validation.PositionSource {
	case SourceProviderField:
		tags = append(tags, "provider_position")
	case SourceArrayIndexFallback:
		tags = append(tags, "derived_position")
	case SourceCrossVerified:
		tags = append(tags, "verified_position")
	}
	if len(record.Validation.Warnings) > 0 {
		tags = append(tags, "has_warnings")
	}
	if record.Validation.Confidence >= 90 {
		tags = append(tags, "high_confidence")
	}
	return tags
}
