package rankparse

import (
	"regexp"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/rankpilot/serpengine/pkg/domainmatch"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// NativeOrganicResult is a single organic entry from the native-SERP
// provider shape.
type NativeOrganicResult struct {
	Position int    `json:"position"`
	Link     string `json:"link"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
}

// NativeAd is a single paid placement.
type NativeAd struct {
	Link  string `json:"link"`
	Title string `json:"title"`
}

// NativePAA is a "people also ask" block; Index orders it relative to
// the organic results array when the provider supplies one.
type NativePAA struct {
	Question string `json:"question"`
	Index    int    `json:"index"`
}

// NativeSearchInformation carries the reported result count, which
// upstream providers may send as a number or a human string.
type NativeSearchInformation struct {
	TotalResults jsoniter.RawMessage `json:"total_results"`
}

// NativeResponse is the native-SERP provider's raw JSON shape.
type NativeResponse struct {
	OrganicResults    []NativeOrganicResult  `json:"organic_results"`
	Ads               []NativeAd             `json:"ads"`
	AnswerBox         jsoniter.RawMessage    `json:"answer_box"`
	KnowledgeGraph    jsoniter.RawMessage    `json:"knowledge_graph"`
	LocalResults      []jsoniter.RawMessage  `json:"local_results"`
	InlineImages      []jsoniter.RawMessage  `json:"inline_images"`
	InlineVideos      []jsoniter.RawMessage  `json:"inline_videos"`
	RelatedSearches   []jsoniter.RawMessage  `json:"related_searches"`
	PeopleAlsoAsk     []NativePAA            `json:"people_also_ask"`
	SearchInformation NativeSearchInformation `json:"search_information"`
	SearchMetadata    struct {
		ID             string  `json:"id"`
		TotalTimeTaken float64 `json:"total_time_taken"`
	} `json:"search_metadata"`
}

var digitsWithCommas = regexp.MustCompile(`[\d,]+`)

// parseTotalResults tolerates both a bare JSON number and a string
// such as "About 1,240,000 results", returning the first run of
// digits found.
func parseTotalResults(raw jsoniter.RawMessage) int64 {
	if len(raw) == 0 {
		return 0
	}
	var asNumber int64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return asNumber
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return extractDigits(asString)
	}
	return extractDigits(string(raw))
}

func extractDigits(s string) int64 {
	match := digitsWithCommas.FindString(s)
	if match == "" {
		return 0
	}
	cleaned := strings.ReplaceAll(match, ",", "")
	n, err := strconv.ParseInt(cleaned, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func parseNative(keyword string, raw []byte, opts SearchOptions) (RankingRecord, error) {
	var resp NativeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return RankingRecord{}, &ParseError{Cause: err}
	}
	if resp.SearchInformation.TotalResults == nil && resp.OrganicResults == nil && resp.Ads == nil {
		return RankingRecord{}, &ParseError{Cause: errMissingSearchInformation}
	}

	record := RankingRecord{
		Keyword:      keyword,
		TargetDomain: opts.TargetDomain,
		Timestamp:    nowFunc(),
		Location:     buildLocationEcho(opts),
		TotalResults: parseTotalResults(resp.SearchInformation.TotalResults),
	}
	record.OrganicScanned = len(resp.OrganicResults)
	record.Metadata = SearchMetadata{
		ID:       resp.SearchMetadata.ID,
		Country:  opts.Country,
		Language: opts.Language,
		City:     opts.City,
		State:    opts.State,
		PostalCode: opts.PostalCode,
		Device:   opts.Device,
	}

	features := detectNativeFeatures(resp)
	record.Validation.Features = features

	best, bestIdx, found := selectBestMatch(opts.TargetDomain, resp.OrganicResults)
	record.Found = found
	if !found {
		record.Validation.Confidence = 0
		record.Validation.PositionSource = SourceUnknown
		record.Competitors = competitorsFrom(resp.OrganicResults)
		return record, nil
	}

	record.URL = best.Link
	record.Title = best.Title
	record.Snippet = best.Snippet
	record.Validation.ArrayIndexPosition = bestIdx + 1

	var warnings []string
	if best.Position >= 1 {
		record.Position = best.Position
		record.Validation.PositionSource = SourceProviderField
		if abs(best.Position-(bestIdx+1)) > 3 {
			warnings = append(warnings, "provider position diverges from array index by more than 3")
		}
	} else {
		offset := featureOffset(resp, bestIdx)
		record.Position = (bestIdx + 1) + offset
		record.Validation.PositionSource = SourceArrayIndexFallback
		warnings = append(warnings, "position derived from array index and feature offset")
	}
	record.HasPosition = true
	record.Validation.OriginalPosition = record.Position
	record.Validation.Warnings = warnings

	if opts.VerificationMode {
		applyVerification(resp, &record, bestIdx)
	}

	record.Validation.OrganicCount = len(resp.OrganicResults)
	record.Validation.TotalItems = len(resp.OrganicResults) + len(resp.Ads) + len(resp.LocalResults)
	record.Validation.Confidence = computeConfidence(record.Validation.PositionSource, len(features), len(resp.OrganicResults), len(record.Validation.Warnings), record.Found)
	record.Competitors = competitorsFrom(resp.OrganicResults)
	record.QualityTags = qualityTags(record)

	return record, nil
}

func detectNativeFeatures(resp NativeResponse) []SERPFeature {
	var features []SERPFeature
	if len(resp.Ads) > 0 {
		features = append(features, SERPFeature{Kind: FeatureAds, Count: len(resp.Ads)})
	}
	if len(resp.AnswerBox) > 0 {
		features = append(features, SERPFeature{Kind: FeatureFeaturedSnippet, Count: 1})
	}
	if len(resp.KnowledgeGraph) > 0 {
		features = append(features, SERPFeature{Kind: FeatureKnowledgePanel, Count: 1})
	}
	if len(resp.LocalResults) > 0 {
		features = append(features, SERPFeature{Kind: FeatureLocalPack, Count: len(resp.LocalResults)})
	}
	if len(resp.InlineImages) > 0 {
		features = append(features, SERPFeature{Kind: FeatureImages, Count: len(resp.InlineImages)})
	}
	if len(resp.InlineVideos) > 0 {
		features = append(features, SERPFeature{Kind: FeatureVideos, Count: len(resp.InlineVideos)})
	}
	if len(resp.RelatedSearches) > 0 {
		features = append(features, SERPFeature{Kind: FeatureRelatedSearches, Count: len(resp.RelatedSearches)})
	}
	if len(resp.PeopleAlsoAsk) > 0 {
		features = append(features, SERPFeature{Kind: FeaturePeopleAlsoAsk, Count: len(resp.PeopleAlsoAsk)})
	}
	return features
}

// featureOffset computes the array-index fallback offset:
// ads count + (1 if answer box) + local-pack size + count of
// people-also-ask blocks appearing before matchIdx.
func featureOffset(resp NativeResponse, matchIdx int) int {
	offset := len(resp.Ads)
	if len(resp.AnswerBox) > 0 {
		offset++
	}
	offset += len(resp.LocalResults)
	for _, paa := range resp.PeopleAlsoAsk {
		if paa.Index <= matchIdx {
			offset++
		}
	}
	return offset
}

// selectBestMatch implements the tie-breaker ladder: an exact match
// short-circuits
// the scan only when it also carries a valid position.
func selectBestMatch(target string, results []NativeOrganicResult) (NativeOrganicResult, int, bool) {
	var best NativeOrganicResult
	bestIdx := -1
	bestConfidence := -1
	bestHasPosition := false
	found := false

	for i, r := range results {
		domain := domainmatch.ExtractDomain(r.Link)
		m := domainmatch.Match(domain, target)
		if !m.Matched {
			continue
		}

		if m.MatchType == domainmatch.Exact && r.Position >= 1 {
			return r, i, true
		}

		hasPosition := r.Position >= 1
		better := m.Confidence > bestConfidence ||
			(m.Confidence == bestConfidence && hasPosition && !bestHasPosition)
		if better {
			best = r
			bestIdx = i
			bestConfidence = m.Confidence
			bestHasPosition = hasPosition
			found = true
		}
	}

	return best, bestIdx, found
}

// applyVerification implements the verification-mode check:
// expected discrepancy is ads + (1 if answer box) + (1 if local pack);
// when the observed discrepancy between position and array index
// exceeds that by more than 2, the position is left unverified and a
// warning is recorded, but verified_position still echoes the
// original position alongside the discrepancy.
func applyVerification(resp NativeResponse, record *RankingRecord, matchIdx int) {
	expected := len(resp.Ads)
	if len(resp.AnswerBox) > 0 {
		expected++
	}
	if len(resp.LocalResults) > 0 {
		expected++
	}
	arrayIndex := matchIdx + 1
	discrepancy := abs(record.Position - arrayIndex)

	record.Validation.VerifiedPosition = record.Position
	if discrepancy <= expected+2 {
		record.Validation.HasVerified = true
		record.Validation.PositionSource = SourceCrossVerified
	} else {
		record.Validation.HasVerified = false
		record.Validation.Warnings = append(record.Validation.Warnings, "verified position exceeds expected discrepancy")
	}
}

func competitorsFrom(results []NativeOrganicResult) []Competitor {
	var out []Competitor
	for _, r := range results {
		if r.Link == "" || r.Position < 1 {
			continue
		}
		out = append(out, Competitor{
			Position: r.Position,
			URL:      r.Link,
			Domain:   domainmatch.ExtractDomain(r.Link),
			Title:    r.Title,
		})
		if len(out) == 10 {
			break
		}
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
