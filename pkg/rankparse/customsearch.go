package rankparse

import (
	"github.com/rankpilot/serpengine/pkg/domainmatch"
)

// CustomSearchItem is a single flat result entry from the
// custom-search provider shape. Unlike the native shape it carries no
// per-item position field; position is always array_index+1.
type CustomSearchItem struct {
	Link    string `json:"link"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// CustomSearchInformation carries the reported total result count,
// which this shape sends as a JSON string holding a plain integer.
type CustomSearchInformation struct {
	TotalResults int64 `json:"totalResults,string"`
}

// CustomSearchResponse is the custom-search provider's raw JSON
// shape.
type CustomSearchResponse struct {
	Items             []CustomSearchItem      `json:"items"`
	SearchInformation CustomSearchInformation  `json:"searchInformation"`
}

func parseCustomSearch(keyword string, raw []byte, opts SearchOptions) (RankingRecord, error) {
	var resp CustomSearchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return RankingRecord{}, &ParseError{Cause: err}
	}
	if resp.Items == nil && resp.SearchInformation.TotalResults == 0 {
		return RankingRecord{}, &ParseError{Cause: errMissingSearchInformation}
	}

	record := RankingRecord{
		Keyword:        keyword,
		TargetDomain:   opts.TargetDomain,
		Timestamp:      nowFunc(),
		Location:       buildLocationEcho(opts),
		TotalResults:   resp.SearchInformation.TotalResults,
		OrganicScanned: len(resp.Items),
	}
	record.Metadata = SearchMetadata{
		Country:    opts.Country,
		Language:   opts.Language,
		City:       opts.City,
		State:      opts.State,
		PostalCode: opts.PostalCode,
		Device:     opts.Device,
	}

	matchIdx := -1
	for i, item := range resp.Items {
		domain := domainmatch.ExtractDomain(item.Link)
		m := domainmatch.Match(domain, opts.TargetDomain)
		if m.Matched {
			matchIdx = i
			break
		}
	}

	if matchIdx < 0 {
		record.Found = false
		record.Validation.PositionSource = SourceUnknown
		record.Competitors = customSearchCompetitors(resp.Items)
		return record, nil
	}

	best := resp.Items[matchIdx]
	record.Found = true
	record.HasPosition = true
	record.Position = matchIdx + 1
	record.URL = best.Link
	record.Title = best.Title
	record.Snippet = best.Snippet
	record.Validation.ArrayIndexPosition = matchIdx + 1
	record.Validation.OriginalPosition = record.Position
	record.Validation.PositionSource = SourceArrayIndexFallback
	record.Validation.OrganicCount = len(resp.Items)
	record.Validation.TotalItems = len(resp.Items)
	record.Validation.Confidence = computeConfidence(record.Validation.PositionSource, 0, len(resp.Items), 0, true)
	record.Competitors = customSearchCompetitors(resp.Items)
	record.QualityTags = qualityTags(record)

	return record, nil
}

func customSearchCompetitors(items []CustomSearchItem) []Competitor {
	var out []Competitor
	for i, item := range items {
		if item.Link == "" {
			continue
		}
		out = append(out, Competitor{
			Position: i + 1,
			URL:      item.Link,
			Domain:   domainmatch.ExtractDomain(item.Link),
			Title:    item.Title,
		})
		if len(out) == 10 {
			break
		}
	}
	return out
}
