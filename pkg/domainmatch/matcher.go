// Package domainmatch normalizes and compares domain strings, grading
// how closely two domains refer to the same site.
package domainmatch

import (
	"net/url"
	"regexp"
	"strings"
)

// MatchType classifies how two domains were found to correspond.
type MatchType string

const (
	Exact      MatchType = "exact"
	Normalized MatchType = "normalized"
	MainDomain MatchType = "main_domain"
	Subdomain  MatchType = "subdomain"
	Partial    MatchType = "partial"
	None       MatchType = "none"
)

// Result is the outcome of comparing two domain strings.
type Result struct {
	Matched     bool
	MatchType   MatchType
	Confidence  int
	NormalizedA string
	NormalizedB string
}

var (
	schemeRe    = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)
	wwwPrefix   = regexp.MustCompile(`^(www\d*|m|mobile)\.`)
	trailingS   = regexp.MustCompile(`s$`)
	trailingEs  = regexp.MustCompile(`es$`)
	trailingIes = regexp.MustCompile(`ies$`)
)

// Match compares two domain strings and returns the best-grade match.
func Match(a, b string) Result {
	if a == "" || b == "" {
		return Result{MatchType: None}
	}

	if a == b {
		return Result{Matched: true, MatchType: Exact, Confidence: 100, NormalizedA: a, NormalizedB: b}
	}

	na := normalize(a)
	nb := normalize(b)

	if na == "" || nb == "" {
		return Result{MatchType: None}
	}

	if na == nb {
		return Result{Matched: true, MatchType: Normalized, Confidence: 95, NormalizedA: na, NormalizedB: nb}
	}

	sa := singularize(na)
	sb := singularize(nb)
	if sa == sb && (sa != na || sb != nb) {
		return Result{Matched: true, MatchType: Normalized, Confidence: 93, NormalizedA: na, NormalizedB: nb}
	}

	la := lastTwoLabels(na)
	lb := lastTwoLabels(nb)
	if la != "" && la == lb {
		if strings.HasSuffix(na, "."+nb) || strings.HasSuffix(nb, "."+na) {
			return Result{Matched: true, MatchType: Subdomain, Confidence: 85, NormalizedA: na, NormalizedB: nb}
		}
		return Result{Matched: true, MatchType: MainDomain, Confidence: 90, NormalizedA: na, NormalizedB: nb}
	}

	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return Result{Matched: true, MatchType: Subdomain, Confidence: 75, NormalizedA: na, NormalizedB: nb}
	}

	return Result{MatchType: None, NormalizedA: na, NormalizedB: nb}
}

// ExtractDomain pulls the host out of a URL-ish string, tolerating
// malformed input by returning an empty string rather than an error.
func ExtractDomain(raw string) string {
	if raw == "" {
		return ""
	}
	candidate := raw
	if !schemeRe.MatchString(candidate) {
		candidate = "http://" + candidate
	}
	u, err := url.Parse(candidate)
	if err != nil || u.Host == "" {
		return ""
	}
	host := u.Hostname()
	return normalize(host)
}

func normalize(s string) string {
	s = strings.TrimSpace(s)
	s = schemeRe.ReplaceAllString(s, "")

	// drop path/query/fragment
	if idx := strings.IndexAny(s, "/?#"); idx >= 0 {
		s = s[:idx]
	}

	// drop userinfo
	if idx := strings.LastIndex(s, "@"); idx >= 0 {
		s = s[idx+1:]
	}

	// drop port
	if idx := strings.LastIndex(s, ":"); idx >= 0 {
		s = s[:idx]
	}

	s = wwwPrefix.ReplaceAllString(s, "")
	s = strings.TrimRight(s, ".")
	return strings.ToLower(s)
}

// singularize applies the plural/singular tolerance pass label by
// label (e.g. "companies.co" -> "company.co") rather than to the
// domain string as a whole, since the interesting variation is always
// within a single label, not across the dot boundary.
func singularize(s string) string {
	labels := strings.Split(s, ".")
	for i, label := range labels {
		labels[i] = singularizeLabel(label)
	}
	return strings.Join(labels, ".")
}

func singularizeLabel(label string) string {
	switch {
	case trailingIes.MatchString(label):
		return trailingIes.ReplaceAllString(label, "y")
	case trailingEs.MatchString(label):
		return trailingEs.ReplaceAllString(label, "")
	case trailingS.MatchString(label):
		return trailingS.ReplaceAllString(label, "")
	}
	return label
}

func lastTwoLabels(domain string) string {
	parts := strings.Split(domain, ".")
	if len(parts) < 2 {
		return ""
	}
	return strings.Join(parts[len(parts)-2:], ".")
}
