package domainmatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchGrades(t *testing.T) {
	cases := []struct {
		name       string
		a, b       string
		matched    bool
		matchType  MatchType
		confidence int
	}{
		{"exact", "example.com", "example.com", true, Exact, 100},
		{"www stripped", "www.example.com", "example.com", true, Normalized, 95},
		{"subdomain", "blog.example.com", "example.com", true, Subdomain, 85},
		{"singularized", "companies.co", "company.co", true, Normalized, 93},
		{"partial", "myexampleshop.com", "example.com", false, None, 0},
		{"none", "totallydifferent.net", "example.com", false, None, 0},
		{"empty a", "", "example.com", false, None, 0},
		{"empty b", "example.com", "", false, None, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Match(tc.a, tc.b)
			assert.Equal(t, tc.matched, res.Matched)
			assert.Equal(t, tc.matchType, res.MatchType)
			assert.Equal(t, tc.confidence, res.Confidence)
		})
	}
}

func TestMatchCommutative(t *testing.T) {
	pairs := [][2]string{
		{"blog.example.com", "example.com"},
		{"www.example.com", "example.com"},
		{"companies.co", "company.co"},
		{"example.com", "example.com"},
	}
	for _, p := range pairs {
		ab := Match(p[0], p[1])
		ba := Match(p[1], p[0])
		assert.Equal(t, ab.Matched, ba.Matched, "commutativity: %v", p)
	}
}

func TestMatchSelfIsExact(t *testing.T) {
	for _, d := range []string{"example.com", "shop.example.co.uk", "a.b"} {
		res := Match(d, d)
		assert.Equal(t, Exact, res.MatchType)
	}
}

func TestExtractDomainMalformed(t *testing.T) {
	assert.Equal(t, "", ExtractDomain(""))
	assert.Equal(t, "", ExtractDomain("://///bad"))
	assert.Equal(t, "example.com", ExtractDomain("https://www.example.com/path?x=1"))
}
