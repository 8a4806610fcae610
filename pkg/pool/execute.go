package pool

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/corpix/uarand"
	retryablehttp "github.com/projectdiscovery/retryablehttp-go"

	"github.com/rankpilot/serpengine/pkg/credential"
	"github.com/rankpilot/serpengine/pkg/rankparse"
)

// httpExecutor performs one upstream GET and returns the status code
// and body, or an error. It is an interface so tests can substitute a
// fake upstream without a network round trip.
type httpExecutor interface {
	Execute(ctx context.Context, target string) (status int, body []byte, err error)
}

// Executor is the exported form of httpExecutor, usable by callers in
// other packages that need to swap the pool's upstream transport —
// chiefly tests, but also any caller routing through a custom proxy.
type Executor = httpExecutor

// SetExecutor replaces the pool's upstream transport.
func (p *Pool) SetExecutor(e Executor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.executor = e
}

// retryableExecutor wraps retryablehttp-go configured with
// RetryMax=0: credential rotation across the pool's own retry loop is
// the only retry strategy this engine uses, so the HTTP client itself
// must not retry underneath it and double the backoff.
type retryableExecutor struct {
	client *retryablehttp.Client
}

func newRetryableExecutor() *retryableExecutor {
	opts := retryablehttp.DefaultOptionsSingle
	opts.RetryMax = 0
	client := retryablehttp.NewClient(opts)
	return &retryableExecutor{client: client}
}

func (e *retryableExecutor) Execute(ctx context.Context, target string) (int, []byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("User-Agent", uarand.GetRandom())
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// buildNativeSERPURL composes the fixed native-SERP request:
// engine=google, q, gl, hl, num, start, device, safe, filter,
// no_cache, and a composite location string.
func buildNativeSERPURL(endpoint, apiKey, keyword string, opts rankparse.SearchOptions) string {
	q := url.Values{}
	q.Set("engine", "google")
	q.Set("api_key", apiKey)
	q.Set("q", keyword)
	if opts.Country != "" {
		q.Set("gl", strings.ToLower(opts.Country))
	}
	lang := opts.Language
	if lang == "" {
		lang = "en"
	}
	q.Set("hl", lang)
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = 100
	}
	q.Set("num", strconv.Itoa(maxResults))
	q.Set("start", "0")
	device := opts.Device
	if device == "" {
		device = rankparse.DeviceDesktop
	}
	q.Set("device", string(device))
	q.Set("safe", "off")
	q.Set("filter", "0")
	q.Set("no_cache", "true")

	if loc := buildLocation(opts.City, opts.State, opts.Country, opts.PostalCode); loc != "" {
		q.Set("location", loc)
	}

	return endpoint + "?" + q.Encode()
}

// buildCustomSearchURL composes the custom-search request: key, cx,
// q, num (capped at 10), gl, hl, safe. City and
// state are appended to the query text rather than sent as separate
// parameters, since this shape has no location parameter.
func buildCustomSearchURL(endpoint, apiKey, searchEngineID, keyword string, opts rankparse.SearchOptions) string {
	q := url.Values{}
	q.Set("key", apiKey)
	q.Set("cx", searchEngineID)

	query := keyword
	if opts.City != "" {
		query += " " + opts.City
		if opts.State != "" {
			query += " " + opts.State
		}
	}
	q.Set("q", query)

	maxResults := opts.MaxResults
	if maxResults <= 0 || maxResults > 10 {
		maxResults = 10
	}
	q.Set("num", strconv.Itoa(maxResults))
	if opts.Country != "" {
		q.Set("gl", strings.ToLower(opts.Country))
	}
	lang := opts.Language
	if lang == "" {
		lang = "en"
	}
	q.Set("hl", lang)
	q.Set("safe", "off")

	return endpoint + "?" + q.Encode()
}

// buildRequestURL dispatches on provider to build the full upstream
// request URL for a credential/keyword pair.
func buildRequestURL(endpoints Endpoints, c *credential.Credential, keyword string, opts rankparse.SearchOptions) string {
	switch c.Provider {
	case credential.CustomSearch:
		return buildCustomSearchURL(endpoints.CustomSearch, c.Secret, c.SearchEngineID, keyword, opts)
	default:
		return buildNativeSERPURL(endpoints.NativeSERP, c.Secret, keyword, opts)
	}
}

// classify turns an HTTP status/body/transport-error triple into an
// error Kind via message-sniffing rules. Only called once a response
// is already known to be a failure — a non-2xx status, a transport
// error, or a 2xx body that failed to parse — never on a successful
// 2xx parse.
func classify(status int, body []byte, transportErr error) Kind {
	if transportErr != nil {
		if isTimeoutErr(transportErr) {
			return KindTimeout
		}
		return KindNetworkError
	}

	text := strings.ToLower(string(body))
	switch {
	case status == http.StatusTooManyRequests, strings.Contains(text, "rate limit"), strings.Contains(text, "too many"):
		return KindRateLimited
	case status == http.StatusUnauthorized:
		return KindUnauthorized
	case status == http.StatusBadRequest:
		return KindInvalidRequest
	case strings.Contains(text, "quota"), strings.Contains(text, "limit"), strings.Contains(text, "exceeded"), strings.Contains(text, "used up"):
		return KindQuotaExceeded
	case status >= 500:
		return KindNetworkError
	default:
		return KindUnknown
	}
}

func isTimeoutErr(err error) bool {
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok {
		return t.Timeout()
	}
	return strings.Contains(err.Error(), "deadline exceeded") || strings.Contains(err.Error(), "context deadline")
}

// Endpoints carries the upstream base URLs, overridable for testing
// against a local fixture server instead of the real providers.
type Endpoints struct {
	NativeSERP   string
	CustomSearch string
}

// DefaultEndpoints are the production upstream hosts.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		NativeSERP:   "https://serpapi.com/search",
		CustomSearch: "https://www.googleapis.com/customsearch/v1",
	}
}

const defaultRequestTimeout = 30 * time.Second
