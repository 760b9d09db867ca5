// Package egov fetches the Japanese statute index and law full texts from
// the e-Gov law API, and extracts clean sentence fragments from law XML.
package egov

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"

	"github.com/AobaIwaki123/lawvec/engine/domain"
	"github.com/AobaIwaki123/lawvec/pkg/fn"
	"github.com/AobaIwaki123/lawvec/pkg/resilience"
)

// DefaultBaseURL is the public e-Gov law API v1 endpoint.
const DefaultBaseURL = "https://elaws.e-gov.go.jp/api/1"

const userAgent = "lawvec/1.0"

// APIError is an e-Gov application-level failure: HTTP 200 with a non-zero
// result code in the payload.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("egov: api error %d: %s", e.Code, e.Message)
}

// httpStatusError carries a non-200 status for retry classification.
type httpStatusError struct {
	status int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("egov: http status %d", e.status)
}

// isRetryable reports whether a fetch error is worth another attempt.
// API-level errors and parse errors are permanent.
func isRetryable(err error) bool {
	var se *httpStatusError
	if errors.As(err, &se) {
		return se.status == http.StatusTooManyRequests || se.status >= 500
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// Client talks to the e-Gov law API. It owns two in-memory maps: the law
// index (name to entry, populated by FetchIndex, read-only afterwards) and
// the content cache (law number to cleaned fragments, written at most once
// per key).
type Client struct {
	baseURL     string
	rateLimiter *rate.Limiter
	httpClient  *http.Client
	retry       fn.RetryOpts
	breaker     *resilience.Breaker

	indexMu sync.RWMutex
	lawDict map[string]domain.LawEntry

	contentMu sync.RWMutex
	content   map[string][]string
}

// NewClient creates a client against baseURL, or the public API when empty.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		rateLimiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		retry: fn.RetryOpts{
			MaxAttempts: 3,
			InitialWait: 500 * time.Millisecond,
			MaxWait:     5 * time.Second,
			Jitter:      true,
			ShouldRetry: isRetryable,
		},
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
		lawDict: make(map[string]domain.LawEntry),
		content: make(map[string][]string),
	}
}

// NormalizeLawNo applies NFKC so full-width digits and letters in law
// numbers compare equal to their half-width forms.
func NormalizeLawNo(s string) string {
	return norm.NFKC.String(strings.TrimSpace(s))
}

// fetch GETs u through the rate limiter, the retry policy, and the
// circuit breaker. A request that exhausts its retries counts as one
// breaker failure.
func (c *Client) fetch(ctx context.Context, u string) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	result := resilience.CallResult(c.breaker, ctx, func(ctx context.Context) fn.Result[[]byte] {
		return fn.Retry(ctx, c.retry, func(ctx context.Context) fn.Result[[]byte] {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
			if err != nil {
				return fn.Err[[]byte](err)
			}
			req.Header.Set("User-Agent", userAgent)

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return fn.Err[[]byte](err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fn.Err[[]byte](&httpStatusError{status: resp.StatusCode})
			}
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fn.Err[[]byte](err)
			}
			return fn.Ok(body)
		})
	})
	return result.Unwrap()
}

// --- index (law_dict) ---

type apiResult struct {
	Code    int    `xml:"Code"`
	Message string `xml:"Message"`
}

type lawListResponse struct {
	Result   apiResult `xml:"Result"`
	ApplData struct {
		Category string        `xml:"Category"`
		Laws     []lawListInfo `xml:"LawNameListInfo"`
	} `xml:"ApplData"`
}

type lawListInfo struct {
	LawID            string `xml:"LawId"`
	LawName          string `xml:"LawName"`
	LawNo            string `xml:"LawNo"`
	PromulgationDate string `xml:"PromulgationDate"`
}

// FetchIndex fetches the law index for a category and records every valid
// entry in the name-to-number map. Entries that fail validation are
// dropped rather than failing the whole index.
func (c *Client) FetchIndex(ctx context.Context, cat domain.Category) ([]domain.LawEntry, error) {
	if !domain.ValidCategories[cat] {
		return nil, domain.NewValidationError("category", cat.String(), domain.ErrUnknownCategory)
	}

	body, err := c.fetch(ctx, c.baseURL+"/lawlists/"+strconv.Itoa(int(cat)))
	if err != nil {
		return nil, fmt.Errorf("fetch law index: %w", err)
	}

	var lr lawListResponse
	if err := xml.Unmarshal(body, &lr); err != nil {
		return nil, fmt.Errorf("parse law index: %w", err)
	}
	if lr.Result.Code != 0 {
		return nil, &APIError{Code: lr.Result.Code, Message: lr.Result.Message}
	}

	entries := make([]domain.LawEntry, 0, len(lr.ApplData.Laws))
	for _, info := range lr.ApplData.Laws {
		entry := domain.LawEntry{
			ID:       strings.TrimSpace(info.LawID),
			Name:     strings.TrimSpace(info.LawName),
			Number:   NormalizeLawNo(info.LawNo),
			Category: cat,
		}
		if t, err := time.Parse("20060102", strings.TrimSpace(info.PromulgationDate)); err == nil {
			entry.PromulgatedAt = t
		}
		if domain.ValidateLawEntry(entry) != nil {
			continue
		}
		entries = append(entries, entry)
	}

	c.indexMu.Lock()
	for _, e := range entries {
		if _, ok := c.lawDict[e.Name]; !ok {
			c.lawDict[e.Name] = e
		}
	}
	c.indexMu.Unlock()

	return entries, nil
}

// LawNumber resolves a law name to its official number via the index.
func (c *Client) LawNumber(name string) (string, bool) {
	c.indexMu.RLock()
	defer c.indexMu.RUnlock()
	e, ok := c.lawDict[name]
	return e.Number, ok
}

// IndexSize reports how many laws the index currently maps.
func (c *Client) IndexSize() int {
	c.indexMu.RLock()
	defer c.indexMu.RUnlock()
	return len(c.lawDict)
}

// Names returns a snapshot of every law name in the index.
func (c *Client) Names() []string {
	c.indexMu.RLock()
	defer c.indexMu.RUnlock()
	names := make([]string, 0, len(c.lawDict))
	for name := range c.lawDict {
		names = append(names, name)
	}
	return names
}

// FilterByKeyword returns the entries whose name contains keyword.
func FilterByKeyword(entries []domain.LawEntry, keyword string) []domain.LawEntry {
	return fn.Filter(entries, func(e domain.LawEntry) bool {
		return strings.Contains(e.Name, keyword)
	})
}

// --- law data ---

type lawDataResponse struct {
	Result   apiResult `xml:"Result"`
	ApplData struct {
		LawID       string `xml:"LawId"`
		LawNum      string `xml:"LawNum"`
		LawFullText struct {
			Inner []byte `xml:",innerxml"`
		} `xml:"LawFullText"`
	} `xml:"ApplData"`
}

// lawHead is the slice of the full-text Law element we need for metadata.
type lawHead struct {
	LawNum  string `xml:"LawNum"`
	LawBody struct {
		LawTitle string `xml:"LawTitle"`
	} `xml:"LawBody"`
}

// FetchLawData fetches the full text of one law by its number. The body of
// the returned document is the raw Law XML.
func (c *Client) FetchLawData(ctx context.Context, lawNo string) (domain.LawDocument, error) {
	var doc domain.LawDocument

	lawNo = NormalizeLawNo(lawNo)
	if lawNo == "" {
		return doc, domain.NewValidationError("number", lawNo, domain.ErrEmptyLawNumber)
	}

	body, err := c.fetch(ctx, c.baseURL+"/lawdata/"+url.PathEscape(lawNo))
	if err != nil {
		return doc, fmt.Errorf("fetch law data %s: %w", lawNo, err)
	}

	var lr lawDataResponse
	if err := xml.Unmarshal(body, &lr); err != nil {
		return doc, fmt.Errorf("parse law data %s: %w", lawNo, err)
	}
	if lr.Result.Code != 0 {
		return doc, &APIError{Code: lr.Result.Code, Message: lr.Result.Message}
	}

	inner := strings.TrimSpace(string(lr.ApplData.LawFullText.Inner))
	if inner == "" {
		return doc, domain.NewValidationError("body", lawNo, domain.ErrEmptyLawBody)
	}

	var head lawHead
	_ = xml.Unmarshal([]byte(inner), &head)

	doc = domain.LawDocument{
		Number:    lawNo,
		Name:      strings.TrimSpace(head.LawBody.LawTitle),
		Body:      inner,
		FetchedAt: time.Now(),
	}
	return doc, nil
}

// --- content cache (content_dict) ---

// GetLawContent returns the cleaned fragments of a law, fetching and
// extracting on first use. The cache key is the normalized law number and
// each key is written at most once; later callers get the first result.
func (c *Client) GetLawContent(ctx context.Context, lawNo string) ([]string, error) {
	lawNo = NormalizeLawNo(lawNo)

	c.contentMu.RLock()
	frags, ok := c.content[lawNo]
	c.contentMu.RUnlock()
	if ok {
		return frags, nil
	}

	doc, err := c.FetchLawData(ctx, lawNo)
	if err != nil {
		return nil, err
	}
	extracted, err := ExtractFragments(doc.Body)
	if err != nil {
		return nil, fmt.Errorf("extract fragments %s: %w", lawNo, err)
	}

	c.contentMu.Lock()
	if cached, ok := c.content[lawNo]; ok {
		extracted = cached
	} else {
		c.content[lawNo] = extracted
	}
	c.contentMu.Unlock()

	return extracted, nil
}

// ContentByName resolves a law name through the index and returns its
// cleaned fragments.
func (c *Client) ContentByName(ctx context.Context, name string) ([]string, error) {
	lawNo, ok := c.LawNumber(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrLawNotFound, name)
	}
	return c.GetLawContent(ctx, lawNo)
}
