// Package hubspot is a minimal HubSpot CRM v3/v4 REST client covering the
// calls needed to score coaches: contact search, contact to deal
// associations, deal batch read, deal pipelines and owners.
package hubspot

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/coach-cli/internal/resilience"
)

const (
	defaultBaseURL = "https://api.hubapi.com"

	searchPageSize      = 100
	associationPageSize = 500
	ownerPageSize       = 500
	// BatchReadSize is the maximum number of ids per batch read request.
	BatchReadSize = 100
)

// DealProperties are the deal properties read by BatchReadDeals callers.
var DealProperties = []string{
	"hs_object_id",
	"dealname",
	"hubspot_owner_id",
	"pipeline",
	"dealstage",
	"createdate",
	"closedate",
	"hs_is_closed_won",
	"hs_is_closed_lost",
}

// ContactProperties are the contact properties requested by contact search.
var ContactProperties = []string{"hs_object_id", "firstname", "lastname", "hubspot_owner_id", "aangebracht_door"}

// Client performs HubSpot CRM operations.
type Client interface {
	// SearchContacts returns every contact whose property equals value.
	SearchContacts(ctx context.Context, property, value string, properties []string) ([]Object, error)
	// DealIDsForContact returns the ids of deals associated with a contact.
	DealIDsForContact(ctx context.Context, contactID string) ([]string, error)
	// BatchReadDeals reads deals in chunks of BatchReadSize.
	BatchReadDeals(ctx context.Context, ids []string, properties []string) ([]Object, error)
	// DealPipelines lists deal pipelines with their stages.
	DealPipelines(ctx context.Context) ([]Pipeline, error)
	// Owners lists all CRM owners.
	Owners(ctx context.Context) ([]Owner, error)
}

// Object is a CRM object with its requested properties. Null properties
// decode as empty strings.
type Object struct {
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties"`
}

// Pipeline is a deal pipeline.
type Pipeline struct {
	ID           string  `json:"id"`
	Label        string  `json:"label"`
	DisplayOrder int     `json:"displayOrder"`
	Archived     bool    `json:"archived"`
	CreatedAt    string  `json:"createdAt"`
	UpdatedAt    string  `json:"updatedAt"`
	Stages       []Stage `json:"stages"`
}

// Stage is a pipeline stage. Metadata holds isClosed and probability.
type Stage struct {
	ID           string          `json:"id"`
	Label        string          `json:"label"`
	DisplayOrder int             `json:"displayOrder"`
	Metadata     json.RawMessage `json:"metadata"`
	Archived     bool            `json:"archived"`
	CreatedAt    string          `json:"createdAt"`
	UpdatedAt    string          `json:"updatedAt"`
}

// Owner is a CRM user that can own deals.
type Owner struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Archived  bool   `json:"archived"`
}

type paging struct {
	Next *struct {
		After string `json:"after"`
	} `json:"next"`
}

func (p *paging) after() string {
	if p == nil || p.Next == nil {
		return ""
	}
	return p.Next.After
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps requests per second. Zero or negative disables it.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// WithBreaker routes every request through b.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *httpClient) {
		c.breaker = b
	}
}

type httpClient struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	breaker *resilience.Breaker
}

// NewClient creates a HubSpot client authenticated with a private app token.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(9), 10),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.RetryLogger("hubspot", "request")
	}
	return c
}

// do sends one JSON request with rate limiting, retry and circuit breaking,
// decoding the response into out.
func (c *httpClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return eris.Wrap(err, "hubspot: marshal request")
		}
		payload = b
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	respBody, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "hubspot: rate limit wait")
			}
		}
		return resilience.Execute(c.breaker, func() ([]byte, error) {
			return c.send(ctx, method, u, payload)
		})
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return eris.Wrapf(err, "hubspot: unmarshal %s %s", method, path)
	}
	return nil
}

func (c *httpClient) send(ctx context.Context, method, u string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, eris.Wrap(err, "hubspot: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "hubspot: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "hubspot: read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resilience.StatusError("hubspot", resp, respBody)
	}
	return respBody, nil
}
