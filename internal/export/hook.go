package export

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/coach-cli/internal/resilience"
)

// RefreshResult is the lead router's answer to a pool refresh.
type RefreshResult struct {
	Entries int      `json:"entries"`
	Issues  []string `json:"issues,omitempty"`
}

// RefreshHook asks the lead router to reload the pool tab after a push.
type RefreshHook struct {
	url    string
	token  string
	client *http.Client
	retry  resilience.RetryConfig
}

// NewRefreshHook returns nil when url is empty.
func NewRefreshHook(url, token string) *RefreshHook {
	if url == "" {
		return nil
	}
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = 3
	return &RefreshHook{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: 60 * time.Second},
		retry:  retry,
	}
}

// Trigger posts the refresh request and decodes the result.
func (h *RefreshHook) Trigger(ctx context.Context) (*RefreshResult, error) {
	return resilience.DoVal(ctx, h.retry, func(ctx context.Context) (*RefreshResult, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, strings.NewReader(`{}`))
		if err != nil {
			return nil, eris.Wrap(err, "export: create refresh request")
		}
		req.Header.Set("Content-Type", "application/json")
		if h.token != "" {
			req.Header.Set("Authorization", "Bearer "+h.token)
		}

		resp, err := h.client.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "export: refresh request")
		}
		defer resp.Body.Close() //nolint:errcheck

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, eris.Wrap(err, "export: read refresh response")
		}
		if resp.StatusCode >= 400 {
			return nil, resilience.StatusError("pool refresh", resp, body)
		}

		var res RefreshResult
		if len(body) > 0 {
			if err := json.Unmarshal(body, &res); err != nil {
				return nil, eris.Wrap(err, "export: decode refresh response")
			}
		}
		return &res, nil
	})
}
