package sheets

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func testClient(t *testing.T, handler http.HandlerFunc) *serviceClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClientWithOptions(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	sc := c.(*serviceClient)
	sc.retry.InitialBackoff = time.Millisecond
	sc.retry.MaxBackoff = time.Millisecond
	return sc
}

func TestValues(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.True(t, strings.HasPrefix(r.URL.Path, "/v4/spreadsheets/sheet-1/values/"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"range":"Beschikbaarheid!A1:G3","majorDimension":"ROWS","values":[["coach_id","Coachnaam"],["101","Anna"],["102"]]}`)
	})

	rows, err := c.Values(context.Background(), "sheet-1", "Beschikbaarheid!A1:G")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"coach_id", "Coachnaam"}, {"101", "Anna"}, {"102"}}, rows)
}

func TestValues_NotFoundIsPermanent(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"code":404,"message":"Requested entity was not found."}}`)
	})

	_, err := c.Values(context.Background(), "missing", "A1:B")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sheets: get")
	assert.Equal(t, int32(1), calls.Load())
}

func TestClear(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.True(t, strings.HasSuffix(r.URL.Path, ":clear"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"spreadsheetId":"sheet-1","clearedRange":"NA_Pool!A2:I100"}`)
	})

	require.NoError(t, c.Clear(context.Background(), "sheet-1", "NA_Pool!A2:I"))
}

func TestUpdate_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"error":{"code":429,"message":"Quota exceeded"}}`)
			return
		}
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "RAW", r.URL.Query().Get("valueInputOption"))

		var body struct {
			Values [][]any `json:"values"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Len(t, body.Values, 2)
		assert.Equal(t, "JA", body.Values[0][2])

		_, _ = io.WriteString(w, `{"spreadsheetId":"sheet-1","updatedRows":2,"updatedColumns":9}`)
	})

	n, err := c.Update(context.Background(), "sheet-1", "NA_Pool!A2:I", [][]any{
		{"101", "Anna", "JA", 1, "", "", "", "2026-03-02 09:00", ""},
		{"102", "Bert", "JA", 1, "", "", "", "2026-03-02 09:00", ""},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int32(2), calls.Load())
}

func TestUpdate_EmptyIsNoop(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected request %s", r.URL.Path)
	})

	n, err := c.Update(context.Background(), "sheet-1", "NA_Pool!A2:I", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTabs(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v4/spreadsheets/sheet-1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"sheets":[{"properties":{"title":"NA_Pool"}},{"properties":{"title":"Beschikbaarheid"}}]}`)
	})

	tabs, err := c.Tabs(context.Background(), "sheet-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"NA_Pool", "Beschikbaarheid"}, tabs)
}
