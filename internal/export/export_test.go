package export

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/coach-cli/internal/model"
	"github.com/sells-group/coach-cli/pkg/sheets/mocks"
)

type memRecorder struct {
	records []model.ExportRecord
	err     error
}

func (m *memRecorder) RecordExport(_ context.Context, rec model.ExportRecord) error {
	m.records = append(m.records, rec)
	return m.err
}

func scored(id, name string, e model.Eligibility) model.EligibilityResult {
	return model.EligibilityResult{
		CoachMetrics: model.CoachMetrics{CoachID: id, CoachName: name},
		Eligibility:  e,
	}
}

var fixedNow = time.Date(2026, 3, 10, 9, 15, 42, 0, time.UTC)

func testParams() Params {
	p := DefaultParams()
	p.SpreadsheetID = "sheet-1"
	p.Note = "test push"
	return p
}

func newTestExporter(t *testing.T) (*Exporter, *mocks.MockClient, *memRecorder) {
	t.Helper()
	client := mocks.NewMockClient(t)
	rec := &memRecorder{}
	e := NewExporter(client, rec, nil)
	e.now = func() time.Time { return fixedNow }
	return e, client, rec
}

func TestSelect(t *testing.T) {
	rows := []model.EligibilityResult{
		scored("1", "Anna", model.EligibilityGood),
		scored("2", "Bram", model.EligibilityModerate),
		scored("3", "Cees", model.EligibilityExclude),
		scored("", "Ghost", model.EligibilityGood),
		scored("4", "Dirk", model.EligibilityGood),
		scored("5", "Eva", model.EligibilityModerate),
	}
	avail := map[string]Availability{
		"1": {CoachID: "1", LeadsOn: true},
		"4": {CoachID: "4", LeadsOn: false},
		"5": {CoachID: "5", LeadsOn: true, AbsentFrom: day("2026-03-09"), AbsentTo: day("2026-03-11")},
	}

	sel := Select(rows, avail, fixedNow)

	require.Len(t, sel.Export, 2)
	assert.Equal(t, "1", sel.Export[0].CoachID)
	assert.Equal(t, "2", sel.Export[1].CoachID)
	assert.Equal(t, []string{"Ghost"}, sel.SkippedNames)
	assert.Equal(t, []Unavailable{
		{CoachID: "4", CoachName: "Dirk", Status: StatusLeadsOff},
		{CoachID: "5", CoachName: "Eva", Status: StatusAbsent},
	}, sel.Unavailable)
}

func TestBuildRows(t *testing.T) {
	p := testParams()
	rows := BuildRows([]model.EligibilityResult{scored("1", "Anna", model.EligibilityGood)}, p, fixedNow)
	require.Len(t, rows, 1)
	assert.Equal(t, []any{"1", "Anna", "JA", 1, 2, 14, "", "2026-03-10T09:15:42", "test push"}, rows[0])
}

func TestParamsValidate(t *testing.T) {
	p := testParams()
	assert.NoError(t, p.Validate())

	p.SpreadsheetID = ""
	assert.Error(t, p.Validate())
	p.DryRun = true
	assert.NoError(t, p.Validate())

	p = testParams()
	p.CapWeek = 0
	assert.Error(t, p.Validate())

	p = testParams()
	p.Tab = ""
	assert.Error(t, p.Validate())
}

func TestPush_WritesPool(t *testing.T) {
	e, client, rec := newTestExporter(t)
	rows := []model.EligibilityResult{
		scored("1", "Anna", model.EligibilityGood),
		scored("", "Ghost", model.EligibilityModerate),
	}

	client.On("Clear", mock.Anything, "sheet-1", "NA_Pool!A2:I").Return(nil).Once()
	client.On("Update", mock.Anything, "sheet-1", "NA_Pool!A2:I", mock.MatchedBy(func(r [][]any) bool {
		return len(r) == 1 && r[0][0] == "1"
	})).Return(1, nil).Once()

	out, err := e.Push(context.Background(), "20260310_091500", rows, nil, testParams())
	require.NoError(t, err)

	assert.Equal(t, 1, out.Written)
	assert.Equal(t, 1, out.Skipped)
	assert.Equal(t, []string{"Ghost"}, out.SkippedNames)
	assert.NotEmpty(t, out.BatchID)

	require.Len(t, rec.records, 1)
	assert.Equal(t, out.BatchID, rec.records[0].ID)
	assert.Equal(t, "20260310_091500", rec.records[0].RunID)
	assert.Equal(t, 1, rec.records[0].Written)
	assert.False(t, rec.records[0].DryRun)
}

func TestPush_NothingToWriteLeavesSheet(t *testing.T) {
	e, client, rec := newTestExporter(t)
	rows := []model.EligibilityResult{scored("1", "Anna", model.EligibilityExclude)}

	out, err := e.Push(context.Background(), "r1", rows, nil, testParams())
	require.NoError(t, err)

	assert.Equal(t, 0, out.Written)
	client.AssertNotCalled(t, "Clear", mock.Anything, mock.Anything, mock.Anything)
	require.Len(t, rec.records, 1)
}

func TestPush_DryRun(t *testing.T) {
	e, client, rec := newTestExporter(t)
	p := testParams()
	p.DryRun = true

	out, err := e.Push(context.Background(), "r1", []model.EligibilityResult{scored("1", "Anna", model.EligibilityGood)}, nil, p)
	require.NoError(t, err)

	assert.True(t, out.DryRun)
	assert.Equal(t, 1, out.Written)
	require.Len(t, out.Rows, 1)
	client.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.True(t, rec.records[0].DryRun)
}

func TestPush_ClearError(t *testing.T) {
	e, client, rec := newTestExporter(t)
	client.On("Clear", mock.Anything, "sheet-1", "NA_Pool!A2:I").Return(errors.New("forbidden")).Once()

	_, err := e.Push(context.Background(), "r1", []model.EligibilityResult{scored("1", "Anna", model.EligibilityGood)}, nil, testParams())
	assert.ErrorContains(t, err, "export: clear pool")
	assert.Empty(t, rec.records)
}

func TestPush_RefreshHook(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"entries": 7, "issues": ["coach 9 missing"]}`))
	}))
	defer srv.Close()

	client := mocks.NewMockClient(t)
	e := NewExporter(client, nil, NewRefreshHook(srv.URL, "tok"))
	e.now = func() time.Time { return fixedNow }

	client.On("Clear", mock.Anything, "sheet-1", "NA_Pool!A2:I").Return(nil).Once()
	client.On("Update", mock.Anything, "sheet-1", "NA_Pool!A2:I", mock.Anything).Return(1, nil).Once()

	out, err := e.Push(context.Background(), "r1", []model.EligibilityResult{scored("1", "Anna", model.EligibilityGood)}, nil, testParams())
	require.NoError(t, err)
	require.NotNil(t, out.Refresh)
	assert.Equal(t, 7, out.Refresh.Entries)
	assert.Equal(t, []string{"coach 9 missing"}, out.Refresh.Issues)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRefreshHook_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewRefreshHook(srv.URL, "").Trigger(context.Background())
	assert.ErrorContains(t, err, "unexpected status 400")
}

func TestNewRefreshHook_Empty(t *testing.T) {
	assert.Nil(t, NewRefreshHook("", "tok"))
}

func TestLoadAvailability(t *testing.T) {
	e, client, _ := newTestExporter(t)
	client.On("Values", mock.Anything, "sheet-1", "Beschikbaarheid!A1:G").Return([][]string{
		AvailabilityHeader,
		{"1", "Anna", "FALSE"},
	}, nil).Once()

	rows, err := e.LoadAvailability(context.Background(), "sheet-1", "Beschikbaarheid")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].LeadsOn)
}
