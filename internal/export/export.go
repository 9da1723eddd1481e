// Package export publishes the eligible coaches to the lead distribution
// sheet (the NA pool), skipping coaches who switched leads off or are absent.
package export

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coach-cli/internal/model"
	"github.com/sells-group/coach-cli/pkg/sheets"
)

// PoolHeader is the column layout written below the header row of the pool tab.
var PoolHeader = []string{"owner_id", "coach_naam", "eligible", "weight", "cap_dag", "cap_week", "exclude_manual", "laatst_bijgewerkt", "note"}

// TimestampLayout formats laatst_bijgewerkt.
const TimestampLayout = "2006-01-02T15:04:05"

// Params controls one export.
type Params struct {
	SpreadsheetID string
	Tab           string
	Weight        int
	CapDay        int
	CapWeek       int
	Note          string
	DryRun        bool
}

// DefaultParams returns the pool defaults used by the lead router.
func DefaultParams() Params {
	return Params{
		Tab:     "NA_Pool",
		Weight:  1,
		CapDay:  2,
		CapWeek: 14,
		Note:    "pushed from coach-cli",
	}
}

// Validate checks the export settings.
func (p Params) Validate() error {
	switch {
	case p.SpreadsheetID == "" && !p.DryRun:
		return eris.New("export: spreadsheet id is required")
	case p.Tab == "":
		return eris.New("export: tab is required")
	case p.Weight < 1 || p.CapDay < 1 || p.CapWeek < 1:
		return eris.New("export: weight, cap_dag and cap_week must be >= 1")
	}
	return nil
}

// Unavailable names a coach held back by the availability tab.
type Unavailable struct {
	CoachID   string `json:"coach_id"`
	CoachName string `json:"coach_name"`
	Status    Status `json:"status"`
}

// Selection is the outcome of filtering scored rows for export.
type Selection struct {
	Export       []model.EligibilityResult
	SkippedNames []string
	Unavailable  []Unavailable
}

// Select keeps the exportable rows (good and moderate) that have a coach id
// and are available today. Coaches missing from avail count as available.
func Select(rows []model.EligibilityResult, avail map[string]Availability, today time.Time) Selection {
	var sel Selection
	for _, r := range rows {
		if !r.Eligibility.Exportable() {
			continue
		}
		if r.CoachID == "" {
			sel.SkippedNames = append(sel.SkippedNames, r.CoachName)
			continue
		}
		if a, ok := avail[r.CoachID]; ok {
			if st := a.Status(today); st != StatusAvailable {
				sel.Unavailable = append(sel.Unavailable, Unavailable{CoachID: r.CoachID, CoachName: r.CoachName, Status: st})
				continue
			}
		}
		sel.Export = append(sel.Export, r)
	}
	return sel
}

// BuildRows renders the pool rows for the selected coaches.
func BuildRows(rows []model.EligibilityResult, p Params, now time.Time) [][]any {
	ts := now.Format(TimestampLayout)
	out := make([][]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, []any{r.CoachID, r.CoachName, "JA", p.Weight, p.CapDay, p.CapWeek, "", ts, p.Note})
	}
	return out
}

// Recorder persists export audit records.
type Recorder interface {
	RecordExport(ctx context.Context, rec model.ExportRecord) error
}

// Outcome reports what an export did.
type Outcome struct {
	BatchID      string         `json:"batch_id"`
	RunID        string         `json:"run_id"`
	Written      int            `json:"written"`
	Skipped      int            `json:"skipped"`
	SkippedNames []string       `json:"skipped_names,omitempty"`
	Unavailable  []Unavailable  `json:"unavailable,omitempty"`
	Rows         [][]any        `json:"rows,omitempty"`
	DryRun       bool           `json:"dry_run"`
	Refresh      *RefreshResult `json:"refresh,omitempty"`
}

// Exporter writes the pool tab.
type Exporter struct {
	sheets   sheets.Client
	recorder Recorder
	hook     *RefreshHook
	now      func() time.Time
}

// NewExporter creates an Exporter. recorder and hook may be nil.
func NewExporter(client sheets.Client, recorder Recorder, hook *RefreshHook) *Exporter {
	return &Exporter{sheets: client, recorder: recorder, hook: hook, now: time.Now}
}

// LoadAvailability reads and parses the availability tab.
func (e *Exporter) LoadAvailability(ctx context.Context, spreadsheetID, tab string) ([]Availability, error) {
	values, err := e.sheets.Values(ctx, spreadsheetID, fmt.Sprintf("%s!A1:G", tab))
	if err != nil {
		return nil, eris.Wrap(err, "export: load availability")
	}
	return ParseAvailability(values)
}

// Push selects, renders and writes the pool for runID. With nothing to write
// the sheet is left untouched. In dry-run mode nothing is written and the
// rendered rows are returned.
func (e *Exporter) Push(ctx context.Context, runID string, rows []model.EligibilityResult, avail map[string]Availability, p Params) (*Outcome, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	now := e.now()
	sel := Select(rows, avail, now)
	out := &Outcome{
		BatchID:      uuid.NewString(),
		RunID:        runID,
		Skipped:      len(sel.SkippedNames),
		SkippedNames: sel.SkippedNames,
		Unavailable:  sel.Unavailable,
		Rows:         BuildRows(sel.Export, p, now),
		DryRun:       p.DryRun,
	}

	log := zap.L().With(zap.String("component", "export"), zap.String("batch_id", out.BatchID), zap.String("run_id", runID))

	if !p.DryRun && len(out.Rows) > 0 {
		rng := fmt.Sprintf("%s!A2:I", p.Tab)
		if err := e.sheets.Clear(ctx, p.SpreadsheetID, rng); err != nil {
			return nil, eris.Wrap(err, "export: clear pool")
		}
		n, err := e.sheets.Update(ctx, p.SpreadsheetID, rng, out.Rows)
		if err != nil {
			return nil, eris.Wrap(err, "export: write pool")
		}
		out.Written = n
		log.Info("pool written", zap.Int("written", n), zap.Int("skipped", out.Skipped), zap.Int("unavailable", len(out.Unavailable)))

		if e.hook != nil {
			res, err := e.hook.Trigger(ctx)
			if err != nil {
				// The sheet is already updated; a failed refresh is reported, not fatal.
				log.Warn("pool refresh failed", zap.Error(err))
			} else {
				out.Refresh = res
			}
		}
	} else if p.DryRun {
		out.Written = len(out.Rows)
		log.Info("dry run", zap.Int("rows", len(out.Rows)))
	}

	if e.recorder != nil {
		rec := model.ExportRecord{
			ID:        out.BatchID,
			RunID:     runID,
			SheetID:   p.SpreadsheetID,
			Tab:       p.Tab,
			Written:   out.Written,
			Skipped:   out.Skipped,
			DryRun:    p.DryRun,
			CreatedAt: now.UTC(),
		}
		if err := e.recorder.RecordExport(ctx, rec); err != nil {
			return out, eris.Wrap(err, "export: record")
		}
	}
	return out, nil
}
