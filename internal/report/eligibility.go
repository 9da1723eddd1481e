// Package report writes and reads the per-run artefacts consumed by the
// dashboard: the eligibility workbook, the stage enumeration workbook, the
// shared mapping workbook and the flat deals CSV.
package report

import (
	"slices"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/coach-cli/internal/classify"
	"github.com/sells-group/coach-cli/internal/model"
	"github.com/sells-group/coach-cli/internal/workbook"
)

// Artefact file names inside a run directory.
const (
	EligibilityFile = "coach_eligibility.xlsx"
	EnumsFile       = "enums.xlsx"
	DealsFlatFile   = "deals_flat.csv"
	MappingFile     = "mapping.xlsx"
)

// Sheet names of the eligibility workbook.
const (
	SheetCoaches = "Coaches"
	SheetSummary = "DealClassSummary"
	SheetOwners  = "Owners"
)

// Column names shared by the workbook and the CSV.
const (
	ColCoachID   = "coach_id"
	ColCoachName = "Coachnaam"
)

type windowColumn struct {
	prefix string
	get    func(model.WindowMetrics) any
	set    func(*model.WindowMetrics, string) error
}

var windowColumns = []windowColumn{
	{"deals", func(m model.WindowMetrics) any { return m.DealCount }, setInt(func(m *model.WindowMetrics) *int { return &m.DealCount })},
	{"won", func(m model.WindowMetrics) any { return m.WonCount }, setInt(func(m *model.WindowMetrics) *int { return &m.WonCount })},
	{"lost", func(m model.WindowMetrics) any { return m.LostCount }, setInt(func(m *model.WindowMetrics) *int { return &m.LostCount })},
	{"open", func(m model.WindowMetrics) any { return m.OpenCount }, setInt(func(m *model.WindowMetrics) *int { return &m.OpenCount })},
	{"rate", func(m model.WindowMetrics) any { return m.RawRate }, setFloat(func(m *model.WindowMetrics) *float64 { return &m.RawRate })},
	{"smoothed", func(m model.WindowMetrics) any { return m.SmoothedRate }, setFloat(func(m *model.WindowMetrics) *float64 { return &m.SmoothedRate })},
	{"nabeller_now", func(m model.WindowMetrics) any { return m.NabellerCount }, setInt(func(m *model.WindowMetrics) *int { return &m.NabellerCount })},
	{"nabeller_pct", func(m model.WindowMetrics) any { return m.NabellerPct }, setFloat(func(m *model.WindowMetrics) *float64 { return &m.NabellerPct })},
	{"handoff", func(m model.WindowMetrics) any { return m.HandoffCount }, setInt(func(m *model.WindowMetrics) *int { return &m.HandoffCount })},
	{"warm_requests", func(m model.WindowMetrics) any { return m.WarmRequestCount }, setInt(func(m *model.WindowMetrics) *int { return &m.WarmRequestCount })},
	{"info_requests", func(m model.WindowMetrics) any { return m.InfoRequestCount }, setInt(func(m *model.WindowMetrics) *int { return &m.InfoRequestCount })},
}

func setInt(field func(*model.WindowMetrics) *int) func(*model.WindowMetrics, string) error {
	return func(m *model.WindowMetrics, s string) error {
		if s == "" {
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*field(m) = int(f)
		return nil
	}
}

func setFloat(field func(*model.WindowMetrics) *float64) func(*model.WindowMetrics, string) error {
	return func(m *model.WindowMetrics, s string) error {
		if s == "" {
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*field(m) = f
		return nil
	}
}

// CoachHeader returns the column order of the Coaches sheet.
func CoachHeader() []string {
	h := []string{ColCoachID, ColCoachName}
	for _, w := range model.Windows {
		for _, c := range windowColumns {
			h = append(h, c.prefix+"_"+string(w))
		}
	}
	return append(h, "eligibility", "p50_smoothed_1m")
}

// WriteEligibility writes the scored table, the (pipeline, class) summary
// and, when owners is non-empty, the owner directory.
func WriteEligibility(path string, rows []model.EligibilityResult, summary []classify.SummaryRow, owners map[string]string) error {
	coaches := workbook.Sheet{Name: SheetCoaches, Header: CoachHeader()}
	for _, r := range rows {
		name := r.CoachName
		if name == "" {
			name = model.UnknownCoach
		}
		values := []any{r.CoachID, name}
		for _, w := range model.Windows {
			m := r.Window(w)
			for _, c := range windowColumns {
				values = append(values, c.get(m))
			}
		}
		values = append(values, string(r.Eligibility), r.P50Smoothed1M)
		coaches.Rows = append(coaches.Rows, values)
	}

	sum := workbook.Sheet{Name: SheetSummary, Header: []string{"pipeline", "class", "count"}}
	for _, s := range summary {
		sum.Rows = append(sum.Rows, []any{s.PipelineID, string(s.Class), s.Count})
	}

	sheets := []workbook.Sheet{coaches, sum}
	if len(owners) > 0 {
		ids := make([]string, 0, len(owners))
		for id := range owners {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		own := workbook.Sheet{Name: SheetOwners, Header: []string{ColCoachID, ColCoachName}}
		for _, id := range ids {
			own.Rows = append(own.Rows, []any{id, owners[id]})
		}
		sheets = append(sheets, own)
	}

	return workbook.Write(path, sheets)
}

// ReadEligibility reads the Coaches sheet back into scored rows, in file order.
func ReadEligibility(path string) ([]model.EligibilityResult, error) {
	_, recs, err := workbook.ReadRecords(path, SheetCoaches)
	if err != nil {
		return nil, err
	}

	out := make([]model.EligibilityResult, 0, len(recs))
	for i, rec := range recs {
		r := model.EligibilityResult{
			CoachMetrics: model.CoachMetrics{
				CoachID:   rec.Get(ColCoachID),
				CoachName: rec.Get(ColCoachName),
				Windows:   make(map[model.Window]model.WindowMetrics, len(model.Windows)),
			},
			Eligibility: model.Eligibility(rec.Get("eligibility")),
		}
		for _, w := range model.Windows {
			var m model.WindowMetrics
			for _, c := range windowColumns {
				col := c.prefix + "_" + string(w)
				if err := c.set(&m, rec.Get(col)); err != nil {
					return nil, eris.Wrapf(err, "report: row %d column %s", i+2, col)
				}
			}
			r.Windows[w] = m
		}
		if p := rec.Get("p50_smoothed_1m"); p != "" {
			f, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return nil, eris.Wrapf(err, "report: row %d column p50_smoothed_1m", i+2)
			}
			r.P50Smoothed1M = f
		}
		out = append(out, r)
	}
	return out, nil
}

// ReadOwners reads the Owners sheet of an eligibility workbook. A workbook
// without the sheet yields an empty map.
func ReadOwners(path string) (map[string]string, error) {
	names, err := workbook.SheetNames(path)
	if err != nil {
		return nil, err
	}
	owners := make(map[string]string)
	if !slices.Contains(names, SheetOwners) {
		return owners, nil
	}
	_, recs, err := workbook.ReadRecords(path, SheetOwners)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if id := rec.Get(ColCoachID); id != "" {
			owners[id] = rec.Get(ColCoachName)
		}
	}
	return owners, nil
}
