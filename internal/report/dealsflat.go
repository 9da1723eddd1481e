package report

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/coach-cli/internal/ingest"
	"github.com/sells-group/coach-cli/internal/model"
)

var dealsFlatHeader = []string{"deal_id", ColCoachID, ColCoachName, "created_dt", "pipeline", "class"}

// WriteDealsFlat writes one row per classified deal for the week monitor.
// Coach names come from owners; missing owners read UNKNOWN.
func WriteDealsFlat(path string, deals []model.Deal, owners map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "report: create dir for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "report: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	if err := EncodeDealsFlat(f, deals, owners); err != nil {
		return err
	}
	return eris.Wrapf(f.Close(), "report: close %s", path)
}

// EncodeDealsFlat writes the deals CSV to w.
func EncodeDealsFlat(w io.Writer, deals []model.Deal, owners map[string]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(dealsFlatHeader); err != nil {
		return eris.Wrap(err, "report: write csv header")
	}
	for _, d := range deals {
		name, ok := owners[d.CoachID]
		if !ok || name == "" {
			name = model.UnknownCoach
		}
		created := ""
		if !d.CreatedAt.IsZero() {
			created = d.CreatedAt.UTC().Format(time.RFC3339)
		}
		if err := cw.Write([]string{d.ID, d.CoachID, name, created, d.PipelineID, string(d.Class)}); err != nil {
			return eris.Wrapf(err, "report: write deal %s", d.ID)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "report: flush csv")
}

// ReadDealsFlat reads a deals CSV back into classified deals and the coach
// name lookup embedded in it. Rows without a parseable created_dt are dropped.
func ReadDealsFlat(path string) ([]model.Deal, map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "report: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, eris.Wrapf(err, "report: parse %s", path)
	}
	if len(records) == 0 {
		return nil, map[string]string{}, nil
	}

	idx := make(map[string]int, len(records[0]))
	for i, h := range records[0] {
		idx[h] = i
	}
	for _, col := range dealsFlatHeader {
		if _, ok := idx[col]; !ok {
			return nil, nil, eris.Errorf("report: %s missing column %q", path, col)
		}
	}
	get := func(rec []string, col string) string {
		if i := idx[col]; i < len(rec) {
			return rec[i]
		}
		return ""
	}

	var deals []model.Deal
	names := make(map[string]string)
	for _, rec := range records[1:] {
		created, ok := ingest.ParseTime(get(rec, "created_dt"))
		if !ok {
			continue
		}
		coach := get(rec, ColCoachID)
		if coach == "" {
			coach = model.UnknownCoach
		}
		if n := get(rec, ColCoachName); n != "" {
			names[coach] = n
		}
		deals = append(deals, model.Deal{
			ID:         get(rec, "deal_id"),
			CoachID:    coach,
			PipelineID: get(rec, "pipeline"),
			CreatedAt:  created,
			Class:      model.DealClass(get(rec, "class")),
		})
	}
	return deals, names, nil
}
