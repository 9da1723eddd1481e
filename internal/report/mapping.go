package report

import (
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coach-cli/internal/classify"
	"github.com/sells-group/coach-cli/internal/model"
	"github.com/sells-group/coach-cli/internal/workbook"
)

// SheetMapping is the only sheet of the mapping workbook.
const SheetMapping = "stage_mapping"

var mappingHeader = []string{"pipeline_id", "dealstage_id", "stage_label", "is_closed", "probability", "class"}

// WriteMapping writes the editable stage mapping table.
func WriteMapping(path string, rows []model.MappingRow) error {
	sheet := workbook.Sheet{Name: SheetMapping, Header: mappingHeader}
	for _, r := range rows {
		var closed, prob any
		if r.IsClosed != nil {
			closed = *r.IsClosed
		}
		if r.Probability != nil {
			prob = *r.Probability
		}
		sheet.Rows = append(sheet.Rows, []any{r.PipelineID, r.StageID, r.StageLabel, closed, prob, string(r.Class)})
	}
	return workbook.Write(path, []workbook.Sheet{sheet})
}

// ReadMapping reads the raw mapping rows. Class values are validated by
// classify.NewMapping, not here, so operator typos surface with a row number.
func ReadMapping(path string) ([]classify.Entry, error) {
	_, recs, err := workbook.ReadRecords(path, SheetMapping)
	if err != nil {
		return nil, err
	}
	entries := make([]classify.Entry, 0, len(recs))
	for _, rec := range recs {
		entries = append(entries, classify.Entry{
			PipelineID: rec.Get("pipeline_id"),
			StageID:    rec.Get("dealstage_id"),
			Class:      rec.Get("class"),
		})
	}
	return entries, nil
}

// ReadMappingRows reads the mapping table including labels and metadata,
// for display.
func ReadMappingRows(path string) ([]model.MappingRow, error) {
	_, recs, err := workbook.ReadRecords(path, SheetMapping)
	if err != nil {
		return nil, err
	}
	rows := make([]model.MappingRow, 0, len(recs))
	for _, rec := range recs {
		r := model.MappingRow{
			PipelineID: rec.Get("pipeline_id"),
			StageID:    rec.Get("dealstage_id"),
			StageLabel: rec.Get("stage_label"),
			Class:      model.DealClass(rec.Get("class")),
		}
		if v := rec.Get("is_closed"); v != "" {
			b, err := strconv.ParseBool(v)
			if err == nil {
				r.IsClosed = &b
			}
		}
		if v := rec.Get("probability"); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err == nil {
				r.Probability = &f
			}
		}
		rows = append(rows, r)
	}
	return rows, nil
}

// EnsureMapping loads the mapping workbook at path, seeding it from stages
// when it does not exist yet. created reports whether the file was written.
func EnsureMapping(path string, stages []model.StageRow, rules classify.Rules) (m *classify.Mapping, created bool, err error) {
	if _, statErr := os.Stat(path); errors.Is(statErr, fs.ErrNotExist) {
		if len(stages) == 0 {
			return nil, false, eris.Errorf("report: no stages to seed %s", path)
		}
		if err := WriteMapping(path, classify.DefaultMapping(stages, rules)); err != nil {
			return nil, false, err
		}
		zap.L().Info("created default stage mapping", zap.String("path", path), zap.Int("stages", len(stages)))
		created = true
	} else if statErr != nil {
		return nil, false, eris.Wrapf(statErr, "report: stat %s", path)
	}

	entries, err := ReadMapping(path)
	if err != nil {
		return nil, created, err
	}
	m, err = classify.NewMapping(entries)
	if err != nil {
		return nil, created, eris.Wrapf(err, "report: load %s", path)
	}
	return m, created, nil
}
