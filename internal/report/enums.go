package report

import (
	"strconv"

	"github.com/sells-group/coach-cli/internal/classify"
	"github.com/sells-group/coach-cli/internal/ingest"
	"github.com/sells-group/coach-cli/internal/model"
	"github.com/sells-group/coach-cli/internal/workbook"
	"github.com/sells-group/coach-cli/pkg/hubspot"
)

// Sheet names of the enumeration workbook.
const (
	SheetPipelines = "Pipelines"
	SheetStages    = "Stages"
	SheetObserved  = "ObservedValues"
)

// WriteEnums writes the pipeline and stage enumeration of a run together
// with the observed deal property values.
func WriteEnums(path string, pipelines []hubspot.Pipeline, observed []ingest.ObservedValue) error {
	ps := workbook.Sheet{
		Name:   SheetPipelines,
		Header: []string{"pipeline_id", "pipeline_label", "display_order", "archived", "created_at", "updated_at"},
	}
	ss := workbook.Sheet{
		Name:   SheetStages,
		Header: []string{"pipeline_id", "dealstage_id", "stage_label", "display_order", "metadata", "archived", "created_at", "updated_at"},
	}
	for _, p := range pipelines {
		ps.Rows = append(ps.Rows, []any{p.ID, p.Label, p.DisplayOrder, p.Archived, p.CreatedAt, p.UpdatedAt})
		for _, s := range p.Stages {
			meta := string(s.Metadata)
			if meta == "" {
				meta = "{}"
			}
			ss.Rows = append(ss.Rows, []any{p.ID, s.ID, s.Label, s.DisplayOrder, meta, s.Archived, s.CreatedAt, s.UpdatedAt})
		}
	}

	obs := workbook.Sheet{Name: SheetObserved, Header: []string{"property", "value", "count"}}
	for _, o := range observed {
		obs.Rows = append(obs.Rows, []any{o.Property, o.Value, o.Count})
	}

	return workbook.Write(path, []workbook.Sheet{ps, ss, obs})
}

// ReadStages reads the Stages sheet and parses each stage's metadata.
func ReadStages(path string) ([]model.StageRow, error) {
	_, recs, err := workbook.ReadRecords(path, SheetStages)
	if err != nil {
		return nil, err
	}
	rows := make([]model.StageRow, 0, len(recs))
	for _, rec := range recs {
		meta := rec.Get("metadata")
		closed, prob := classify.ParseStageMeta(meta)
		order, _ := strconv.Atoi(rec.Get("display_order"))
		rows = append(rows, model.StageRow{
			PipelineID:   rec.Get("pipeline_id"),
			StageID:      rec.Get("dealstage_id"),
			StageLabel:   rec.Get("stage_label"),
			DisplayOrder: order,
			Metadata:     meta,
			IsClosed:     closed,
			Probability:  prob,
		})
	}
	return rows, nil
}
