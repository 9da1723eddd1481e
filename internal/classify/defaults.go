package classify

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/sells-group/coach-cli/internal/model"
)

// ParseStageMeta extracts isClosed and probability from a raw stage
// metadata document. A missing isClosed reads as false and a missing
// probability as nil. Both are nil when the document cannot be parsed.
func ParseStageMeta(raw string) (*bool, *float64) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, nil
	}

	closed := strings.EqualFold(stringify(meta["isClosed"]), "true")

	var prob *float64
	if v, ok := meta["probability"]; ok && v != nil && strings.TrimSpace(stringify(v)) != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(stringify(v)), 64)
		if err != nil {
			return nil, nil
		}
		prob = &f
	}
	return &closed, prob
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

// DefaultClass derives the seed class of a stage from its metadata.
func DefaultClass(s model.StageRow, rules Rules) model.DealClass {
	closed := s.IsClosed != nil && *s.IsClosed
	probIs := func(want float64) bool {
		return s.Probability != nil && *s.Probability == want
	}

	if s.PipelineID == rules.NabellerPipelineID {
		switch {
		case closed && probIs(1.0):
			return model.ClassNabellerHandoff
		case closed && probIs(0.0):
			return model.ClassLost
		default:
			return model.ClassOpen
		}
	}

	switch {
	case rules.PausedStageID != "" && s.StageID == rules.PausedStageID:
		return model.ClassLost
	case closed && probIs(1.0):
		return model.ClassWon
	case closed && probIs(0.0):
		return model.ClassLost
	default:
		return model.ClassOpen
	}
}

// DefaultMapping seeds the editable mapping table from the CRM stage
// enumeration. Rows are sorted by pipeline, then probability descending
// (unknown last), then stage.
func DefaultMapping(stages []model.StageRow, rules Rules) []model.MappingRow {
	rows := make([]model.MappingRow, 0, len(stages))
	for _, s := range stages {
		rows = append(rows, model.MappingRow{
			PipelineID:  s.PipelineID,
			StageID:     s.StageID,
			StageLabel:  s.StageLabel,
			IsClosed:    s.IsClosed,
			Probability: s.Probability,
			Class:       DefaultClass(s, rules),
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.PipelineID != b.PipelineID {
			return a.PipelineID < b.PipelineID
		}
		switch {
		case a.Probability != nil && b.Probability == nil:
			return true
		case a.Probability == nil && b.Probability != nil:
			return false
		case a.Probability != nil && b.Probability != nil && *a.Probability != *b.Probability:
			return *a.Probability > *b.Probability
		}
		return a.StageID < b.StageID
	})
	return rows
}

// SummaryRow counts deals per pipeline and class.
type SummaryRow struct {
	PipelineID string          `json:"pipeline_id"`
	Class      model.DealClass `json:"class"`
	Count      int             `json:"count"`
}

// Summarize counts classified deals by (pipeline, class), sorted by
// pipeline then class.
func Summarize(deals []model.Deal) []SummaryRow {
	type k struct {
		p string
		c model.DealClass
	}
	counts := make(map[k]int)
	for _, d := range deals {
		counts[k{d.PipelineID, d.Class}]++
	}
	out := make([]SummaryRow, 0, len(counts))
	for key, n := range counts {
		out = append(out, SummaryRow{PipelineID: key.p, Class: key.c, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PipelineID != out[j].PipelineID {
			return out[i].PipelineID < out[j].PipelineID
		}
		return out[i].Class < out[j].Class
	})
	return out
}
