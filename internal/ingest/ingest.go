// Package ingest converts raw CRM records into engine input.
package ingest

import (
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/coach-cli/internal/classify"
	"github.com/sells-group/coach-cli/internal/model"
	"github.com/sells-group/coach-cli/pkg/hubspot"
)

// ParseTime parses an ISO-8601 timestamp. Naive timestamps are taken as
// UTC. The result is always in UTC.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ParseBool accepts true, 1, yes and y in any case.
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "y":
		return true
	}
	return false
}

// Deals converts raw deal objects. Records without a parseable createdate
// are dropped and counted.
func Deals(objs []hubspot.Object) ([]model.Deal, int) {
	deals := make([]model.Deal, 0, len(objs))
	dropped := 0
	for _, o := range objs {
		p := o.Properties
		created, ok := ParseTime(p["createdate"])
		if !ok {
			dropped++
			zap.L().Debug("ingest: dropping deal without createdate", zap.String("deal_id", o.ID))
			continue
		}
		coach := strings.TrimSpace(p["hubspot_owner_id"])
		if coach == "" {
			coach = model.UnknownCoach
		}
		deals = append(deals, model.Deal{
			ID:           o.ID,
			CoachID:      coach,
			PipelineID:   strings.TrimSpace(p["pipeline"]),
			StageID:      strings.TrimSpace(p["dealstage"]),
			CreatedAt:    created,
			IsClosedWon:  ParseBool(p["hs_is_closed_won"]),
			IsClosedLost: ParseBool(p["hs_is_closed_lost"]),
		})
	}
	return deals, dropped
}

// Stages flattens pipelines into stage rows with parsed metadata.
func Stages(pipelines []hubspot.Pipeline) []model.StageRow {
	var rows []model.StageRow
	for _, p := range pipelines {
		for _, s := range p.Stages {
			closed, prob := classify.ParseStageMeta(string(s.Metadata))
			rows = append(rows, model.StageRow{
				PipelineID:    p.ID,
				PipelineLabel: p.Label,
				StageID:       s.ID,
				StageLabel:    s.Label,
				DisplayOrder:  s.DisplayOrder,
				Metadata:      string(s.Metadata),
				IsClosed:      closed,
				Probability:   prob,
			})
		}
	}
	return rows
}

// OwnerNames maps owner id to "first last", falling back to the id.
func OwnerNames(owners []hubspot.Owner) map[string]string {
	names := make(map[string]string, len(owners))
	for _, o := range owners {
		id := strings.TrimSpace(o.ID)
		if id == "" {
			continue
		}
		name := strings.TrimSpace(strings.TrimSpace(o.FirstName) + " " + strings.TrimSpace(o.LastName))
		if name == "" {
			name = id
		}
		names[id] = name
	}
	return names
}

// ObservedValue counts how often a deal property takes a value.
type ObservedValue struct {
	Property string
	Value    string
	Count    int
}

// ObservedProperties are the deal properties profiled by Observe.
var ObservedProperties = []string{"pipeline", "dealstage", "hubspot_owner_id", "hs_is_closed_won", "hs_is_closed_lost"}

// Observe profiles the values of ObservedProperties across deals, most
// frequent first within each property.
func Observe(objs []hubspot.Object) []ObservedValue {
	var out []ObservedValue
	for _, prop := range ObservedProperties {
		counts := make(map[string]int)
		for _, o := range objs {
			counts[o.Properties[prop]]++
		}
		start := len(out)
		for v, n := range counts {
			out = append(out, ObservedValue{Property: prop, Value: v, Count: n})
		}
		group := out[start:]
		sort.Slice(group, func(i, j int) bool {
			if group[i].Count != group[j].Count {
				return group[i].Count > group[j].Count
			}
			return group[i].Value < group[j].Value
		})
	}
	return out
}
