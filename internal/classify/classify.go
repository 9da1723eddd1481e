// Package classify resolves CRM (pipeline, stage) pairs to deal outcome
// classes using an operator-editable mapping with a rule-based fallback.
package classify

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/coach-cli/internal/model"
)

// Rules holds the CRM identifiers that trigger special classification.
type Rules struct {
	// NabellerPipelineID is the callback pipeline. Won deals parked there
	// classify as NABELLER_HANDOFF instead of WON.
	NabellerPipelineID string
	// PausedStageID is the "temporarily stopped" stage, always LOST by fallback.
	PausedStageID string
	// PausedOverridesMapping forces the paused stage to LOST even when the
	// mapping has an explicit entry for it.
	PausedOverridesMapping bool
}

// DefaultRules returns the production pipeline and stage identifiers.
func DefaultRules() Rules {
	return Rules{
		NabellerPipelineID:     "38341389",
		PausedStageID:          "15413630",
		PausedOverridesMapping: true,
	}
}

// Entry is one raw mapping row as read from the mapping table.
type Entry struct {
	PipelineID string
	StageID    string
	Class      string
}

type key struct {
	pipeline string
	stage    string
}

// Mapping is an immutable (pipeline, stage) -> class lookup. Keys and
// classes are normalized once at construction.
type Mapping struct {
	entries map[key]model.DealClass
}

// NewMapping builds a Mapping from raw rows. Rows with a blank class are
// skipped; rows with an unknown class are rejected.
func NewMapping(rows []Entry) (*Mapping, error) {
	m := &Mapping{entries: make(map[key]model.DealClass, len(rows))}
	for i, r := range rows {
		if strings.TrimSpace(r.Class) == "" {
			continue
		}
		c, err := model.ParseDealClass(r.Class)
		if err != nil {
			return nil, eris.Wrapf(err, "classify: mapping row %d (%s/%s)", i+1, r.PipelineID, r.StageID)
		}
		m.entries[key{strings.TrimSpace(r.PipelineID), strings.TrimSpace(r.StageID)}] = c
	}
	return m, nil
}

// MappingFromRows builds a Mapping from mapping table rows.
func MappingFromRows(rows []model.MappingRow) (*Mapping, error) {
	entries := make([]Entry, len(rows))
	for i, r := range rows {
		entries[i] = Entry{PipelineID: r.PipelineID, StageID: r.StageID, Class: string(r.Class)}
	}
	return NewMapping(entries)
}

// Lookup returns the explicit class for (pipelineID, stageID).
func (m *Mapping) Lookup(pipelineID, stageID string) (model.DealClass, bool) {
	if m == nil {
		return "", false
	}
	c, ok := m.entries[key{pipelineID, stageID}]
	return c, ok
}

// Len returns the number of explicit entries.
func (m *Mapping) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Input is the subset of deal attributes the classifier reads. Stage
// metadata (closed, probability) reaches classification only through the
// mapping seeded by DefaultMapping.
type Input struct {
	PipelineID   string
	StageID      string
	IsClosedWon  bool
	IsClosedLost bool
}

// Classifier applies a Mapping and Rules to deals. It is safe for
// concurrent use.
type Classifier struct {
	mapping *Mapping
	rules   Rules
}

// New creates a Classifier. A nil mapping means fallback only.
func New(m *Mapping, rules Rules) *Classifier {
	return &Classifier{mapping: m, rules: rules}
}

// Classify returns exactly one of the four deal classes for in.
func (c *Classifier) Classify(in Input) model.DealClass {
	paused := c.rules.PausedStageID != "" && in.StageID == c.rules.PausedStageID
	if paused && c.rules.PausedOverridesMapping {
		return model.ClassLost
	}
	if cls, ok := c.mapping.Lookup(in.PipelineID, in.StageID); ok {
		return cls
	}
	return c.fallback(in, paused)
}

func (c *Classifier) fallback(in Input, paused bool) model.DealClass {
	switch {
	case paused:
		return model.ClassLost
	case in.PipelineID == c.rules.NabellerPipelineID && in.IsClosedWon:
		return model.ClassNabellerHandoff
	case in.IsClosedLost:
		return model.ClassLost
	case in.IsClosedWon:
		return model.ClassWon
	default:
		return model.ClassOpen
	}
}

// ClassifyDeals returns a copy of deals with Class set. The input slice is
// not modified.
func (c *Classifier) ClassifyDeals(deals []model.Deal) []model.Deal {
	out := make([]model.Deal, len(deals))
	for i, d := range deals {
		d.Class = c.Classify(Input{
			PipelineID:   d.PipelineID,
			StageID:      d.StageID,
			IsClosedWon:  d.IsClosedWon,
			IsClosedLost: d.IsClosedLost,
		})
		out[i] = d
	}
	return out
}
