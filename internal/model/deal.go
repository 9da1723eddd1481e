// Package model defines the value types shared by the scoring engine and its
// collaborators (CRM fetch, persistence, reporting, export).
package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// UnknownCoach is the coach id assigned to deals without an owner.
const UnknownCoach = "UNKNOWN"

// DealClass is the outcome class a deal resolves to after stage classification.
type DealClass string

const (
	ClassWon             DealClass = "WON"
	ClassLost            DealClass = "LOST"
	ClassOpen            DealClass = "OPEN"
	ClassNabellerHandoff DealClass = "NABELLER_HANDOFF"
)

// DealClasses lists every valid class in display order.
var DealClasses = []DealClass{ClassWon, ClassLost, ClassOpen, ClassNabellerHandoff}

// Valid reports whether c is one of the four deal classes.
func (c DealClass) Valid() bool {
	switch c {
	case ClassWon, ClassLost, ClassOpen, ClassNabellerHandoff:
		return true
	}
	return false
}

// ParseDealClass normalizes s (trim, upper-case) and validates it.
func ParseDealClass(s string) (DealClass, error) {
	c := DealClass(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", eris.Errorf("model: unknown deal class %q", s)
	}
	return c, nil
}

// Deal is a single CRM deal record. Class is empty until the stage
// classifier has run.
type Deal struct {
	ID           string    `json:"deal_id"`
	CoachID      string    `json:"coach_id"`
	PipelineID   string    `json:"pipeline_id"`
	StageID      string    `json:"stage_id"`
	CreatedAt    time.Time `json:"created_at"`
	IsClosedWon  bool      `json:"is_closed_won"`
	IsClosedLost bool      `json:"is_closed_lost"`
	Class        DealClass `json:"class,omitempty"`
}

// StageRow is one entry of the CRM pipeline/stage enumeration. IsClosed and
// Probability are nil when the stage metadata could not be parsed.
type StageRow struct {
	PipelineID    string   `json:"pipeline_id"`
	PipelineLabel string   `json:"pipeline_label"`
	StageID       string   `json:"stage_id"`
	StageLabel    string   `json:"stage_label"`
	DisplayOrder  int      `json:"display_order"`
	Metadata      string   `json:"metadata"`
	IsClosed      *bool    `json:"is_closed"`
	Probability   *float64 `json:"probability"`
}

// MappingRow is one row of the operator-editable stage mapping table.
type MappingRow struct {
	PipelineID  string    `json:"pipeline_id"`
	StageID     string    `json:"stage_id"`
	StageLabel  string    `json:"stage_label"`
	IsClosed    *bool     `json:"is_closed"`
	Probability *float64  `json:"probability"`
	Class       DealClass `json:"class"`
}
