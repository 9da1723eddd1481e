package export

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// AvailabilityHeader is the column layout of the availability tab.
var AvailabilityHeader = []string{"coach_id", "Coachnaam", "na_leads_aan", "afwezig_van", "afwezig_tot", "notitie", "laatst_gewijzigd"}

// Status is a coach's lead availability on a given day.
type Status string

const (
	StatusAvailable Status = "available"
	StatusLeadsOff  Status = "leads_off"
	StatusAbsent    Status = "absent"
)

// Availability is one row of the availability tab. AbsentFrom and AbsentTo
// are zero when unset.
type Availability struct {
	CoachID    string    `json:"coach_id"`
	CoachName  string    `json:"coach_name"`
	LeadsOn    bool      `json:"leads_on"`
	AbsentFrom time.Time `json:"absent_from,omitzero"`
	AbsentTo   time.Time `json:"absent_to,omitzero"`
	Note       string    `json:"note,omitempty"`
	UpdatedAt  string    `json:"updated_at,omitempty"`
}

// Status evaluates the row on today's calendar date. An absence needs both
// bounds and includes them.
func (a Availability) Status(today time.Time) Status {
	if !a.LeadsOn {
		return StatusLeadsOff
	}
	if a.AbsentFrom.IsZero() || a.AbsentTo.IsZero() {
		return StatusAvailable
	}
	d := dateOf(today)
	if !d.Before(a.AbsentFrom) && !d.After(a.AbsentTo) {
		return StatusAbsent
	}
	return StatusAvailable
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseAvailability reads sheet values whose first row is the header. Rows
// without a coach id are ignored. Unparseable dates are reported with the
// sheet row number and leave that bound unset; the rest of the row still
// applies.
func ParseAvailability(values [][]string) ([]Availability, error) {
	if len(values) == 0 {
		return nil, nil
	}
	idx := make(map[string]int, len(values[0]))
	for i, h := range values[0] {
		idx[strings.TrimSpace(h)] = i
	}
	if _, ok := idx["coach_id"]; !ok {
		return nil, eris.New("export: availability sheet has no coach_id column")
	}
	get := func(row []string, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var out []Availability
	for n, row := range values[1:] {
		id := get(row, "coach_id")
		if id == "" {
			continue
		}
		a := Availability{
			CoachID:   id,
			CoachName: get(row, "Coachnaam"),
			LeadsOn:   parseLeadsOn(get(row, "na_leads_aan")),
			Note:      get(row, "notitie"),
			UpdatedAt: get(row, "laatst_gewijzigd"),
		}
		a.AbsentFrom = rowDate(get(row, "afwezig_van"), n+2, "afwezig_van", id)
		a.AbsentTo = rowDate(get(row, "afwezig_tot"), n+2, "afwezig_tot", id)
		out = append(out, a)
	}
	return out, nil
}

func rowDate(s string, row int, col, coachID string) time.Time {
	t, err := parseDate(s)
	if err != nil {
		zap.L().Warn("export: ignoring availability date",
			zap.Int("row", row),
			zap.String("column", col),
			zap.String("coach_id", coachID),
			zap.Error(err),
		)
	}
	return t
}

// Index maps coach id to its availability row. Later rows win.
func Index(rows []Availability) map[string]Availability {
	m := make(map[string]Availability, len(rows))
	for _, r := range rows {
		m[r.CoachID] = r
	}
	return m
}

// parseLeadsOn treats an empty cell as on.
func parseLeadsOn(s string) bool {
	switch strings.ToLower(s) {
	case "false", "0", "nee", "no", "n", "uit", "off":
		return false
	}
	return true
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	// Sheets may render dates with a time part.
	if len(s) > 10 {
		s = s[:10]
	}
	for _, layout := range []string{"2006-01-02", "02-01-2006", "02/01/2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, eris.Errorf("unrecognised date %q", s)
}
