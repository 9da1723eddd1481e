// Package exclusion filters house accounts and placeholder owners out of the
// coach table before it reaches the dashboard or the lead pool.
package exclusion

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/coach-cli/internal/model"
)

// List names the coaches to leave out. Patterns match as case-insensitive
// substrings of the coach name; Names match the whole name, also without
// regard to case; CoachIDs match the owner id exactly.
type List struct {
	Patterns []string `yaml:"patterns" json:"patterns"`
	Names    []string `yaml:"names" json:"names"`
	CoachIDs []string `yaml:"coach_ids" json:"coach_ids"`
}

// Default returns the built-in exclusion list.
func Default() List {
	return List{
		Patterns: []string{"nabeller"},
		Names: []string{
			"Rookvrij en Fitter Het Gooi",
			"167331984",
			model.UnknownCoach,
			"benVitaal Coaching",
			"SportQube Algemeen",
		},
	}
}

// Load reads a yaml exclusion list. An empty path or a missing file yields
// Default(). Keys absent from the file keep their default values.
func Load(path string) (List, error) {
	l := Default()
	if path == "" {
		return l, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return List{}, eris.Wrapf(err, "exclusion: read %s", path)
	}
	if err := yaml.Unmarshal(data, &l); err != nil {
		return List{}, eris.Wrapf(err, "exclusion: parse %s", path)
	}
	return l, nil
}

// Merge returns l extended with the entries of other.
func (l List) Merge(other List) List {
	return List{
		Patterns: append(append([]string{}, l.Patterns...), other.Patterns...),
		Names:    append(append([]string{}, l.Names...), other.Names...),
		CoachIDs: append(append([]string{}, l.CoachIDs...), other.CoachIDs...),
	}
}

// Matcher is a compiled List. It is safe for concurrent use.
type Matcher struct {
	patterns []string
	names    map[string]struct{}
	ids      map[string]struct{}
}

// Compile folds the list once for repeated matching.
func (l List) Compile() *Matcher {
	fold := cases.Fold()
	m := &Matcher{
		names: make(map[string]struct{}, len(l.Names)),
		ids:   make(map[string]struct{}, len(l.CoachIDs)),
	}
	for _, p := range l.Patterns {
		if p = strings.TrimSpace(p); p != "" {
			m.patterns = append(m.patterns, fold.String(p))
		}
	}
	for _, n := range l.Names {
		if n = strings.TrimSpace(n); n != "" {
			m.names[fold.String(n)] = struct{}{}
		}
	}
	for _, id := range l.CoachIDs {
		if id = strings.TrimSpace(id); id != "" {
			m.ids[id] = struct{}{}
		}
	}
	return m
}

// Excluded reports whether the coach with the given id and name is excluded.
func (m *Matcher) Excluded(coachID, name string) bool {
	if m == nil {
		return false
	}
	if _, ok := m.ids[strings.TrimSpace(coachID)]; ok {
		return true
	}
	// cases.Caser is stateful; a fresh one per call keeps Matcher shareable.
	folded := cases.Fold().String(strings.TrimSpace(name))
	if _, ok := m.names[folded]; ok {
		return true
	}
	for _, p := range m.patterns {
		if strings.Contains(folded, p) {
			return true
		}
	}
	return false
}

// Filter returns the rows whose coach is not excluded, preserving order.
func (m *Matcher) Filter(rows []model.EligibilityResult) []model.EligibilityResult {
	out := make([]model.EligibilityResult, 0, len(rows))
	for _, r := range rows {
		if !m.Excluded(r.CoachID, r.CoachName) {
			out = append(out, r)
		}
	}
	return out
}

// FilterMetrics is Filter for unscored metric rows.
func (m *Matcher) FilterMetrics(rows []model.CoachMetrics) []model.CoachMetrics {
	out := make([]model.CoachMetrics, 0, len(rows))
	for _, r := range rows {
		if !m.Excluded(r.CoachID, r.CoachName) {
			out = append(out, r)
		}
	}
	return out
}
