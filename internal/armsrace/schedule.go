// Package armsrace models the repeating 24-hour event cycle and which
// administrative titles are worth holding during each phase.
package armsrace

import (
	"fmt"
	"time"
)

// Schedule is an immutable lookup table built from configuration: the ordered
// phase names dividing the day into equal slots, and the phases each title's
// bonus applies to.
type Schedule struct {
	phases      []string
	slot        time.Duration
	titlePhases map[string][]string
}

// New validates the phase cycle and title mapping. The phases split the day
// evenly, so 24h must divide cleanly by their count.
func New(phases []string, titlePhases map[string][]string) (*Schedule, error) {
	if len(phases) == 0 {
		return nil, fmt.Errorf("armsrace: no phases configured")
	}
	if (24*60)%len(phases) != 0 {
		return nil, fmt.Errorf("armsrace: %d phases do not divide 24 hours evenly", len(phases))
	}
	known := make(map[string]bool, len(phases))
	for _, p := range phases {
		known[p] = true
	}
	for title, phs := range titlePhases {
		for _, p := range phs {
			if !known[p] {
				return nil, fmt.Errorf("armsrace: title %q maps to unknown phase %q", title, p)
			}
		}
	}
	return &Schedule{
		phases:      phases,
		slot:        24 * time.Hour / time.Duration(len(phases)),
		titlePhases: titlePhases,
	}, nil
}

// PhaseAt returns the phase active at t.
func (s *Schedule) PhaseAt(t time.Time) string {
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	idx := int(t.Sub(midnight)/s.slot) % len(s.phases)
	return s.phases[idx]
}

// Valuable reports whether the title's bonus applies to the phase active
// at t.
func (s *Schedule) Valuable(title string, t time.Time) bool {
	current := s.PhaseAt(t)
	for _, p := range s.titlePhases[title] {
		if p == current {
			return true
		}
	}
	return false
}

// RankTitles orders candidates with phase-aligned titles first, preserving
// the given order otherwise. Callers fall back to the first candidate when
// nothing is aligned.
func (s *Schedule) RankTitles(candidates []string, t time.Time) []string {
	ranked := make([]string, 0, len(candidates))
	var rest []string
	for _, c := range candidates {
		if s.Valuable(c, t) {
			ranked = append(ranked, c)
		} else {
			rest = append(rest, c)
		}
	}
	return append(ranked, rest...)
}
