package policy

import (
	"fmt"

	"github.com/eliteGoblin/focusd/govd/internal/domain"
)

// SacrificeList is the static, ranked list of families that may be
// terminated under critical memory pressure. Lowest cost first.
type SacrificeList struct {
	entries []domain.SacrificeEntry
}

// NewSacrificeList ranks entries in the given order, starting at 1.
func NewSacrificeList(entries ...domain.SacrificeEntry) (*SacrificeList, error) {
	seen := make(map[string]bool, len(entries))
	ranked := make([]domain.SacrificeEntry, len(entries))
	for i, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("sacrifice entry %d: name must not be empty", i+1)
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("duplicate sacrifice entry %q", e.Name)
		}
		seen[e.Name] = true
		e.Rank = i + 1
		ranked[i] = e
	}
	return &SacrificeList{entries: ranked}, nil
}

// Entries returns the entries in rank order.
func (l *SacrificeList) Entries() []domain.SacrificeEntry {
	out := make([]domain.SacrificeEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of ranked families.
func (l *SacrificeList) Len() int {
	return len(l.entries)
}

// Classify implements domain.Classifier. The lowest rank wins.
func (l *SacrificeList) Classify(p domain.ProcessInfo) (string, bool) {
	for _, e := range l.entries {
		if e.Match.Matches(p) {
			return e.Name, true
		}
	}
	return "", false
}

var _ domain.Classifier = (*SacrificeList)(nil)
