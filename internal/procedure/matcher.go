// Package procedure holds the read-only response procedure (SOP) table and
// the matcher that selects the highest-priority active entry for a
// classified incident type.
package procedure

import (
	"sort"

	"github.com/apexsec/voice-dispatch/internal/domain"
)

// Library is the immutable procedure lookup table. Concurrent calls read it
// without coordination; the orchestrator never mutates it after construction.
type Library struct {
	byType map[string][]domain.Procedure
}

// NewLibrary builds the lookup table. Inactive procedures are kept out of
// the index entirely. Entries for the same incident type are ordered by
// descending priority, so the head of each bucket is the match.
func NewLibrary(procedures []domain.Procedure) *Library {
	byType := make(map[string][]domain.Procedure)
	for _, p := range procedures {
		if !p.Active {
			continue
		}
		byType[p.IncidentType] = append(byType[p.IncidentType], p)
	}
	for _, bucket := range byType {
		sort.SliceStable(bucket, func(i, j int) bool {
			return bucket[i].Priority > bucket[j].Priority
		})
	}
	return &Library{byType: byType}
}

// Match returns the highest-priority active procedure for the incident type,
// or nil when no procedure applies. A nil result is expected, not an error;
// the composer falls back to generic prompts.
func (l *Library) Match(incidentType string) *domain.Procedure {
	if incidentType == "" {
		return nil
	}
	bucket := l.byType[incidentType]
	if len(bucket) == 0 {
		return nil
	}
	p := bucket[0]
	return &p
}

// Get looks a procedure up by ID across the whole table.
func (l *Library) Get(id string) *domain.Procedure {
	for _, bucket := range l.byType {
		for _, p := range bucket {
			if p.ID == id {
				cp := p
				return &cp
			}
		}
	}
	return nil
}

// Len reports the number of active procedures in the table.
func (l *Library) Len() int {
	n := 0
	for _, bucket := range l.byType {
		n += len(bucket)
	}
	return n
}
