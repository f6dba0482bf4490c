// Package roster resolves spoken employee names against the roster.
package roster

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/mmdatafocus/fieldreport_backend/models"
)

// DefaultThreshold is the minimum similarity accepted as a match. A wrong match
// corrupts payroll data while a miss only keeps the spoken spelling, so it is
// kept high and applied to every name alike.
const DefaultThreshold = 0.6

type Result struct {
	// Name is the roster spelling when Matched, otherwise the spoken name unchanged.
	Name       string
	EmployeeId string
	Matched    bool
	Score      float64
}

// Normalize lower-cases s and collapses runs of whitespace.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Similarity is 1 - levenshtein(a, b) / max(len(a), len(b)) over normalized
// names, in [0, 1].
func Similarity(a, b string) float64 {
	a, b = Normalize(a), Normalize(b)
	if a == b {
		return 1
	}
	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(maxLen)
}

// Resolve matches spoken against entries. An exact normalized match on any
// entry wins outright; otherwise the most similar active entry is accepted when
// its score reaches threshold. Ties keep the earlier roster entry.
func Resolve(spoken string, entries []models.RosterEntry, threshold float64) Result {
	miss := Result{Name: spoken}
	key := Normalize(spoken)
	if key == "" {
		return miss
	}

	exact := -1
	for i, e := range entries {
		if Normalize(e.Name) != key {
			continue
		}
		if exact == -1 || (e.Active && !entries[exact].Active) {
			exact = i
		}
	}
	if exact >= 0 {
		return Result{Name: entries[exact].Name, EmployeeId: entries[exact].ID, Matched: true, Score: 1}
	}

	best, bestScore := -1, 0.0
	for i, e := range entries {
		if !e.Active {
			continue
		}
		score := Similarity(key, e.Name)
		if best == -1 || score > bestScore {
			best, bestScore = i, score
		}
	}
	if best == -1 {
		return miss
	}
	miss.Score = bestScore
	if bestScore < threshold {
		return miss
	}
	return Result{Name: entries[best].Name, EmployeeId: entries[best].ID, Matched: true, Score: bestScore}
}
