// Package dedupe finds near-duplicate plugin-owned remote events — ones
// whose obsidianTaskId differs but whose summary/start look like the same
// conceptual item, typically left behind by a changed ID-derivation basis.
// Scoring follows the teacher pack's JonyBepary monitor skill: a pair's
// score is the highest of JaroWinkler, normalized Levenshtein, and Jaccard
// similarity via go-edlib.
package dedupe

import (
	"sort"

	"github.com/hbollon/go-edlib"

	"github.com/obsidian-gcal/syncengine/internal/model"
)

// Pair is one candidate near-duplicate grouping.
type Pair struct {
	A, B  model.RemoteEvent
	Score float32 // 0-100
}

// Find returns candidate near-duplicate pairs among events whose
// similarity score is >= threshold (0-100), ordered by descending score.
// Only plugin-owned events should be passed in.
func Find(events []model.RemoteEvent, threshold float32) []Pair {
	var pairs []Pair
	for i := 0; i < len(events); i++ {
		for j := i + 1; j < len(events); j++ {
			a, b := events[i], events[j]
			if a.TaskID() == b.TaskID() {
				continue
			}
			score := similarity(a, b)
			if score >= threshold {
				pairs = append(pairs, Pair{A: a, B: b, Score: score})
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Score > pairs[j].Score })
	return pairs
}

func similarity(a, b model.RemoteEvent) float32 {
	s1, s2 := a.Summary, b.Summary
	if s1 == "" || s2 == "" {
		return 0
	}

	if s1 == s2 && sameDay(a, b) {
		return 100
	}

	jaroWinkler, _ := edlib.StringsSimilarity(s1, s2, edlib.JaroWinkler)
	levenshteinNorm := float32(1.0)
	if max := maxLen(s1, s2); max > 0 {
		levenshteinNorm = 1.0 - float32(edlib.LevenshteinDistance(s1, s2))/float32(max)
	}
	jaccard := edlib.JaccardSimilarity(s1, s2, 2)

	best := jaroWinkler
	if levenshteinNorm > best {
		best = levenshteinNorm
	}
	if jaccard > best {
		best = jaccard
	}

	score := best * 100
	if sameDay(a, b) {
		score += 5
	}
	if score > 100 {
		score = 100
	}
	return score
}

func sameDay(a, b model.RemoteEvent) bool {
	da := a.Start.Date
	if da == "" && len(a.Start.DateTime) >= 10 {
		da = a.Start.DateTime[:10]
	}
	db := b.Start.Date
	if db == "" && len(b.Start.DateTime) >= 10 {
		db = b.Start.DateTime[:10]
	}
	return da != "" && da == db
}

func maxLen(a, b string) int {
	if len(a) > len(b) {
		return len(a)
	}
	return len(b)
}
