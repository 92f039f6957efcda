package candles

import (
	"slices"

	"github.com/oszuidwest/zwfm-candles/internal/types"
)

// Score counts blows per actor for room. Events must be in arrival order;
// actors with equal counts keep the order in which they first blew.
// Events from other rooms are ignored.
func Score(events []types.BlowEvent, room string) []types.ScoreEntry {
	index := make(map[string]int)
	var scores []types.ScoreEntry
	for i := range events {
		if events[i].Room != room {
			continue
		}
		name := events[i].ActorName
		if j, ok := index[name]; ok {
			scores[j].Count++
			continue
		}
		index[name] = len(scores)
		scores = append(scores, types.ScoreEntry{ActorName: name, Count: 1})
	}

	slices.SortStableFunc(scores, func(a, b types.ScoreEntry) int {
		return b.Count - a.Count
	})
	if scores == nil {
		scores = []types.ScoreEntry{}
	}
	return scores
}

// ArrivalOrder returns events sorted oldest first, as needed by Score, from a
// newest-first listing.
func ArrivalOrder(newestFirst []types.BlowEvent) []types.BlowEvent {
	out := slices.Clone(newestFirst)
	slices.Reverse(out)
	return out
}
