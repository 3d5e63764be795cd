package betting

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// SeasonStats is one watcher's betting record within a season.
type SeasonStats struct {
	Won   int
	Total int
}

// ToplistEntry is one row of the season leaderboard.
type ToplistEntry struct {
	Name  string
	Won   int
	Total int
}

// Accuracy returns the floored integer hit percentage; 0 when no bets were placed.
func (s SeasonStats) Accuracy() int {
	if s.Total == 0 {
		return 0
	}
	return s.Won * 100 / s.Total
}

// ReplacePlaceholders expands the recognized template tokens in a chat response.
// Every occurrence of a token is replaced; unknown tokens pass through unchanged.
func ReplacePlaceholders(message, displayName string, stats SeasonStats, toplist []ToplistEntry) string {
	out := strings.ReplaceAll(message, "{USER}", displayName)
	if strings.Contains(out, "{TOPLIST_STATS}") {
		out = strings.ReplaceAll(out, "{TOPLIST_STATS}", formatToplist(toplist))
	}
	out = strings.ReplaceAll(out, "{USER_BETS_CORRECT}", strconv.Itoa(stats.Won))
	out = strings.ReplaceAll(out, "{USER_BETS_WRONG}", strconv.Itoa(stats.Total-stats.Won))
	out = strings.ReplaceAll(out, "{USER_BETS_TOTAL}", strconv.Itoa(stats.Total))
	out = strings.ReplaceAll(out, "{USER_BETS_ACCURACY}", strconv.Itoa(stats.Accuracy())+"%")
	return out
}

// ReplaceWinner expands the {WINNER} token in the winner-announcement template.
func ReplaceWinner(message, winner string) string {
	return strings.ReplaceAll(message, "{WINNER}", winner)
}

// formatToplist renders "N. name (won/total)" entries, ranked by win count descending
// then total descending. The sort is stable so equal pairs keep their input order.
func formatToplist(entries []ToplistEntry) string {
	ranked := make([]ToplistEntry, len(entries))
	copy(ranked, entries)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Won != ranked[j].Won {
			return ranked[i].Won > ranked[j].Won
		}
		return ranked[i].Total > ranked[j].Total
	})

	parts := make([]string, 0, len(ranked))
	for i, e := range ranked {
		parts = append(parts, fmt.Sprintf("%d. %s (%d/%d)", i+1, e.Name, e.Won, e.Total))
	}
	return strings.Join(parts, "  ")
}
