package betting

import "testing"

func TestReplacePlaceholdersUser(t *testing.T) {
	got := ReplacePlaceholders("Hi {USER}, {USER}!", "Peter", SeasonStats{}, nil)
	if got != "Hi Peter, Peter!" {
		t.Errorf("got %q", got)
	}
}

func TestReplacePlaceholdersStats(t *testing.T) {
	stats := SeasonStats{Won: 2, Total: 3}
	tests := []struct {
		template string
		want     string
	}{
		{"{USER_BETS_CORRECT}", "2"},
		{"{USER_BETS_WRONG}", "1"},
		{"{USER_BETS_TOTAL}", "3"},
		{"{USER_BETS_ACCURACY}", "66%"},
	}
	for _, tt := range tests {
		if got := ReplacePlaceholders(tt.template, "x", stats, nil); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.template, got, tt.want)
		}
	}
}

func TestAccuracyZeroTotal(t *testing.T) {
	if got := ReplacePlaceholders("{USER_BETS_ACCURACY}", "x", SeasonStats{}, nil); got != "0%" {
		t.Errorf("got %q", got)
	}
}

func TestReplacePlaceholdersToplist(t *testing.T) {
	toplist := []ToplistEntry{
		{Name: "b", Won: 3, Total: 4},
		{Name: "c", Won: 3, Total: 3},
		{Name: "a", Won: 4, Total: 4},
	}
	got := ReplacePlaceholders("{TOPLIST_STATS}", "x", SeasonStats{}, toplist)
	want := "1. a (4/4)  2. b (3/4)  3. c (3/3)"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestToplistTiesKeepInputOrder(t *testing.T) {
	toplist := []ToplistEntry{
		{Name: "x", Won: 3, Total: 4},
		{Name: "y", Won: 3, Total: 4},
		{Name: "z", Won: 3, Total: 4},
	}
	got := ReplacePlaceholders("{TOPLIST_STATS}", "x", SeasonStats{}, toplist)
	want := "1. x (3/4)  2. y (3/4)  3. z (3/4)"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestUnknownTokenPassesThrough(t *testing.T) {
	got := ReplacePlaceholders("{NOPE} stays", "x", SeasonStats{}, nil)
	if got != "{NOPE} stays" {
		t.Errorf("got %q", got)
	}
}

func TestReplaceWinner(t *testing.T) {
	if got := ReplaceWinner("{WINNER} won the game!", "radiant"); got != "radiant won the game!" {
		t.Errorf("got %q", got)
	}
}
