// Package report renders query results as compact markdown for chat replies
// and terminal output.
package report

import (
	"fmt"
	"strings"

	"github.com/stellarlinkco/chatcounter/internal/query"
)

const (
	NoMessageData = "No message data yet."
	NoWordData    = "No word data yet."
)

// Namer resolves a user id to a display name. It returns "" when the user is
// unknown.
type Namer func(userID string) string

func displayName(names Namer, userID string) string {
	if names != nil {
		if name := names(userID); name != "" {
			return name
		}
	}
	return fmt.Sprintf("Unknown User (%s)", userID)
}

func scopeTitle(s query.Scope) string {
	switch s.Kind {
	case query.Community:
		return "Server"
	case query.User:
		return "Your"
	}
	return "Global"
}

// Leaderboard renders the ranked users with their three totals.
func Leaderboard(lb query.Leaderboard, names Namer) string {
	if lb.Empty() {
		return NoMessageData
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "**%s Message Leaderboard**\n", scopeTitle(lb.Scope))
	fmt.Fprintf(&sb, "Top %d users by message count\n", query.TopN)
	for i, e := range lb.Entries {
		fmt.Fprintf(&sb, "%d. %s: %d messages | %d words | %d characters\n",
			i+1, displayName(names, e.UserID), e.Messages, e.Words, e.Characters)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func filterLabel(f query.WordFilter) string {
	switch f {
	case query.DictOnly:
		return "Dictionary Words"
	case query.NonDictOnly:
		return "Non-Dictionary Words"
	}
	return "Words"
}

// TopWords renders a most-used ranking.
func TopWords(list query.WordList) string {
	title := fmt.Sprintf("Top %s %s", scopeTitle(list.Scope), filterLabel(list.Filter))
	return wordList(title, list)
}

// LeastUsed renders a least-used ranking.
func LeastUsed(list query.WordList) string {
	return wordList(fmt.Sprintf("Least Used %s Words", scopeTitle(list.Scope)), list)
}

func wordList(title string, list query.WordList) string {
	if list.Empty() {
		return NoWordData
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "**%s**\n", title)
	for i, w := range list.Entries {
		fmt.Fprintf(&sb, "%d. `%s`: %d%s\n", i+1, w.Word, w.Count, dictMark(w.IsDict))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func dictMark(isDict bool) string {
	if isDict {
		return " (dictionary)"
	}
	return ""
}

// Ratio renders a dictionary ratio as a percentage with two decimals.
func Ratio(r query.Ratio) string {
	if r.Empty() {
		return NoWordData
	}
	kind := "dictionary"
	if !r.Target {
		kind = "non-dictionary"
	}
	return fmt.Sprintf("**%s Word Ratio**\n%.2f%% %s words (%d of %d)",
		scopeTitle(r.Scope), r.Percent, kind, r.Matching, r.Total)
}

// Search renders a single word lookup.
func Search(res query.WordLookup) string {
	if res.Word == "" {
		return "Give me a word to search for."
	}
	if !res.Found {
		return fmt.Sprintf("`%s` has not been used yet.", res.Word)
	}
	times := "times"
	if res.Count == 1 {
		times = "time"
	}
	return fmt.Sprintf("`%s` used %d %s%s", res.Word, res.Count, times, dictMark(res.IsDict))
}

// DumpPage renders one page of a word dump with its 1-based label.
func DumpPage(page query.Page[query.WordCount]) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**Word Dump** (page %s)\n", page.Label())
	for _, w := range page.Items {
		fmt.Fprintf(&sb, "`%s`: %d%s\n", w.Word, w.Count, dictMark(w.IsDict))
	}
	return strings.TrimRight(sb.String(), "\n")
}
