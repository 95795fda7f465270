// Package query computes read-only reports over snapshots of the counter store:
// leaderboards, top and least used words, dictionary ratios, single word
// lookups and paginated word dumps.
package query

import (
	"cmp"
	"math"
	"slices"
	"strings"

	"github.com/stellarlinkco/chatcounter/internal/store"
	"github.com/stellarlinkco/chatcounter/internal/tokenize"
)

const (
	// TopN bounds leaderboards and word rankings.
	TopN = 10
	// PageSize is the number of entries per dump page.
	PageSize = 10
)

// Source provides consistent snapshots of the store tables, each in row id
// order. *store.Store implements it.
type Source interface {
	MessageCounters() []store.MessageCounter
	WordRecords() []store.WordFrequency
	UserWordRecords() []store.UserWord
}

// Engine answers report queries. It holds no state besides its source.
type Engine struct {
	src Source
}

func NewEngine(src Source) *Engine {
	return &Engine{src: src}
}

// UserTotals sums one user's counters within a scope.
type UserTotals struct {
	UserID     string
	Messages   uint64
	Words      uint64
	Characters uint64
}

// Leaderboard ranks users by message count.
type Leaderboard struct {
	Scope   Scope
	Entries []UserTotals
}

// Empty reports that no counters fell in scope.
func (l Leaderboard) Empty() bool { return len(l.Entries) == 0 }

// WordFilter restricts word queries by dictionary membership.
type WordFilter int

const (
	AllWords WordFilter = iota
	DictOnly
	NonDictOnly
)

func (f WordFilter) keep(isDict bool) bool {
	switch f {
	case DictOnly:
		return isDict
	case NonDictOnly:
		return !isDict
	}
	return true
}

// WordCount is one word's summed count within a scope.
type WordCount struct {
	Word   string
	Count  uint64
	IsDict bool
}

// WordList is an ordered word ranking.
type WordList struct {
	Scope   Scope
	Filter  WordFilter
	Entries []WordCount
}

// Empty reports that no words fell in scope.
func (w WordList) Empty() bool { return len(w.Entries) == 0 }

// Ratio is the share of word records in scope whose IsDict equals Target.
type Ratio struct {
	Scope    Scope
	Target   bool
	Matching int
	Total    int
	Percent  float64
}

// Empty reports that there were no records to divide by.
func (r Ratio) Empty() bool { return r.Total == 0 }

// WordLookup is the result of an exact word search.
type WordLookup struct {
	Scope   Scope
	Word    string
	Found   bool
	Count   uint64
	IsDict  bool
	Records int
}

// Dump is the alphabetical listing of every word in scope, paged.
type Dump struct {
	Scope Scope
	Pages []Page[WordCount]
}

// Empty reports that the dump has no pages.
func (d Dump) Empty() bool { return len(d.Pages) == 0 }

// wordRow is a word record reduced to what the word queries use.
type wordRow struct {
	userID      string
	communityID string
	word        string
	count       uint64
	isDict      bool
}

// wordRows returns the word records in scope. User scopes read the per-user
// table; the others read the community table.
func (e *Engine) wordRows(scope Scope) []wordRow {
	var rows []wordRow
	if scope.Kind == User {
		for _, r := range e.src.UserWordRecords() {
			if scope.matches(r.UserID, r.CommunityID) {
				rows = append(rows, wordRow{r.UserID, r.CommunityID, r.Word, r.Count, r.IsDict})
			}
		}
		return rows
	}
	for _, r := range e.src.WordRecords() {
		if scope.matches("", r.CommunityID) {
			rows = append(rows, wordRow{"", r.CommunityID, r.Word, r.Count, r.IsDict})
		}
	}
	return rows
}

// groupWords sums counts by word, keeping first-seen order and the first
// record's IsDict.
func groupWords(rows []wordRow, filter WordFilter) []WordCount {
	index := make(map[string]int)
	var out []WordCount
	for _, r := range rows {
		if !filter.keep(r.isDict) {
			continue
		}
		if i, ok := index[r.word]; ok {
			out[i].Count += r.count
			continue
		}
		index[r.word] = len(out)
		out = append(out, WordCount{Word: r.word, Count: r.count, IsDict: r.isDict})
	}
	return out
}

// Leaderboard sums counters per user in scope and returns the top users by
// messages. Ties keep first-seen order.
func (e *Engine) Leaderboard(scope Scope) (Leaderboard, error) {
	if err := scope.Validate(); err != nil {
		return Leaderboard{}, err
	}

	index := make(map[string]int)
	var totals []UserTotals
	for _, c := range e.src.MessageCounters() {
		if !scope.matches(c.UserID, c.CommunityID) {
			continue
		}
		i, ok := index[c.UserID]
		if !ok {
			i = len(totals)
			index[c.UserID] = i
			totals = append(totals, UserTotals{UserID: c.UserID})
		}
		totals[i].Messages += c.Messages
		totals[i].Words += c.Words
		totals[i].Characters += c.Characters
	}

	slices.SortStableFunc(totals, func(a, b UserTotals) int {
		return cmp.Compare(b.Messages, a.Messages)
	})
	return Leaderboard{Scope: scope, Entries: head(totals, TopN)}, nil
}

// TopWords returns the most used words in scope.
func (e *Engine) TopWords(scope Scope, filter WordFilter) (WordList, error) {
	if err := scope.Validate(); err != nil {
		return WordList{}, err
	}
	words := groupWords(e.wordRows(scope), filter)
	slices.SortStableFunc(words, func(a, b WordCount) int {
		return cmp.Compare(b.Count, a.Count)
	})
	return WordList{Scope: scope, Filter: filter, Entries: head(words, TopN)}, nil
}

// LeastUsed returns the least used words in scope, lowest first.
func (e *Engine) LeastUsed(scope Scope) (WordList, error) {
	if err := scope.Validate(); err != nil {
		return WordList{}, err
	}
	words := groupWords(e.wordRows(scope), AllWords)
	slices.SortStableFunc(words, func(a, b WordCount) int {
		return cmp.Compare(a.Count, b.Count)
	})
	return WordList{Scope: scope, Filter: AllWords, Entries: head(words, TopN)}, nil
}

// DictionaryRatio returns the percentage of word records in scope whose
// IsDict equals target, rounded to two decimals.
func (e *Engine) DictionaryRatio(scope Scope, target bool) (Ratio, error) {
	if err := scope.Validate(); err != nil {
		return Ratio{}, err
	}
	r := Ratio{Scope: scope, Target: target}
	for _, row := range e.wordRows(scope) {
		r.Total++
		if row.isDict == target {
			r.Matching++
		}
	}
	if r.Total > 0 {
		r.Percent = round2(float64(r.Matching) / float64(r.Total) * 100)
	}
	return r, nil
}

// Search looks up one word, normalized the way ingestion normalizes tokens,
// and sums its count across every matching record in scope.
func (e *Engine) Search(scope Scope, word string) (WordLookup, error) {
	if err := scope.Validate(); err != nil {
		return WordLookup{}, err
	}
	target := tokenize.Normalize(word)
	res := WordLookup{Scope: scope, Word: target}
	if target == "" {
		return res, nil
	}
	for _, row := range e.wordRows(scope) {
		if !strings.EqualFold(row.word, target) {
			continue
		}
		if !res.Found {
			res.Found = true
			res.IsDict = row.isDict
		}
		res.Count += row.count
		res.Records++
	}
	return res, nil
}

// Dump lists every word in scope alphabetically (case-insensitive), summed
// across records, in pages of PageSize.
func (e *Engine) Dump(scope Scope) (Dump, error) {
	if err := scope.Validate(); err != nil {
		return Dump{}, err
	}
	words := groupWords(e.wordRows(scope), AllWords)
	slices.SortStableFunc(words, func(a, b WordCount) int {
		return strings.Compare(strings.ToLower(a.Word), strings.ToLower(b.Word))
	})
	return Dump{Scope: scope, Pages: Paginate(words, PageSize)}, nil
}

func head[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
