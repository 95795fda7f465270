// Package store holds the in-memory counter tables, applies ingested messages
// to them and keeps their CSV files in step.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/stellarlinkco/chatcounter/internal/ident"
	"github.com/stellarlinkco/chatcounter/internal/tokenize"
)

const (
	CounterFile  = "counter.csv"
	WordFile     = "words.csv"
	UserWordFile = "user_words.csv"
)

var (
	// ErrMalformedRow marks a persisted row that failed to parse.
	ErrMalformedRow = errors.New("malformed row")
	// ErrDuplicateKey marks a persisted row whose composite key was already loaded.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrPersistence is returned when memory was updated but the tables could
	// not be written. Memory and disk differ until a later Flush succeeds.
	ErrPersistence = errors.New("persist tables")
	// ErrInvalidMessage is returned for a message without user or community.
	ErrInvalidMessage = errors.New("message requires user and community")
)

// Classifier decides whether a normalized word is a dictionary word.
type Classifier interface {
	Contains(word string) bool
}

// Paths locates the three table files.
type Paths struct {
	Counters  string
	Words     string
	UserWords string
}

// DefaultPaths places the table files in dir.
func DefaultPaths(dir string) Paths {
	return Paths{
		Counters:  filepath.Join(dir, CounterFile),
		Words:     filepath.Join(dir, WordFile),
		UserWords: filepath.Join(dir, UserWordFile),
	}
}

// LoadReport lists what Open found in each table.
type LoadReport struct {
	Counters  TableStats
	Words     TableStats
	UserWords TableStats
}

// Skipped returns the total number of rows dropped across all tables.
func (r LoadReport) Skipped() int {
	return len(r.Counters.Skipped) + len(r.Words.Skipped) + len(r.UserWords.Skipped)
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for load warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Store owns the counter tables. Ingest and Flush are serialized; snapshot
// reads may run concurrently with each other but never observe a half
// applied message.
type Store struct {
	mu        sync.RWMutex
	counters  *table[CounterKey, MessageCounter]
	words     *table[WordKey, WordFrequency]
	userWords *table[UserWordKey, UserWord]

	wordIDs     map[string]struct{}
	userWordIDs map[string]struct{}

	oracle Classifier
	logger *slog.Logger
	report LoadReport
}

// Open loads all tables from paths, creating missing files with headers.
// Malformed rows are skipped and logged as warnings.
func Open(paths Paths, oracle Classifier, opts ...Option) (*Store, error) {
	s := &Store{
		counters:    newTable(paths.Counters, counterCodec),
		words:       newTable(paths.Words, wordCodec),
		userWords:   newTable(paths.UserWords, userWordCodec),
		wordIDs:     make(map[string]struct{}),
		userWordIDs: make(map[string]struct{}),
		oracle:      oracle,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	if s.report.Counters, err = s.counters.load(); err != nil {
		return nil, fmt.Errorf("load counters: %w", err)
	}
	if s.report.Words, err = s.words.load(); err != nil {
		return nil, fmt.Errorf("load words: %w", err)
	}
	if s.report.UserWords, err = s.userWords.load(); err != nil {
		return nil, fmt.Errorf("load user words: %w", err)
	}

	for _, rec := range s.words.rows {
		s.wordIDs[rec.WordID] = struct{}{}
	}
	for _, rec := range s.userWords.rows {
		s.userWordIDs[rec.WordID] = struct{}{}
	}

	for _, st := range []TableStats{s.report.Counters, s.report.Words, s.report.UserWords} {
		for _, rowErr := range st.Skipped {
			s.logger.Warn("store: skipped row", "path", rowErr.Path, "line", rowErr.Line, "error", rowErr.Err)
		}
		s.logger.Debug("store: loaded table", "path", st.Path, "rows", st.Loaded, "skipped", len(st.Skipped))
	}
	return s, nil
}

// LoadReport returns the row counts seen by Open.
func (s *Store) LoadReport() LoadReport {
	return s.report
}

// Ingest applies one message to the tables and rewrites them. Messages count
// by 1, words by token count, characters by code points. Every token that
// normalizes to a non-empty word bumps its community and user word records.
//
// A returned error wrapping ErrPersistence means memory already holds the
// update; callers retry with Flush, never by re-ingesting.
func (s *Store) Ingest(userID, communityID, text string) error {
	if userID == "" || communityID == "" {
		return ErrInvalidMessage
	}
	tokens := tokenize.Tokenize(text)

	s.mu.Lock()
	defer s.mu.Unlock()

	counter := s.counterFor(userID, communityID)
	counter.Messages++
	counter.Words += uint64(len(tokens))
	counter.Characters += uint64(tokenize.CharCount(text))

	for _, tok := range tokens {
		word := tokenize.Normalize(tok)
		if word == "" {
			continue
		}
		wf := s.wordFor(communityID, word)
		wf.Count++
		uw := s.userWordFor(userID, communityID, word, wf.IsDict)
		uw.Count++
	}

	return s.flushLocked()
}

// Flush rewrites every table from memory.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	if err := s.counters.flush(); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if err := s.words.flush(); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if err := s.userWords.flush(); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

func (s *Store) counterFor(userID, communityID string) *MessageCounter {
	key := CounterKey{UserID: userID, CommunityID: communityID}
	if rec, ok := s.counters.rows[key]; ok {
		return rec
	}
	// entry ids are display labels only; collisions are not checked
	rec := &MessageCounter{
		RowID:       s.counters.ids.Next(),
		EntryID:     ident.ShortID(),
		UserID:      userID,
		CommunityID: communityID,
	}
	s.counters.rows[key] = rec
	return rec
}

func (s *Store) wordFor(communityID, word string) *WordFrequency {
	key := WordKey{CommunityID: communityID, Word: word}
	if rec, ok := s.words.rows[key]; ok {
		return rec
	}
	rec := &WordFrequency{
		RowID:       s.words.ids.Next(),
		WordID:      ident.UniqueShortID(taken(s.wordIDs)),
		CommunityID: communityID,
		Word:        word,
		IsDict:      s.oracle != nil && s.oracle.Contains(word),
	}
	s.wordIDs[rec.WordID] = struct{}{}
	s.words.rows[key] = rec
	return rec
}

func (s *Store) userWordFor(userID, communityID, word string, isDict bool) *UserWord {
	key := UserWordKey{UserID: userID, CommunityID: communityID, Word: word}
	if rec, ok := s.userWords.rows[key]; ok {
		return rec
	}
	rec := &UserWord{
		RowID:       s.userWords.ids.Next(),
		WordID:      ident.UniqueShortID(taken(s.userWordIDs)),
		UserID:      userID,
		CommunityID: communityID,
		Word:        word,
		IsDict:      isDict,
	}
	s.userWordIDs[rec.WordID] = struct{}{}
	s.userWords.rows[key] = rec
	return rec
}

func taken(ids map[string]struct{}) func(string) bool {
	return func(id string) bool {
		_, ok := ids[id]
		return ok
	}
}

// SetClassifier swaps the dictionary used for words created from now on.
// Existing records keep their classification.
func (s *Store) SetClassifier(c Classifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oracle = c
}

// MessageCounters returns a copy of the counter table in row id order.
func (s *Store) MessageCounters() []MessageCounter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters.snapshot()
}

// WordRecords returns a copy of the community word table in row id order.
func (s *Store) WordRecords() []WordFrequency {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.words.snapshot()
}

// UserWordRecords returns a copy of the per-user word table in row id order.
func (s *Store) UserWordRecords() []UserWord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userWords.snapshot()
}

// Counter looks up one counter record.
func (s *Store) Counter(userID, communityID string) (MessageCounter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.counters.rows[CounterKey{UserID: userID, CommunityID: communityID}]
	if !ok {
		return MessageCounter{}, false
	}
	return *rec, true
}

// Word looks up one community word record by its normalized word.
func (s *Store) Word(communityID, word string) (WordFrequency, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.words.rows[WordKey{CommunityID: communityID, Word: word}]
	if !ok {
		return WordFrequency{}, false
	}
	return *rec, true
}

// Sizes reports the record count of each table.
type Sizes struct {
	Counters  int
	Words     int
	UserWords int
}

// Sizes returns the current record counts.
func (s *Store) Sizes() Sizes {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Sizes{
		Counters:  len(s.counters.rows),
		Words:     len(s.words.rows),
		UserWords: len(s.userWords.rows),
	}
}
