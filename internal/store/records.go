package store

import (
	"strconv"
)

// CounterKey identifies a MessageCounter.
type CounterKey struct {
	UserID      string
	CommunityID string
}

// WordKey identifies a WordFrequency. Word is the normalized form.
type WordKey struct {
	CommunityID string
	Word        string
}

// UserWordKey identifies a UserWord.
type UserWordKey struct {
	UserID      string
	CommunityID string
	Word        string
}

// MessageCounter aggregates message, word and character counts for one user
// in one community.
type MessageCounter struct {
	RowID       uint64
	EntryID     string
	UserID      string
	CommunityID string
	Messages    uint64
	Words       uint64
	Characters  uint64
}

func (r *MessageCounter) Key() CounterKey {
	return CounterKey{UserID: r.UserID, CommunityID: r.CommunityID}
}

// WordFrequency counts uses of one normalized word in one community. IsDict is
// decided when the record is created and never recomputed.
type WordFrequency struct {
	RowID       uint64
	WordID      string
	CommunityID string
	Word        string
	Count       uint64
	IsDict      bool
}

func (r *WordFrequency) Key() WordKey {
	return WordKey{CommunityID: r.CommunityID, Word: r.Word}
}

// UserWord counts uses of one normalized word by one user in one community.
type UserWord struct {
	RowID       uint64
	WordID      string
	UserID      string
	CommunityID string
	Word        string
	Count       uint64
	IsDict      bool
}

func (r *UserWord) Key() UserWordKey {
	return UserWordKey{UserID: r.UserID, CommunityID: r.CommunityID, Word: r.Word}
}

var counterCodec = codec[CounterKey, MessageCounter]{
	header: []string{"id", "entry_id", "user_id", "guild_id", "messages", "words", "characters"},
	encode: func(r *MessageCounter) []string {
		return []string{
			formatUint(r.RowID),
			r.EntryID,
			r.UserID,
			r.CommunityID,
			formatUint(r.Messages),
			formatUint(r.Words),
			formatUint(r.Characters),
		}
	},
	decode: func(row csvRow) (MessageCounter, error) {
		var r MessageCounter
		var err error
		if r.RowID, err = row.uint("id"); err != nil {
			return r, err
		}
		if r.EntryID, err = row.str("entry_id"); err != nil {
			return r, err
		}
		if r.UserID, err = row.nonEmpty("user_id"); err != nil {
			return r, err
		}
		if r.CommunityID, err = row.nonEmpty("guild_id"); err != nil {
			return r, err
		}
		if r.Messages, err = row.uint("messages"); err != nil {
			return r, err
		}
		if r.Words, err = row.uint("words"); err != nil {
			return r, err
		}
		if r.Characters, err = row.uint("characters"); err != nil {
			return r, err
		}
		return r, nil
	},
	key:   (*MessageCounter).Key,
	rowID: func(r *MessageCounter) uint64 { return r.RowID },
}

var wordCodec = codec[WordKey, WordFrequency]{
	header: []string{"id", "word_id", "guild_id", "word", "count", "is_dict"},
	encode: func(r *WordFrequency) []string {
		return []string{
			formatUint(r.RowID),
			r.WordID,
			r.CommunityID,
			r.Word,
			formatUint(r.Count),
			strconv.FormatBool(r.IsDict),
		}
	},
	decode: func(row csvRow) (WordFrequency, error) {
		var r WordFrequency
		var err error
		if r.RowID, err = row.uint("id"); err != nil {
			return r, err
		}
		if r.WordID, err = row.str("word_id"); err != nil {
			return r, err
		}
		if r.CommunityID, err = row.nonEmpty("guild_id"); err != nil {
			return r, err
		}
		if r.Word, err = row.nonEmpty("word"); err != nil {
			return r, err
		}
		if r.Count, err = row.uint("count"); err != nil {
			return r, err
		}
		if r.IsDict, err = row.bool("is_dict"); err != nil {
			return r, err
		}
		return r, nil
	},
	key:   (*WordFrequency).Key,
	rowID: func(r *WordFrequency) uint64 { return r.RowID },
}

var userWordCodec = codec[UserWordKey, UserWord]{
	header: []string{"id", "word_id", "user_id", "guild_id", "word", "count", "is_dict"},
	encode: func(r *UserWord) []string {
		return []string{
			formatUint(r.RowID),
			r.WordID,
			r.UserID,
			r.CommunityID,
			r.Word,
			formatUint(r.Count),
			strconv.FormatBool(r.IsDict),
		}
	},
	decode: func(row csvRow) (UserWord, error) {
		var r UserWord
		var err error
		if r.RowID, err = row.uint("id"); err != nil {
			return r, err
		}
		if r.WordID, err = row.str("word_id"); err != nil {
			return r, err
		}
		if r.UserID, err = row.nonEmpty("user_id"); err != nil {
			return r, err
		}
		if r.CommunityID, err = row.nonEmpty("guild_id"); err != nil {
			return r, err
		}
		if r.Word, err = row.nonEmpty("word"); err != nil {
			return r, err
		}
		if r.Count, err = row.uint("count"); err != nil {
			return r, err
		}
		if r.IsDict, err = row.bool("is_dict"); err != nil {
			return r, err
		}
		return r, nil
	},
	key:   (*UserWord).Key,
	rowID: func(r *UserWord) uint64 { return r.RowID },
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}
