package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestTable_RoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 100} {
		t.Run(fmt.Sprintf("words_%d", n), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "words.csv")
			src := newTable(path, wordCodec)
			for i := 1; i <= n; i++ {
				rec := &WordFrequency{
					RowID:       uint64(i),
					WordID:      fmt.Sprintf("w%07d", i),
					CommunityID: fmt.Sprintf("g%d", i%3),
					Word:        fmt.Sprintf("word,\"%d\"", i),
					Count:       uint64(i * 7),
					IsDict:      i%2 == 0,
				}
				src.rows[rec.Key()] = rec
			}
			if err := src.flush(); err != nil {
				t.Fatalf("flush error: %v", err)
			}

			dst := newTable(path, wordCodec)
			stats, err := dst.load()
			if err != nil {
				t.Fatalf("load error: %v", err)
			}
			if stats.Loaded != n || len(stats.Skipped) != 0 {
				t.Errorf("stats = %+v, want %d loaded, none skipped", stats, n)
			}
			if !reflect.DeepEqual(src.snapshot(), dst.snapshot()) {
				t.Error("records differ after round trip")
			}
			if dst.ids.Max() != uint64(n) {
				t.Errorf("allocator max = %d, want %d", dst.ids.Max(), n)
			}
		})
	}
}

func TestTable_CounterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counter.csv")
	src := newTable(path, counterCodec)
	for i := 1; i <= 100; i++ {
		rec := &MessageCounter{
			RowID:       uint64(i),
			EntryID:     fmt.Sprintf("e%07d", i),
			UserID:      fmt.Sprintf("%d", 100000+i),
			CommunityID: "g1",
			Messages:    uint64(i),
			Words:       uint64(i * 3),
			Characters:  uint64(i * 11),
		}
		src.rows[rec.Key()] = rec
	}
	if err := src.flush(); err != nil {
		t.Fatal(err)
	}

	dst := newTable(path, counterCodec)
	if _, err := dst.load(); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(src.rows, dst.rows) {
		t.Error("counter maps differ after round trip")
	}
}

func TestTable_FlushLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "counter.csv")
	tbl := newTable(path, counterCodec)
	if err := tbl.flush(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file should be gone, stat err = %v", err)
	}
}

func TestTable_ColumnOrderIndependent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "words.csv")
	data := "is_dict,count,word,guild_id,word_id,id\ntrue,4,cat,g1,abcdefgh,7\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	tbl := newTable(path, wordCodec)
	if _, err := tbl.load(); err != nil {
		t.Fatal(err)
	}
	rec, ok := tbl.rows[WordKey{CommunityID: "g1", Word: "cat"}]
	if !ok {
		t.Fatal("cat not loaded")
	}
	want := WordFrequency{RowID: 7, WordID: "abcdefgh", CommunityID: "g1", Word: "cat", Count: 4, IsDict: true}
	if *rec != want {
		t.Errorf("record = %+v, want %+v", *rec, want)
	}
}

func TestTable_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "words.csv")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
	tbl := newTable(path, wordCodec)
	stats, err := tbl.load()
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if stats.Loaded != 0 {
		t.Errorf("loaded = %d, want 0", stats.Loaded)
	}
}

func TestTable_QuoteErrorSkipsRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "words.csv")
	lines := []string{
		"id,word_id,guild_id,word,count,is_dict",
		`1,abcdefgh,g1,ca"t,1,false`,
		"2,bcdefghi,g1,dog,2,false",
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	tbl := newTable(path, wordCodec)
	stats, err := tbl.load()
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if stats.Loaded != 1 || len(stats.Skipped) != 1 {
		t.Fatalf("stats = %+v, want 1 loaded 1 skipped", stats)
	}
	var rowErr *RowError
	if !errors.As(stats.Skipped[0], &rowErr) || rowErr.Line != 2 {
		t.Errorf("skipped = %v, want row error on line 2", stats.Skipped[0])
	}
}

func TestRowError(t *testing.T) {
	err := &RowError{Path: "x.csv", Line: 3, Err: errors.New("boom")}
	if got := err.Error(); got != "x.csv:3: boom" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, ErrMalformedRow) {
		t.Error("RowError should match ErrMalformedRow")
	}
}
