package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stellarlinkco/chatcounter/internal/archive"
	"github.com/stellarlinkco/chatcounter/internal/config"
	"github.com/stellarlinkco/chatcounter/internal/cron"
	"github.com/stellarlinkco/chatcounter/internal/dictionary"
	"github.com/stellarlinkco/chatcounter/internal/store"
)

func setupHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{
		"CHATCOUNTER_DATA_DIR", "CHATCOUNTER_DICTIONARY", "CHATCOUNTER_ARCHIVE_PATH",
		"CHATCOUNTER_ARCHIVE_ENABLED", "CHATCOUNTER_COMMAND_PREFIX",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("CHATCOUNTER_LOG_LEVEL", "error")
	return home
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func seedTables(t *testing.T) *store.Store {
	t.Helper()
	cfg, err := config.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	st, err := store.Open(store.DefaultPaths(cfg.DataDir()), dictionary.New([]string{"cat", "dog"}))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	for _, m := range []struct{ user, community, text string }{
		{"u1", "g1", "cat dog bird fish"},
		{"u2", "g1", "cat cat"},
		{"u2", "g2", "hello there"},
	} {
		if err := st.Ingest(m.user, m.community, m.text); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}
	return st
}

func TestWriteIfNotExists_NewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "test.txt")
	var out bytes.Buffer

	writeIfNotExists(&out, path, "test content")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if string(data) != "test content" {
		t.Errorf("content = %q, want 'test content'", string(data))
	}
	if !strings.Contains(out.String(), "Created: "+path) {
		t.Errorf("output = %q", out.String())
	}
}

func TestWriteIfNotExists_ExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.txt")
	os.WriteFile(path, []byte("original"), 0644)
	var out bytes.Buffer

	writeIfNotExists(&out, path, "new content")

	data, _ := os.ReadFile(path)
	if string(data) != "original" {
		t.Errorf("content = %q, want 'original'", string(data))
	}
	if out.Len() != 0 {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestRunOnboard(t *testing.T) {
	home := setupHome(t)

	out, err := run(t, "onboard")
	if err != nil {
		t.Fatalf("onboard error: %v", err)
	}
	if !strings.Contains(out, "Created config") {
		t.Errorf("first run output:\n%s", out)
	}

	for _, path := range []string{
		filepath.Join(home, ".chatcounter", "config.json"),
		filepath.Join(home, ".chatcounter", "dictionary.txt"),
		filepath.Join(home, ".chatcounter", "db"),
	} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("%s not created: %v", path, err)
		}
	}

	dict, err := dictionary.Load(filepath.Join(home, ".chatcounter", "dictionary.txt"))
	if err != nil {
		t.Fatalf("Load dictionary: %v", err)
	}
	if dict.Len() != 0 {
		t.Errorf("default dictionary has %d words, want 0", dict.Len())
	}

	out, err = run(t, "onboard")
	if err != nil {
		t.Fatalf("second onboard error: %v", err)
	}
	if !strings.Contains(out, "Config already exists") {
		t.Errorf("second run output:\n%s", out)
	}
}

func TestRunStatus(t *testing.T) {
	setupHome(t)

	out, err := run(t, "status")
	if err != nil {
		t.Fatalf("status error: %v", err)
	}
	for _, want := range []string{"Config:", "Command prefix: !", "Dictionary: 0 words", "Tables: not found", "Archive: empty"} {
		if !strings.Contains(out, want) {
			t.Errorf("status missing %q:\n%s", want, out)
		}
	}

	seedTables(t)
	out, _ = run(t, "status")
	if !strings.Contains(out, "Tables: 3 counters, 6 words, 7 user words (0 rows skipped)") {
		t.Errorf("status after ingest:\n%s", out)
	}
}

func TestRunStatus_Sessions(t *testing.T) {
	setupHome(t)
	cfg, _ := config.LoadConfig()
	log, err := store.OpenSessionLog(filepath.Join(cfg.DataDir(), store.SessionFile), nil)
	if err != nil {
		t.Fatalf("OpenSessionLog: %v", err)
	}
	sess, err := log.Begin(time.Now())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	out, _ := run(t, "status")
	if !strings.Contains(out, "Sessions: 1 (last "+sess.SessionID) {
		t.Errorf("status missing session:\n%s", out)
	}
}

func TestQueryCommands(t *testing.T) {
	setupHome(t)
	seedTables(t)

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"leaderboard"}, "1. Unknown User (u2): 2 messages | 4 words | 18 characters"},
		{[]string{"leaderboard", "guild", "-c", "g2"}, "1. Unknown User (u2): 1 messages"},
		{[]string{"topwords"}, "1. `cat`: 3 (dictionary)"},
		{[]string{"topwords", "me", "-u", "u1", "-c", "g1"}, "Your"},
		{[]string{"topdict", "guild", "--community", "g1"}, "Top Server Dictionary Words"},
		{[]string{"wordstats", "ratio"}, "dictionary words (2 of 6)"},
		{[]string{"wordstats", "ratio", "--nondict"}, "non-dictionary words (4 of 6)"},
		{[]string{"wordstats", "least"}, "Least Used Global Words"},
		{[]string{"wordstats", "search", "CAT"}, "`cat` used 3 times (dictionary)"},
		{[]string{"wordstats", "search", "cat", "guild", "-c", "g2"}, "`cat` has not been used yet."},
		{[]string{"wordstats", "dump"}, "(page 1/1)"},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, "_"), func(t *testing.T) {
			out, err := run(t, tt.args...)
			if err != nil {
				t.Fatalf("error: %v", err)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("output missing %q:\n%s", tt.want, out)
			}
		})
	}
}

func TestQueryCommands_Errors(t *testing.T) {
	setupHome(t)
	seedTables(t)

	tests := [][]string{
		{"topwords", "galaxy"},
		{"leaderboard", "guild"},
		{"wordstats", "dump", "--page", "2"},
		{"wordstats", "search"},
	}
	for _, args := range tests {
		if _, err := run(t, args...); err == nil {
			t.Errorf("%v: expected error", args)
		}
	}
}

func TestQueryCommands_Empty(t *testing.T) {
	home := setupHome(t)

	out, err := run(t, "wordstats", "dump")
	if err != nil {
		t.Fatalf("dump error: %v", err)
	}
	if !strings.Contains(out, "No word data yet.") {
		t.Errorf("dump output:\n%s", out)
	}
	out, _ = run(t, "leaderboard")
	if !strings.Contains(out, "No message data yet.") {
		t.Errorf("leaderboard output:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(home, ".chatcounter", "db")); !os.IsNotExist(err) {
		t.Errorf("offline queries created the data directory: %v", err)
	}
}

func TestWordStatsDumpPages(t *testing.T) {
	setupHome(t)
	cfg, _ := config.LoadConfig()
	st, err := store.Open(store.DefaultPaths(cfg.DataDir()), nil)
	if err != nil {
		t.Fatal(err)
	}
	var words []string
	for i := 1; i <= 12; i++ {
		words = append(words, fmt.Sprintf("w%02d", i))
	}
	if err := st.Ingest("u1", "g1", strings.Join(words, " ")); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "wordstats", "dump", "-p", "2")
	if err != nil {
		t.Fatalf("dump error: %v", err)
	}
	if !strings.Contains(out, "(page 2/2)") || !strings.Contains(out, "`w11`: 1") || strings.Contains(out, "`w01`") {
		t.Errorf("page 2 output:\n%s", out)
	}
}

func TestHistoryCommand(t *testing.T) {
	setupHome(t)
	st := seedTables(t)
	cfg, _ := config.LoadConfig()

	a, err := archive.Open(cfg.ArchivePath())
	if err != nil {
		t.Fatalf("archive.Open: %v", err)
	}
	if _, err := a.Snapshot(context.Background(), st.MessageCounters()); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	a.Close()

	out, err := run(t, "history", "u2")
	if err != nil {
		t.Fatalf("history error: %v", err)
	}
	if !strings.Contains(out, "History for u2 (all communities)") || !strings.Contains(out, "2 messages | 4 words") {
		t.Errorf("history output:\n%s", out)
	}

	out, _ = run(t, "history", "u2", "-c", "g2")
	if !strings.Contains(out, "1 messages | 2 words") {
		t.Errorf("community history output:\n%s", out)
	}

	out, _ = run(t, "history", "nobody")
	if !strings.Contains(out, "No snapshots for nobody.") {
		t.Errorf("unknown user output:\n%s", out)
	}
}

func TestHistoryCommand_ArchiveDisabled(t *testing.T) {
	setupHome(t)
	t.Setenv("CHATCOUNTER_ARCHIVE_ENABLED", "false")
	if _, err := run(t, "history", "u1"); err == nil {
		t.Error("expected error with archive disabled")
	}
}

func TestJobsCommands(t *testing.T) {
	setupHome(t)

	out, err := run(t, "jobs", "list")
	if err != nil || !strings.Contains(out, "No jobs.") {
		t.Fatalf("empty list = %q, %v", out, err)
	}

	out, err = run(t, "jobs", "add", "--name", "weekly", "--cron", "0 0 9 * * MON",
		"--report", "topwords", "--scope", "guild", "-c", "g1", "--channel", "discord", "--to", "c1")
	if err != nil {
		t.Fatalf("add report: %v", err)
	}
	if !strings.Contains(out, "Added job") {
		t.Errorf("add output = %q", out)
	}
	if _, err := run(t, "jobs", "add", "--snapshot", "--every", "6h"); err != nil {
		t.Fatalf("add snapshot: %v", err)
	}

	svc := cron.NewService(config.CronStorePath())
	if err := svc.Load(); err != nil {
		t.Fatal(err)
	}
	job, ok := svc.FindJob("weekly")
	if !ok {
		t.Fatal("weekly job not stored")
	}
	want := cron.Payload{Action: cron.ActionReport, Report: "topwords", Scope: "guild", CommunityID: "g1", Channel: "discord", To: "c1"}
	if job.Payload != want {
		t.Errorf("payload = %+v, want %+v", job.Payload, want)
	}
	snap, ok := svc.FindJob("snapshot")
	if !ok || snap.Schedule.EveryMs != (6*time.Hour).Milliseconds() {
		t.Errorf("snapshot job = %+v, %v", snap, ok)
	}

	out, _ = run(t, "jobs", "list")
	if !strings.Contains(out, "cron 0 0 9 * * MON") || !strings.Contains(out, "every 6h0m0s") {
		t.Errorf("list output:\n%s", out)
	}

	out, err = run(t, "jobs", "disable", job.ID)
	if err != nil || !strings.Contains(out, "enabled=false") {
		t.Errorf("disable = %q, %v", out, err)
	}
	if _, err := run(t, "jobs", "remove", job.ID); err != nil {
		t.Errorf("remove: %v", err)
	}
	if _, err := run(t, "jobs", "remove", job.ID); err == nil {
		t.Error("second remove should fail")
	}
	if _, err := run(t, "jobs", "enable", "missing"); err == nil {
		t.Error("enable of unknown job should fail")
	}
}

func TestJobsAdd_Invalid(t *testing.T) {
	setupHome(t)

	tests := []struct {
		name string
		args []string
	}{
		{"no schedule", []string{"jobs", "add", "--snapshot"}},
		{"bad cron", []string{"jobs", "add", "--snapshot", "--cron", "not a cron"}},
		{"report without target", []string{"jobs", "add", "--every", "1h"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, tt.args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDescribeSchedule(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		s    cron.Schedule
		want string
	}{
		{cron.Schedule{Kind: cron.KindCron, Expr: "@daily"}, "cron @daily"},
		{cron.Schedule{Kind: cron.KindEvery, EveryMs: 90_000}, "every 1m30s"},
		{cron.Schedule{Kind: cron.KindAt, AtMs: at.UnixMilli()}, "at " + at.Local().Format(time.RFC3339)},
		{cron.Schedule{Kind: "weird"}, "weird"},
	}
	for _, tt := range tests {
		if got := describeSchedule(tt.s); got != tt.want {
			t.Errorf("describeSchedule(%+v) = %q, want %q", tt.s, got, tt.want)
		}
	}
}
