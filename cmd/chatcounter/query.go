package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/chatcounter/internal/archive"
	"github.com/stellarlinkco/chatcounter/internal/config"
	"github.com/stellarlinkco/chatcounter/internal/logging"
	"github.com/stellarlinkco/chatcounter/internal/query"
	"github.com/stellarlinkco/chatcounter/internal/report"
	"github.com/stellarlinkco/chatcounter/internal/store"
)

// scopeFlags carries the request context a chat message would supply.
type scopeFlags struct {
	community string
	user      string
}

func (f *scopeFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.community, "community", "c", "", "community id for guild and user scopes")
	cmd.Flags().StringVarP(&f.user, "user", "u", "", "user id for the me scope")
}

func (f *scopeFlags) parse(args []string, at int) (query.Scope, error) {
	token := ""
	if at < len(args) {
		token = args[at]
	}
	return query.ParseScope(token, f.community, f.user)
}

// noTables stands in for a data directory the gateway has not written yet.
type noTables struct{}

func (noTables) MessageCounters() []store.MessageCounter { return nil }
func (noTables) WordRecords() []store.WordFrequency { return nil }
func (noTables) UserWordRecords() []store.UserWord { return nil }

// openEngine loads the CSV tables for one command. Missing tables read as
// empty and are not created; existing ones are not rewritten.
func openEngine() (*query.Engine, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	paths := store.DefaultPaths(cfg.DataDir())
	for _, p := range []string{paths.Counters, paths.Words, paths.UserWords} {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			return query.NewEngine(noTables{}), nil
		}
	}
	logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	st, err := store.Open(paths, nil, store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open tables: %w", err)
	}
	return query.NewEngine(st), nil
}

func addQueryCommands(root *cobra.Command) {
	root.AddCommand(
		newLeaderboardCmd(),
		newTopWordsCmd("topwords", "Most used words", query.AllWords),
		newTopWordsCmd("topdict", "Most used dictionary words", query.DictOnly),
		newWordStatsCmd(),
		newHistoryCmd(),
	)
}

func newLeaderboardCmd() *cobra.Command {
	var flags scopeFlags
	cmd := &cobra.Command{
		Use:   "leaderboard [global|guild|me]",
		Short: "Top users by message count",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := flags.parse(args, 0)
			if err != nil {
				return err
			}
			engine, err := openEngine()
			if err != nil {
				return err
			}
			lb, err := engine.Leaderboard(scope)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.Leaderboard(lb, nil))
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}

func newTopWordsCmd(use, short string, filter query.WordFilter) *cobra.Command {
	var flags scopeFlags
	cmd := &cobra.Command{
		Use:   use + " [overall|guild|me]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := flags.parse(args, 0)
			if err != nil {
				return err
			}
			engine, err := openEngine()
			if err != nil {
				return err
			}
			list, err := engine.TopWords(scope, filter)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.TopWords(list))
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}

func newWordStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wordstats",
		Short: "Dictionary ratio, least used words, search and dump",
	}

	var ratioFlags scopeFlags
	var nonDict bool
	ratio := &cobra.Command{
		Use:   "ratio [scope]",
		Short: "Percentage of dictionary words",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := ratioFlags.parse(args, 0)
			if err != nil {
				return err
			}
			engine, err := openEngine()
			if err != nil {
				return err
			}
			r, err := engine.DictionaryRatio(scope, !nonDict)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.Ratio(r))
			return nil
		},
	}
	ratioFlags.bind(ratio)
	ratio.Flags().BoolVar(&nonDict, "nondict", false, "report non-dictionary words instead")

	var leastFlags scopeFlags
	least := &cobra.Command{
		Use:   "least [scope]",
		Short: "Least used words",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := leastFlags.parse(args, 0)
			if err != nil {
				return err
			}
			engine, err := openEngine()
			if err != nil {
				return err
			}
			list, err := engine.LeastUsed(scope)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.LeastUsed(list))
			return nil
		},
	}
	leastFlags.bind(least)

	var searchFlags scopeFlags
	search := &cobra.Command{
		Use:   "search <word> [scope]",
		Short: "How often a word was used",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := searchFlags.parse(args, 1)
			if err != nil {
				return err
			}
			engine, err := openEngine()
			if err != nil {
				return err
			}
			res, err := engine.Search(scope, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.Search(res))
			return nil
		},
	}
	searchFlags.bind(search)

	var dumpFlags scopeFlags
	var page int
	dump := &cobra.Command{
		Use:   "dump [scope]",
		Short: "Every word in scope, one page at a time",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := dumpFlags.parse(args, 0)
			if err != nil {
				return err
			}
			engine, err := openEngine()
			if err != nil {
				return err
			}
			d, err := engine.Dump(scope)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if d.Empty() {
				fmt.Fprintln(out, report.NoWordData)
				return nil
			}
			if page < 1 || page > len(d.Pages) {
				return fmt.Errorf("page %d out of range (1-%d)", page, len(d.Pages))
			}
			p, _ := query.NewPager(d.Pages).Goto(page - 1)
			fmt.Fprintln(out, report.DumpPage(p))
			return nil
		},
	}
	dumpFlags.bind(dump)
	dump.Flags().IntVarP(&page, "page", "p", 1, "page number")

	cmd.AddCommand(ratio, least, search, dump)
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var community string
	var limit int
	cmd := &cobra.Command{
		Use:   "history <user>",
		Short: "A user's totals across archived snapshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cfg.Archive.Enabled {
				return fmt.Errorf("archive is disabled")
			}
			a, err := archive.Open(cfg.ArchivePath())
			if err != nil {
				return err
			}
			defer a.Close()

			points, err := a.History(cmd.Context(), args[0], community, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(points) == 0 {
				fmt.Fprintf(out, "No snapshots for %s.\n", args[0])
				return nil
			}
			where := "all communities"
			if community != "" {
				where = "community " + community
			}
			fmt.Fprintf(out, "History for %s (%s)\n", args[0], where)
			for _, p := range points {
				fmt.Fprintf(out, "#%d %s: %d messages | %d words | %d characters\n",
					p.SnapshotID, p.TakenAt.Local().Format("2006-01-02 15:04"),
					p.Messages, p.Words, p.Characters)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&community, "community", "c", "", "restrict to one community")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of snapshots")
	return cmd
}
