package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/chatcounter/internal/archive"
	"github.com/stellarlinkco/chatcounter/internal/config"
	"github.com/stellarlinkco/chatcounter/internal/dictionary"
	"github.com/stellarlinkco/chatcounter/internal/gateway"
	"github.com/stellarlinkco/chatcounter/internal/logging"
	"github.com/stellarlinkco/chatcounter/internal/store"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "chatcounter",
		Short:        "chatcounter - chat message and word statistics",
		SilenceUsage: true,
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "gateway",
			Short: "Start the gateway (channels + counting + cron)",
			RunE:  runGateway,
		},
		&cobra.Command{
			Use:   "onboard",
			Short: "Initialize config, data directory and dictionary",
			RunE:  runOnboard,
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show chatcounter status",
			RunE:  runStatus,
		},
	)
	addQueryCommands(root)
	root.AddCommand(newJobsCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		data, _ := json.MarshalIndent(cfg, "", "  ")
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	writeIfNotExists(out, cfg.DictionaryPath(), defaultDictionary)

	fmt.Fprintf(out, "Data directory ready: %s\n", cfg.DataDir())
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Put one word per line in %s\n", cfg.DictionaryPath())
	fmt.Fprintf(out, "  2. Enable a channel and set its token in %s\n", cfgPath)
	fmt.Fprintln(out, "  3. Run 'chatcounter gateway'")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config: error (%v)\n", err)
		return nil
	}

	fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(out, "Data: %s\n", cfg.DataDir())
	fmt.Fprintf(out, "Command prefix: %s\n", cfg.Commands.Prefix)

	if dict, err := dictionary.Load(cfg.DictionaryPath()); err != nil {
		fmt.Fprintf(out, "Dictionary: error (%v)\n", err)
	} else {
		fmt.Fprintf(out, "Dictionary: %d words (%s)\n", dict.Len(), cfg.DictionaryPath())
	}

	fmt.Fprintf(out, "Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)
	fmt.Fprintf(out, "Discord: enabled=%v\n", cfg.Channels.Discord.Enabled)
	fmt.Fprintf(out, "WhatsApp: enabled=%v\n", cfg.Channels.WhatsApp.Enabled)
	fmt.Fprintf(out, "WebUI: enabled=%v\n", cfg.Channels.WebUI.Enabled)
	fmt.Fprintf(out, "AMQP: enabled=%v\n", cfg.Channels.AMQP.Enabled)

	if _, err := os.Stat(filepath.Join(cfg.DataDir(), store.CounterFile)); err != nil {
		fmt.Fprintln(out, "Tables: not found (run 'chatcounter onboard' or start the gateway)")
	} else {
		st, err := store.Open(store.DefaultPaths(cfg.DataDir()), nil, store.WithLogger(logging.Discard()))
		if err != nil {
			fmt.Fprintf(out, "Tables: error (%v)\n", err)
		} else {
			sizes := st.Sizes()
			fmt.Fprintf(out, "Tables: %d counters, %d words, %d user words (%d rows skipped)\n",
				sizes.Counters, sizes.Words, sizes.UserWords, st.LoadReport().Skipped())
		}
	}

	sessionPath := filepath.Join(cfg.DataDir(), store.SessionFile)
	if _, err := os.Stat(sessionPath); err == nil {
		if log, err := store.OpenSessionLog(sessionPath, logging.Discard()); err == nil {
			sessions := log.Sessions()
			if n := len(sessions); n > 0 {
				last := sessions[n-1]
				fmt.Fprintf(out, "Sessions: %d (last %s at %s)\n", n, last.SessionID, last.StartedAt.Format("2006-01-02 15:04:05"))
			}
		}
	}

	if !cfg.Archive.Enabled {
		fmt.Fprintln(out, "Archive: disabled")
	} else if _, err := os.Stat(cfg.ArchivePath()); err != nil {
		fmt.Fprintln(out, "Archive: empty")
	} else if a, err := archive.Open(cfg.ArchivePath()); err != nil {
		fmt.Fprintf(out, "Archive: error (%v)\n", err)
	} else {
		defer a.Close()
		snaps, err := a.Snapshots(cmd.Context(), 0)
		if err != nil {
			fmt.Fprintf(out, "Archive: error (%v)\n", err)
		} else {
			fmt.Fprintf(out, "Archive: %d snapshots (schedule %q)\n", len(snaps), cfg.Archive.Schedule)
		}
	}

	return nil
}

func writeIfNotExists(out io.Writer, path, content string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return
		}
		_ = os.WriteFile(path, []byte(content), 0644)
		fmt.Fprintf(out, "  Created: %s\n", path)
	}
}

const defaultDictionary = `# chatcounter dictionary
# One word per line. Lines starting with # are ignored.
# Words already counted keep their classification when this list changes.
`
