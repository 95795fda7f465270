package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/stellarlinkco/chatcounter/internal/archive"
	"github.com/stellarlinkco/chatcounter/internal/bus"
	"github.com/stellarlinkco/chatcounter/internal/channel"
	"github.com/stellarlinkco/chatcounter/internal/commands"
	"github.com/stellarlinkco/chatcounter/internal/config"
	"github.com/stellarlinkco/chatcounter/internal/cron"
	"github.com/stellarlinkco/chatcounter/internal/dictionary"
	"github.com/stellarlinkco/chatcounter/internal/logging"
	"github.com/stellarlinkco/chatcounter/internal/query"
	"github.com/stellarlinkco/chatcounter/internal/report"
	"github.com/stellarlinkco/chatcounter/internal/store"
)

const (
	snapshotJobName       = "nightly-snapshot"
	defaultRetryDelay     = 200 * time.Millisecond
	defaultReportDeadline = 10 * time.Second
)

// Options for creating a Gateway
type Options struct {
	SignalChan chan os.Signal // for testing signal handling
	Logger     *slog.Logger
	// Oracle replaces the dictionary file named in the config.
	Oracle store.Classifier
}

type Gateway struct {
	cfg      *config.Config
	logger   *slog.Logger
	bus      *bus.MessageBus
	store    *store.Store
	session  store.Session
	engine   *query.Engine
	router   *commands.Router
	names    *nameBook
	channels *channel.ChannelManager
	cron     *cron.Service
	archive  *archive.Archive

	signalChan     chan os.Signal // for testing
	retryDelay     time.Duration
	reportDeadline time.Duration
	stopOnce       sync.Once
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	}

	g := &Gateway{
		cfg:        cfg,
		logger:     logger,
		names:      newNameBook(),
		signalChan:     opts.SignalChan,
		retryDelay:     defaultRetryDelay,
		reportDeadline: defaultReportDeadline,
	}

	g.bus = bus.NewMessageBus(config.DefaultBufSize)
	g.bus.SetLogger(logger)

	oracle := opts.Oracle
	if oracle == nil {
		dict, err := dictionary.Load(cfg.DictionaryPath())
		if err != nil {
			return nil, fmt.Errorf("load dictionary: %w", err)
		}
		if dict.Len() == 0 {
			logger.Warn("gateway: dictionary is empty, every new word counts as non-dictionary", "path", cfg.DictionaryPath())
		} else {
			logger.Info("gateway: dictionary loaded", "words", dict.Len())
		}
		oracle = dict
	}

	dataDir := cfg.DataDir()
	st, err := store.Open(store.DefaultPaths(dataDir), oracle, store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	g.store = st
	sizes := st.Sizes()
	logger.Info("gateway: store loaded", "dir", dataDir,
		"counters", sizes.Counters, "words", sizes.Words, "skipped", st.LoadReport().Skipped())

	sessions, err := store.OpenSessionLog(filepath.Join(dataDir, store.SessionFile), logger)
	if err != nil {
		return nil, fmt.Errorf("open session log: %w", err)
	}
	if g.session, err = sessions.Begin(time.Now()); err != nil {
		return nil, fmt.Errorf("record session: %w", err)
	}
	logger.Info("gateway: session started", "session", g.session.SessionID)

	g.engine = query.NewEngine(st)
	g.router = commands.NewRouter(g.engine, cfg.Commands.Prefix,
		commands.WithNamer(g.names.Name),
		commands.WithLogger(logger))

	if cfg.Archive.Enabled {
		a, err := archive.Open(cfg.ArchivePath())
		if err != nil {
			return nil, fmt.Errorf("open archive: %w", err)
		}
		g.archive = a
	}

	// Cron
	g.cron = cron.NewService(config.CronStorePath())
	g.cron.SetLogger(logger)
	g.cron.OnJob = g.runJob

	// Channels (with gateway config for WebUI port)
	chMgr, err := channel.NewChannelManagerWithGateway(cfg.Channels, cfg.Gateway, g.bus)
	if err != nil {
		g.closeArchive()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	chMgr.SetLogger(logger)
	g.channels = chMgr

	return g, nil
}

// Accept reports whether a message is counted: bot authors and messages
// outside any community are dropped before counting or command handling.
func Accept(msg bus.InboundMessage) bool {
	return !msg.IsBot && msg.CommunityID != ""
}

// runJob executes a scheduled job.
func (g *Gateway) runJob(job cron.CronJob) (string, error) {
	switch job.Payload.Action {
	case cron.ActionSnapshot:
		if g.archive == nil {
			return "", fmt.Errorf("archive is disabled")
		}
		info, err := g.archive.Snapshot(context.Background(), g.store.MessageCounters())
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("snapshot %d stored %d counters", info.ID, info.Rows), nil

	case cron.ActionReport:
		content, err := g.renderReport(job.Payload)
		if err != nil {
			return "", err
		}
		ctx, cancel := context.WithTimeout(context.Background(), g.reportDeadline)
		defer cancel()
		err = g.bus.PublishOutbound(ctx, bus.OutboundMessage{
			Channel: job.Payload.Channel,
			ChatID:  job.Payload.To,
			Content: content,
		})
		if err != nil {
			return "", fmt.Errorf("queue report: %w", err)
		}
		return content, nil
	}
	return "", fmt.Errorf("unknown job action %q", job.Payload.Action)
}

func (g *Gateway) renderReport(p cron.Payload) (string, error) {
	token := p.Scope
	if token == "" && p.CommunityID != "" {
		token = "guild"
	}
	scope, err := query.ParseScope(token, p.CommunityID, "")
	if err != nil {
		return "", err
	}

	switch p.Report {
	case "", "leaderboard":
		lb, err := g.engine.Leaderboard(scope)
		if err != nil {
			return "", err
		}
		return report.Leaderboard(lb, g.names.Name), nil
	case "topwords", "topdict":
		filter := query.AllWords
		if p.Report == "topdict" {
			filter = query.DictOnly
		}
		list, err := g.engine.TopWords(scope, filter)
		if err != nil {
			return "", err
		}
		return report.TopWords(list), nil
	}
	return "", fmt.Errorf("unknown report %q", p.Report)
}

func (g *Gateway) ensureSnapshotJob() error {
	if g.archive == nil {
		return nil
	}
	if _, ok := g.cron.FindJob(snapshotJobName); ok {
		return nil
	}
	_, err := g.cron.AddJob(snapshotJobName,
		cron.Schedule{Kind: cron.KindCron, Expr: g.cfg.Archive.Schedule},
		cron.Payload{Action: cron.ActionSnapshot})
	return err
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	g.logger.Info("gateway: channels started", "channels", g.channels.EnabledChannels())

	if err := g.cron.Start(ctx); err != nil {
		g.logger.Warn("gateway: cron start failed", "error", err)
	}
	if err := g.ensureSnapshotJob(); err != nil {
		g.logger.Warn("gateway: ensure snapshot job failed", "error", err)
	}

	loopErr := make(chan error, 1)
	go func() {
		loopErr <- g.processLoop(ctx)
	}()

	g.logger.Info("gateway: running", "session", g.session.SessionID, "prefix", g.router.Prefix())

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}

	select {
	case <-sigCh:
	case <-ctx.Done():
	case err := <-loopErr:
		if err != nil {
			g.logger.Error("gateway: message loop stopped", "error", err)
			cancel()
			_ = g.Shutdown()
			return err
		}
	}

	g.logger.Info("gateway: shutting down")
	return g.Shutdown()
}

// processLoop handles inbound messages one at a time. It returns an error
// only when the store can no longer be persisted.
func (g *Gateway) processLoop(ctx context.Context) error {
	for {
		select {
		case msg := <-g.bus.Inbound:
			if err := g.handleInbound(ctx, msg); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (g *Gateway) handleInbound(ctx context.Context, msg bus.InboundMessage) error {
	if !Accept(msg) {
		g.logger.Debug("gateway: dropped message", "channel", msg.Channel, "sender", msg.SenderID,
			"bot", msg.IsBot, "community", msg.CommunityID)
		return nil
	}
	g.logger.Log(ctx, logging.LevelTrace, "gateway: inbound", "channel", msg.Channel,
		"sender", msg.SenderID, "community", msg.CommunityID, "content", truncate(msg.Content, 80))

	g.names.Observe(msg.SenderID, msg.SenderName)

	if err := g.store.Ingest(msg.SenderID, msg.CommunityID, msg.Content); err != nil {
		if !errors.Is(err, store.ErrPersistence) {
			g.logger.Warn("gateway: ingest rejected", "sender", msg.SenderID, "error", err)
			return nil
		}
		if err := g.recoverPersistence(ctx, err); err != nil {
			return err
		}
	}

	reply, handled := g.router.Handle(commands.Request{
		Session:     msg.SessionKey(),
		UserID:      msg.SenderID,
		CommunityID: msg.CommunityID,
		Text:        msg.Content,
	})
	if !handled || reply == "" {
		return nil
	}
	err := g.bus.PublishOutbound(ctx, bus.OutboundMessage{
		Channel:  msg.Channel,
		ChatID:   msg.ChatID,
		Content:  reply,
		Metadata: msg.Metadata,
	})
	if err != nil {
		g.logger.Warn("gateway: reply dropped", "channel", msg.Channel, "error", err)
	}
	return nil
}

// recoverPersistence retries the table rewrite with growing delays. Memory
// already holds the message, so only Flush is retried.
func (g *Gateway) recoverPersistence(ctx context.Context, cause error) error {
	retries := g.cfg.Gateway.FlushRetries
	if retries <= 0 {
		retries = config.DefaultFlushRetries
	}
	g.logger.Error("gateway: persisting tables failed", "error", cause)

	err := cause
	for attempt := 1; attempt <= retries; attempt++ {
		select {
		case <-time.After(g.retryDelay * time.Duration(attempt)):
		case <-ctx.Done():
			return fmt.Errorf("persistence retry aborted: %w", err)
		}
		if err = g.store.Flush(); err == nil {
			g.logger.Info("gateway: tables persisted after retry", "attempt", attempt)
			return nil
		}
		g.logger.Warn("gateway: flush retry failed", "attempt", attempt, "error", err)
	}
	return fmt.Errorf("tables not persisted after %d retries: %w", retries, err)
}

func (g *Gateway) closeArchive() {
	if g.archive == nil {
		return
	}
	if err := g.archive.Close(); err != nil {
		g.logger.Warn("gateway: close archive failed", "error", err)
	}
}

func (g *Gateway) Shutdown() error {
	var err error
	g.stopOnce.Do(func() {
		g.cron.Stop()
		_ = g.channels.StopAll()
		if ferr := g.store.Flush(); ferr != nil {
			g.logger.Error("gateway: final flush failed", "error", ferr)
			err = ferr
		}
		g.closeArchive()
		g.logger.Info("gateway: shutdown complete")
	})
	return err
}

// truncate keeps at most n runes of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
