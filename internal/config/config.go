package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultHost             = "0.0.0.0"
	DefaultPort             = 18790
	DefaultBufSize          = 100
	DefaultCommandPrefix    = "!"
	DefaultSnapshotSchedule = "0 0 3 * * *"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
	DefaultAMQPQueue        = "chatcounter.inbound"
	DefaultAMQPReplyQueue   = "chatcounter.outbound"
	DefaultAMQPPrefetch     = 10
	DefaultFlushRetries     = 3
)

type Config struct {
	Data     DataConfig     `json:"data" yaml:"data"`
	Channels ChannelsConfig `json:"channels" yaml:"channels"`
	Gateway  GatewayConfig  `json:"gateway" yaml:"gateway"`
	Commands CommandsConfig `json:"commands" yaml:"commands"`
	Archive  ArchiveConfig  `json:"archive" yaml:"archive"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
}

// DataConfig locates the CSV tables and the dictionary word list.
type DataConfig struct {
	Dir        string `json:"dir,omitempty" yaml:"dir,omitempty"`
	Dictionary string `json:"dictionary,omitempty" yaml:"dictionary,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	Discord  DiscordConfig  `json:"discord" yaml:"discord"`
	WhatsApp WhatsAppConfig `json:"whatsapp" yaml:"whatsapp"`
	WebUI    WebUIConfig    `json:"webui" yaml:"webui"`
	AMQP     AMQPConfig     `json:"amqp" yaml:"amqp"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	Token     string   `json:"token" yaml:"token"`
	AllowFrom []string `json:"allowFrom" yaml:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty" yaml:"proxy,omitempty"`
}

type DiscordConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	Token     string   `json:"token" yaml:"token"`
	AllowFrom []string `json:"allowFrom" yaml:"allowFrom"`
}

type WhatsAppConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	JID       string   `json:"jid,omitempty" yaml:"jid,omitempty"`
	StorePath string   `json:"storePath,omitempty" yaml:"storePath,omitempty"`
	AllowFrom []string `json:"allowFrom" yaml:"allowFrom"`
}

type WebUIConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	AllowFrom []string `json:"allowFrom" yaml:"allowFrom"`
}

// AMQPConfig connects the broker channel. Messages are consumed from Queue
// and replies published to ReplyQueue unless the message names its own.
type AMQPConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	URL        string   `json:"url" yaml:"url"`
	Queue      string   `json:"queue,omitempty" yaml:"queue,omitempty"`
	ReplyQueue string   `json:"replyQueue,omitempty" yaml:"replyQueue,omitempty"`
	Prefetch   int      `json:"prefetch,omitempty" yaml:"prefetch,omitempty"`
	AllowFrom  []string `json:"allowFrom" yaml:"allowFrom"`
}

type GatewayConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	FlushRetries int    `json:"flushRetries,omitempty" yaml:"flushRetries,omitempty"`
}

type CommandsConfig struct {
	Prefix string `json:"prefix" yaml:"prefix"`
}

// ArchiveConfig controls the SQLite snapshot history.
type ArchiveConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Path     string `json:"path,omitempty" yaml:"path,omitempty"`
	Schedule string `json:"schedule,omitempty" yaml:"schedule,omitempty"`
}

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Channels: ChannelsConfig{
			AMQP: AMQPConfig{
				Queue:      DefaultAMQPQueue,
				ReplyQueue: DefaultAMQPReplyQueue,
				Prefetch:   DefaultAMQPPrefetch,
			},
		},
		Gateway: GatewayConfig{
			Host:         DefaultHost,
			Port:         DefaultPort,
			FlushRetries: DefaultFlushRetries,
		},
		Commands: CommandsConfig{Prefix: DefaultCommandPrefix},
		Archive: ArchiveConfig{
			Enabled:  true,
			Schedule: DefaultSnapshotSchedule,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".chatcounter")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// DataDir returns the directory holding the CSV tables.
func (c *Config) DataDir() string {
	if dir := strings.TrimSpace(c.Data.Dir); dir != "" {
		return dir
	}
	return filepath.Join(ConfigDir(), "db")
}

// DictionaryPath returns the word list file, one word per line.
func (c *Config) DictionaryPath() string {
	if p := strings.TrimSpace(c.Data.Dictionary); p != "" {
		return p
	}
	return filepath.Join(ConfigDir(), "dictionary.txt")
}

// ArchivePath returns the SQLite snapshot database file.
func (c *Config) ArchivePath() string {
	if p := strings.TrimSpace(c.Archive.Path); p != "" {
		return p
	}
	return filepath.Join(ConfigDir(), "data", "archive.db")
}

// CronStorePath returns the scheduled jobs file.
func CronStorePath() string {
	return filepath.Join(ConfigDir(), "data", "cron", "jobs.json")
}

// configFile returns the first config file present: config.json, then
// config.yaml, then config.yml. It returns "" when none exists.
func configFile() (string, error) {
	for _, name := range []string{"config.json", "config.yaml", "config.yml"} {
		path := filepath.Join(ConfigDir(), name)
		_, err := os.Stat(path)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat config: %w", err)
		}
	}
	return "", nil
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	path, err := configFile()
	if err != nil {
		return nil, err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		switch filepath.Ext(path) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, cfg)
		default:
			err = json.Unmarshal(data, cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("parse config %s: %w", filepath.Base(path), err)
		}
	}

	// Environment variable overrides
	if dir := os.Getenv("CHATCOUNTER_DATA_DIR"); dir != "" {
		cfg.Data.Dir = dir
	}
	if dict := os.Getenv("CHATCOUNTER_DICTIONARY"); dict != "" {
		cfg.Data.Dictionary = dict
	}
	if token := os.Getenv("CHATCOUNTER_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if token := os.Getenv("CHATCOUNTER_DISCORD_TOKEN"); token != "" {
		cfg.Channels.Discord.Token = token
	}
	if token := os.Getenv("DISCORD_TOKEN"); token != "" && cfg.Channels.Discord.Token == "" {
		cfg.Channels.Discord.Token = token
	}
	if url := os.Getenv("CHATCOUNTER_AMQP_URL"); url != "" {
		cfg.Channels.AMQP.URL = url
	}
	if prefix := os.Getenv("CHATCOUNTER_COMMAND_PREFIX"); prefix != "" {
		cfg.Commands.Prefix = prefix
	}
	if enabled := os.Getenv("CHATCOUNTER_ARCHIVE_ENABLED"); enabled != "" {
		if parsed, err := strconv.ParseBool(enabled); err == nil {
			cfg.Archive.Enabled = parsed
		}
	}
	if path := os.Getenv("CHATCOUNTER_ARCHIVE_PATH"); path != "" {
		cfg.Archive.Path = path
	}
	if level := os.Getenv("CHATCOUNTER_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("CHATCOUNTER_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	if cfg.Commands.Prefix == "" {
		cfg.Commands.Prefix = DefaultCommandPrefix
	}
	if cfg.Archive.Schedule == "" {
		cfg.Archive.Schedule = DefaultSnapshotSchedule
	}
	if cfg.Gateway.FlushRetries <= 0 {
		cfg.Gateway.FlushRetries = DefaultFlushRetries
	}
	if cfg.Channels.AMQP.Queue == "" {
		cfg.Channels.AMQP.Queue = DefaultAMQPQueue
	}
	if cfg.Channels.AMQP.ReplyQueue == "" {
		cfg.Channels.AMQP.ReplyQueue = DefaultAMQPReplyQueue
	}
	if cfg.Channels.AMQP.Prefetch <= 0 {
		cfg.Channels.AMQP.Prefetch = DefaultAMQPPrefetch
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
