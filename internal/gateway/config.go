package gateway

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for nexus-guard.
type Config struct {
	Telegram   TelegramConfig   `json:"telegram" yaml:"telegram"`
	Discord    DiscordConfig    `json:"discord" yaml:"discord"`
	Email      EmailConfig      `json:"email" yaml:"email"`
	Classifier ClassifierConfig `json:"classifier" yaml:"classifier"`
	Triage     TriageConfig     `json:"triage" yaml:"triage"`
	Alerts     AlertsConfig     `json:"alerts" yaml:"alerts"`
	Bus        BusConfig        `json:"bus" yaml:"bus"`
	Feed       FeedConfig       `json:"feed" yaml:"feed"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Heartbeat  HeartbeatConfig  `json:"heartbeat" yaml:"heartbeat"`
}

// TelegramConfig holds the chat bot credentials.
type TelegramConfig struct {
	Token          string  `json:"token" yaml:"token"`
	AlertChatID    int64   `json:"alert_chat_id" yaml:"alert_chat_id"` // Where alerts are sent
	AllowedChatIDs []int64 `json:"allowed_chat_ids" yaml:"allowed_chat_ids"`
}

// DiscordConfig holds Discord bot configuration.
type DiscordConfig struct {
	Token             string   `json:"token" yaml:"token"`
	ChannelID         string   `json:"channel_id" yaml:"channel_id"`             // Ingest only from this channel when set
	AlertChannelID    string   `json:"alert_channel_id" yaml:"alert_channel_id"` // Where alerts are posted
	AllowedGuildIDs   []string `json:"allowed_guild_ids" yaml:"allowed_guild_ids"`
	AllowedChannelIDs []string `json:"allowed_channel_ids" yaml:"allowed_channel_ids"`
	AllowedUserIDs    []string `json:"allowed_user_ids" yaml:"allowed_user_ids"`
}

// EmailConfig holds the mailbox account, polled over IMAP and also used to
// send alert emails over SMTP.
type EmailConfig struct {
	Address         string `json:"address" yaml:"address"`
	Password        string `json:"password" yaml:"password"`
	IMAPHost        string `json:"imap_host" yaml:"imap_host"`
	IMAPPort        int    `json:"imap_port" yaml:"imap_port"`
	Mailbox         string `json:"mailbox" yaml:"mailbox"`
	PollInterval    string `json:"poll_interval" yaml:"poll_interval"` // Go duration, default "5s"
	MaxPollFailures int    `json:"max_poll_failures" yaml:"max_poll_failures"`
	SMTPHost        string `json:"smtp_host" yaml:"smtp_host"`
	SMTPPort        int    `json:"smtp_port" yaml:"smtp_port"`
	AlertTo         string `json:"alert_to" yaml:"alert_to"`
}

// ClassifierConfig points at the classification service.
type ClassifierConfig struct {
	TextURL     string `json:"text_url" yaml:"text_url"`
	AudioURL    string `json:"audio_url" yaml:"audio_url"`
	ImageURL    string `json:"image_url" yaml:"image_url"`
	VideoURL    string `json:"video_url" yaml:"video_url"`
	TextBackend string `json:"text_backend" yaml:"text_backend"` // "http" or "openai"
	OpenAIKey   string `json:"openai_api_key" yaml:"openai_api_key"`
	OpenAIURL   string `json:"openai_base_url" yaml:"openai_base_url"`
	OpenAIModel string `json:"openai_model" yaml:"openai_model"`
	Timeout     string `json:"timeout" yaml:"timeout"`
}

type TriageConfig struct {
	Interval   string `json:"interval" yaml:"interval"`
	Workers    int    `json:"workers" yaml:"workers"`
	FailClosed bool   `json:"fail_closed" yaml:"fail_closed"`
}

type AlertsConfig struct {
	Desktop     bool   `json:"desktop" yaml:"desktop"`
	SinkTimeout string `json:"sink_timeout" yaml:"sink_timeout"`
}

// BusConfig enables the AMQP alert sink when URL is set.
type BusConfig struct {
	URL      string `json:"url" yaml:"url"`
	Exchange string `json:"exchange" yaml:"exchange"`
}

type FeedConfig struct {
	Addr    string `json:"addr" yaml:"addr"`
	Refresh string `json:"refresh" yaml:"refresh"`
	Limit   int    `json:"limit" yaml:"limit"`
}

type StorageConfig struct {
	TempRoot  string `json:"temp_root" yaml:"temp_root"`
	Retention string `json:"retention" yaml:"retention"` // "keep" or "delete"
}

// HeartbeatConfig controls the periodic pipeline status line.
type HeartbeatConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Interval string `json:"interval" yaml:"interval"`
}

// DefaultConfig returns the defaults used when neither file nor environment
// say otherwise.
func DefaultConfig() *Config {
	return &Config{
		Email: EmailConfig{
			IMAPHost:     "imap.gmail.com",
			IMAPPort:     993,
			Mailbox:      "INBOX",
			PollInterval: "5s",
			SMTPHost:     "smtp.gmail.com",
			SMTPPort:     587,
		},
		Classifier: ClassifierConfig{
			TextURL:     "http://127.0.0.1:5000/predict-text",
			AudioURL:    "http://127.0.0.1:5000/predict-audio",
			ImageURL:    "http://127.0.0.1:5000/predict-image",
			VideoURL:    "http://127.0.0.1:5000/predict-video",
			TextBackend: "http",
			Timeout:     "30s",
		},
		Triage: TriageConfig{
			Interval: "2s",
			Workers:  1,
		},
		Alerts: AlertsConfig{
			Desktop:     true,
			SinkTimeout: "15s",
		},
		Bus: BusConfig{
			Exchange: "nexusguard.alerts",
		},
		Feed: FeedConfig{
			Addr:    ":8050",
			Refresh: "2s",
			Limit:   15,
		},
		Storage: StorageConfig{
			TempRoot:  "temp",
			Retention: "keep",
		},
		Heartbeat: HeartbeatConfig{
			Enabled:  true,
			Interval: "1m",
		},
	}
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".nexus-guard", "config.yaml")
}

// LoadConfig builds the configuration from defaults, the optional file at
// path (YAML or JSON), a .env file in the working directory and finally the
// process environment. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read config %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config %s", path)
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "failed to load .env")
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects option values that would otherwise be silently ignored.
func (c *Config) Validate() error {
	switch c.Storage.Retention {
	case "", "keep", "delete":
	default:
		return errors.Errorf("invalid payload retention %q (want keep or delete)", c.Storage.Retention)
	}
	switch c.Classifier.TextBackend {
	case "", "http":
	case "openai":
		if c.Classifier.OpenAIKey == "" {
			return errors.New("text backend openai requires OPENAI_API_KEY")
		}
	default:
		return errors.Errorf("invalid text backend %q (want http or openai)", c.Classifier.TextBackend)
	}
	if c.Triage.Workers < 0 {
		return errors.Errorf("invalid triage workers %d", c.Triage.Workers)
	}
	if c.Email.MaxPollFailures < 0 {
		return errors.Errorf("invalid max_poll_failures %d", c.Email.MaxPollFailures)
	}
	return nil
}

// applyEnv overlays environment variables onto cfg.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var firstErr error
	num := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "invalid %s", key)
			}
			return
		}
		*dst = n
	}
	flag := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "invalid %s", key)
			}
			return
		}
		*dst = b
	}

	str("TELEGRAM_BOT_TOKEN", &cfg.Telegram.Token)
	if v, ok := lookup("TELEGRAM_CHAT_ID"); ok && v != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return errors.Wrap(err, "invalid TELEGRAM_CHAT_ID")
		}
		cfg.Telegram.AlertChatID = id
	}

	str("DISCORD_TOKEN", &cfg.Discord.Token)
	str("DISCORD_CHANNEL_ID", &cfg.Discord.ChannelID)
	str("DISCORD_ALERT_CHANNEL_ID", &cfg.Discord.AlertChannelID)

	str("EMAIL_ADDRESS", &cfg.Email.Address)
	str("EMAIL_PASSWORD", &cfg.Email.Password)
	str("IMAP_HOST", &cfg.Email.IMAPHost)
	str("SMTP_SERVER", &cfg.Email.SMTPHost)
	num("SMTP_PORT", &cfg.Email.SMTPPort)
	str("ALERT_EMAIL_TO", &cfg.Email.AlertTo)

	str("TEXT_API_URL", &cfg.Classifier.TextURL)
	str("AUDIO_API_URL", &cfg.Classifier.AudioURL)
	str("IMAGE_API_URL", &cfg.Classifier.ImageURL)
	str("VIDEO_API_URL", &cfg.Classifier.VideoURL)
	str("TEXT_BACKEND", &cfg.Classifier.TextBackend)
	str("OPENAI_API_KEY", &cfg.Classifier.OpenAIKey)
	str("OPENAI_MODEL", &cfg.Classifier.OpenAIModel)

	str("TRIAGE_INTERVAL", &cfg.Triage.Interval)
	num("TRIAGE_WORKERS", &cfg.Triage.Workers)
	flag("DESKTOP_NOTIFY", &cfg.Alerts.Desktop)

	str("AMQP_URL", &cfg.Bus.URL)
	str("AMQP_EXCHANGE", &cfg.Bus.Exchange)
	str("FEED_ADDR", &cfg.Feed.Addr)
	str("TEMP_ROOT", &cfg.Storage.TempRoot)
	str("PAYLOAD_RETENTION", &cfg.Storage.Retention)

	return firstErr
}

// Channels lists the inbound channels that have credentials.
func (c *Config) Channels() []string {
	var out []string
	if c.Telegram.Token != "" {
		out = append(out, "telegram")
	}
	if c.Discord.Token != "" {
		out = append(out, "discord")
	}
	if c.Email.Address != "" && c.Email.Password != "" {
		out = append(out, "mailbox")
	}
	return out
}

// duration parses a Go duration string, falling back to def when it is
// empty, malformed or not positive.
func duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
