package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	// ChannelWhatsApp selects the Twilio WhatsApp transport.
	ChannelWhatsApp = "whatsapp"
	// ChannelTelegram selects the Telegram long-poll transport.
	ChannelTelegram = "telegram"
)

// BotConfig holds the conversational flow settings.
type BotConfig struct {
	// Trigger is the exact phrase (case-insensitive, trimmed) that opens a
	// new ordering session.
	Trigger string `yaml:"trigger" envconfig:"BOT_TRIGGER"`
	// SessionIdleMinutes evicts sessions idle longer than this; 0 disables.
	SessionIdleMinutes int `yaml:"session_idle_minutes" envconfig:"BOT_SESSION_IDLE_MINUTES"`
}

// ItemConfig describes one purchasable catalog entry.
type ItemConfig struct {
	ID    int    `yaml:"id"`
	Name  string `yaml:"name"`
	File  string `yaml:"file"`
	Price int    `yaml:"price"`
}

// PaymentConfig holds PIX destination and proof acceptance settings.
type PaymentConfig struct {
	PixKey string `yaml:"pix_key" envconfig:"PAYMENT_PIX_KEY"`
	// ProofToken is a literal substring expected somewhere in a valid
	// receipt (amount or date fragment).
	ProofToken string `yaml:"proof_token" envconfig:"PAYMENT_PROOF_TOKEN"`
}

// ProofConfig controls payment-proof image handling and text extraction.
type ProofConfig struct {
	TmpDir         string `yaml:"tmp_dir" envconfig:"PROOF_TMP_DIR"`
	Lang           string `yaml:"lang" envconfig:"PROOF_LANG"`
	TesseractBin   string `yaml:"tesseract_bin" envconfig:"PROOF_TESSERACT_BIN"`
	TimeoutSeconds int    `yaml:"timeout_seconds" envconfig:"PROOF_TIMEOUT_SECONDS"`
}

// WhatsAppConfig holds Twilio WhatsApp transport settings.
type WhatsAppConfig struct {
	AccountSID string `yaml:"account_sid" envconfig:"TWILIO_ACCOUNT_SID"`
	AuthToken  string `yaml:"auth_token" envconfig:"TWILIO_AUTH_TOKEN"`
	// From is the Twilio WhatsApp sender, e.g. "whatsapp:+14155238886".
	From string `yaml:"from" envconfig:"TWILIO_WHATSAPP_FROM"`
	// Webhook listener settings.
	Listen    string `yaml:"listen" envconfig:"WHATSAPP_LISTEN"`
	Port      int    `yaml:"port" envconfig:"WHATSAPP_PORT"`
	PublicURL string `yaml:"public_url" envconfig:"WHATSAPP_PUBLIC_URL"`
	// ValidateSignature enables X-Twilio-Signature checks on the webhook.
	ValidateSignature bool `yaml:"validate_signature" envconfig:"WHATSAPP_VALIDATE_SIGNATURE"`
	// MediaBaseURL serves catalog files to Twilio; WhatsApp attachments are
	// sent by URL, so item files must be reachable under this prefix.
	MediaBaseURL string `yaml:"media_base_url" envconfig:"WHATSAPP_MEDIA_BASE_URL"`
}

// TelegramConfig holds Telegram bot transport settings.
type TelegramConfig struct {
	Token                  string `yaml:"token" envconfig:"BOT_TOKEN"`
	LongPollTimeoutSeconds int    `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// SenderConfig tunes the outbound dispatcher.
type SenderConfig struct {
	QueueSize      int `yaml:"queue_size" envconfig:"SENDER_QUEUE_SIZE"`
	Lanes          int `yaml:"lanes" envconfig:"SENDER_LANES"`
	MaxRetries     int `yaml:"max_retries" envconfig:"SENDER_MAX_RETRIES"`
	RetryBackoffMS int `yaml:"retry_backoff_ms" envconfig:"SENDER_RETRY_BACKOFF_MS"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	BotFile     string `yaml:"bot_file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile"`
}

// DatabaseConfig holds order-history database settings. The database is
// optional: with Enabled false completed orders are not persisted.
type DatabaseConfig struct {
	Enabled        bool   `yaml:"enabled" envconfig:"DB_ENABLED"`
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
}

// Config aggregates the full application configuration.
type Config struct {
	Channel  string         `yaml:"channel" envconfig:"BOT_CHANNEL"`
	Bot      BotConfig      `yaml:"bot"`
	Catalog  []ItemConfig   `yaml:"catalog"`
	Payment  PaymentConfig  `yaml:"payment"`
	Proof    ProofConfig    `yaml:"proof"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
	Telegram TelegramConfig `yaml:"telegram"`
	Sender   SenderConfig   `yaml:"sender"`
	Logging  LoggingConfig  `yaml:"logging"`
	Database DatabaseConfig `yaml:"database"`
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize performs basic validation of required configuration fields and adjusts defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	ch := strings.ToLower(strings.TrimSpace(cfg.Channel))
	if ch == "" {
		ch = ChannelWhatsApp
	}
	switch ch {
	case ChannelWhatsApp:
		if strings.TrimSpace(cfg.WhatsApp.AccountSID) == "" {
			return fmt.Errorf("whatsapp.account_sid is required when channel is 'whatsapp'")
		}
		if strings.TrimSpace(cfg.WhatsApp.AuthToken) == "" {
			return fmt.Errorf("whatsapp.auth_token is required when channel is 'whatsapp'")
		}
		if strings.TrimSpace(cfg.WhatsApp.From) == "" {
			return fmt.Errorf("whatsapp.from is required when channel is 'whatsapp'")
		}
		if cfg.WhatsApp.Port <= 0 {
			return fmt.Errorf("whatsapp.port must be > 0 when channel is 'whatsapp'")
		}
	case ChannelTelegram:
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			return fmt.Errorf("telegram.token is required when channel is 'telegram'")
		}
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid channel %q; allowed: whatsapp, telegram", cfg.Channel)
	}
	cfg.Channel = ch

	if strings.TrimSpace(cfg.Bot.Trigger) == "" {
		cfg.Bot.Trigger = "teste"
	}
	if cfg.Bot.SessionIdleMinutes < 0 {
		return fmt.Errorf("bot.session_idle_minutes must be >= 0")
	}

	if len(cfg.Catalog) == 0 {
		return fmt.Errorf("catalog must contain at least one item")
	}
	seenIDs := make(map[int]struct{}, len(cfg.Catalog))
	seenNames := make(map[string]struct{}, len(cfg.Catalog))
	for i, item := range cfg.Catalog {
		if item.ID <= 0 {
			return fmt.Errorf("catalog[%d]: id must be > 0", i)
		}
		if strings.TrimSpace(item.Name) == "" {
			return fmt.Errorf("catalog[%d]: name is required", i)
		}
		if strings.TrimSpace(item.File) == "" {
			return fmt.Errorf("catalog[%d]: file is required", i)
		}
		if item.Price <= 0 {
			return fmt.Errorf("catalog[%d]: price must be > 0", i)
		}
		if _, dup := seenIDs[item.ID]; dup {
			return fmt.Errorf("catalog[%d]: duplicate id %d", i, item.ID)
		}
		lower := strings.ToLower(strings.TrimSpace(item.Name))
		if _, dup := seenNames[lower]; dup {
			return fmt.Errorf("catalog[%d]: duplicate name %q", i, item.Name)
		}
		seenIDs[item.ID] = struct{}{}
		seenNames[lower] = struct{}{}
	}

	if strings.TrimSpace(cfg.Payment.PixKey) == "" {
		return fmt.Errorf("payment.pix_key is required")
	}
	if strings.TrimSpace(cfg.Payment.ProofToken) == "" {
		cfg.Payment.ProofToken = "30"
	}

	if strings.TrimSpace(cfg.Proof.TmpDir) == "" {
		cfg.Proof.TmpDir = "tmp"
	}
	if strings.TrimSpace(cfg.Proof.Lang) == "" {
		cfg.Proof.Lang = "por"
	}
	if strings.TrimSpace(cfg.Proof.TesseractBin) == "" {
		cfg.Proof.TesseractBin = "tesseract"
	}
	if cfg.Proof.TimeoutSeconds <= 0 {
		cfg.Proof.TimeoutSeconds = 60
	}

	if cfg.Database.Enabled {
		if strings.TrimSpace(cfg.Database.Host) == "" {
			return fmt.Errorf("database.host is required when database.enabled")
		}
		if strings.TrimSpace(cfg.Database.Name) == "" {
			return fmt.Errorf("database.name is required when database.enabled")
		}
		if cfg.Database.MaxConnections <= 0 {
			cfg.Database.MaxConnections = 4
		}
		if strings.TrimSpace(cfg.Database.SSLMode) == "" {
			cfg.Database.SSLMode = "disable"
		}
	}

	return nil
}
