package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds settings of the Telegram client transport.
// The transport is disabled when Token is empty.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
	// InboundIntervalMS is the minimum gap between two updates of one chat; 0 disables the guard.
	InboundIntervalMS int `yaml:"inbound_interval_ms" envconfig:"TELEGRAM_INBOUND_INTERVAL_MS"`
	MaxReconnects     int `yaml:"max_reconnects" envconfig:"TELEGRAM_MAX_RECONNECTS"`
}

// Enabled reports whether a bot token is configured.
func (c TelegramConfig) Enabled() bool { return strings.TrimSpace(c.Token) != "" }

// WebhookConfig specifies Telegram webhook settings.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// HTTPConfig configures the status and webhook server.
type HTTPConfig struct {
	Listen                 string   `yaml:"listen" envconfig:"HTTP_LISTEN"`
	ReadTimeoutSeconds     int      `yaml:"read_timeout_seconds" envconfig:"HTTP_READ_TIMEOUT_SECONDS"`
	WriteTimeoutSeconds    int      `yaml:"write_timeout_seconds" envconfig:"HTTP_WRITE_TIMEOUT_SECONDS"`
	ShutdownTimeoutSeconds int      `yaml:"shutdown_timeout_seconds" envconfig:"HTTP_SHUTDOWN_TIMEOUT_SECONDS"`
	CORSOrigins            []string `yaml:"cors_origins" envconfig:"HTTP_CORS_ORIGINS"`
}

// MetaConfig holds WhatsApp Cloud API credentials.
type MetaConfig struct {
	AccessToken   string `yaml:"access_token" envconfig:"META_ACCESS_TOKEN"`
	AppID         string `yaml:"app_id" envconfig:"META_APP_ID"`
	AppSecret     string `yaml:"app_secret" envconfig:"META_APP_SECRET"`
	PhoneNumberID string `yaml:"phone_number_id" envconfig:"META_PHONE_NUMBER_ID"`
	APIVersion    string `yaml:"api_version" envconfig:"META_API_VERSION"`
	BaseURL       string `yaml:"base_url" envconfig:"META_BASE_URL"`
	VerifyToken   string `yaml:"verify_token" envconfig:"META_VERIFY_TOKEN"`
}

// Enabled reports whether the Graph transport can send messages.
func (c MetaConfig) Enabled() bool {
	return strings.TrimSpace(c.AccessToken) != "" && strings.TrimSpace(c.PhoneNumberID) != ""
}

// CredentialConfig tunes the access token lifecycle.
type CredentialConfig struct {
	RefreshBufferSeconds   int `yaml:"refresh_buffer_seconds" envconfig:"CREDENTIAL_REFRESH_BUFFER_SECONDS"`
	MonitorIntervalSeconds int `yaml:"monitor_interval_seconds" envconfig:"CREDENTIAL_MONITOR_INTERVAL_SECONDS"`
	TimeoutSeconds         int `yaml:"timeout_seconds" envconfig:"CREDENTIAL_TIMEOUT_SECONDS"`
}

// TwilioConfig holds Twilio WhatsApp sender settings.
type TwilioConfig struct {
	AccountSID        string `yaml:"account_sid" envconfig:"TWILIO_ACCOUNT_SID"`
	AuthToken         string `yaml:"auth_token" envconfig:"TWILIO_AUTH_TOKEN"`
	PhoneNumber       string `yaml:"phone_number" envconfig:"TWILIO_PHONE_NUMBER"`
	BaseURL           string `yaml:"base_url" envconfig:"TWILIO_BASE_URL"`
	ValidateSignature bool   `yaml:"validate_signature" envconfig:"TWILIO_VALIDATE_SIGNATURE"`
	// PublicURL is the externally visible webhook URL used for signature checks.
	PublicURL string `yaml:"public_url" envconfig:"TWILIO_PUBLIC_URL"`
}

// Enabled reports whether Twilio credentials are complete.
func (c TwilioConfig) Enabled() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.PhoneNumber != ""
}

const (
	// GeneratorOpenAI selects an OpenAI compatible chat completion endpoint.
	GeneratorOpenAI = "openai"
	// GeneratorHuggingFace selects a Hugging Face text-generation endpoint.
	GeneratorHuggingFace = "huggingface"
)

// GeneratorConfig configures the text generation backend.
type GeneratorConfig struct {
	Provider       string  `yaml:"provider" envconfig:"GENERATOR_PROVIDER"`
	APIKey         string  `yaml:"api_key" envconfig:"GENERATOR_API_KEY"`
	BaseURL        string  `yaml:"base_url" envconfig:"GENERATOR_BASE_URL"`
	Model          string  `yaml:"model" envconfig:"GENERATOR_MODEL"`
	MaxTokens      int     `yaml:"max_tokens" envconfig:"GENERATOR_MAX_TOKENS"`
	Temperature    float64 `yaml:"temperature" envconfig:"GENERATOR_TEMPERATURE"`
	TimeoutSeconds int     `yaml:"timeout_seconds" envconfig:"GENERATOR_TIMEOUT_SECONDS"`
}

// ConversationConfig selects the conversation flow.
type ConversationConfig struct {
	// TopicMenu enables topic_selection/in_conversation; false collapses them into completed.
	TopicMenu          bool   `yaml:"topic_menu" envconfig:"CONVERSATION_TOPIC_MENU"`
	DefaultCountryCode string `yaml:"default_country_code" envconfig:"CONVERSATION_DEFAULT_COUNTRY_CODE"`
}

// RateLimitConfig holds the outbound send window.
type RateLimitConfig struct {
	WindowMS    int `yaml:"window_ms" envconfig:"RATE_LIMIT_WINDOW_MS"`
	MaxRequests int `yaml:"max_requests" envconfig:"RATE_LIMIT_MAX_REQUESTS"`
}

// OutboundConfig tunes outbound calls and the inbound work queue.
type OutboundConfig struct {
	TimeoutSeconds     int `yaml:"timeout_seconds" envconfig:"OUTBOUND_TIMEOUT_SECONDS"`
	QueueSize          int `yaml:"queue_size" envconfig:"OUTBOUND_QUEUE_SIZE"`
	Workers            int `yaml:"workers" envconfig:"OUTBOUND_WORKERS"`
	MaxRetries         int `yaml:"max_retries" envconfig:"OUTBOUND_MAX_RETRIES"`
	RetryBackoffMS     int `yaml:"retry_backoff_ms" envconfig:"OUTBOUND_RETRY_BACKOFF_MS"`
	MaxDurationSeconds int `yaml:"max_duration_seconds" envconfig:"OUTBOUND_MAX_DURATION_SECONDS"`
}

const (
	// DriverMemory keeps sessions in process memory.
	DriverMemory = "memory"
	// DriverPostgres stores sessions in PostgreSQL.
	DriverPostgres = "postgres"
	// DriverSQLite stores sessions in a local SQLite file.
	DriverSQLite = "sqlite"
)

// DatabaseConfig holds session storage settings.
type DatabaseConfig struct {
	Driver         string `yaml:"driver" envconfig:"DB_DRIVER"`
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	Path           string `yaml:"path" envconfig:"DB_PATH"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
	MigrationsDir  string `yaml:"migrations_dir" envconfig:"DB_MIGRATIONS_DIR"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format      string `yaml:"format" envconfig:"LOG_FORMAT"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir" envconfig:"LOG_DIR"`
	File        string `yaml:"file" envconfig:"LOG_FILE"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

// Config aggregates the application configuration.
type Config struct {
	Telegram     TelegramConfig     `yaml:"telegram"`
	Webhook      WebhookConfig      `yaml:"webhook"`
	HTTP         HTTPConfig         `yaml:"http"`
	Meta         MetaConfig         `yaml:"meta"`
	Credential   CredentialConfig   `yaml:"credential"`
	Twilio       TwilioConfig       `yaml:"twilio"`
	Generator    GeneratorConfig    `yaml:"generator"`
	Conversation ConversationConfig `yaml:"conversation"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Outbound     OutboundConfig     `yaml:"outbound"`
	Database     DatabaseConfig     `yaml:"database"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// Variables already set win, and a missing file is not an error.
func LoadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Load reads configuration from a YAML file and environment variables.
// An empty path skips the file and relies on the environment alone.
func Load(path string) (*Config, error) {
	var cfg Config

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates the configuration and fills defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if err := normalizeTelegram(cfg); err != nil {
		return err
	}

	if cfg.HTTP.Listen == "" {
		cfg.HTTP.Listen = ":3000"
	}
	defaultInt(&cfg.HTTP.ReadTimeoutSeconds, 15)
	defaultInt(&cfg.HTTP.WriteTimeoutSeconds, 60)
	defaultInt(&cfg.HTTP.ShutdownTimeoutSeconds, 10)

	if cfg.Meta.APIVersion == "" {
		cfg.Meta.APIVersion = "v18.0"
	}
	if cfg.Meta.BaseURL == "" {
		cfg.Meta.BaseURL = "https://graph.facebook.com"
	}
	cfg.Meta.BaseURL = strings.TrimRight(cfg.Meta.BaseURL, "/")
	defaultInt(&cfg.Credential.RefreshBufferSeconds, 3600)
	defaultInt(&cfg.Credential.MonitorIntervalSeconds, 1800)
	defaultInt(&cfg.Credential.TimeoutSeconds, 10)

	if cfg.Twilio.BaseURL == "" {
		cfg.Twilio.BaseURL = "https://api.twilio.com"
	}
	cfg.Twilio.PhoneNumber = strings.TrimPrefix(strings.TrimSpace(cfg.Twilio.PhoneNumber), "whatsapp:")
	if cfg.Twilio.ValidateSignature && cfg.Twilio.PublicURL == "" {
		return fmt.Errorf("twilio.public_url is required when twilio.validate_signature is set")
	}

	if err := normalizeGenerator(&cfg.Generator); err != nil {
		return err
	}

	if cfg.Conversation.DefaultCountryCode == "" {
		cfg.Conversation.DefaultCountryCode = "234"
	}
	cfg.Conversation.DefaultCountryCode = strings.TrimPrefix(cfg.Conversation.DefaultCountryCode, "+")

	defaultInt(&cfg.RateLimit.WindowMS, 1000)
	defaultInt(&cfg.RateLimit.MaxRequests, 5)

	defaultInt(&cfg.Outbound.TimeoutSeconds, 10)
	defaultInt(&cfg.Outbound.QueueSize, 256)
	defaultInt(&cfg.Outbound.Workers, 4)
	defaultInt(&cfg.Outbound.RetryBackoffMS, 2000)
	defaultInt(&cfg.Outbound.MaxDurationSeconds, 60)
	if cfg.Outbound.MaxRetries < 0 {
		return fmt.Errorf("outbound.max_retries must be >= 0")
	}

	return normalizeDatabase(&cfg.Database)
}

func normalizeTelegram(cfg *Config) error {
	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" || rm == "polling" {
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if !cfg.Telegram.Enabled() {
			break
		}
		if strings.TrimSpace(cfg.Webhook.URL) == "" {
			return fmt.Errorf("webhook.url is required when telegram.run_mode is 'webhook'")
		}
		if strings.TrimSpace(cfg.Webhook.Listen) == "" {
			return fmt.Errorf("webhook.listen is required when telegram.run_mode is 'webhook'")
		}
		if cfg.Webhook.Port <= 0 {
			return fmt.Errorf("webhook.port must be > 0 when telegram.run_mode is 'webhook'")
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm
	if cfg.Telegram.InboundIntervalMS < 0 {
		return fmt.Errorf("telegram.inbound_interval_ms must be >= 0")
	}
	defaultInt(&cfg.Telegram.MaxReconnects, 5)
	return nil
}

func normalizeGenerator(g *GeneratorConfig) error {
	g.Provider = strings.ToLower(strings.TrimSpace(g.Provider))
	switch g.Provider {
	case "", GeneratorHuggingFace:
		g.Provider = GeneratorHuggingFace
		if g.BaseURL == "" {
			g.BaseURL = "https://api-inference.huggingface.co/models/mistralai/Mistral-7B-Instruct-v0.1"
		}
	case GeneratorOpenAI:
		if g.Model == "" {
			g.Model = "gpt-4o-mini"
		}
	default:
		return fmt.Errorf("invalid generator.provider %q; allowed: huggingface, openai", g.Provider)
	}
	defaultInt(&g.MaxTokens, 200)
	if g.Temperature <= 0 {
		g.Temperature = 0.7
	}
	defaultInt(&g.TimeoutSeconds, 30)
	return nil
}

func normalizeDatabase(db *DatabaseConfig) error {
	db.Driver = strings.ToLower(strings.TrimSpace(db.Driver))
	switch db.Driver {
	case "", DriverMemory:
		db.Driver = DriverMemory
	case "postgresql", DriverPostgres:
		db.Driver = DriverPostgres
		if db.Host == "" {
			return fmt.Errorf("database.host is required for the postgres driver")
		}
		if db.Port == "" {
			db.Port = "5432"
		}
		if db.SSLMode == "" {
			db.SSLMode = "disable"
		}
	case "sqlite3", DriverSQLite:
		db.Driver = DriverSQLite
		if db.Path == "" {
			db.Path = "privybot.db"
		}
	default:
		return fmt.Errorf("invalid database.driver %q; allowed: memory, postgres, sqlite", db.Driver)
	}
	defaultInt(&db.MaxConnections, 10)
	if db.MigrationsDir == "" {
		db.MigrationsDir = "migrations"
	}
	return nil
}

func defaultInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}
