package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadYAMLWithEnvOverlay(t *testing.T) {
	path := writeFile(t, "config.yaml", `
meta:
  access_token: from-file
  phone_number_id: "1234"
conversation:
  topic_menu: true
database:
  driver: sqlite
  path: test.db
`)
	t.Setenv("META_ACCESS_TOKEN", "from-env")
	t.Setenv("RATE_LIMIT_MAX_REQUESTS", "9")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Meta.AccessToken != "from-env" {
		t.Fatalf("access token = %q, env should win", cfg.Meta.AccessToken)
	}
	if !cfg.Meta.Enabled() {
		t.Fatal("meta transport should be enabled")
	}
	if !cfg.Conversation.TopicMenu {
		t.Fatal("topic menu flag lost")
	}
	if cfg.RateLimit.MaxRequests != 9 || cfg.RateLimit.WindowMS != 1000 {
		t.Fatalf("rate limit = %+v", cfg.RateLimit)
	}
	if cfg.Database.Driver != DriverSQLite || cfg.Database.Path != "test.db" {
		t.Fatalf("database = %+v", cfg.Database)
	}
}

func TestNormalizeDefaults(t *testing.T) {
	cfg := &Config{}
	if err := Normalize(cfg); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if cfg.Telegram.RunMode != RunModeLongpoll {
		t.Errorf("run mode = %q", cfg.Telegram.RunMode)
	}
	if cfg.Credential.RefreshBufferSeconds != 3600 || cfg.Credential.MonitorIntervalSeconds != 1800 {
		t.Errorf("credential = %+v", cfg.Credential)
	}
	if cfg.Meta.APIVersion != "v18.0" || cfg.Meta.BaseURL != "https://graph.facebook.com" {
		t.Errorf("meta = %+v", cfg.Meta)
	}
	if cfg.Generator.Provider != GeneratorHuggingFace || cfg.Generator.MaxTokens != 200 {
		t.Errorf("generator = %+v", cfg.Generator)
	}
	if cfg.Database.Driver != DriverMemory {
		t.Errorf("driver = %q", cfg.Database.Driver)
	}
	if cfg.Conversation.DefaultCountryCode != "234" {
		t.Errorf("country code = %q", cfg.Conversation.DefaultCountryCode)
	}
	if cfg.Telegram.Enabled() || cfg.Twilio.Enabled() || cfg.Meta.Enabled() {
		t.Error("no transport should be enabled without credentials")
	}
}

func TestNormalizeRejectsInvalidValues(t *testing.T) {
	cases := map[string]Config{
		"run mode":  {Telegram: TelegramConfig{RunMode: "push"}},
		"driver":    {Database: DatabaseConfig{Driver: "mongo"}},
		"postgres":  {Database: DatabaseConfig{Driver: "postgres"}},
		"generator": {Generator: GeneratorConfig{Provider: "markov"}},
		"webhook":   {Telegram: TelegramConfig{Token: "1:x", RunMode: "webhook"}},
		"twilio":    {Twilio: TwilioConfig{ValidateSignature: true}},
	}
	for name, cfg := range cases {
		cfg := cfg
		if err := Normalize(&cfg); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := writeFile(t, ".env", "PRIVYBOT_TEST_VALUE=dotenv\n")
	t.Setenv("PRIVYBOT_TEST_VALUE", "")
	os.Unsetenv("PRIVYBOT_TEST_VALUE")

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	if got := os.Getenv("PRIVYBOT_TEST_VALUE"); got != "dotenv" {
		t.Fatalf("value = %q", got)
	}
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}
}

func TestTwilioNumberPrefixStripped(t *testing.T) {
	cfg := &Config{Twilio: TwilioConfig{PhoneNumber: " whatsapp:+14155238886 "}}
	if err := Normalize(cfg); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !strings.HasPrefix(cfg.Twilio.PhoneNumber, "+1415") {
		t.Fatalf("phone = %q", cfg.Twilio.PhoneNumber)
	}
}
