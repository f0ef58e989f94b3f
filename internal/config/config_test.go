package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"QUOTES_API_URL", "NETNET_DATASET", "NETNET_STATE_PATH", "NETNET_LISTEN_ADDR",
		"NETNET_POLL_INTERVAL", "NETNET_BACKGROUND_INTERVAL", "NETNET_REQUEST_TIMEOUT",
		"NETNET_PULSE_DURATION", "NETNET_MAX_RETRIES", "NETNET_ONCE",
		"SMTP_SERVER", "SMTP_PORT", "SMTP_USER", "SMTP_PASSWORD", "SMTP_AUTH_CODE", "SMTP_FROM", "SMTP_TO",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.PollInterval != 10*time.Second || cfg.BackgroundInterval != time.Minute {
		t.Errorf("intervals = %v / %v", cfg.PollInterval, cfg.BackgroundInterval)
	}
	if cfg.RequestTimeout != 15*time.Second || cfg.PulseDuration != 1500*time.Millisecond {
		t.Errorf("timeout/pulse = %v / %v", cfg.RequestTimeout, cfg.PulseDuration)
	}
	if cfg.MaxRetries != DefaultMaxRetries || cfg.ListenAddr != DefaultListenAddr || cfg.QuotesAPIURL != "" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.SMTP.Enabled() {
		t.Error("smtp enabled without config")
	}
}

func TestFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
quotes_api_url: " https://example.com/api/quotes "
poll_interval: 5s
background_interval: 2m
smtp:
  server: smtp.qq.com
  port: 465
  user: me@qq.com
  password: secret
  to: you@example.com
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("NETNET_POLL_INTERVAL", "3s")
	t.Setenv("SMTP_AUTH_CODE", "authcode")
	t.Setenv("NETNET_ONCE", "1")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.QuotesAPIURL != "https://example.com/api/quotes" {
		t.Errorf("url = %q", cfg.QuotesAPIURL)
	}
	if cfg.PollInterval != 3*time.Second {
		t.Errorf("env should override file: %v", cfg.PollInterval)
	}
	if cfg.BackgroundInterval != 2*time.Minute {
		t.Errorf("background = %v", cfg.BackgroundInterval)
	}
	if !cfg.Once {
		t.Error("NETNET_ONCE=1 not honoured")
	}
	if cfg.SMTP.Password != "authcode" {
		t.Errorf("auth code should override password, got %q", cfg.SMTP.Password)
	}
	if cfg.SMTP.From != "me@qq.com" || !cfg.SMTP.Enabled() {
		t.Errorf("smtp = %+v", cfg.SMTP)
	}
}

func TestBadFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("poll_interval: [1, 2"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestNonPositiveIntervalsFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("NETNET_POLL_INTERVAL", "0s")
	t.Setenv("NETNET_MAX_RETRIES", "-3")
	cfg, err := LoadFile("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.PollInterval != DefaultPollInterval || cfg.MaxRetries != 0 {
		t.Errorf("cfg = %+v", cfg)
	}
}
