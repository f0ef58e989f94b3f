// Package config 依次加载 .env、YAML 配置文件（CONFIG_PATH，默认 config.yaml）与环境变量。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	defaultConfigPath = "config.yaml"
	envConfigPath     = "CONFIG_PATH"
)

// 默认值
const (
	DefaultListenAddr         = ":8080"
	DefaultStatePath          = "netnet-state.json"
	DefaultPollInterval       = 10 * time.Second
	DefaultBackgroundInterval = 60 * time.Second
	DefaultRequestTimeout     = 15 * time.Second
	DefaultPulseDuration      = 1500 * time.Millisecond
	DefaultMaxRetries         = 2
)

type SMTP struct {
	Server   string `yaml:"server" envconfig:"SERVER"`
	Port     int    `yaml:"port" envconfig:"PORT"`
	User     string `yaml:"user" envconfig:"USER"`
	Password string `yaml:"password" envconfig:"PASSWORD"`
	// AuthCode 非空时覆盖 Password（QQ/163 邮箱授权码）
	AuthCode string `yaml:"auth_code" envconfig:"AUTH_CODE"`
	From     string `yaml:"from" envconfig:"FROM"`
	To       string `yaml:"to" envconfig:"TO"`
}

func (s *SMTP) Enabled() bool {
	srv := strings.TrimSpace(s.Server)
	from := strings.TrimSpace(s.From)
	to := strings.TrimSpace(s.To)
	return srv != "" && from != "" && to != ""
}

type Config struct {
	QuotesAPIURL       string        `yaml:"quotes_api_url" envconfig:"QUOTES_API_URL"`
	Dataset            string        `yaml:"dataset" envconfig:"NETNET_DATASET"`
	StatePath          string        `yaml:"state_path" envconfig:"NETNET_STATE_PATH"`
	ListenAddr         string        `yaml:"listen_addr" envconfig:"NETNET_LISTEN_ADDR"`
	PollInterval       time.Duration `yaml:"poll_interval" envconfig:"NETNET_POLL_INTERVAL"`
	BackgroundInterval time.Duration `yaml:"background_interval" envconfig:"NETNET_BACKGROUND_INTERVAL"`
	RequestTimeout     time.Duration `yaml:"request_timeout" envconfig:"NETNET_REQUEST_TIMEOUT"`
	PulseDuration      time.Duration `yaml:"pulse_duration" envconfig:"NETNET_PULSE_DURATION"`
	MaxRetries         int           `yaml:"max_retries" envconfig:"NETNET_MAX_RETRIES"`
	Once               bool          `yaml:"once" envconfig:"NETNET_ONCE"`
	SMTP               SMTP          `yaml:"smtp" envconfig:"SMTP"`
}

func Default() *Config {
	return &Config{
		StatePath:          DefaultStatePath,
		ListenAddr:         DefaultListenAddr,
		PollInterval:       DefaultPollInterval,
		BackgroundInterval: DefaultBackgroundInterval,
		RequestTimeout:     DefaultRequestTimeout,
		PulseDuration:      DefaultPulseDuration,
		MaxRetries:         DefaultMaxRetries,
	}
}

// Load 读取 .env（不存在忽略）后按 LoadFile 的顺序叠加。
func Load() (*Config, error) {
	_ = godotenv.Load()
	path := os.Getenv(envConfigPath)
	if path == "" {
		path = defaultConfigPath
	}
	return LoadFile(path)
}

// LoadFile 默认值 -> YAML 文件（不存在忽略）-> 环境变量。
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("config: env: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	c.QuotesAPIURL = strings.TrimSpace(c.QuotesAPIURL)
	if c.SMTP.AuthCode != "" {
		c.SMTP.Password = c.SMTP.AuthCode
	}
	if c.SMTP.From == "" && c.SMTP.User != "" {
		c.SMTP.From = c.SMTP.User
	}
	d := Default()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.BackgroundInterval <= 0 {
		c.BackgroundInterval = d.BackgroundInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.PulseDuration <= 0 {
		c.PulseDuration = d.PulseDuration
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.ListenAddr == "" {
		c.ListenAddr = d.ListenAddr
	}
}
