package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"badgerline/internal/chat"
	"badgerline/internal/domain"
)

// Config models badger.yml.
type Config struct {
	Companion struct {
		Provider string `yaml:"provider"`
		Model    string `yaml:"model"`
	} `yaml:"companion"`
	Scheduler     Scheduler `yaml:"scheduler"`
	Cadence       Cadence   `yaml:"cadence"`
	Collaborators struct {
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"collaborators"`
	Progress struct {
		Milestones []int `yaml:"milestones"`
	} `yaml:"progress"`
	Chat struct {
		PageLimit  int             `yaml:"page_limit"`
		Engagement chat.Thresholds `yaml:"engagement"`
	} `yaml:"chat"`
	Webhooks []Webhook `yaml:"webhooks"`
	Email    struct {
		Enabled     bool   `yaml:"enabled"`
		FromName    string `yaml:"from_name"`
		FromAddress string `yaml:"from_address"`
	} `yaml:"email"`
	Fitness struct {
		Provider    string        `yaml:"provider"`
		URL         string        `yaml:"url"`
		Org         string        `yaml:"org"`
		Bucket      string        `yaml:"bucket"`
		Measurement string        `yaml:"measurement"`
		Lookback    time.Duration `yaml:"lookback"`
	} `yaml:"fitness"`
	Storage struct {
		Provider string `yaml:"provider"`
		Bucket   string `yaml:"bucket"`
		Region   string `yaml:"region"`
		Endpoint string `yaml:"endpoint"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"storage"`
}

type Scheduler struct {
	ReminderInterval   time.Duration `yaml:"reminder_interval"`
	DeadlineInterval   time.Duration `yaml:"deadline_interval"`
	ExpirationInterval time.Duration `yaml:"expiration_interval"`
	StaleAfter         time.Duration `yaml:"stale_after"`
	DeadlineWindow     time.Duration `yaml:"deadline_window"`
}

// Cadence maps a communication frequency to the minimum quiet time before a
// reminder.
type Cadence struct {
	High   time.Duration `yaml:"high"`
	Medium time.Duration `yaml:"medium"`
	Low    time.Duration `yaml:"low"`
}

func (c Cadence) For(f domain.CommunicationFrequency) time.Duration {
	switch f {
	case domain.FrequencyHigh:
		return c.High
	case domain.FrequencyLow:
		return c.Low
	}
	return c.Medium
}

type Webhook struct {
	URL   string   `yaml:"url"`
	Kinds []string `yaml:"kinds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with badger config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Companion.Provider {
	case "fallback", "openai":
	default:
		return fmt.Errorf("config.companion.provider must be fallback or openai, got %q", c.Companion.Provider)
	}
	if c.Companion.Provider == "openai" && c.Companion.Model == "" {
		return fmt.Errorf("config.companion.model is required for openai")
	}
	for name, d := range map[string]time.Duration{
		"scheduler.reminder_interval":   c.Scheduler.ReminderInterval,
		"scheduler.deadline_interval":   c.Scheduler.DeadlineInterval,
		"scheduler.expiration_interval": c.Scheduler.ExpirationInterval,
		"scheduler.stale_after":         c.Scheduler.StaleAfter,
		"scheduler.deadline_window":     c.Scheduler.DeadlineWindow,
		"cadence.high":                  c.Cadence.High,
		"cadence.medium":                c.Cadence.Medium,
		"cadence.low":                   c.Cadence.Low,
		"collaborators.timeout":         c.Collaborators.Timeout,
	} {
		if d <= 0 {
			return fmt.Errorf("config.%s must be a positive duration", name)
		}
	}
	if c.Cadence.High > c.Cadence.Medium || c.Cadence.Medium > c.Cadence.Low {
		return fmt.Errorf("config.cadence must satisfy high <= medium <= low")
	}
	for _, m := range c.Progress.Milestones {
		if m <= 0 || m > 100 {
			return fmt.Errorf("config.progress.milestones entry %d out of range 1..100", m)
		}
	}
	if c.Chat.PageLimit <= 0 {
		return fmt.Errorf("config.chat.page_limit must be positive")
	}
	if c.Chat.Engagement.Medium <= 0 || c.Chat.Engagement.High < c.Chat.Engagement.Medium {
		return fmt.Errorf("config.chat.engagement must satisfy 0 < medium <= high")
	}
	for i, wh := range c.Webhooks {
		u, err := url.Parse(wh.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config.webhooks[%d].url is not an absolute url", i)
		}
		for _, k := range wh.Kinds {
			if k == "" {
				return fmt.Errorf("config.webhooks[%d] has empty kind", i)
			}
		}
	}
	if c.Email.Enabled && c.Email.FromAddress == "" {
		return fmt.Errorf("config.email.from_address is required when email is enabled")
	}
	switch c.Fitness.Provider {
	case "", "none":
	case "influx":
		if c.Fitness.URL == "" || c.Fitness.Org == "" || c.Fitness.Bucket == "" {
			return fmt.Errorf("config.fitness requires url, org and bucket for influx")
		}
	default:
		return fmt.Errorf("config.fitness.provider must be none or influx, got %q", c.Fitness.Provider)
	}
	switch c.Storage.Provider {
	case "", "none":
	case "s3":
		if c.Storage.Bucket == "" || c.Storage.Region == "" {
			return fmt.Errorf("config.storage requires bucket and region for s3")
		}
	default:
		return fmt.Errorf("config.storage.provider must be none or s3, got %q", c.Storage.Provider)
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "badger.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Fields missing
// from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// YAML renders the effective configuration.
func (c *Config) YAML() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

const defaultTemplate = `companion:
  provider: fallback
  model: gpt-4o-mini

scheduler:
  reminder_interval: 4h
  deadline_interval: 1h
  expiration_interval: 24h
  stale_after: 24h
  deadline_window: 24h

cadence:
  high: 4h
  medium: 12h
  low: 24h

collaborators:
  timeout: 5s

progress:
  milestones: [50, 100]

chat:
  page_limit: 50
  engagement:
    high: 3
    medium: 1

webhooks: []

email:
  enabled: false
  from_name: Badger
  from_address: ""

fitness:
  provider: none
  measurement: activity
  lookback: 168h

storage:
  provider: none
  prefix: deliveries
`
