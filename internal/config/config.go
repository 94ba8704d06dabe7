package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const FileName = "leadboard.yml"

// Config models leadboard.yml.
type Config struct {
	API struct {
		BaseURL string        `yaml:"base_url" validate:"required,url"`
		Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
	} `yaml:"api"`
	Discovery struct {
		URL         string        `yaml:"url" validate:"omitempty,url"`
		TargetCount int           `yaml:"target_count" validate:"gte=0"`
		ReloadDelay time.Duration `yaml:"reload_delay" validate:"gt=0"`
	} `yaml:"discovery"`
	Polling struct {
		HistoryInterval time.Duration `yaml:"history_interval" validate:"gt=0"`
		HistoryLimit    int           `yaml:"history_limit" validate:"gt=0,lte=100"`
		// LeadsInterval of zero disables the periodic lead reload.
		LeadsInterval time.Duration `yaml:"leads_interval" validate:"gte=0"`
		LeadsLimit    int           `yaml:"leads_limit" validate:"gt=0,lte=1000"`
	} `yaml:"polling"`
	Agents struct {
		SettleDelay time.Duration `yaml:"settle_delay" validate:"gt=0"`
	} `yaml:"agents"`
	Engine struct {
		SerializePerLead  bool `yaml:"serialize_per_lead"`
		DeleteConcurrency int  `yaml:"delete_concurrency" validate:"gte=0,lte=32"`
	} `yaml:"engine"`
	Server struct {
		Addr      string `yaml:"addr" validate:"required"`
		BasePath  string `yaml:"base_path" validate:"required,startswith=/"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
	Log struct {
		Level string `yaml:"level" validate:"oneof=debug info warn error"`
	} `yaml:"log"`
	Webhooks []WebhookConfig `yaml:"webhooks" validate:"dive"`
}

// WebhookConfig forwards journal events to an external URL.
type WebhookConfig struct {
	URL string `yaml:"url" validate:"required,url"`
	// Events filters by event type; empty forwards everything.
	Events  []string      `yaml:"events"`
	Secret  string        `yaml:"secret"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
	Enabled *bool         `yaml:"enabled"`
}

func (w WebhookConfig) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

var validate = validator.New()

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s fails %s", yamlPath(fe.Namespace()), describeTag(fe)))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func describeTag(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

var yamlNames = map[string]string{
	"API": "api", "BaseURL": "base_url", "Timeout": "timeout",
	"Discovery": "discovery", "URL": "url", "TargetCount": "target_count", "ReloadDelay": "reload_delay",
	"Polling": "polling", "HistoryInterval": "history_interval", "HistoryLimit": "history_limit",
	"LeadsInterval": "leads_interval", "LeadsLimit": "leads_limit",
	"Agents": "agents", "SettleDelay": "settle_delay",
	"Engine": "engine", "DeleteConcurrency": "delete_concurrency",
	"Server": "server", "Addr": "addr", "BasePath": "base_path",
	"Log": "log", "Level": "level",
	"Webhooks": "webhooks", "Events": "events", "Secret": "secret", "Enabled": "enabled",
}

// yamlPath turns Config.Polling.HistoryLimit into polling.history_limit.
func yamlPath(ns string) string {
	parts := strings.Split(ns, ".")
	if len(parts) > 0 && parts[0] == "Config" {
		parts = parts[1:]
	}
	for i, p := range parts {
		name, index, _ := strings.Cut(p, "[")
		if n, ok := yamlNames[name]; ok {
			name = n
		}
		if index != "" {
			name += "[" + index
		}
		parts[i] = name
	}
	return strings.Join(parts, ".")
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with lb config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional falls back to Default when the workspace has no config file.
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

// FromYAML parses config over the defaults and validates it.
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

// YAML renders cfg.
func (c *Config) YAML() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

const defaultTemplate = `api:
  base_url: http://localhost:8000
  timeout: 10s

discovery:
  url: https://mak-os.onrender.com/api/leads/discover
  target_count: 0
  reload_delay: 3s

polling:
  history_interval: 5s
  history_limit: 20
  leads_interval: 0s
  leads_limit: 100

agents:
  settle_delay: 2s

engine:
  serialize_per_lead: false
  delete_concurrency: 4

server:
  addr: 127.0.0.1:8090
  base_path: /v0
  jwt_secret: ""

log:
  level: info

webhooks: []
`
