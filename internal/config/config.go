package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"rebeca/internal/domain"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for Rebeca.
type Config struct {
	Language  string           `yaml:"language" json:"language" env:"BOT_LANGUAGE"` // en | es
	Log       LogConfig        `yaml:"log" json:"log"`
	Slack     SlackConfig      `yaml:"slack" json:"slack"`
	Gemini    GeminiConfig     `yaml:"gemini" json:"gemini"`
	Fallbacks domain.Fallbacks `yaml:"fallbacks,omitempty" json:"fallbacks,omitempty"` // per-sentence overrides
	Metrics   MetricsConfig    `yaml:"metrics" json:"metrics"`
	Audit     AuditConfig      `yaml:"audit" json:"audit"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level" env:"LOG_LEVEL"`    // debug | info | warn | error
	Format string `yaml:"format" json:"format" env:"LOG_FORMAT"` // text | json
}

type SlackConfig struct {
	BotToken           string `yaml:"botToken" json:"botToken" env:"SLACK_BOT_TOKEN"`
	AppToken           string `yaml:"appToken" json:"appToken" env:"SLACK_APP_TOKEN"` // required for Socket Mode
	ProcessingReaction string `yaml:"processingReaction" json:"processingReaction" env:"SLACK_PROCESSING_REACTION"`
	DoneReaction       string `yaml:"doneReaction" json:"doneReaction" env:"SLACK_DONE_REACTION"`
	ReplyInThread      bool   `yaml:"replyInThread" json:"replyInThread" env:"SLACK_REPLY_IN_THREAD"`
	Debug              bool   `yaml:"debug" json:"debug" env:"SLACK_DEBUG"`
	APIURL             string `yaml:"apiUrl,omitempty" json:"apiUrl,omitempty" env:"SLACK_API_URL"` // override for testing
}

type GeminiConfig struct {
	APIKey  string        `yaml:"apiKey" json:"apiKey" env:"GEMINI_API_KEY"`
	Model   string        `yaml:"model" json:"model" env:"GEMINI_MODEL"`
	APIBase string        `yaml:"apiBase" json:"apiBase" env:"GEMINI_API_BASE"` // OpenAI-compatible endpoint
	Timeout time.Duration `yaml:"timeout" json:"timeout" env:"GEMINI_TIMEOUT"`
}

// MetricsConfig enables the Prometheus-format /metrics listener when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr" json:"addr" env:"METRICS_ADDR"`
}

// AuditConfig enables the SQLite log of run metadata. Message content is never stored.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" env:"AUDIT_ENABLED"`
	DBPath  string `yaml:"dbPath" json:"dbPath" env:"AUDIT_DB_PATH"`
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		path = ExpandPath(path)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
		}

		// Substitute environment variables: ${VAR} and ${VAR:-default}
		data = []byte(ExpandEnvVars(string(data)))

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("cannot read environment: %w", err)
	}

	cfg.Audit.DBPath = ExpandPath(cfg.Audit.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. An empty path loads
// ./.env when it exists.
func LoadDotEnv(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset
// variable without a default is left untouched.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

// Validate checks the non-secret settings. Credentials are reported
// separately by Credentials so that commands can decide how strict to be.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.Language {
	case "en", "es":
	default:
		errs = append(errs, "language must be one of: en, es")
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "log.level must be one of: debug, info, warn, error")
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, "log.format must be one of: text, json")
	}

	if strings.TrimSpace(cfg.Slack.ProcessingReaction) == "" {
		errs = append(errs, "slack.processingReaction is required")
	}
	if strings.TrimSpace(cfg.Slack.DoneReaction) == "" {
		errs = append(errs, "slack.doneReaction is required")
	}
	if cfg.Slack.ProcessingReaction != "" && cfg.Slack.ProcessingReaction == cfg.Slack.DoneReaction {
		errs = append(errs, "slack.processingReaction and slack.doneReaction must differ")
	}

	if strings.TrimSpace(cfg.Gemini.Model) == "" {
		errs = append(errs, "gemini.model is required")
	}
	if cfg.Gemini.APIBase == "" {
		errs = append(errs, "gemini.apiBase is required")
	}
	if cfg.Gemini.Timeout < 0 {
		errs = append(errs, "gemini.timeout must not be negative")
	}

	if cfg.Audit.Enabled && cfg.Audit.DBPath == "" {
		errs = append(errs, "audit.dbPath is required when audit is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// FallbackCatalog returns the built-in sentences for the configured
// language with any configured overrides applied.
func (c *Config) FallbackCatalog() domain.Fallbacks {
	return domain.FallbacksFor(c.Language).Merge(c.Fallbacks)
}

// CredentialStatus reports whether one required secret is present.
// Only the length is exposed, never the value.
type CredentialStatus struct {
	Name    string
	Present bool
	Length  int
}

// Credentials enumerates the secrets the listener needs.
func Credentials(cfg *Config) []CredentialStatus {
	entries := []struct {
		name  string
		value string
	}{
		{"SLACK_BOT_TOKEN", cfg.Slack.BotToken},
		{"SLACK_APP_TOKEN", cfg.Slack.AppToken},
		{"GEMINI_API_KEY", cfg.Gemini.APIKey},
	}
	out := make([]CredentialStatus, 0, len(entries))
	for _, e := range entries {
		v := strings.TrimSpace(e.value)
		out = append(out, CredentialStatus{Name: e.name, Present: v != "", Length: len(v)})
	}
	return out
}

// ErrMissingCredentials is returned by RequireCredentials.
var ErrMissingCredentials = errors.New("missing required credentials")

// RequireCredentials fails when any credential from Credentials is absent.
func RequireCredentials(cfg *Config) error {
	var missing []string
	for _, c := range Credentials(cfg) {
		if !c.Present {
			missing = append(missing, c.Name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}
	return nil
}

// Sanitize returns a copy of the config with secrets masked.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	out.Slack.BotToken = maskString(out.Slack.BotToken)
	out.Slack.AppToken = maskString(out.Slack.AppToken)
	out.Gemini.APIKey = maskString(out.Gemini.APIKey)
	return &out
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// DefaultDataDir returns the default data directory (~/.rebeca).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".rebeca"
	}
	return filepath.Join(home, ".rebeca")
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
