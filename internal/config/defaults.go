package config

import "time"

func Defaults() *Config {
	return &Config{
		Language: "en",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Slack: SlackConfig{
			ProcessingReaction: "eyes",
			DoneReaction:       "white_check_mark",
		},
		Gemini: GeminiConfig{
			Model:   "gemini-2.0-flash",
			APIBase: "https://generativelanguage.googleapis.com/v1beta/openai/",
			Timeout: 60 * time.Second,
		},
		Audit: AuditConfig{
			Enabled: false,
			DBPath:  "~/.rebeca/audit.db",
		},
	}
}
