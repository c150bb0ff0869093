package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// EnvTelegramToken is the environment fallback for channels.telegram.token,
// so the secret can stay out of the config file.
const EnvTelegramToken = "TASKDUE_TELEGRAM_TOKEN"

// LoadDotEnv loads a .env file from the working directory if present.
// godotenv.Load never overrides variables already set in the environment,
// and a missing file is not an error.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// TelegramToken returns the configured bot token, preferring the config
// file and falling back to TASKDUE_TELEGRAM_TOKEN.
func (c *Config) TelegramToken() string {
	if c != nil {
		if tok := strings.TrimSpace(c.Channels.Telegram.Token); tok != "" {
			return tok
		}
	}
	return strings.TrimSpace(os.Getenv(EnvTelegramToken))
}
