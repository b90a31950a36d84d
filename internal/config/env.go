package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override the file.
const (
	EnvToken    = "BOT_TOKEN"
	EnvTimezone = "TIMEZONE"
	EnvDB       = "ROUTINEBOT_DB"
)

// LoadDotEnv loads variables from the given .env files (".env" when none)
// without overriding the real environment. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvTimezone)); v != "" {
		cfg.Scheduler.Timezone = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvDB)); v != "" {
		cfg.Storage.Path = v
	}
}
