// Package config содержит логику чтения конфигурации сервиса командного леджера.
package config

import (
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress     string `env:"RUN_ADDRESS"`
	DatabaseURI    string `env:"DATABASE_URI"`
	NotifyAddress  string `env:"NOTIFY_ADDRESS"`
	AccessPassword string `env:"ACCESS_PASSWORD"`
	AuthSecret     string `env:"AUTH_SECRET"`
	AdminIDsRaw    string `env:"ADMIN_IDS"`

	// AdminIDs заполняется из AdminIDsRaw после разбора.
	AdminIDs []int64 `env:"-"`
}

// Parse считывает конфигурацию из .env-файла, переменных окружения и флагов
// командной строки. Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	// .env опционален: его отсутствие не является ошибкой.
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envNotifyAddress := cfg.NotifyAddress
	envAccessPassword := cfg.AccessPassword
	envAuthSecret := cfg.AuthSecret
	envAdminIDs := cfg.AdminIDsRaw

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.NotifyAddress, "n", "", "notification collaborator address")
	flag.StringVar(&cfg.AccessPassword, "p", "", "team access password")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret key for auth cookies")
	flag.StringVar(&cfg.AdminIDsRaw, "admins", "", "comma-separated admin user ids")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envNotifyAddress != "" {
		cfg.NotifyAddress = envNotifyAddress
	}
	if envAccessPassword != "" {
		cfg.AccessPassword = envAccessPassword
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envAdminIDs != "" {
		cfg.AdminIDsRaw = envAdminIDs
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	ids, err := parseAdminIDs(cfg.AdminIDsRaw)
	if err != nil {
		return nil, err
	}
	cfg.AdminIDs = ids

	return cfg, nil
}

// IsAdminID сообщает, входит ли пользователь в список администраторов из конфигурации.
func (c *Config) IsAdminID(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func parseAdminIDs(raw string) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse admin id %q: %w", p, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
