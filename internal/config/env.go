package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// environment resolves overrides from the process environment first and a dotenv file second.
// Empty values count as unset so that `KEY=` falls back to the default.
type environment struct {
	process *viper.Viper
	dotenv  map[string]string
}

func newEnvironment(envFile string) (*environment, error) {
	process := viper.New()
	process.AutomaticEnv()
	env := &environment{process: process}
	envFile = strings.TrimSpace(envFile)
	if envFile != "" {
		values, err := godotenv.Read(envFile)
		if err != nil {
			return nil, fmt.Errorf("read env file: %w", err)
		}
		env.dotenv = values
	}
	return env, nil
}

func (e *environment) lookup(key string) (string, bool) {
	if e.process.IsSet(key) {
		if value := e.process.GetString(key); value != "" {
			return value, true
		}
	}
	if value := e.dotenv[key]; value != "" {
		return value, true
	}
	return "", false
}

type binding struct {
	key   string
	apply func(raw string) error
}

func (e *environment) apply(cfg *Config) error {
	for _, b := range bindings(cfg) {
		raw, ok := e.lookup(b.key)
		if !ok {
			continue
		}
		if err := b.apply(raw); err != nil {
			return fmt.Errorf("environment %s: %w", b.key, err)
		}
	}
	return nil
}

func bindings(cfg *Config) []binding {
	return []binding{
		{"PORT", func(raw string) error {
			port, err := parsePort(raw)
			if err != nil {
				return err
			}
			cfg.Server.Listen = ":" + strconv.Itoa(port)
			return nil
		}},
		{"MYSQL_DRIVER", setString(&cfg.MySQL.Driver)},
		{"MYSQL_HOST", setString(&cfg.MySQL.Host)},
		{"MYSQL_PORT", setPort(&cfg.MySQL.Port)},
		{"MYSQL_USER", setString(&cfg.MySQL.User)},
		{"MYSQL_PASSWORD", setString(&cfg.MySQL.Password)},
		{"MYSQL_DATABASE", setString(&cfg.MySQL.Database)},
		{"MONGO_HOST", setString(&cfg.Mongo.Host)},
		{"MONGO_PORT", setPort(&cfg.Mongo.Port)},
		{"MONGO_USER", setString(&cfg.Mongo.User)},
		{"MONGO_PASSWORD", setString(&cfg.Mongo.Password)},
		{"POSTGRES_HOST", setString(&cfg.Postgres.Host)},
		{"POSTGRES_PORT", setPort(&cfg.Postgres.Port)},
		{"POSTGRES_USER", setString(&cfg.Postgres.User)},
		{"POSTGRES_PASSWORD", setString(&cfg.Postgres.Password)},
		{"POSTGRES_DB", setString(&cfg.Postgres.Database)},
		{"REDIS_URL", setString(&cfg.Redis.URL)},
		{"SERVER_HOST", setString(&cfg.Client.Host)},
		{"SERVER_PORT", setPort(&cfg.Client.Port)},
		{"POLL_INTERVAL", func(raw string) error { return cfg.Client.Interval.parse(raw) }},
		{"POLL_PATHS", func(raw string) error {
			cfg.Client.Paths = splitList(raw)
			return nil
		}},
		{"LOG_LEVEL", setString(&cfg.Logging.Level)},
		{"LOG_FORMAT", setString(&cfg.Logging.Format)},
	}
}

func setString(dst *string) func(string) error {
	return func(raw string) error {
		*dst = raw
		return nil
	}
}

func setPort(dst *int) func(string) error {
	return func(raw string) error {
		port, err := parsePort(raw)
		if err != nil {
			return err
		}
		*dst = port
		return nil
	}
}

func parsePort(raw string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse port %q: %w", raw, err)
	}
	return port, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
