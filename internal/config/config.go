package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "5s" or "1m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	return d.parse(raw)
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

func (d *Duration) parse(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// Relational-A drivers.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// ServerConfig configures the demo HTTP listener.
type ServerConfig struct {
	Listen       string   `yaml:"listen"`
	MaxBodyBytes int64    `yaml:"max_body_bytes,omitempty"`
	ShutdownWait Duration `yaml:"shutdown_wait,omitempty"`
}

// ClientConfig configures the polling client.
type ClientConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Interval Duration `yaml:"interval"`
	Timeout  Duration `yaml:"timeout,omitempty"`
	Paths    []string `yaml:"paths"`
}

// BaseURL returns the server address the client polls.
func (c ClientConfig) BaseURL() string {
	return "http://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// StoresConfig holds settings shared by all backing-store connections.
type StoresConfig struct {
	ConnectTimeout Duration `yaml:"connect_timeout"`
}

// MySQLConfig describes relational-A.
type MySQLConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// MongoConfig describes the document store.
type MongoConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// URI builds the mongodb:// connection string. Credentials are omitted when no user is set.
func (m MongoConfig) URI() string {
	u := url.URL{Scheme: "mongodb", Host: net.JoinHostPort(m.Host, strconv.Itoa(m.Port)), Path: "/"}
	if m.User != "" {
		u.User = url.UserPassword(m.User, m.Password)
	}
	return u.String()
}

// PostgresConfig describes relational-B.
type PostgresConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// URL builds the postgres:// connection string.
func (p PostgresConfig) URL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.User, p.Password),
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:   "/" + p.Database,
	}
	return u.String()
}

// RedisConfig describes the key-value store.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// OutboundConfig configures the plain HTTP demo targets.
type OutboundConfig struct {
	HTTPURL          string   `yaml:"http_url"`
	HTTPTimeout      Duration `yaml:"http_timeout,omitempty"`
	ExceptionURL     string   `yaml:"exception_url"`
	ExceptionTimeout Duration `yaml:"exception_timeout"`
}

// LokiConfig configures optional Loki integration for logging.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Labels  map[string]string `yaml:"labels"`
}

// LoggingConfig encapsulates runtime logging options.
type LoggingConfig struct {
	Level  string     `yaml:"level"`
	Format string     `yaml:"format"`
	Loki   LokiConfig `yaml:"loki"`
}

// TelemetryConfig enables the admin listener serving metrics and health.
type TelemetryConfig struct {
	Listen string `yaml:"listen"`
}

// Enabled reports whether the admin listener should be started.
func (t TelemetryConfig) Enabled() bool {
	return strings.TrimSpace(t.Listen) != ""
}

// Config is the root configuration structure shared by server and client.
type Config struct {
	HotReload bool            `yaml:"hot_reload"`
	Server    ServerConfig    `yaml:"server"`
	Client    ClientConfig    `yaml:"client"`
	Stores    StoresConfig    `yaml:"stores"`
	MySQL     MySQLConfig     `yaml:"mysql"`
	Mongo     MongoConfig     `yaml:"mongo"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Outbound  OutboundConfig  `yaml:"outbound"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Source and EnvFile record where the configuration came from.
	Source  string `yaml:"-"`
	EnvFile string `yaml:"-"`
}

// Default returns the configuration used when neither file nor environment override a value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:       ":8080",
			MaxBodyBytes: 1 << 20,
			ShutdownWait: Duration{5 * time.Second},
		},
		Client: ClientConfig{
			Host:     "server",
			Port:     8080,
			Interval: Duration{3 * time.Second},
			Timeout:  Duration{10 * time.Second},
			Paths:    []string{"/", "/mysql"},
		},
		Stores: StoresConfig{ConnectTimeout: Duration{10 * time.Second}},
		MySQL: MySQLConfig{
			Enabled:  true,
			Driver:   DriverMySQL,
			Host:     "localhost",
			Port:     3306,
			User:     "root",
			Password: "secret",
			Database: "my_db",
		},
		Mongo: MongoConfig{
			Enabled:    true,
			Host:       "mongo",
			Port:       27017,
			User:       "root",
			Password:   "example",
			Database:   "myStateDB",
			Collection: "states",
		},
		Postgres: PostgresConfig{
			Enabled:  true,
			Host:     "localhost",
			Port:     5432,
			User:     "admin",
			Password: "mypassword",
			Database: "test_db",
		},
		Redis: RedisConfig{Enabled: true, URL: "redis://redis:6379"},
		Outbound: OutboundConfig{
			HTTPURL:          "http://bing.com/",
			ExceptionURL:     "http://test.com:65530/",
			ExceptionTimeout: Duration{2 * time.Second},
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load resolves the configuration: defaults, then the optional YAML file at path, then the
// optional dotenv file, then the process environment.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()
	path = strings.TrimSpace(path)
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
		cfg.Source = path
	}
	env, err := newEnvironment(envFile)
	if err != nil {
		return nil, err
	}
	if err := env.apply(cfg); err != nil {
		return nil, err
	}
	cfg.EnvFile = strings.TrimSpace(envFile)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the resolved configuration for values the server or client cannot use.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config must not be nil")
	}
	var errs []error
	if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		errs = append(errs, fmt.Errorf("server.listen %q: %w", c.Server.Listen, err))
	}
	switch c.MySQL.Driver {
	case DriverMySQL, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("mysql.driver %q: unsupported", c.MySQL.Driver))
	}
	for name, port := range map[string]int{
		"mysql.port":    c.MySQL.Port,
		"mongo.port":    c.Mongo.Port,
		"postgres.port": c.Postgres.Port,
		"client.port":   c.Client.Port,
	} {
		if port <= 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s %d: out of range", name, port))
		}
	}
	if c.Redis.Enabled {
		if _, err := url.Parse(c.Redis.URL); err != nil {
			errs = append(errs, fmt.Errorf("redis.url: %w", err))
		}
	}
	if c.Outbound.ExceptionTimeout.Duration <= 0 {
		errs = append(errs, errors.New("outbound.exception_timeout must be positive"))
	}
	if c.Client.Interval.Duration <= 0 {
		errs = append(errs, errors.New("client.interval must be positive"))
	}
	for _, p := range c.Client.Paths {
		if !strings.HasPrefix(p, "/") {
			errs = append(errs, fmt.Errorf("client.paths: %q must start with /", p))
		}
	}
	return errors.Join(errs...)
}

// ConnectTimeout returns the per-store connect bound.
func (c *Config) ConnectTimeout() time.Duration {
	if c == nil || c.Stores.ConnectTimeout.Duration <= 0 {
		return 10 * time.Second
	}
	return c.Stores.ConnectTimeout.Duration
}

const masked = "xxxxx"

// Redacted returns a copy with credentials masked, suitable for printing.
func (c Config) Redacted() Config {
	if c.MySQL.Password != "" {
		c.MySQL.Password = masked
	}
	if c.Mongo.Password != "" {
		c.Mongo.Password = masked
	}
	if c.Postgres.Password != "" {
		c.Postgres.Password = masked
	}
	if u, err := url.Parse(c.Redis.URL); err == nil {
		c.Redis.URL = u.Redacted()
	}
	c.Client.Paths = append([]string(nil), c.Client.Paths...)
	return c
}

// SourceFiles returns the files that contributed configuration values.
func SourceFiles(cfg *Config) []string {
	if cfg == nil {
		return nil
	}
	files := make([]string, 0, 2)
	for _, path := range []string{cfg.Source, cfg.EnvFile} {
		if strings.TrimSpace(path) != "" {
			files = append(files, path)
		}
	}
	return files
}
