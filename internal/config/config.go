package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	DefaultConfigPath      = "config.toml"
	DefaultDotEnvPath      = ".env"
	DefaultHTTPAddr        = ":3000"
	DefaultJWTExpiresIn    = "24h"
	DefaultStorageDriver   = StorageDriverPostgres
	DefaultBadgerPath      = "data/badger"
	DefaultMediaRoot       = "data/media"
	DefaultPGHost          = "127.0.0.1"
	DefaultPGPort          = 5432
	DefaultPGUser          = "postgres"
	DefaultPGDatabase      = "chatrelay"
	DefaultPGSSLMode       = "disable"
	DefaultLineAPIBaseURL  = "https://api.line.me"
	DefaultLineDataBaseURL = "https://api-data.line.me"
	DefaultLineAuthURL     = "https://access.line.me/oauth2/v2.1/authorize"
	DefaultLineTokenURL    = "https://api.line.me/oauth2/v2.1/token"
	DefaultReplyTemplate   = "你說了: %s"
	DefaultUserName        = "LINE User"
	DefaultAvatarURL       = "https://profile.line-scdn.net/placeholder.png"
	DefaultNATSSubject     = "chatrelay.events"
	DefaultCSP             = "default-src 'none'"

	StorageDriverPostgres = "postgres"
	StorageDriverBadger   = "badger"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Line     LineConfig     `toml:"line"`
	Inbound  InboundConfig  `toml:"inbound"`
	Storage  StorageConfig  `toml:"storage"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	NATS     NATSConfig     `toml:"nats"`
	Media    MediaConfig    `toml:"media"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
	// PublicBaseURL is prepended to media keys to build retrievable URLs.
	PublicBaseURL         string   `toml:"public_base_url"`
	ContentSecurityPolicy string   `toml:"content_security_policy"`
	CORSOrigins           []string `toml:"cors_origins"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
	// LoginRateLimit is the number of login attempts allowed per IP and minute.
	LoginRateLimit int `toml:"login_rate_limit"`
}

type LineConfig struct {
	ChannelSecret      string `toml:"channel_secret"`
	ChannelAccessToken string `toml:"channel_access_token"`
	LoginChannelID     string `toml:"login_channel_id"`
	LoginChannelSecret string `toml:"login_channel_secret"`
	APIBaseURL         string `toml:"api_base_url"`
	DataAPIBaseURL     string `toml:"data_api_base_url"`
	AuthURL            string `toml:"auth_url"`
	TokenURL           string `toml:"token_url"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
	MaxContentBytes    int64  `toml:"max_content_bytes"`
	ReplyTemplate      string `toml:"reply_template"`
	DefaultUserName    string `toml:"default_user_name"`
	DefaultAvatarURL   string `toml:"default_avatar_url"`
}

type InboundConfig struct {
	Workers   int `toml:"workers"`
	QueueSize int `toml:"queue_size"`
}

type StorageConfig struct {
	Driver      string `toml:"driver"`
	BadgerPath  string `toml:"badger_path"`
	AutoMigrate bool   `toml:"auto_migrate"`
}

type PostgresConfig struct {
	URL      string `toml:"url"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

type RedisConfig struct {
	Addr            string `toml:"addr"`
	Password        string `toml:"password"`
	DB              int    `toml:"db"`
	DedupTTLSeconds int    `toml:"dedup_ttl_seconds"`
}

type NATSConfig struct {
	URL     string `toml:"url"`
	Subject string `toml:"subject"`
}

type MediaConfig struct {
	Root     string `toml:"root"`
	MaxBytes int64  `toml:"max_bytes"`
}

// DSN returns a connection URL for the given scheme ("postgres", "pgx5", ...).
func (c PostgresConfig) DSN(scheme string) string {
	if strings.TrimSpace(c.URL) != "" {
		if scheme == "" || scheme == "postgres" {
			return c.URL
		}
		if u, err := url.Parse(c.URL); err == nil {
			u.Scheme = scheme
			return u.String()
		}
		return c.URL
	}
	if scheme == "" {
		scheme = "postgres"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Database,
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else {
		u.User = url.User(c.User)
	}
	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (c LineConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c RedisConfig) DedupTTL() time.Duration {
	if c.DedupTTLSeconds <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.DedupTTLSeconds) * time.Second
}

func (c AuthConfig) ExpiresIn() (time.Duration, error) {
	raw := strings.TrimSpace(c.JWTExpiresIn)
	if raw == "" {
		raw = DefaultJWTExpiresIn
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid jwt_expires_in %q: %w", raw, err)
	}
	return d, nil
}

// envOverrides lists the settings that may come from the environment. envconfig
// looks up CHATRELAY_<NAME> first and falls back to the bare <NAME>.
type envOverrides struct {
	HTTPAddr               string `envconfig:"HTTP_ADDR"`
	Port                   string `envconfig:"PORT"`
	PublicBaseURL          string `envconfig:"PUBLIC_BASE_URL"`
	LogLevel               string `envconfig:"LOG_LEVEL"`
	LogFormat              string `envconfig:"LOG_FORMAT"`
	JWTSecret              string `envconfig:"JWT_SECRET"`
	LineChannelSecret      string `envconfig:"LINE_CHANNEL_SECRET"`
	LineChannelAccessToken string `envconfig:"LINE_CHANNEL_ACCESS_TOKEN"`
	LineLoginChannelID     string `envconfig:"LINE_LOGIN_CHANNEL_ID"`
	LineLoginChannelSecret string `envconfig:"LINE_LOGIN_CHANNEL_SECRET"`
	StorageDriver          string `envconfig:"STORAGE_DRIVER"`
	DatabaseURL            string `envconfig:"DATABASE_URL"`
	RedisAddr              string `envconfig:"REDIS_ADDR"`
	NATSURL                string `envconfig:"NATS_URL"`
}

func defaults() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr:                  DefaultHTTPAddr,
			ContentSecurityPolicy: DefaultCSP,
			CORSOrigins:           []string{"*"},
		},
		Auth: AuthConfig{
			JWTExpiresIn:   DefaultJWTExpiresIn,
			LoginRateLimit: 10,
		},
		Line: LineConfig{
			APIBaseURL:       DefaultLineAPIBaseURL,
			DataAPIBaseURL:   DefaultLineDataBaseURL,
			AuthURL:          DefaultLineAuthURL,
			TokenURL:         DefaultLineTokenURL,
			TimeoutSeconds:   10,
			MaxContentBytes:  50 * 1024 * 1024,
			ReplyTemplate:    DefaultReplyTemplate,
			DefaultUserName:  DefaultUserName,
			DefaultAvatarURL: DefaultAvatarURL,
		},
		Inbound: InboundConfig{
			Workers:   4,
			QueueSize: 256,
		},
		Storage: StorageConfig{
			Driver:      DefaultStorageDriver,
			BadgerPath:  DefaultBadgerPath,
			AutoMigrate: true,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Redis: RedisConfig{
			DedupTTLSeconds: 24 * 60 * 60,
		},
		NATS: NATSConfig{
			Subject: DefaultNATSSubject,
		},
		Media: MediaConfig{
			Root:     DefaultMediaRoot,
			MaxBytes: 50 * 1024 * 1024,
		},
	}
}

// Load builds the configuration from defaults, the TOML file at path, an
// optional .env file and finally the process environment.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path == "" {
		path = DefaultConfigPath
	}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("decode %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, err
	}

	if _, err := os.Stat(DefaultDotEnvPath); err == nil {
		if err := godotenv.Load(DefaultDotEnvPath); err != nil {
			return cfg, fmt.Errorf("load %s: %w", DefaultDotEnvPath, err)
		}
	}

	var env envOverrides
	if err := envconfig.Process("chatrelay", &env); err != nil {
		return cfg, fmt.Errorf("read environment: %w", err)
	}
	env.apply(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (e envOverrides) apply(cfg *Config) {
	set := func(dst *string, value string) {
		if v := strings.TrimSpace(value); v != "" {
			*dst = v
		}
	}
	if p := strings.TrimSpace(e.Port); p != "" {
		cfg.Server.Addr = ":" + p
	}
	set(&cfg.Server.Addr, e.HTTPAddr)
	set(&cfg.Server.PublicBaseURL, e.PublicBaseURL)
	set(&cfg.Log.Level, e.LogLevel)
	set(&cfg.Log.Format, e.LogFormat)
	set(&cfg.Auth.JWTSecret, e.JWTSecret)
	set(&cfg.Line.ChannelSecret, e.LineChannelSecret)
	set(&cfg.Line.ChannelAccessToken, e.LineChannelAccessToken)
	set(&cfg.Line.LoginChannelID, e.LineLoginChannelID)
	set(&cfg.Line.LoginChannelSecret, e.LineLoginChannelSecret)
	set(&cfg.Storage.Driver, e.StorageDriver)
	set(&cfg.Postgres.URL, e.DatabaseURL)
	set(&cfg.Redis.Addr, e.RedisAddr)
	set(&cfg.NATS.URL, e.NATSURL)
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case StorageDriverPostgres, StorageDriverBadger:
	default:
		return fmt.Errorf("unsupported storage driver: %q", c.Storage.Driver)
	}
	if _, err := c.Auth.ExpiresIn(); err != nil {
		return err
	}
	if c.Inbound.Workers <= 0 {
		return fmt.Errorf("inbound workers must be positive")
	}
	if c.Inbound.QueueSize < 0 {
		return fmt.Errorf("inbound queue size must not be negative")
	}
	return nil
}
