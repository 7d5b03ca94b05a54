package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Logs configures the administrator log feed.
type Logs struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	ConnLimit int    `mapstructure:"conn_limit"`
}

type Config struct {
	API struct {
		Listen     string `mapstructure:"listen"`
		PublicHost string `mapstructure:"public_host"`
	} `mapstructure:"api"`

	Log struct {
		Level       string `mapstructure:"level"`
		Environment string `mapstructure:"environment"`
	} `mapstructure:"log"`

	DB struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"db"`

	Auth struct {
		JWTSecret string `mapstructure:"jwt_secret"`
		Issuer    string `mapstructure:"issuer"`
	} `mapstructure:"auth"`

	WebSockets struct {
		HeartbeatPeriod time.Duration `mapstructure:"heartbeat_period"`
		AllowedOrigins  []string      `mapstructure:"allowed_origins"`
		TrustProxy      bool          `mapstructure:"trust_proxy"`
		Logs            Logs          `mapstructure:"logs"`
	} `mapstructure:"websockets"`
}

// Host is the host:port shown in startup lines.
func (c *Config) Host() string {
	if c.API.PublicHost != "" {
		return c.API.PublicHost
	}
	return c.API.Listen
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Defaults
	v.SetDefault("api.listen", "127.0.0.1:8055")
	v.SetDefault("api.public_host", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.environment", "production")
	v.SetDefault("db.dsn", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "logfeed")
	v.SetDefault("websockets.heartbeat_period", "30s")
	v.SetDefault("websockets.allowed_origins", []string{})
	v.SetDefault("websockets.trust_proxy", false)
	v.SetDefault("websockets.logs.enabled", true)
	v.SetDefault("websockets.logs.path", "/websocket/logs")
	v.SetDefault("websockets.logs.conn_limit", -1)

	// Env overrides: LOGFEED_DB_DSN, LOGFEED_WEBSOCKETS_LOGS_CONN_LIMIT, ...
	v.SetEnvPrefix("LOGFEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("db.dsn", "LOGFEED_DB_DSN")
	_ = v.BindEnv("auth.jwt_secret", "LOGFEED_AUTH_JWT_SECRET")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	if c.DB.DSN == "" && c.Auth.JWTSecret == "" {
		return fmt.Errorf("db.dsn or auth.jwt_secret is required (set LOGFEED_DB_DSN, LOGFEED_AUTH_JWT_SECRET or config file)")
	}
	if c.WebSockets.HeartbeatPeriod < 0 {
		return fmt.Errorf("websockets.heartbeat_period must not be negative")
	}
	if c.WebSockets.Logs.Enabled {
		if !strings.HasPrefix(c.WebSockets.Logs.Path, "/") {
			return fmt.Errorf("websockets.logs.path %q must start with /", c.WebSockets.Logs.Path)
		}
		if c.WebSockets.Logs.ConnLimit < -1 {
			return fmt.Errorf("websockets.logs.conn_limit must be -1 (unbounded) or >= 0")
		}
	}
	return nil
}
