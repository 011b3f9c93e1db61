// Package config provides configuration management using viper.
// It supports loading from YAML files, an optional .env file and
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Limit policies for the per-account play counter.
const (
	// LimitLifetime never resets the play counter.
	LimitLifetime = "lifetime"
	// LimitDaily counts plays from zero once the last play is before today.
	LimitDaily = "daily"
)

// Config holds all application configuration.
type Config struct {
	Bot       BotConfig       `mapstructure:"bot"`
	Database  DatabaseConfig  `mapstructure:"database"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Game      GameConfig      `mapstructure:"game"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Whitelist WhitelistConfig `mapstructure:"whitelist"`
}

// BotConfig holds Telegram bot configuration.
type BotConfig struct {
	Token        string        `mapstructure:"token"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
	NotifyRounds bool          `mapstructure:"notify_rounds"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	URL                    string        `mapstructure:"url"`
	Host                   string        `mapstructure:"host"`
	Port                   int           `mapstructure:"port"`
	User                   string        `mapstructure:"user"`
	Password               string        `mapstructure:"password"`
	Name                   string        `mapstructure:"name"`
	PoolSize               int           `mapstructure:"pool_size"`
	ConnectTimeout         time.Duration `mapstructure:"connect_timeout"`
	StatementTimeout       time.Duration `mapstructure:"statement_timeout"`
	IdleInTxSessionTimeout time.Duration `mapstructure:"idle_in_tx_timeout"`
	MaxConnLifetime        time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime        time.Duration `mapstructure:"max_conn_idle_time"`
}

// HTTPConfig holds the web server configuration.
type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	PublicURL    string        `mapstructure:"public_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	RateLimit    float64       `mapstructure:"rate_limit"`
	RateBurst    int           `mapstructure:"rate_burst"`
	// ExposeErrors adds internal error detail to 500 responses.
	// Never enable it on a public deployment.
	ExposeErrors bool `mapstructure:"expose_errors"`
}

// GameConfig holds dice game configuration.
type GameConfig struct {
	MaxPlays     int           `mapstructure:"max_plays"`
	LimitPolicy  string        `mapstructure:"limit_policy"`
	Timezone     string        `mapstructure:"timezone"`
	RoundTimeout time.Duration `mapstructure:"round_timeout"`
	WinPoints    int64         `mapstructure:"win_points"`
	LosePoints   int64         `mapstructure:"lose_points"`
}

// AdminConfig holds admin user configuration.
type AdminConfig struct {
	IDs []int64 `mapstructure:"ids"`
}

// WhitelistConfig holds chat whitelist configuration.
type WhitelistConfig struct {
	Chats []int64 `mapstructure:"chats"`
}

// DSN returns the PostgreSQL connection string.
// A non-empty URL (DATABASE_URL) takes precedence over the discrete fields.
func (d *DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Location returns the configured game timezone, falling back to UTC.
func (g *GameConfig) Location() *time.Location {
	if g.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(g.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory. A .env file in the
// working directory is loaded first when present.
func Load(configPath string) (*Config, error) {
	// Missing .env is fine, the environment may already be populated
	_ = godotenv.Load()

	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// e.g., BOT_TOKEN, DATABASE_URL, DATABASE_HOST, GAME_MAX_PLAYS
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.token", "")
	v.SetDefault("bot.poll_timeout", "10s")
	v.SetDefault("bot.notify_rounds", false)

	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "dicegame")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "dicegame")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.statement_timeout", "5s")
	v.SetDefault("database.idle_in_tx_timeout", "15s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	v.SetDefault("http.addr", ":5000")
	v.SetDefault("http.public_url", "http://localhost:5000")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "15s")
	v.SetDefault("http.rate_limit", 5)
	v.SetDefault("http.rate_burst", 10)
	v.SetDefault("http.expose_errors", false)

	v.SetDefault("game.max_plays", 10)
	v.SetDefault("game.limit_policy", LimitLifetime)
	v.SetDefault("game.timezone", "UTC")
	v.SetDefault("game.round_timeout", "10s")
	v.SetDefault("game.win_points", 10)
	v.SetDefault("game.lose_points", 5)

	v.SetDefault("admin.ids", []int64{})
	v.SetDefault("whitelist.chats", []int64{})
}

// Validate reports configuration values the application cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Game.MaxPlays <= 0 {
		errs = append(errs, fmt.Errorf("game.max_plays must be positive, got %d", c.Game.MaxPlays))
	}
	switch c.Game.LimitPolicy {
	case LimitLifetime, LimitDaily:
	default:
		errs = append(errs, fmt.Errorf("game.limit_policy must be %q or %q, got %q", LimitLifetime, LimitDaily, c.Game.LimitPolicy))
	}
	if c.Game.Timezone != "" {
		if _, err := time.LoadLocation(c.Game.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("game.timezone: %w", err))
		}
	}
	if c.Game.WinPoints < 0 || c.Game.LosePoints < 0 {
		errs = append(errs, errors.New("game.win_points and game.lose_points must not be negative"))
	}
	if c.HTTP.RateLimit < 0 || c.HTTP.RateBurst < 0 {
		errs = append(errs, errors.New("http.rate_limit and http.rate_burst must not be negative"))
	}
	return errors.Join(errs...)
}

// IsAdmin checks if a user ID is in the admin list.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Admin.IDs {
		if id == userID {
			return true
		}
	}
	return false
}

// IsChatAllowed checks if a chat ID is in the whitelist.
func (c *Config) IsChatAllowed(chatID int64) bool {
	// Empty whitelist means all chats are allowed
	if len(c.Whitelist.Chats) == 0 {
		return true
	}
	for _, id := range c.Whitelist.Chats {
		if id == chatID {
			return true
		}
	}
	return false
}
