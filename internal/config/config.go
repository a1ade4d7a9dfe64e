package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration (file + env overrides)
type Config struct {
	Server struct {
		Addr     string `mapstructure:"addr"`
		LogLevel string `mapstructure:"log_level"`
	} `mapstructure:"server"`

	Storage struct {
		Backend  string `mapstructure:"backend"` // "memory" | "postgres"
		Fixtures string `mapstructure:"fixtures"`
	} `mapstructure:"storage"`

	Postgres struct {
		Host         string `mapstructure:"host"`
		Port         int    `mapstructure:"port"`
		User         string `mapstructure:"user"`
		Password     string `mapstructure:"password"`
		DBName       string `mapstructure:"db_name"`
		SSLMode      string `mapstructure:"ssl_mode"`
		MaxOpenConns int    `mapstructure:"max_open_conns"`
		MaxIdleConns int    `mapstructure:"max_idle_conns"`
	} `mapstructure:"postgres"`

	Listener struct {
		Channel          string `mapstructure:"channel"`
		ReconnectSeconds int    `mapstructure:"reconnect_seconds"`
	} `mapstructure:"listener"`

	AdSelection AdSelection `mapstructure:"ad_selection"`
}

// AdSelection is the immutable snapshot of auction timeouts, limits and feature toggles.
type AdSelection struct {
	BiddingTimeoutPerCA    time.Duration `mapstructure:"bidding_timeout_per_ca"`
	BiddingTimeoutPerBuyer time.Duration `mapstructure:"bidding_timeout_per_buyer"`
	ScoringTimeout         time.Duration `mapstructure:"scoring_timeout"`
	OverallTimeout         time.Duration `mapstructure:"overall_timeout"`
	FromOutcomesTimeout    time.Duration `mapstructure:"from_outcomes_timeout"`
	ReportingTimeout       time.Duration `mapstructure:"reporting_timeout"`
	MaxConcurrentBidding   int           `mapstructure:"max_concurrent_bidding"`
	MaxInventoryAge        time.Duration `mapstructure:"max_inventory_age"`
	MaxIDAttempts          int           `mapstructure:"max_id_attempts"`
	LightweightPoolSize    int           `mapstructure:"lightweight_pool_size"`
	BackgroundPoolSize     int           `mapstructure:"background_pool_size"`
	FetchCacheTTL          time.Duration `mapstructure:"fetch_cache_ttl"`

	RateLimitPerSecond     float64  `mapstructure:"rate_limit_per_second"`
	EnrollmentCheckEnabled bool     `mapstructure:"enrollment_check_enabled"`
	EnrolledSellers        []string `mapstructure:"enrolled_sellers"`
	AppAllowList           []string `mapstructure:"app_allow_list"`
	EnforceForeground      bool     `mapstructure:"enforce_foreground"`
	EnforceConsent         bool     `mapstructure:"enforce_consent"`
	RevokedConsentPackages []string `mapstructure:"revoked_consent_packages"`

	FilteringEnabled     bool `mapstructure:"filtering_enabled"`
	ContextualAdsEnabled bool `mapstructure:"contextual_ads_enabled"`
	DeveloperMode        bool `mapstructure:"developer_mode"`

	TrustedServer struct {
		Enabled     bool   `mapstructure:"enabled"`
		Endpoint    string `mapstructure:"endpoint"`
		Compression bool   `mapstructure:"compression"`
	} `mapstructure:"trusted_server"`
}

func Load() Config {
	v := viper.New()
	v.SetConfigName("application")
	v.SetConfigType("yaml")
	v.AddConfigPath("configs")
	_ = v.ReadInConfig() // optional; env can fully configure

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Errorf("unable to decode config: %w", err))
	}
	validate(&cfg)
	return cfg
}

func validate(c *Config) {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = "disable"
	}
	if c.Postgres.MaxOpenConns == 0 {
		c.Postgres.MaxOpenConns = 10
	}
	if c.Postgres.MaxIdleConns == 0 {
		c.Postgres.MaxIdleConns = 10
	}
	if c.Listener.Channel == "" {
		c.Listener.Channel = "ca_data_change"
	}
	if c.Listener.ReconnectSeconds <= 0 {
		c.Listener.ReconnectSeconds = 5
	}
	c.AdSelection = c.AdSelection.WithDefaults()
}

// Defaults returns the snapshot used when nothing is configured.
func Defaults() AdSelection {
	return AdSelection{}.WithDefaults()
}

// WithDefaults fills every zero timeout and limit.
func (a AdSelection) WithDefaults() AdSelection {
	if a.BiddingTimeoutPerCA <= 0 {
		a.BiddingTimeoutPerCA = 5 * time.Second
	}
	if a.BiddingTimeoutPerBuyer <= 0 {
		a.BiddingTimeoutPerBuyer = 10 * time.Second
	}
	if a.ScoringTimeout <= 0 {
		a.ScoringTimeout = 5 * time.Second
	}
	if a.OverallTimeout <= 0 {
		a.OverallTimeout = 10 * time.Second
	}
	if a.FromOutcomesTimeout <= 0 {
		a.FromOutcomesTimeout = 5 * time.Second
	}
	if a.ReportingTimeout <= 0 {
		a.ReportingTimeout = 2 * time.Second
	}
	if a.MaxConcurrentBidding <= 0 {
		a.MaxConcurrentBidding = 6
	}
	if a.MaxInventoryAge <= 0 {
		a.MaxInventoryAge = 60 * 24 * time.Hour
	}
	if a.MaxIDAttempts <= 0 {
		a.MaxIDAttempts = 10
	}
	if a.LightweightPoolSize <= 0 {
		a.LightweightPoolSize = 8
	}
	if a.BackgroundPoolSize <= 0 {
		a.BackgroundPoolSize = 32
	}
	if a.FetchCacheTTL <= 0 {
		a.FetchCacheTTL = 5 * time.Minute
	}
	if a.RateLimitPerSecond <= 0 {
		a.RateLimitPerSecond = 1
	}
	return a
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
		c.Postgres.SSLMode,
	)
}

func (c Config) Backoff() time.Duration {
	return time.Duration(c.Listener.ReconnectSeconds) * time.Second
}
