package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "STREAMQUEST"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDriver       = DriverSQLite
	defaultDatabasePath = "streamquest.db"
	defaultLogLevel     = "info"
	defaultCookieName   = "app_session"
	defaultIssuer       = "tauth"
	defaultNATSSubject  = "activity.playback"
	defaultRankingLimit = 50

	// DriverSQLite stores data in a local SQLite file.
	DriverSQLite = "sqlite"
	// DriverPostgres stores data in PostgreSQL.
	DriverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress         string
	TAuthSigningKey     string
	TAuthIssuer         string
	TAuthCookieName     string
	DatabaseDriver      string
	DatabasePath        string
	DatabaseDSN         string
	LogLevel            string
	NATSURL             string
	NATSSubject         string
	RankingDefaultLimit int
	CORSAllowedOrigins  []string
	InternalAPIKey      string
}

// InternalRoutesEnabled reports whether the internal routes such as card grants are served.
func (c AppConfig) InternalRoutesEnabled() bool {
	return strings.TrimSpace(c.InternalAPIKey) != ""
}

// NATSEnabled reports whether the playback consumer should run.
func (c AppConfig) NATSEnabled() bool {
	return strings.TrimSpace(c.NATSURL) != ""
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{})
	configViper.SetDefault("database.driver", defaultDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("tauth.issuer", defaultIssuer)
	configViper.SetDefault("tauth.cookie_name", defaultCookieName)
	configViper.SetDefault("nats.url", "")
	configViper.SetDefault("nats.subject", defaultNATSSubject)
	configViper.SetDefault("ranking.default_limit", defaultRankingLimit)
	configViper.SetDefault("internal.api_key", "")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:         configViper.GetString("http.address"),
		TAuthSigningKey:     configViper.GetString("tauth.signing_secret"),
		TAuthIssuer:         configViper.GetString("tauth.issuer"),
		TAuthCookieName:     configViper.GetString("tauth.cookie_name"),
		DatabaseDriver:      strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:        configViper.GetString("database.path"),
		DatabaseDSN:         configViper.GetString("database.dsn"),
		LogLevel:            configViper.GetString("log.level"),
		NATSURL:             configViper.GetString("nats.url"),
		NATSSubject:         configViper.GetString("nats.subject"),
		RankingDefaultLimit: configViper.GetInt("ranking.default_limit"),
		CORSAllowedOrigins:  splitOrigins(configViper.GetStringSlice("http.allowed_origins")),
		InternalAPIKey:      strings.TrimSpace(configViper.GetString("internal.api_key")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.TAuthSigningKey) == "" {
		return fmt.Errorf("tauth.signing_secret is required")
	}
	if strings.TrimSpace(c.TAuthIssuer) == "" {
		return fmt.Errorf("tauth.issuer is required")
	}
	if strings.TrimSpace(c.TAuthCookieName) == "" {
		return fmt.Errorf("tauth.cookie_name is required")
	}
	switch c.DatabaseDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if c.RankingDefaultLimit <= 0 {
		return fmt.Errorf("ranking.default_limit must be positive")
	}
	return nil
}

// splitOrigins accepts both list values and a comma separated env string.
func splitOrigins(values []string) []string {
	var origins []string
	for _, value := range values {
		for _, origin := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}
	return origins
}
