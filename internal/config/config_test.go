package config

import "testing"

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("tauth.signing_secret", "secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DatabaseDriver != DriverSQLite || cfg.DatabasePath != defaultDatabasePath {
		t.Fatalf("unexpected database defaults %+v", cfg)
	}
	if cfg.TAuthCookieName != defaultCookieName || cfg.TAuthIssuer != defaultIssuer {
		t.Fatalf("unexpected auth defaults %+v", cfg)
	}
	if cfg.NATSEnabled() {
		t.Fatalf("expected the consumer to be disabled without a url")
	}
	if cfg.RankingDefaultLimit != defaultRankingLimit {
		t.Fatalf("expected default ranking limit, got %d", cfg.RankingDefaultLimit)
	}
	if cfg.InternalRoutesEnabled() {
		t.Fatalf("expected internal routes to be disabled without a key")
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("STREAMQUEST_TAUTH_SIGNING_SECRET", "env-secret")
	t.Setenv("STREAMQUEST_DATABASE_DRIVER", "Postgres")
	t.Setenv("STREAMQUEST_DATABASE_DSN", "host=localhost dbname=streamquest")
	t.Setenv("STREAMQUEST_NATS_URL", "nats://localhost:4222")
	t.Setenv("STREAMQUEST_HTTP_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("STREAMQUEST_INTERNAL_API_KEY", " grant-key ")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TAuthSigningKey != "env-secret" || cfg.DatabaseDriver != DriverPostgres {
		t.Fatalf("expected env overrides, got %+v", cfg)
	}
	if !cfg.NATSEnabled() {
		t.Fatalf("expected the consumer to be enabled")
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowedOrigins)
	}
	if cfg.InternalAPIKey != "grant-key" || !cfg.InternalRoutesEnabled() {
		t.Fatalf("expected trimmed internal key, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadValidation(t *testing.T) {
	testCases := []struct {
		name     string
		settings map[string]any
	}{
		{name: "missing secret", settings: map[string]any{}},
		{name: "unknown driver", settings: map[string]any{"tauth.signing_secret": "s", "database.driver": "mysql"}},
		{name: "postgres without dsn", settings: map[string]any{"tauth.signing_secret": "s", "database.driver": "postgres"}},
		{name: "empty sqlite path", settings: map[string]any{"tauth.signing_secret": "s", "database.path": " "}},
		{name: "non-positive limit", settings: map[string]any{"tauth.signing_secret": "s", "ranking.default_limit": 0}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			for key, value := range testCase.settings {
				configViper.Set(key, value)
			}
			if _, err := Load(configViper); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
