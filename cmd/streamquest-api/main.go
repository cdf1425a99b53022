package main

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/streamquest/internal/activity"
	"github.com/MarcoPoloResearchLab/streamquest/internal/auth"
	"github.com/MarcoPoloResearchLab/streamquest/internal/config"
	"github.com/MarcoPoloResearchLab/streamquest/internal/database"
	"github.com/MarcoPoloResearchLab/streamquest/internal/ingest"
	"github.com/MarcoPoloResearchLab/streamquest/internal/logging"
	"github.com/MarcoPoloResearchLab/streamquest/internal/media"
	"github.com/MarcoPoloResearchLab/streamquest/internal/metrics"
	"github.com/MarcoPoloResearchLab/streamquest/internal/players"
	"github.com/MarcoPoloResearchLab/streamquest/internal/progression"
	"github.com/MarcoPoloResearchLab/streamquest/internal/ranking"
	"github.com/MarcoPoloResearchLab/streamquest/internal/server"
	"github.com/MarcoPoloResearchLab/streamquest/internal/unlocks"
	"github.com/MarcoPoloResearchLab/streamquest/internal/watchtime"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "streamquest-api",
		Short: "StreamQuest progression backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before configuration")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().StringSlice("allowed-origins", nil, "CORS origins allowed to call the API")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "PostgreSQL DSN")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("tauth-signing-secret", "", "TAuth session signing secret (overrides env)")
	cmd.PersistentFlags().String("tauth-issuer", defaults.GetString("tauth.issuer"), "Expected TAuth session issuer")
	cmd.PersistentFlags().String("tauth-cookie-name", defaults.GetString("tauth.cookie_name"), "TAuth session cookie name")
	cmd.PersistentFlags().String("nats-url", "", "NATS server URL; the playback consumer is disabled when empty")
	cmd.PersistentFlags().String("nats-subject", defaults.GetString("nats.subject"), "NATS subject carrying playback events")
	cmd.PersistentFlags().String("internal-api-key", "", "Key for internal routes such as card grants; disabled when empty")
	cmd.PersistentFlags().Int("ranking-default-limit", defaults.GetInt("ranking.default_limit"), "Leaderboard size when no limit is requested")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "tauth.signing_secret", "tauth-signing-secret")
	bindFlag(cmd, "tauth.issuer", "tauth-issuer")
	bindFlag(cmd, "tauth.cookie_name", "tauth-cookie-name")
	bindFlag(cmd, "nats.url", "nats-url")
	bindFlag(cmd, "nats.subject", "nats-subject")
	bindFlag(cmd, "ranking.default_limit", "ranking-default-limit")
	bindFlag(cmd, "internal.api_key", "internal-api-key")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

type services struct {
	activity    *activity.Service
	progression *progression.Service
	players     *players.Service
	tracker     *unlocks.Tracker
	unlocks     *unlocks.Engine
	rankings    *ranking.Service
}

func buildServices(db *gorm.DB, appConfig config.AppConfig, serviceMetrics *metrics.Metrics, dispatcher *server.RealtimeDispatcher, logger *zap.Logger) (services, error) {
	ledger, err := watchtime.NewLedger(watchtime.LedgerConfig{Database: db, Logger: logger})
	if err != nil {
		return services{}, err
	}
	progressionService, err := progression.NewService(progression.ServiceConfig{Database: db, Ledger: ledger, Logger: logger})
	if err != nil {
		return services{}, err
	}
	catalog, err := media.NewCatalog(media.CatalogConfig{Database: db, Logger: logger})
	if err != nil {
		return services{}, err
	}
	tracker, err := unlocks.NewTracker(unlocks.TrackerConfig{Database: db, Logger: logger})
	if err != nil {
		return services{}, err
	}
	history := activity.NewHistory(db, logger)
	engine, err := unlocks.NewEngine(unlocks.EngineConfig{
		Database: db,
		Tracker:  tracker,
		Media:    catalog,
		History:  history,
		Logger:   logger,
	})
	if err != nil {
		return services{}, err
	}
	activityService, err := activity.NewService(activity.ServiceConfig{
		Database:     db,
		XP:           progressionService,
		Tracker:      tracker,
		Unlocks:      engine,
		Requirements: catalog,
		Observers:    []activity.Observer{serviceMetrics, dispatcher},
		Logger:       logger,
	})
	if err != nil {
		return services{}, err
	}
	playerService, err := players.NewService(players.ServiceConfig{Database: db, Awarder: progressionService, Logger: logger})
	if err != nil {
		return services{}, err
	}
	rankingService, err := ranking.NewService(ranking.ServiceConfig{
		Progress:     progressionService,
		WatchTime:    ledger,
		Players:      playerService,
		Activity:     history,
		DefaultLimit: appConfig.RankingDefaultLimit,
		Logger:       logger,
	})
	if err != nil {
		return services{}, err
	}
	return services{
		activity:    activityService,
		progression: progressionService,
		players:     playerService,
		tracker:     tracker,
		unlocks:     engine,
		rankings:    rankingService,
	}, nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(signalCtx, database.Options{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	serviceMetrics := metrics.New()
	dispatcher := server.NewRealtimeDispatcher()
	built, err := buildServices(db, appConfig, serviceMetrics, dispatcher, logger)
	if err != nil {
		return err
	}

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.TAuthSigningKey),
		Issuer:        appConfig.TAuthIssuer,
		CookieName:    appConfig.TAuthCookieName,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionValidator: sessionValidator,
		Players:          built.players,
		Activity:         built.activity,
		Progression:      built.progression,
		Tracker:          built.tracker,
		Unlocks:          built.unlocks,
		Rankings:         built.rankings,
		Metrics:          serviceMetrics,
		Realtime:         dispatcher,
		AllowedOrigins:   appConfig.CORSAllowedOrigins,
		InternalAPIKey:   appConfig.InternalAPIKey,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	if appConfig.InternalRoutesEnabled() {
		logger.Info("internal routes enabled")
	}

	errCh := make(chan error, 2)

	if appConfig.NATSEnabled() {
		conn, err := ingest.Connect(ingest.ConnectOptions{URL: appConfig.NATSURL, Name: "streamquest-api"})
		if err != nil {
			return err
		}
		defer conn.Close()
		consumer, err := ingest.NewConsumer(ingest.ConsumerConfig{
			Conn:     conn,
			Subject:  appConfig.NATSSubject,
			Recorder: built.activity,
			Outcomes: serviceMetrics,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		go func() {
			if err := consumer.Run(signalCtx); err != nil {
				errCh <- err
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// event streams end with the signal context instead of holding Shutdown open.
		BaseContext: func(net.Listener) context.Context { return signalCtx },
	}

	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
