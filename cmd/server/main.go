package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tyemirov/insightdash/internal/oauthkit"
	"github.com/tyemirov/insightdash/internal/oauthkitpg"
	"github.com/tyemirov/insightdash/internal/providers"
	"github.com/tyemirov/insightdash/internal/web"
	"github.com/tyemirov/insightdash/pkg/sessionvalidator"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

var buildCredentialStore = openCredentialStore

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "insightdash",
		Short:   "Dashboard API for Gmail, Search Console, and Google Analytics with automatic OAuth token refresh",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("database_url", "", "Database URL for integration credentials (postgres:// or sqlite://; leave empty for in-memory store)")
	rootCmd.Flags().String("store_backend", "", "Credential store backend: memory, gorm, or pgx (defaults to gorm when database_url is set)")
	rootCmd.Flags().String("google_client_id", "", "Google OAuth client ID used for refresh exchanges")
	rootCmd.Flags().String("google_client_secret", "", "Google OAuth client secret used for refresh exchanges")
	rootCmd.Flags().String("google_token_url", "", "Override for the Google token endpoint")
	rootCmd.Flags().String("session_signing_key", "", "HS256 secret that signs dashboard session tokens")
	rootCmd.Flags().String("session_issuer", defaultSessionIssuer, "Expected issuer of dashboard session tokens")
	rootCmd.Flags().String("session_cookie_name", sessionvalidator.DefaultCookieName, "Cookie that carries the dashboard session token")
	rootCmd.Flags().Duration("refresh_safety_margin", oauthkit.DefaultSafetyMargin, "Refresh access tokens this long before they expire")
	rootCmd.Flags().String("default_analytics_property", "", "GA4 property used when a request does not name one")
	rootCmd.Flags().Int("gmail_max_results", providers.DefaultGmailMaxResults, "Default number of Gmail messages per listing")
	rootCmd.Flags().Float64("gmail_detail_rps", 20, "Gmail metadata fetches per second within one listing (0 disables pacing)")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for the dashboard frontend")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled (required if enable_cors is true)")

	for _, flagName := range []string{
		"listen_addr",
		"database_url",
		"store_backend",
		"google_client_id",
		"google_client_secret",
		"google_token_url",
		"session_signing_key",
		"session_issuer",
		"session_cookie_name",
		"refresh_safety_margin",
		"default_analytics_property",
		"gmail_max_results",
		"gmail_detail_rps",
		"enable_cors",
		"cors_allowed_origins",
	} {
		_ = viper.BindPFlag(flagName, rootCmd.Flags().Lookup(flagName))
	}

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

// openCredentialStore returns the configured store and a release func for its connections.
func openCredentialStore(ctx context.Context, serverConfig ServerConfig, logger *zap.Logger) (oauthkit.CredentialStore, func(), error) {
	switch serverConfig.StoreBackend {
	case storeBackendGORM:
		store, err := oauthkit.NewDatabaseCredentialStore(ctx, serverConfig.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using persistent credential store", zap.String("driver", store.Driver()))
		return store, func() {}, nil
	case storeBackendPGX:
		pool, err := oauthkitpg.BuildPool(ctx, serverConfig.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if schemaErr := oauthkitpg.EnsureSchema(ctx, pool); schemaErr != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("credential_store.pgx.schema: %w", schemaErr)
		}
		logger.Info("using persistent credential store", zap.String("driver", "pgx"))
		return oauthkitpg.NewPostgresCredentialStore(pool), pool.Close, nil
	default:
		logger.Info("using in-memory credential store")
		return oauthkit.NewMemoryCredentialStore(), func() {}, nil
	}
}

// buildRouter assembles middleware and routes for serverConfig.
func buildRouter(serverConfig ServerConfig, store oauthkit.CredentialStore, logger *zap.Logger) (*gin.Engine, error) {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(web.RequestID())
	router.Use(zapLoggerMiddleware(logger))

	if serverConfig.EnableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, serverConfig.CORSAllowedOrigins)
		if corsErr != nil {
			return nil, corsErr
		}
		router.Use(corsMiddleware)
	}

	clock := oauthkit.NewSystemClock()
	metricsRecorder := oauthkit.NewCounterMetrics()
	httpClient := &http.Client{Timeout: 30 * time.Second}
	exchanger := oauthkit.NewOAuthExchanger(oauthkit.OAuthClientConfig{
		ClientID:     serverConfig.GoogleClientID,
		ClientSecret: serverConfig.GoogleClientSecret,
		TokenURL:     serverConfig.GoogleTokenURL,
		HTTPClient:   httpClient,
		Clock:        clock,
	})
	engine, engineErr := oauthkit.NewEngine(oauthkit.EngineConfig{
		Store:        store,
		Exchanger:    exchanger,
		Clock:        clock,
		Logger:       logger,
		Metrics:      metricsRecorder,
		SafetyMargin: serverConfig.RefreshSafetyMargin,
	})
	if engineErr != nil {
		return nil, engineErr
	}

	sessionValidator, validatorErr := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: serverConfig.SessionSigningKey,
		Issuer:     serverConfig.SessionIssuer,
		CookieName: serverConfig.SessionCookieName,
	})
	if validatorErr != nil {
		return nil, validatorErr
	}

	providerOptions := providers.Options{HTTPClient: httpClient}
	mountErr := web.MountDashboardRoutes(router, web.Dependencies{
		Engine:                   engine,
		Credentials:              store,
		Gmail:                    providers.NewGmailClient(providerOptions, serverConfig.GmailDetailRPS),
		SearchConsole:            providers.NewSearchConsoleClient(providerOptions),
		Analytics:                providers.NewAnalyticsClient(providerOptions),
		Authenticate:             sessionValidator.GinMiddleware(sessionvalidator.DefaultContextKey),
		ClaimsContextKey:         sessionvalidator.DefaultContextKey,
		Metrics:                  metricsRecorder,
		Logger:                   logger,
		DefaultAnalyticsProperty: serverConfig.DefaultAnalyticsProperty,
		GmailMaxResults:          serverConfig.GmailMaxResults,
	})
	if mountErr != nil {
		return nil, mountErr
	}
	return router, nil
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	serverConfig, ok := contextValue.(ServerConfig)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	gin.SetMode(gin.ReleaseMode)

	store, releaseStore, storeErr := buildCredentialStore(commandContext, serverConfig, logger)
	if storeErr != nil {
		return fmt.Errorf("%s: %w", configCodeCredentialStoreInit, storeErr)
	}
	defer releaseStore()

	router, routerErr := buildRouter(serverConfig, store, logger)
	if routerErr != nil {
		return routerErr
	}

	server := &http.Server{
		Addr:              serverConfig.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-stopSignals:
		case <-shutdownCtx.Done():
			return
		}
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", serverConfig.ListenAddr), zap.String("store_backend", serverConfig.StoreBackend))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.String("request_id", web.RequestIDFromContext(contextGin)),
			zap.Duration("elapsed", duration),
		)
	}
}
