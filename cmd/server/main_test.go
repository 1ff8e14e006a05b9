package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tyemirov/insightdash/internal/oauthkit"
	"github.com/tyemirov/insightdash/pkg/sessionvalidator"
)

func TestZapLoggerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	logger, err := zap.NewProduction()
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	router := gin.New()
	router.Use(zapLoggerMiddleware(logger))
	router.GET("/ping", func(contextGin *gin.Context) {
		contextGin.Status(http.StatusNoContent)
	})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/ping", nil)
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}
}

func TestRunServerMissingConfig(t *testing.T) {
	gin.SetMode(gin.TestMode)

	viper.Reset()
	defer viper.Reset()

	err := runServer(&cobra.Command{}, nil)
	if err == nil {
		t.Fatalf("expected configuration error")
	}

	expectedMessage := "config.uninitialized_server_config: server configuration not prepared; PreRunE must execute before RunE"
	if err.Error() != expectedMessage {
		t.Fatalf("expected error %q, got %q", expectedMessage, err.Error())
	}
}

func setRequiredConfig() {
	viper.Set("google_client_id", "client")
	viper.Set("google_client_secret", "secret")
	viper.Set("session_signing_key", "signing-secret")
}

func TestLoadServerConfigErrors(t *testing.T) {
	testCases := []struct {
		name            string
		configure       func()
		expectedMessage string
	}{
		{
			name:            "missing client id",
			configure:       func() {},
			expectedMessage: "config.missing_google_client_id: google_client_id must be provided",
		},
		{
			name: "missing client secret",
			configure: func() {
				viper.Set("google_client_id", "client")
			},
			expectedMessage: "config.missing_google_client_secret: google_client_secret must be provided",
		},
		{
			name: "missing signing key",
			configure: func() {
				viper.Set("google_client_id", "client")
				viper.Set("google_client_secret", "secret")
			},
			expectedMessage: "config.missing_session_signing_key: session_signing_key must be provided",
		},
		{
			name: "non-positive safety margin",
			configure: func() {
				setRequiredConfig()
				viper.Set("refresh_safety_margin", 0)
			},
			expectedMessage: "config.invalid_refresh_safety_margin: refresh_safety_margin must be greater than zero",
		},
		{
			name: "unknown store backend",
			configure: func() {
				setRequiredConfig()
				viper.Set("store_backend", "redis")
			},
			expectedMessage: "config.invalid_store_backend: store_backend must be one of memory, gorm, pgx",
		},
		{
			name: "pgx without database url",
			configure: func() {
				setRequiredConfig()
				viper.Set("store_backend", "pgx")
			},
			expectedMessage: "config.missing_database_url: database_url must be provided for store_backend pgx",
		},
		{
			name: "gmail max results too large",
			configure: func() {
				setRequiredConfig()
				viper.Set("gmail_max_results", 500)
			},
			expectedMessage: "config.invalid_gmail_max_results: gmail_max_results must not exceed 100",
		},
		{
			name: "cors without origins",
			configure: func() {
				setRequiredConfig()
				viper.Set("enable_cors", true)
			},
			expectedMessage: "config.missing_cors_allowed_origins: cors_allowed_origins must be provided when enable_cors is true",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			viper.Reset()
			defer viper.Reset()
			testCase.configure()

			_, err := LoadServerConfig()
			if err == nil {
				t.Fatalf("expected configuration error")
			}
			if err.Error() != testCase.expectedMessage {
				t.Fatalf("expected error %q, got %q", testCase.expectedMessage, err.Error())
			}
		})
	}
}

func TestLoadServerConfigDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	setRequiredConfig()

	config, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("expected configuration load to succeed, got %v", err)
	}
	if config.StoreBackend != storeBackendMemory {
		t.Fatalf("expected memory backend without database_url, got %q", config.StoreBackend)
	}
	if config.RefreshSafetyMargin != oauthkit.DefaultSafetyMargin {
		t.Fatalf("expected default safety margin, got %s", config.RefreshSafetyMargin)
	}
	if config.SessionIssuer != defaultSessionIssuer {
		t.Fatalf("expected default issuer, got %q", config.SessionIssuer)
	}

	viper.Set("database_url", "sqlite://file::memory:?cache=shared")
	viper.Set("refresh_safety_margin", 2*time.Minute)
	config, err = LoadServerConfig()
	if err != nil {
		t.Fatalf("expected configuration load to succeed, got %v", err)
	}
	if config.StoreBackend != storeBackendGORM {
		t.Fatalf("expected gorm backend when database_url is set, got %q", config.StoreBackend)
	}
	if config.RefreshSafetyMargin != 2*time.Minute {
		t.Fatalf("expected configured safety margin, got %s", config.RefreshSafetyMargin)
	}
}

func TestRunServerCredentialStoreFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)

	viper.Reset()
	defer viper.Reset()

	restoreServe := withServeHTTPStub(func(server *http.Server) error {
		t.Fatalf("server must not start without a credential store")
		return nil
	})
	defer restoreServe()

	restoreStore := withCredentialStoreBuilderStub(func(ctx context.Context, serverConfig ServerConfig, logger *zap.Logger) (oauthkit.CredentialStore, func(), error) {
		return nil, nil, errors.New("store_fail")
	})
	defer restoreStore()

	setRequiredConfig()
	command := commandWithConfig(t)

	if err := runServer(command, nil); err == nil || err.Error() != "config.credential_store_init: store_fail" {
		t.Fatalf("expected credential store init error, got %v", err)
	}
}

func TestRunServerSuccess(t *testing.T) {
	gin.SetMode(gin.TestMode)

	viper.Reset()
	defer viper.Reset()

	restoreServe := withServeHTTPStub(func(server *http.Server) error {
		if server.Handler == nil {
			t.Fatalf("expected handler to be configured")
		}
		return http.ErrServerClosed
	})
	defer restoreServe()

	setRequiredConfig()
	viper.Set("listen_addr", ":0")
	viper.Set("database_url", "sqlite:file:"+uuid.NewString()+"?mode=memory&cache=shared")
	viper.Set("enable_cors", true)
	viper.Set("cors_allowed_origins", []string{"https://dashboard.example.com"})
	command := commandWithConfig(t)

	if err := runServer(command, nil); err != nil {
		t.Fatalf("expected runServer to succeed, got %v", err)
	}
}

func TestRunServerInMemoryStore(t *testing.T) {
	gin.SetMode(gin.TestMode)

	viper.Reset()
	defer viper.Reset()

	released := false
	restoreStore := withCredentialStoreBuilderStub(func(ctx context.Context, serverConfig ServerConfig, logger *zap.Logger) (oauthkit.CredentialStore, func(), error) {
		return oauthkit.NewMemoryCredentialStore(), func() { released = true }, nil
	})
	defer restoreStore()

	restoreServe := withServeHTTPStub(func(server *http.Server) error {
		return http.ErrServerClosed
	})
	defer restoreServe()

	setRequiredConfig()
	viper.Set("listen_addr", ":0")
	command := commandWithConfig(t)

	if err := runServer(command, nil); err != nil {
		t.Fatalf("expected runServer to succeed with in-memory store, got %v", err)
	}
	if !released {
		t.Fatalf("expected credential store to be released on shutdown")
	}
}

func TestBuildRouterServesAuthenticatedRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	viper.Reset()
	defer viper.Reset()
	setRequiredConfig()

	config, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("expected configuration load to succeed, got %v", err)
	}
	router, err := buildRouter(config, oauthkit.NewMemoryCredentialStore(), zap.NewNop())
	if err != nil {
		t.Fatalf("expected router to build, got %v", err)
	}

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/integrations", nil))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a session, got %d", recorder.Code)
	}

	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: config.SessionSigningKey,
		Issuer:     config.SessionIssuer,
	})
	if err != nil {
		t.Fatalf("failed to build validator: %v", err)
	}
	sessionToken, err := validator.Issue("user-1", "user@example.com", time.Hour)
	if err != nil {
		t.Fatalf("failed to issue session: %v", err)
	}

	recorder = httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/api/integrations", nil)
	request.AddCookie(&http.Cookie{Name: sessionvalidator.DefaultCookieName, Value: sessionToken})
	router.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 with a session cookie, got %d", recorder.Code)
	}
	if recorder.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestOpenCredentialStoreMemory(t *testing.T) {
	store, release, err := openCredentialStore(context.Background(), ServerConfig{StoreBackend: storeBackendMemory}, zap.NewNop())
	if err != nil {
		t.Fatalf("expected memory store, got %v", err)
	}
	defer release()
	if _, ok := store.(*oauthkit.MemoryCredentialStore); !ok {
		t.Fatalf("expected *oauthkit.MemoryCredentialStore, got %T", store)
	}
}

func TestNewRootCommandHelp(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"--help"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("expected help execution to succeed: %v", err)
	}
}

func commandWithConfig(t *testing.T) *cobra.Command {
	t.Helper()
	config, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("expected configuration load to succeed, got %v", err)
	}
	command := &cobra.Command{}
	command.SetContext(context.WithValue(context.Background(), serverConfigContextKey, config))
	return command
}

func withServeHTTPStub(stub func(server *http.Server) error) func() {
	previous := serveHTTP
	serveHTTP = stub
	return func() {
		serveHTTP = previous
	}
}

func withCredentialStoreBuilderStub(stub func(ctx context.Context, serverConfig ServerConfig, logger *zap.Logger) (oauthkit.CredentialStore, func(), error)) func() {
	previous := buildCredentialStore
	buildCredentialStore = stub
	return func() {
		buildCredentialStore = previous
	}
}
