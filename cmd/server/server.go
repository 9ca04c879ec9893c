// Package server implements the HTTP API of the assistant hub: chat and
// folder CRUD, connector management, OAuth callbacks, and the streaming
// chat endpoint.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tmc/langchaingo/llms"

	"github.com/nick-cummings/personal-assistant/internal/metrics"
	"github.com/nick-cummings/personal-assistant/internal/utils"
	"github.com/nick-cummings/personal-assistant/pkg/connectors"
	"github.com/nick-cummings/personal-assistant/pkg/cryptobox"
	"github.com/nick-cummings/personal-assistant/pkg/database"
	"github.com/nick-cummings/personal-assistant/pkg/logger"
	"github.com/nick-cummings/personal-assistant/pkg/tools"
)

// ServeCmd starts the assistant hub server.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the assistant hub server",
	Long: `Start the HTTP server backing the assistant: chat and folder management,
connector configuration with encrypted credentials, and streaming chat
completions with tool calling.

Examples:
  assistant serve                      # defaults: port 8080, assistant.db
  assistant serve --port 9000          # custom port
  assistant serve --provider anthropic # pick the LLM provider`,
	Run: runServe,
}

// ServerConfig is the resolved serve configuration.
type ServerConfig struct {
	Port          int      `json:"port"`
	Host          string   `json:"host"`
	OpsPort       int      `json:"ops_port"`
	DBPath        string   `json:"db_path"`
	CORSOrigins   []string `json:"cors_origins"`
	Provider      string   `json:"provider"`
	ModelID       string   `json:"model_id"`
	Temperature   float64  `json:"temperature"`
	MaxToolRounds int      `json:"max_tool_rounds"`
	StaticDir     string   `json:"static_dir"`
}

// API carries the shared state behind the route handlers.
type API struct {
	config   ServerConfig
	store    database.Store
	registry *tools.Registry
	manager  *connectors.Manager
	metrics  *metrics.Metrics
	logger   utils.ExtendedLogger
	auth     *oauthStateStore
	oauth    map[string]*oauthProvider
	credKey  []byte

	// newModel overrides LLM construction in tests.
	newModel func(settings *database.Settings) (llms.Model, error)
}

func init() {
	ServeCmd.Flags().IntP("port", "p", 8080, "Server port")
	ServeCmd.Flags().StringP("host", "H", "0.0.0.0", "Server host")
	ServeCmd.Flags().Int("ops-port", 9090, "Ops listener port (health, metrics); 0 disables")
	ServeCmd.Flags().String("db-path", "assistant.db", "SQLite database path")
	ServeCmd.Flags().StringSlice("cors-origins", []string{"*"}, "CORS allowed origins")
	ServeCmd.Flags().String("provider", "", "Default LLM provider (openai, openrouter, anthropic, bedrock, ollama)")
	ServeCmd.Flags().String("model", "", "Default model ID (provider default if empty)")
	ServeCmd.Flags().Float64("temperature", 0.2, "Default LLM temperature")
	ServeCmd.Flags().Int("max-tool-rounds", 10, "Tool call rounds per completion")
	ServeCmd.Flags().String("static-dir", "./static", "Directory of UI assets to serve")

	viper.BindPFlags(ServeCmd.Flags())
}

// credentialSalt is fixed: the hub is single-tenant, so key uniqueness
// comes entirely from the operator's passphrase.
var credentialSalt = []byte("personal-assistant.credentials.v1")

func runServe(cmd *cobra.Command, args []string) {
	config := ServerConfig{
		Port:          viper.GetInt("port"),
		Host:          viper.GetString("host"),
		OpsPort:       viper.GetInt("ops-port"),
		DBPath:        viper.GetString("db-path"),
		CORSOrigins:   viper.GetStringSlice("cors-origins"),
		Provider:      viper.GetString("provider"),
		ModelID:       viper.GetString("model"),
		Temperature:   viper.GetFloat64("temperature"),
		MaxToolRounds: viper.GetInt("max-tool-rounds"),
		StaticDir:     viper.GetString("static-dir"),
	}

	log, err := logger.New(viper.GetString("log-file"), viper.GetString("log-level"),
		viper.GetString("log-format"), true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	passphrase := os.Getenv("ASSISTANT_CREDENTIALS_KEY")
	if passphrase == "" {
		log.Warn("ASSISTANT_CREDENTIALS_KEY not set, using an insecure default key")
		passphrase = "insecure-development-key"
	}
	credKey := cryptobox.DeriveKey([]byte(passphrase), credentialSalt)

	store, err := database.NewSQLiteStore(config.DBPath)
	if err != nil {
		log.Fatalf("opening database %s: %v", config.DBPath, err)
	}
	defer store.Close()

	registry := tools.NewRegistry()
	manager := connectors.NewManager(store, credKey, registry, log)
	if err := manager.Reload(context.Background()); err != nil {
		log.WithError(err).Error("initial connector load failed")
	}
	defer manager.Close()

	api := &API{
		config:   config,
		store:    store,
		registry: registry,
		manager:  manager,
		metrics:  metrics.New(),
		logger:   log,
		auth:     newOAuthStateStore(),
		credKey:  credKey,
	}

	router := api.buildRouter()

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses manage their own lifetime
		IdleTimeout:  300 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()
	log.Infof("assistant hub listening on %s:%d", config.Host, config.Port)

	var ops *http.Server
	if config.OpsPort > 0 {
		ops = api.startOpsListener()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("forced shutdown: %v", err)
	}
	if ops != nil {
		ops.Shutdown(ctx)
	}
	log.Info("shutdown complete")
}

// buildRouter assembles the gin engine with middleware and every route
// group. Split out so tests can drive the full router in-process.
func (api *API) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(api.corsMiddleware())
	router.Use(api.metrics.GinMiddleware())

	api.registerChatRoutes(router)
	api.registerFolderRoutes(router)
	api.registerConnectorRoutes(router)
	api.registerSettingsRoutes(router)
	api.registerAuthRoutes(router)
	api.registerStreamRoutes(router)

	router.GET("/api/health", api.healthHandler)

	if api.config.StaticDir != "" {
		if _, err := os.Stat(api.config.StaticDir); err == nil {
			router.NoRoute(gin.WrapH(http.FileServer(http.Dir(api.config.StaticDir))))
		}
	}
	return router
}

func (api *API) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		for _, allowed := range api.config.CORSOrigins {
			if allowed == "*" || allowed == origin {
				c.Header("Access-Control-Allow-Origin", origin)
				break
			}
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Authorization")
		c.Header("Access-Control-Expose-Headers", "X-User-Message-Id, X-Assistant-Message-Id")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

func (api *API) healthHandler(c *gin.Context) {
	if err := api.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"connectors": api.manager.Active(),
		"tools":      api.registry.Len(),
	})
}
