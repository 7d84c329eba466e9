package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/chainrep/chainrep/internal/chain"
	"github.com/chainrep/chainrep/internal/linkkit"
	"github.com/chainrep/chainrep/internal/reconcile"
	"github.com/chainrep/chainrep/internal/scorestore"
	"github.com/chainrep/chainrep/internal/scorestorepg"
	"github.com/chainrep/chainrep/internal/web"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

var buildOracle = func(ctx context.Context, configuration chain.EthereumOracleConfig) (chain.Oracle, error) {
	return chain.NewEthereumOracle(ctx, configuration)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "chainrep",
		Short:   "Wallet identity linking with OAuth providers and on-chain score reconciliation",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("cookie_domain", "", "Cookie domain; empty for host-only")
	rootCmd.Flags().String("session_signing_key", "", "HS256 signing secret for wallet session JWT")
	rootCmd.Flags().Duration("session_ttl", 30*time.Minute, "Wallet session TTL")
	rootCmd.Flags().String("verification_page_url", "", "Verification page URL callbacks redirect to")
	rootCmd.Flags().Bool("dev_insecure_http", false, "Allow insecure HTTP for local dev")
	rootCmd.Flags().String("database_url", "", "Database URL (postgres:// or sqlite://; leave empty for in-memory stores)")
	rootCmd.Flags().Bool("pgx_direct", false, "Use the direct pgx store instead of the ORM layer (postgres only)")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for the verification page origin")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled")
	rootCmd.Flags().Duration("correlation_ttl", 10*time.Minute, "Link correlation entry lifetime")
	rootCmd.Flags().Duration("score_request_interval", 30*time.Second, "Minimum interval between score requests per wallet")

	rootCmd.Flags().String("github_client_id", "", "GitHub OAuth client id")
	rootCmd.Flags().String("github_client_secret", "", "GitHub OAuth client secret")
	rootCmd.Flags().String("github_redirect_uri", "", "GitHub OAuth redirect URI")
	rootCmd.Flags().String("discord_client_id", "", "Discord OAuth client id")
	rootCmd.Flags().String("discord_client_secret", "", "Discord OAuth client secret")
	rootCmd.Flags().String("discord_redirect_uri", "", "Discord OAuth redirect URI")
	rootCmd.Flags().String("x_client_id", "", "X OAuth client id")
	rootCmd.Flags().String("x_client_secret", "", "X OAuth client secret")
	rootCmd.Flags().String("x_redirect_uri", "", "X OAuth redirect URI")

	rootCmd.Flags().String("chain_rpc_url", "", "Ethereum JSON-RPC endpoint")
	rootCmd.Flags().String("oracle_contract_address", "", "Score oracle contract address")
	rootCmd.Flags().String("oracle_private_key", "", "Hex private key for submitting score requests")
	rootCmd.Flags().Uint64("oracle_subscription_id", 0, "Oracle subscription identifier")
	rootCmd.Flags().Duration("poll_interval", 10*time.Second, "Score poll interval")
	rootCmd.Flags().Int("max_poll_attempts", 30, "Score poll attempt ceiling")

	for _, flagName := range []string{
		"listen_addr", "cookie_domain", "session_signing_key", "session_ttl",
		"verification_page_url", "dev_insecure_http", "database_url", "pgx_direct",
		"enable_cors", "cors_allowed_origins", "correlation_ttl", "score_request_interval",
		"github_client_id", "github_client_secret", "github_redirect_uri",
		"discord_client_id", "discord_client_secret", "discord_redirect_uri",
		"x_client_id", "x_client_secret", "x_redirect_uri",
		"chain_rpc_url", "oracle_contract_address", "oracle_private_key",
		"oracle_subscription_id", "poll_interval", "max_poll_attempts",
	} {
		_ = viper.BindPFlag(flagName, rootCmd.Flags().Lookup(flagName))
	}

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	sessionCookieName = "wallet_session"
	sessionIssuer     = "chainrep"

	githubAuthURL   = "https://github.com/login/oauth/authorize"
	githubTokenURL  = "https://github.com/login/oauth/access_token"
	discordAuthURL  = "https://discord.com/oauth2/authorize"
	discordTokenURL = "https://discord.com/api/oauth2/token"
	xAuthURL        = "https://x.com/i/oauth2/authorize"
	xTokenURL       = "https://api.x.com/2/oauth2/token"

	configCodeMissingSigningKey      = "config.missing_session_signing_key"
	configCodeMissingVerificationURL = "config.missing_verification_page_url"
	configCodeInvalidSessionTTL      = "config.invalid_session_ttl"
	configCodeIncompleteProvider     = "config.incomplete_provider"
	configCodeNoProviders            = "config.no_providers_configured"
	configCodeMissingChainRPC        = "config.missing_chain_rpc_url"
	configCodeMissingOracleAddress   = "config.missing_oracle_contract_address"
	configCodeMissingOracleKey       = "config.missing_oracle_private_key"
	configCodeUninitializedConf      = "config.uninitialized_server_config"
	configCodeOracleInit             = "config.oracle_init"
	configCodePgxRequiresPostgres    = "config.pgx_requires_postgres"
)

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

// serverConfig aggregates every validated setting the server needs.
type serverConfig struct {
	Web       web.ServerConfig
	Providers map[linkkit.Provider]linkkit.ProviderConfig
	Oracle    chain.EthereumOracleConfig
	Engine    chain.EngineConfig
}

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	loaded, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, loaded))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

func loadProviderConfig(prefix string, authURL string, tokenURL string, scopes []string) (linkkit.ProviderConfig, bool, error) {
	clientID := strings.TrimSpace(viper.GetString(prefix + "_client_id"))
	clientSecret := strings.TrimSpace(viper.GetString(prefix + "_client_secret"))
	redirectURI := strings.TrimSpace(viper.GetString(prefix + "_redirect_uri"))

	if clientID == "" && clientSecret == "" && redirectURI == "" {
		return linkkit.ProviderConfig{}, false, nil
	}
	if clientID == "" || clientSecret == "" || redirectURI == "" {
		return linkkit.ProviderConfig{}, false, configError(configCodeIncompleteProvider,
			prefix+" requires client id, client secret, and redirect uri together")
	}
	return linkkit.ProviderConfig{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURI:  redirectURI,
		Scopes:       scopes,
		AuthURL:      authURL,
		TokenURL:     tokenURL,
	}, true, nil
}

// LoadServerConfig validates flag and environment input into one config struct.
func LoadServerConfig() (serverConfig, error) {
	signingKey := viper.GetString("session_signing_key")
	if signingKey == "" {
		return serverConfig{}, configError(configCodeMissingSigningKey, "session_signing_key must be provided")
	}

	verificationPageURL := viper.GetString("verification_page_url")
	if verificationPageURL == "" {
		return serverConfig{}, configError(configCodeMissingVerificationURL, "verification_page_url must be provided")
	}

	sessionTTL := viper.GetDuration("session_ttl")
	if sessionTTL <= 0 {
		return serverConfig{}, configError(configCodeInvalidSessionTTL, "session_ttl must be greater than zero")
	}

	providers := make(map[linkkit.Provider]linkkit.ProviderConfig)
	providerSpecs := []struct {
		provider linkkit.Provider
		prefix   string
		authURL  string
		tokenURL string
		scopes   []string
	}{
		{linkkit.ProviderGitHub, "github", githubAuthURL, githubTokenURL, []string{"read:user"}},
		{linkkit.ProviderDiscord, "discord", discordAuthURL, discordTokenURL, []string{"identify", "guilds"}},
		{linkkit.ProviderX, "x", xAuthURL, xTokenURL, []string{"users.read", "tweet.read"}},
	}
	for _, spec := range providerSpecs {
		configuration, configured, providerErr := loadProviderConfig(spec.prefix, spec.authURL, spec.tokenURL, spec.scopes)
		if providerErr != nil {
			return serverConfig{}, providerErr
		}
		if configured {
			providers[spec.provider] = configuration
		}
	}
	if len(providers) == 0 {
		return serverConfig{}, configError(configCodeNoProviders, "at least one OAuth provider must be configured")
	}

	chainRPCURL := viper.GetString("chain_rpc_url")
	if chainRPCURL == "" {
		return serverConfig{}, configError(configCodeMissingChainRPC, "chain_rpc_url must be provided")
	}
	oracleAddress := viper.GetString("oracle_contract_address")
	if oracleAddress == "" {
		return serverConfig{}, configError(configCodeMissingOracleAddress, "oracle_contract_address must be provided")
	}
	oracleKey := viper.GetString("oracle_private_key")
	if oracleKey == "" {
		return serverConfig{}, configError(configCodeMissingOracleKey, "oracle_private_key must be provided")
	}

	if viper.GetBool("pgx_direct") && !strings.HasPrefix(viper.GetString("database_url"), "postgres") {
		return serverConfig{}, configError(configCodePgxRequiresPostgres, "pgx_direct requires a postgres:// database_url")
	}

	return serverConfig{
		Web: web.ServerConfig{
			SessionSigningKey:    []byte(signingKey),
			SessionIssuer:        sessionIssuer,
			SessionCookieName:    sessionCookieName,
			SessionTTL:           sessionTTL,
			CookieDomain:         viper.GetString("cookie_domain"),
			VerificationPageURL:  verificationPageURL,
			ScoreRequestInterval: viper.GetDuration("score_request_interval"),
		},
		Providers: providers,
		Oracle: chain.EthereumOracleConfig{
			RPCURL:          chainRPCURL,
			ContractAddress: oracleAddress,
			PrivateKeyHex:   oracleKey,
		},
		Engine: chain.EngineConfig{
			SubscriptionID:  viper.GetUint64("oracle_subscription_id"),
			PollInterval:    viper.GetDuration("poll_interval"),
			MaxPollAttempts: viper.GetInt("max_poll_attempts"),
		},
	}, nil
}

func buildAdapters(providers map[linkkit.Provider]linkkit.ProviderConfig, logger *zap.Logger) []linkkit.Adapter {
	var adapters []linkkit.Adapter
	if configuration, ok := providers[linkkit.ProviderGitHub]; ok {
		adapters = append(adapters, linkkit.NewGitHubAdapter(configuration))
	}
	if configuration, ok := providers[linkkit.ProviderDiscord]; ok {
		adapters = append(adapters, linkkit.NewDiscordAdapter(configuration, logger))
	}
	if configuration, ok := providers[linkkit.ProviderX]; ok {
		adapters = append(adapters, linkkit.NewXAdapter(configuration))
	}
	return adapters
}

func buildStores(ctx context.Context, databaseURL string, pgxDirect bool, correlationTTL time.Duration, logger *zap.Logger) (scorestore.Store, linkkit.CorrelationStore, error) {
	if databaseURL == "" {
		logger.Info("using in-memory stores")
		return scorestore.NewMemoryStore(), linkkit.NewMemoryCorrelationStore(correlationTTL), nil
	}

	correlations, correlationErr := linkkit.NewDatabaseCorrelationStore(ctx, databaseURL, correlationTTL)
	if correlationErr != nil {
		return nil, nil, correlationErr
	}

	if pgxDirect {
		pool, poolErr := scorestorepg.BuildPool(ctx, databaseURL)
		if poolErr != nil {
			return nil, nil, poolErr
		}
		if schemaErr := scorestorepg.EnsureSchema(ctx, pool); schemaErr != nil {
			return nil, nil, schemaErr
		}
		logger.Info("using direct pgx score store")
		return scorestorepg.NewPostgresStore(pool), correlations, nil
	}

	databaseStore, storeErr := scorestore.NewDatabaseStore(ctx, databaseURL)
	if storeErr != nil {
		return nil, nil, storeErr
	}
	logger.Info("using persistent score store", zap.String("driver", databaseStore.Driver()))
	return databaseStore, correlations, nil
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
	loaded, ok := contextValue.(serverConfig)
	if !ok {
		return configError(configCodeUninitializedConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	listenAddr := viper.GetString("listen_addr")
	devInsecureHTTP := viper.GetBool("dev_insecure_http")
	databaseURL := viper.GetString("database_url")
	pgxDirect := viper.GetBool("pgx_direct")
	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")
	correlationTTL := viper.GetDuration("correlation_ttl")

	loaded.Web.AllowInsecureHTTP = devInsecureHTTP
	loaded.Web.SameSiteMode = http.SameSiteStrictMode
	if enableCORS {
		loaded.Web.SameSiteMode = http.SameSiteNoneMode
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if enableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, corsAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	store, correlations, storeErr := buildStores(command.Context(), databaseURL, pgxDirect, correlationTTL, logger)
	if storeErr != nil {
		return storeErr
	}

	metricsRecorder := linkkit.NewCounterMetrics()
	registry := linkkit.NewRegistry(buildAdapters(loaded.Providers, logger)...)
	orchestrator := linkkit.NewOrchestrator(registry, correlations, logger, metricsRecorder)

	oracle, oracleErr := buildOracle(command.Context(), loaded.Oracle)
	if oracleErr != nil {
		return fmt.Errorf("%s: %w", configCodeOracleInit, oracleErr)
	}
	engine := chain.NewEngine(oracle, logger, loaded.Engine)
	syncer := reconcile.NewSyncer(store, logger)

	webServer := web.NewServer(loaded.Web, orchestrator, registry, engine, oracle, store, syncer, metricsRecorder, logger)
	webServer.MountRoutes(router)

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		<-stopSignals
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening",
		zap.String("addr", listenAddr),
		zap.Int("providers", len(loaded.Providers)))
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
			zap.Duration("elapsed", duration),
		)
	}
}
