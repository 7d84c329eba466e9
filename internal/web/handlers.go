// Package web exposes the HTTP surface: wallet sessions, provider link
// initiation and callbacks, the score request API, and reconciliation views.
package web

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/chainrep/chainrep/internal/chain"
	"github.com/chainrep/chainrep/internal/linkkit"
	"github.com/chainrep/chainrep/internal/reconcile"
	"github.com/chainrep/chainrep/internal/scorestore"
)

// ChainScoreCategory is the category the oracle-resolved aggregate lands in.
const ChainScoreCategory = "reputation"

// Server holds the handler collaborators.
type Server struct {
	configuration ServerConfig
	orchestrator  *linkkit.Orchestrator
	providers     *linkkit.Registry
	engine        *chain.Engine
	oracle        chain.Oracle
	store         scorestore.Store
	syncer        *reconcile.Syncer
	metrics       *linkkit.CounterMetrics
	logger        *zap.Logger

	limiterMutex sync.Mutex
	limiters     map[string]*rate.Limiter
}

// NewServer wires the HTTP layer.
func NewServer(
	configuration ServerConfig,
	orchestrator *linkkit.Orchestrator,
	providers *linkkit.Registry,
	engine *chain.Engine,
	oracle chain.Oracle,
	store scorestore.Store,
	syncer *reconcile.Syncer,
	metrics *linkkit.CounterMetrics,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = linkkit.NewCounterMetrics()
	}
	return &Server{
		configuration: configuration,
		orchestrator:  orchestrator,
		providers:     providers,
		engine:        engine,
		oracle:        oracle,
		store:         store,
		syncer:        syncer,
		metrics:       metrics,
		logger:        logger,
		limiters:      make(map[string]*rate.Limiter),
	}
}

// MountRoutes registers every route on the router.
func (server *Server) MountRoutes(router gin.IRouter) {
	router.GET("/healthz", func(contextGin *gin.Context) {
		contextGin.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/session/wallet", server.handleWalletSession)
	router.GET("/link/:provider/start", RequireWallet(server.configuration), server.handleLinkStart)
	router.GET("/link/:provider/callback", server.handleLinkCallback)

	protected := router.Group("/")
	protected.Use(RequireWallet(server.configuration))
	protected.GET("/link/status", server.handleLinkStatus)
	protected.DELETE("/link/:provider", server.handleUnlink)
	protected.POST("/score/request", server.handleScoreRequest)
	protected.GET("/score/status", server.handleScoreStatus)
	protected.POST("/score/cancel", server.handleScoreCancel)
	protected.GET("/score/sync", server.handleScoreSync)
	protected.PUT("/score/manual", server.handleScoreManual)

	router.GET("/metrics/counters", func(contextGin *gin.Context) {
		contextGin.JSON(http.StatusOK, server.metrics.Snapshot())
	})
}

func (server *Server) handleWalletSession(contextGin *gin.Context) {
	var inbound struct {
		WalletAddress string `json:"walletAddress"`
	}
	if err := contextGin.BindJSON(&inbound); err != nil || strings.TrimSpace(inbound.WalletAddress) == "" {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
		return
	}
	if !common.IsHexAddress(inbound.WalletAddress) {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_wallet_address"})
		return
	}

	walletAddress := common.HexToAddress(inbound.WalletAddress).Hex()
	sessionToken, expiresAt, mintErr := MintWalletJWT(walletAddress,
		server.configuration.SessionIssuer,
		server.configuration.SessionSigningKey,
		server.configuration.SessionTTL)
	if mintErr != nil {
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	writeSessionCookie(contextGin, server.configuration, sessionToken, expiresAt)
	contextGin.JSON(http.StatusOK, gin.H{
		"walletAddress": walletAddress,
		"expires":       expiresAt,
	})
}

func (server *Server) handleLinkStart(contextGin *gin.Context) {
	walletAddress, ok := walletFromContext(contextGin)
	if !ok {
		contextGin.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	providerName := contextGin.Param("provider")

	authorizationURL, buildErr := server.orchestrator.BuildAuthorization(contextGin, providerName, walletAddress)
	if buildErr != nil {
		if errors.Is(buildErr, linkkit.ErrUnknownProvider) {
			contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown_provider"})
			return
		}
		server.logger.Error("link initiation failed",
			zap.String("provider", providerName), zap.Error(buildErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	contextGin.Redirect(http.StatusFound, authorizationURL)
}

func (server *Server) handleLinkCallback(contextGin *gin.Context) {
	providerName := contextGin.Param("provider")
	code := contextGin.Query("code")
	stateToken := contextGin.Query("state")
	providerError := contextGin.Query("error")

	outcome := server.orchestrator.HandleCallback(contextGin, providerName, code, stateToken, providerError)
	if !outcome.Success {
		server.redirectToVerificationPage(contextGin, url.Values{
			"platform": {providerName},
			"success":  {"false"},
			"error":    {outcome.FailureReason},
		})
		return
	}

	if persistErr := server.persistVerifiedLink(contextGin, outcome); persistErr != nil {
		server.logger.Error("verified link persistence failed",
			zap.String("provider", string(outcome.Provider)),
			zap.Error(persistErr))
		server.redirectToVerificationPage(contextGin, url.Values{
			"platform": {string(outcome.Provider)},
			"success":  {"false"},
			"error":    {"persistence_failed"},
		})
		return
	}

	server.redirectToVerificationPage(contextGin, url.Values{
		"platform": {string(outcome.Provider)},
		"success":  {"true"},
		"username": {outcome.Identity.Username},
	})
}

// persistVerifiedLink records the linked identity and the provider's points.
// Nothing was written before this point; a verification that failed anywhere
// upstream leaves no trace.
func (server *Server) persistVerifiedLink(ctx context.Context, outcome linkkit.Outcome) error {
	user, findErr := server.store.FindUser(ctx, outcome.CallerIdentity)
	if findErr != nil && !errors.Is(findErr, scorestore.ErrUserNotFound) {
		return findErr
	}
	user.WalletAddress = outcome.CallerIdentity
	user.SetLink(string(outcome.Provider), outcome.Identity.Username)
	if updateErr := server.store.UpdateUser(ctx, user); updateErr != nil {
		return updateErr
	}
	return server.store.UpsertScore(ctx, scorestore.ScoreRecord{
		WalletAddress: outcome.CallerIdentity,
		Category:      string(outcome.Provider),
		Value:         outcome.Points,
		Source:        scorestore.SourceChainCallback,
	})
}

func (server *Server) redirectToVerificationPage(contextGin *gin.Context, values url.Values) {
	contextGin.Redirect(http.StatusFound, server.configuration.VerificationPageURL+"?"+values.Encode())
}

func (server *Server) handleLinkStatus(contextGin *gin.Context) {
	walletAddress, ok := walletFromContext(contextGin)
	if !ok {
		contextGin.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	user, findErr := server.store.FindUser(contextGin, walletAddress)
	if findErr != nil && !errors.Is(findErr, scorestore.ErrUserNotFound) {
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	links := gin.H{}
	for _, provider := range server.providers.Providers() {
		username, verified := user.Link(string(provider))
		links[string(provider)] = gin.H{"username": username, "verified": verified}
	}
	contextGin.JSON(http.StatusOK, gin.H{
		"walletAddress": walletAddress,
		"links":         links,
	})
}

func (server *Server) handleUnlink(contextGin *gin.Context) {
	walletAddress, ok := walletFromContext(contextGin)
	if !ok {
		contextGin.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	providerName := contextGin.Param("provider")
	if _, parseErr := linkkit.ParseProvider(providerName); parseErr != nil {
		contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown_provider"})
		return
	}

	user, findErr := server.store.FindUser(contextGin, walletAddress)
	if findErr != nil {
		if errors.Is(findErr, scorestore.ErrUserNotFound) {
			contextGin.Status(http.StatusNoContent)
			return
		}
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	user.ClearLink(providerName)
	if updateErr := server.store.UpdateUser(contextGin, user); updateErr != nil {
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	contextGin.Status(http.StatusNoContent)
}

func (server *Server) handleScoreRequest(contextGin *gin.Context) {
	walletAddress, ok := walletFromContext(contextGin)
	if !ok {
		contextGin.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	if !server.allowScoreRequest(walletAddress) {
		contextGin.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
		return
	}

	flowID := uuid.NewString()
	args := server.buildOracleArgs(contextGin, walletAddress)

	flowLogger := server.logger.With(
		zap.String("flowId", flowID),
		zap.String("caller", walletAddress))

	_, startErr := server.engine.Start(contextGin, walletAddress, args, func(snapshot chain.Snapshot) {
		if snapshot.Phase == chain.PhaseResolved && snapshot.Score != nil {
			// Detached from the request: the flow outlives this handler.
			status, syncErr := server.syncer.OnResolved(context.Background(), walletAddress, ChainScoreCategory, *snapshot.Score)
			if syncErr != nil {
				flowLogger.Error("resolved score sync failed", zap.Error(syncErr))
				return
			}
			flowLogger.Info("resolved score synced", zap.String("priorStatus", string(status)))
		}
	})
	if startErr != nil {
		if errors.Is(startErr, chain.ErrAlreadyRunning) {
			contextGin.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "already_running"})
			return
		}
		flowLogger.Error("score flow start failed", zap.Error(startErr))
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	flowLogger.Info("score flow started")
	contextGin.JSON(http.StatusAccepted, gin.H{
		"flowId": flowID,
		"phase":  string(chain.PhaseSubmitting),
	})
}

// buildOracleArgs passes the linked usernames in a fixed provider order so the
// oracle computation sees a stable argument shape.
func (server *Server) buildOracleArgs(ctx context.Context, walletAddress string) []string {
	user, findErr := server.store.FindUser(ctx, walletAddress)
	if findErr != nil {
		return []string{"", "", ""}
	}
	githubUsername, _ := user.Link("github")
	discordUsername, _ := user.Link("discord")
	xUsername, _ := user.Link("x")
	return []string{githubUsername, discordUsername, xUsername}
}

func (server *Server) handleScoreStatus(contextGin *gin.Context) {
	walletAddress, ok := walletFromContext(contextGin)
	if !ok {
		contextGin.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	snapshot, found := server.engine.Status(walletAddress)
	if !found {
		contextGin.JSON(http.StatusOK, gin.H{"phase": string(chain.PhaseIdle)})
		return
	}
	response := gin.H{
		"phase":    string(snapshot.Phase),
		"attempts": snapshot.Attempts,
	}
	if snapshot.TxHash != "" {
		response["txHash"] = snapshot.TxHash
	}
	if snapshot.RequestID != "" {
		response["requestId"] = snapshot.RequestID
	}
	if snapshot.Score != nil {
		response["score"] = *snapshot.Score
	}
	if snapshot.Reason != "" {
		response["reason"] = snapshot.Reason
	}
	contextGin.JSON(http.StatusOK, response)
}

func (server *Server) handleScoreCancel(contextGin *gin.Context) {
	walletAddress, ok := walletFromContext(contextGin)
	if !ok {
		contextGin.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	if !server.engine.Cancel(walletAddress) {
		contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no_active_flow"})
		return
	}
	contextGin.Status(http.StatusNoContent)
}

func (server *Server) handleScoreSync(contextGin *gin.Context) {
	walletAddress, ok := walletFromContext(contextGin)
	if !ok {
		contextGin.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	chainValues := make(map[string]uint64)
	if server.oracle != nil {
		chainScore, readErr := server.oracle.GetScore(contextGin, walletAddress)
		if readErr != nil {
			server.logger.Warn("chain score read failed for sync view",
				zap.String("caller", walletAddress), zap.Error(readErr))
		} else if chainScore > 0 {
			chainValues[ChainScoreCategory] = chainScore
		}
	}

	report, reportErr := server.syncer.Report(contextGin, walletAddress, chainValues)
	if reportErr != nil {
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	contextGin.JSON(http.StatusOK, gin.H{
		"walletAddress": walletAddress,
		"categories":    report,
		"needsSync":     reconcile.NeedsSync(report),
	})
}

func (server *Server) handleScoreManual(contextGin *gin.Context) {
	walletAddress, ok := walletFromContext(contextGin)
	if !ok {
		contextGin.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	var inbound struct {
		Category string `json:"category"`
		Value    int64  `json:"value"`
	}
	if err := contextGin.BindJSON(&inbound); err != nil || strings.TrimSpace(inbound.Category) == "" {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
		return
	}
	if inbound.Value < 0 {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "negative_value"})
		return
	}

	upsertErr := server.store.UpsertScore(contextGin, scorestore.ScoreRecord{
		WalletAddress: walletAddress,
		Category:      inbound.Category,
		Value:         inbound.Value,
		Source:        scorestore.SourceManual,
	})
	if upsertErr != nil {
		contextGin.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	contextGin.Status(http.StatusNoContent)
}

// allowScoreRequest enforces a per-wallet submission interval. A wallet's
// limiter survives across requests; the map grows with distinct wallets only.
func (server *Server) allowScoreRequest(walletAddress string) bool {
	interval := server.configuration.ScoreRequestInterval
	if interval <= 0 {
		return true
	}
	server.limiterMutex.Lock()
	limiter, exists := server.limiters[walletAddress]
	if !exists {
		limiter = rate.NewLimiter(rate.Every(interval), 1)
		server.limiters[walletAddress] = limiter
	}
	server.limiterMutex.Unlock()
	return limiter.Allow()
}
