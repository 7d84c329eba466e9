package linkkit

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Outcome is the uniform result of a callback. Adapter failures are folded
// into FailureReason; no adapter error escapes HandleCallback.
type Outcome struct {
	Provider       Provider
	Success        bool
	CallerIdentity string
	Identity       NormalizedIdentity
	Points         int64
	FailureReason  string
}

func failedOutcome(provider Provider, reason string) Outcome {
	return Outcome{Provider: provider, FailureReason: reason}
}

// Orchestrator drives the verification pipeline end to end: state decode,
// correlation consumption, code exchange, identity fetch, score computation.
// It persists nothing; the HTTP layer writes on success.
type Orchestrator struct {
	registry     *Registry
	correlations CorrelationStore
	logger       *zap.Logger
	metrics      MetricsRecorder
}

// NewOrchestrator wires the orchestrator's collaborators.
func NewOrchestrator(registry *Registry, correlations CorrelationStore, logger *zap.Logger, metrics MetricsRecorder) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewCounterMetrics()
	}
	return &Orchestrator{
		registry:     registry,
		correlations: correlations,
		logger:       logger,
		metrics:      metrics,
	}
}

// BuildAuthorization starts a flow: it mints the nonce and, for
// proof-of-possession families, the PKCE pair, records the correlation entry,
// and returns the provider authorization URL.
func (orchestrator *Orchestrator) BuildAuthorization(ctx context.Context, providerName string, callerIdentity string) (string, error) {
	provider, parseErr := ParseProvider(providerName)
	if parseErr != nil {
		return "", parseErr
	}
	adapter, ok := orchestrator.registry.Lookup(provider)
	if !ok {
		return "", ErrUnknownProvider
	}

	nonce, nonceErr := NewStateNonce()
	if nonceErr != nil {
		return "", nonceErr
	}

	proofSecret := ""
	proofChallenge := ""
	if adapter.UsesProofOfPossession() {
		proofSecret = NewProofSecret()
		proofChallenge = ProofChallenge(proofSecret)
	}

	if putErr := orchestrator.correlations.Put(ctx, provider, nonce, proofSecret); putErr != nil {
		return "", putErr
	}

	stateToken, encodeErr := EncodeStateToken(callerIdentity, nonce, proofSecret)
	if encodeErr != nil {
		return "", encodeErr
	}

	orchestrator.metrics.Increment(MetricAuthorizationBuilt)
	orchestrator.logger.Info("authorization url built",
		zap.String("provider", string(provider)),
		zap.Bool("proof_of_possession", adapter.UsesProofOfPossession()))
	return adapter.AuthorizationURL(stateToken, proofChallenge), nil
}

// HandleCallback validates the callback parameters and runs the adapter
// pipeline. A provider-reported error short-circuits before any network call.
// A consumed, expired, or unknown state nonce fails the callback: state
// validation is enforced here, not advisory.
func (orchestrator *Orchestrator) HandleCallback(ctx context.Context, providerName string, code string, stateToken string, providerError string) Outcome {
	provider, parseErr := ParseProvider(providerName)
	if parseErr != nil {
		return failedOutcome(Provider(providerName), "unknown_provider")
	}

	if providerError != "" {
		orchestrator.metrics.Increment(MetricCallbackProviderErr)
		orchestrator.logger.Warn("provider returned error on callback",
			zap.String("provider", string(provider)),
			zap.String("provider_error", providerError))
		return failedOutcome(provider, providerError)
	}
	if code == "" || stateToken == "" {
		orchestrator.metrics.Increment(MetricCallbackMissingParam)
		return failedOutcome(provider, "missing_parameters")
	}

	adapter, ok := orchestrator.registry.Lookup(provider)
	if !ok {
		return failedOutcome(provider, "unknown_provider")
	}

	decoded, decodeErr := DecodeStateToken(stateToken, adapter.UsesProofOfPossession())
	if decodeErr != nil {
		orchestrator.metrics.Increment(MetricCallbackMalformed)
		orchestrator.logger.Warn("malformed state token on callback",
			zap.String("provider", string(provider)))
		return failedOutcome(provider, "malformed_token")
	}

	storedSecret, consumeErr := orchestrator.correlations.Consume(ctx, provider, decoded.Nonce)
	if consumeErr != nil {
		orchestrator.metrics.Increment(MetricCallbackReplayed)
		orchestrator.logger.Warn("state nonce rejected",
			zap.String("provider", string(provider)),
			zap.Error(consumeErr))
		return failedOutcome(provider, "state_replayed")
	}
	// The server-side copy is authoritative; the token segment only exists so
	// the secret survives a callback landing where the store is empty.
	proofSecret := storedSecret
	if proofSecret == "" {
		proofSecret = decoded.ProofSecret
	}

	accessToken, exchangeErr := adapter.ExchangeCode(ctx, code, proofSecret)
	if exchangeErr != nil {
		orchestrator.metrics.Increment(MetricCallbackExchangeErr)
		orchestrator.logger.Warn("code exchange failed",
			zap.String("provider", string(provider)),
			zap.Error(exchangeErr))
		return failedOutcome(provider, "exchange_failed")
	}

	identity, fetchErr := adapter.FetchIdentity(ctx, accessToken)
	if fetchErr != nil {
		orchestrator.metrics.Increment(MetricCallbackFetchErr)
		orchestrator.logger.Warn("identity fetch failed",
			zap.String("provider", string(provider)),
			zap.Error(fetchErr))
		reason := "identity_fetch_failed"
		if errors.Is(fetchErr, ErrExchangeFailed) {
			reason = "exchange_failed"
		}
		return failedOutcome(provider, reason)
	}

	points := adapter.ReputationPoints(identity)

	orchestrator.metrics.Increment(MetricCallbackSuccess)
	orchestrator.logger.Info("verification completed",
		zap.String("provider", string(provider)),
		zap.String("username", identity.Username),
		zap.Int64("points", points))

	return Outcome{
		Provider:       provider,
		Success:        true,
		CallerIdentity: decoded.CallerIdentity,
		Identity:       identity,
		Points:         points,
	}
}
