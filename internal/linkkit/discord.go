package linkkit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	discordDefaultAPIBaseURL = "https://discord.com/api/v10"
	discordCDNBaseURL        = "https://cdn.discordapp.com"
	discordScoreBase         = 50
	discordScoreCeiling      = 400
)

// DiscordAdapter links Discord accounts. Reputation weighs guild membership,
// Nitro tier, and email verification. The guild list is a secondary read; its
// failure zeroes the guild count instead of failing the verification.
type DiscordAdapter struct {
	configuration ProviderConfig
	apiBaseURL    string
	httpClient    *http.Client
	logger        *zap.Logger
}

// NewDiscordAdapter constructs the adapter from injected configuration.
func NewDiscordAdapter(configuration ProviderConfig, logger *zap.Logger) *DiscordAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiscordAdapter{
		configuration: configuration,
		apiBaseURL:    discordDefaultAPIBaseURL,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
		logger:        logger,
	}
}

// Provider returns the Discord family name.
func (adapter *DiscordAdapter) Provider() Provider {
	return ProviderDiscord
}

// UsesProofOfPossession reports that Discord flows carry no PKCE pair.
func (adapter *DiscordAdapter) UsesProofOfPossession() bool {
	return false
}

// AuthorizationURL builds the Discord authorize redirect for the state token.
func (adapter *DiscordAdapter) AuthorizationURL(stateToken string, proofChallenge string) string {
	return adapter.configuration.oauthConfig().AuthCodeURL(stateToken)
}

// ExchangeCode trades the authorization code for an access token.
func (adapter *DiscordAdapter) ExchangeCode(ctx context.Context, code string, proofSecret string) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, adapter.httpClient)
	token, err := adapter.configuration.oauthConfig().Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("discord.exchange: %w: %v", ErrExchangeFailed, err)
	}
	return token.AccessToken, nil
}

type discordUserPayload struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	GlobalName  string `json:"global_name"`
	Email       string `json:"email"`
	Avatar      string `json:"avatar"`
	Verified    bool   `json:"verified"`
	PremiumType int64  `json:"premium_type"`
}

type discordGuildPayload struct {
	ID string `json:"id"`
}

// FetchIdentity reads /users/@me and, best effort, /users/@me/guilds.
func (adapter *DiscordAdapter) FetchIdentity(ctx context.Context, accessToken string) (NormalizedIdentity, error) {
	response, err := authorizedGet(ctx, adapter.httpClient, adapter.apiBaseURL+"/users/@me", accessToken, "application/json")
	if err != nil {
		return NormalizedIdentity{}, fmt.Errorf("discord.fetch_identity: %w: %v", ErrIdentityFetchFailed, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return NormalizedIdentity{}, fmt.Errorf("discord.fetch_identity.status_%d: %w", response.StatusCode, ErrIdentityFetchFailed)
	}
	var payload discordUserPayload
	if decodeErr := json.NewDecoder(response.Body).Decode(&payload); decodeErr != nil {
		return NormalizedIdentity{}, fmt.Errorf("discord.fetch_identity.decode: %w: %v", ErrIdentityFetchFailed, decodeErr)
	}
	if payload.ID == "" || payload.Username == "" {
		return NormalizedIdentity{}, fmt.Errorf("discord.fetch_identity.incomplete: %w", ErrIdentityFetchFailed)
	}

	guildCount := adapter.fetchGuildCount(ctx, accessToken)

	verifiedFlag := int64(0)
	if payload.Verified {
		verifiedFlag = 1
	}
	avatarURL := ""
	if payload.Avatar != "" {
		avatarURL = fmt.Sprintf("%s/avatars/%s/%s.png", discordCDNBaseURL, payload.ID, payload.Avatar)
	}
	displayName := payload.GlobalName
	if displayName == "" {
		displayName = payload.Username
	}

	return NormalizedIdentity{
		ExternalID:  payload.ID,
		Username:    payload.Username,
		DisplayName: displayName,
		Email:       payload.Email,
		AvatarURL:   avatarURL,
		ProfileURL:  "https://discord.com/users/" + payload.ID,
		Verified:    payload.Verified,
		Metadata: map[string]int64{
			"guildCount":  guildCount,
			"premiumType": payload.PremiumType,
			"verified":    verifiedFlag,
		},
	}, nil
}

func (adapter *DiscordAdapter) fetchGuildCount(ctx context.Context, accessToken string) int64 {
	response, err := authorizedGet(ctx, adapter.httpClient, adapter.apiBaseURL+"/users/@me/guilds", accessToken, "application/json")
	if err != nil {
		adapter.logger.Warn("discord guild list read failed",
			zap.String("code", "discord.fetch_guilds.request"),
			zap.Error(err))
		return 0
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		adapter.logger.Warn("discord guild list read rejected",
			zap.String("code", "discord.fetch_guilds.status"),
			zap.Int("status", response.StatusCode))
		return 0
	}
	var guilds []discordGuildPayload
	if decodeErr := json.NewDecoder(response.Body).Decode(&guilds); decodeErr != nil {
		adapter.logger.Warn("discord guild list decode failed",
			zap.String("code", "discord.fetch_guilds.decode"),
			zap.Error(decodeErr))
		return 0
	}
	return int64(len(guilds))
}

// ReputationPoints scores the identity with per-term caps and a family ceiling.
func (adapter *DiscordAdapter) ReputationPoints(identity NormalizedIdentity) int64 {
	total := int64(discordScoreBase)
	total += capTerm(identity.Metadata["guildCount"]*15, 150)
	total += capTerm(identity.Metadata["premiumType"]*50, 100)
	if identity.Metadata["verified"] > 0 {
		total += 100
	}
	return capTerm(total, discordScoreCeiling)
}
