package linkkit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

const (
	xDefaultAPIBaseURL = "https://api.x.com"
	xScoreBase         = 50
	xScoreCeiling      = 500
)

// XAdapter links X accounts. The X token endpoint requires PKCE, so the
// authorization URL carries the S256 challenge and the exchange forwards the
// verifier. Omitting an established verifier is rejected by the provider, not
// detectable locally.
type XAdapter struct {
	configuration ProviderConfig
	apiBaseURL    string
	httpClient    *http.Client
}

// NewXAdapter constructs the adapter from injected configuration.
func NewXAdapter(configuration ProviderConfig) *XAdapter {
	return &XAdapter{
		configuration: configuration,
		apiBaseURL:    xDefaultAPIBaseURL,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Provider returns the X family name.
func (adapter *XAdapter) Provider() Provider {
	return ProviderX
}

// UsesProofOfPossession reports that X flows require a PKCE pair.
func (adapter *XAdapter) UsesProofOfPossession() bool {
	return true
}

// AuthorizationURL builds the X authorize redirect carrying the code challenge.
func (adapter *XAdapter) AuthorizationURL(stateToken string, proofChallenge string) string {
	return adapter.configuration.oauthConfig().AuthCodeURL(stateToken,
		oauth2.SetAuthURLParam("code_challenge", proofChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// ExchangeCode trades the code for an access token, forwarding the verifier.
func (adapter *XAdapter) ExchangeCode(ctx context.Context, code string, proofSecret string) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, adapter.httpClient)
	options := []oauth2.AuthCodeOption{}
	if proofSecret != "" {
		options = append(options, oauth2.SetAuthURLParam("code_verifier", proofSecret))
	}
	token, err := adapter.configuration.oauthConfig().Exchange(ctx, code, options...)
	if err != nil {
		return "", fmt.Errorf("x.exchange: %w: %v", ErrExchangeFailed, err)
	}
	return token.AccessToken, nil
}

type xUserPayload struct {
	Data struct {
		ID              string `json:"id"`
		Name            string `json:"name"`
		Username        string `json:"username"`
		Verified        bool   `json:"verified"`
		ProfileImageURL string `json:"profile_image_url"`
		PublicMetrics   struct {
			FollowersCount int64 `json:"followers_count"`
			TweetCount     int64 `json:"tweet_count"`
		} `json:"public_metrics"`
	} `json:"data"`
}

// FetchIdentity reads /2/users/me with public metrics and normalizes it.
func (adapter *XAdapter) FetchIdentity(ctx context.Context, accessToken string) (NormalizedIdentity, error) {
	requestURL := adapter.apiBaseURL + "/2/users/me?user.fields=public_metrics,verified,profile_image_url"
	response, err := authorizedGet(ctx, adapter.httpClient, requestURL, accessToken, "application/json")
	if err != nil {
		return NormalizedIdentity{}, fmt.Errorf("x.fetch_identity: %w: %v", ErrIdentityFetchFailed, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return NormalizedIdentity{}, fmt.Errorf("x.fetch_identity.status_%d: %w", response.StatusCode, ErrIdentityFetchFailed)
	}
	var payload xUserPayload
	if decodeErr := json.NewDecoder(response.Body).Decode(&payload); decodeErr != nil {
		return NormalizedIdentity{}, fmt.Errorf("x.fetch_identity.decode: %w: %v", ErrIdentityFetchFailed, decodeErr)
	}
	if payload.Data.ID == "" || payload.Data.Username == "" {
		return NormalizedIdentity{}, fmt.Errorf("x.fetch_identity.incomplete: %w", ErrIdentityFetchFailed)
	}

	verifiedFlag := int64(0)
	if payload.Data.Verified {
		verifiedFlag = 1
	}

	return NormalizedIdentity{
		ExternalID:  payload.Data.ID,
		Username:    payload.Data.Username,
		DisplayName: payload.Data.Name,
		AvatarURL:   payload.Data.ProfileImageURL,
		ProfileURL:  "https://x.com/" + payload.Data.Username,
		Verified:    payload.Data.Verified,
		Metadata: map[string]int64{
			"followers":  payload.Data.PublicMetrics.FollowersCount,
			"tweetCount": payload.Data.PublicMetrics.TweetCount,
			"verified":   verifiedFlag,
		},
	}, nil
}

// ReputationPoints scores the identity with per-term caps and a family ceiling.
func (adapter *XAdapter) ReputationPoints(identity NormalizedIdentity) int64 {
	total := int64(xScoreBase)
	total += capTerm(identity.Metadata["followers"]/10, 200)
	total += capTerm(identity.Metadata["tweetCount"]/20, 100)
	if identity.Metadata["verified"] > 0 {
		total += 150
	}
	return capTerm(total, xScoreCeiling)
}
