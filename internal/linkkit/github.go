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
	githubDefaultAPIBaseURL = "https://api.github.com"
	githubScoreBase         = 100
	githubScoreCeiling      = 800
)

// GitHubAdapter links GitHub accounts. Reputation weighs repository count,
// followers, and account age.
type GitHubAdapter struct {
	configuration ProviderConfig
	apiBaseURL    string
	httpClient    *http.Client
	now           func() time.Time
}

// NewGitHubAdapter constructs the adapter from injected configuration.
func NewGitHubAdapter(configuration ProviderConfig) *GitHubAdapter {
	return &GitHubAdapter{
		configuration: configuration,
		apiBaseURL:    githubDefaultAPIBaseURL,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
		now:           time.Now,
	}
}

// Provider returns the GitHub family name.
func (adapter *GitHubAdapter) Provider() Provider {
	return ProviderGitHub
}

// UsesProofOfPossession reports that GitHub flows carry no PKCE pair.
func (adapter *GitHubAdapter) UsesProofOfPossession() bool {
	return false
}

// AuthorizationURL builds the GitHub authorize redirect for the state token.
func (adapter *GitHubAdapter) AuthorizationURL(stateToken string, proofChallenge string) string {
	return adapter.configuration.oauthConfig().AuthCodeURL(stateToken)
}

// ExchangeCode trades the authorization code for an access token.
func (adapter *GitHubAdapter) ExchangeCode(ctx context.Context, code string, proofSecret string) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, adapter.httpClient)
	token, err := adapter.configuration.oauthConfig().Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("github.exchange: %w: %v", ErrExchangeFailed, err)
	}
	return token.AccessToken, nil
}

type githubUserPayload struct {
	ID          int64     `json:"id"`
	Login       string    `json:"login"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	AvatarURL   string    `json:"avatar_url"`
	HTMLURL     string    `json:"html_url"`
	PublicRepos int64     `json:"public_repos"`
	Followers   int64     `json:"followers"`
	CreatedAt   time.Time `json:"created_at"`
}

// FetchIdentity reads /user and normalizes the payload.
func (adapter *GitHubAdapter) FetchIdentity(ctx context.Context, accessToken string) (NormalizedIdentity, error) {
	response, err := authorizedGet(ctx, adapter.httpClient, adapter.apiBaseURL+"/user", accessToken, "application/vnd.github+json")
	if err != nil {
		return NormalizedIdentity{}, fmt.Errorf("github.fetch_identity: %w: %v", ErrIdentityFetchFailed, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return NormalizedIdentity{}, fmt.Errorf("github.fetch_identity.status_%d: %w", response.StatusCode, ErrIdentityFetchFailed)
	}
	var payload githubUserPayload
	if decodeErr := json.NewDecoder(response.Body).Decode(&payload); decodeErr != nil {
		return NormalizedIdentity{}, fmt.Errorf("github.fetch_identity.decode: %w: %v", ErrIdentityFetchFailed, decodeErr)
	}
	if payload.ID == 0 || payload.Login == "" {
		return NormalizedIdentity{}, fmt.Errorf("github.fetch_identity.incomplete: %w", ErrIdentityFetchFailed)
	}

	accountYears := int64(0)
	if !payload.CreatedAt.IsZero() {
		accountYears = int64(adapter.now().UTC().Sub(payload.CreatedAt.UTC()).Hours() / (24 * 365))
	}

	return NormalizedIdentity{
		ExternalID:  fmt.Sprintf("%d", payload.ID),
		Username:    payload.Login,
		DisplayName: payload.Name,
		Email:       payload.Email,
		AvatarURL:   payload.AvatarURL,
		ProfileURL:  payload.HTMLURL,
		Verified:    true,
		Metadata: map[string]int64{
			"publicRepos":  payload.PublicRepos,
			"followers":    payload.Followers,
			"accountYears": accountYears,
		},
	}, nil
}

// ReputationPoints scores the identity. Each term is capped before summation
// so no single metric dominates, then the total is capped at the family
// ceiling.
func (adapter *GitHubAdapter) ReputationPoints(identity NormalizedIdentity) int64 {
	total := int64(githubScoreBase)
	total += capTerm(identity.Metadata["publicRepos"]*5, 200)
	total += capTerm(identity.Metadata["followers"]*2, 150)
	total += capTerm(identity.Metadata["accountYears"]*50, 200)
	return capTerm(total, githubScoreCeiling)
}
