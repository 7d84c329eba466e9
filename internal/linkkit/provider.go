package linkkit

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// Provider names an external identity provider family.
type Provider string

const (
	ProviderGitHub  Provider = "github"
	ProviderDiscord Provider = "discord"
	ProviderX       Provider = "x"
)

// ParseProvider validates a provider name from an untrusted request path.
func ParseProvider(name string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(name))) {
	case ProviderGitHub:
		return ProviderGitHub, nil
	case ProviderDiscord:
		return ProviderDiscord, nil
	case ProviderX:
		return ProviderX, nil
	default:
		return "", fmt.Errorf("provider.parse.%s: %w", name, ErrUnknownProvider)
	}
}

// ProviderConfig carries the OAuth client settings for one provider. All
// values are injected at construction; adapters never read ambient
// environment state.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	AuthURL      string
	TokenURL     string
}

func (configuration ProviderConfig) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     configuration.ClientID,
		ClientSecret: configuration.ClientSecret,
		RedirectURL:  configuration.RedirectURI,
		Scopes:       configuration.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  configuration.AuthURL,
			TokenURL: configuration.TokenURL,
		},
	}
}

// NormalizedIdentity is the provider-independent profile produced from each
// provider's raw payload. ExternalID and Username are always present; the
// remaining fields are best effort. Metadata holds the numeric inputs the
// reputation formulas consume.
type NormalizedIdentity struct {
	ExternalID  string
	Username    string
	DisplayName string
	Email       string
	AvatarURL   string
	ProfileURL  string
	Verified    bool
	Metadata    map[string]int64
}

// Adapter is the uniform contract every provider family implements.
type Adapter interface {
	// Provider returns the family this adapter serves.
	Provider() Provider
	// UsesProofOfPossession reports whether the family requires a PKCE pair.
	UsesProofOfPossession() bool
	// AuthorizationURL builds the provider redirect URL for the state token.
	// proofChallenge is ignored by families without proof-of-possession.
	AuthorizationURL(stateToken string, proofChallenge string) string
	// ExchangeCode trades the authorization code for an access token,
	// forwarding the proof secret as a PKCE verifier when established.
	ExchangeCode(ctx context.Context, code string, proofSecret string) (string, error)
	// FetchIdentity reads and normalizes the provider profile.
	FetchIdentity(ctx context.Context, accessToken string) (NormalizedIdentity, error)
	// ReputationPoints computes the family score. Pure over Metadata.
	ReputationPoints(identity NormalizedIdentity) int64
}

// Registry holds the configured adapters keyed by provider.
type Registry struct {
	adapters map[Provider]Adapter
}

// NewRegistry constructs a registry from the supplied adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	indexed := make(map[Provider]Adapter, len(adapters))
	for _, adapter := range adapters {
		indexed[adapter.Provider()] = adapter
	}
	return &Registry{adapters: indexed}
}

// Lookup returns the adapter for the provider, if registered.
func (registry *Registry) Lookup(provider Provider) (Adapter, bool) {
	adapter, ok := registry.adapters[provider]
	return adapter, ok
}

// Providers lists the registered provider names.
func (registry *Registry) Providers() []Provider {
	names := make([]Provider, 0, len(registry.adapters))
	for name := range registry.adapters {
		names = append(names, name)
	}
	return names
}

// NewProofSecret generates a PKCE code verifier.
func NewProofSecret() string {
	return oauth2.GenerateVerifier()
}

// ProofChallenge derives the S256 code challenge for a proof secret.
func ProofChallenge(proofSecret string) string {
	sum := sha256.Sum256([]byte(proofSecret))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func capTerm(value int64, ceiling int64) int64 {
	if value < 0 {
		return 0
	}
	if value > ceiling {
		return ceiling
	}
	return value
}

func authorizedGet(ctx context.Context, client *http.Client, rawURL string, accessToken string, accept string) (*http.Response, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Authorization", "Bearer "+accessToken)
	if accept != "" {
		request.Header.Set("Accept", accept)
	}
	return client.Do(request)
}
