package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chainrep/chainrep/internal/chain"
	"github.com/chainrep/chainrep/internal/linkkit"
	"github.com/chainrep/chainrep/internal/reconcile"
	"github.com/chainrep/chainrep/internal/scorestore"
)

const testWalletAddress = "0x52908400098527886E0F7030069857D2E4169EE7"

type stubAdapter struct {
	provider  linkkit.Provider
	usesProof bool
	identity  linkkit.NormalizedIdentity
	points    int64
}

func (adapter *stubAdapter) Provider() linkkit.Provider  { return adapter.provider }
func (adapter *stubAdapter) UsesProofOfPossession() bool { return adapter.usesProof }

func (adapter *stubAdapter) AuthorizationURL(stateToken string, proofChallenge string) string {
	return "https://provider.example/authorize?state=" + url.QueryEscape(stateToken)
}

func (adapter *stubAdapter) ExchangeCode(ctx context.Context, code string, proofSecret string) (string, error) {
	return "access-token", nil
}

func (adapter *stubAdapter) FetchIdentity(ctx context.Context, accessToken string) (linkkit.NormalizedIdentity, error) {
	return adapter.identity, nil
}

func (adapter *stubAdapter) ReputationPoints(identity linkkit.NormalizedIdentity) int64 {
	return adapter.points
}

type stubOracle struct {
	score uint64
}

func (oracle *stubOracle) SendRequest(ctx context.Context, subscriptionID uint64, args []string) (string, error) {
	return "0xtxhash", nil
}
func (oracle *stubOracle) WaitMined(ctx context.Context, txHash string) error { return nil }
func (oracle *stubOracle) LastRequestID(ctx context.Context) (string, error) {
	return "0xrequest", nil
}
func (oracle *stubOracle) GetScore(ctx context.Context, caller string) (uint64, error) {
	return oracle.score, nil
}
func (oracle *stubOracle) LastError(ctx context.Context) ([]byte, error) { return nil, nil }

type testHarness struct {
	router *gin.Engine
	server *Server
	store  *scorestore.MemoryStore
	oracle *stubOracle
}

func buildTestHarness(t *testing.T, mutateConfig func(*ServerConfig)) *testHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	configuration := ServerConfig{
		SessionSigningKey:   []byte("test-signing-key"),
		SessionIssuer:       "chainrep",
		SessionCookieName:   "wallet_session",
		SessionTTL:          15 * time.Minute,
		SameSiteMode:        http.SameSiteLaxMode,
		AllowInsecureHTTP:   true,
		VerificationPageURL: "https://app.example/verify",
	}
	if mutateConfig != nil {
		mutateConfig(&configuration)
	}

	adapter := &stubAdapter{
		provider: linkkit.ProviderGitHub,
		identity: linkkit.NormalizedIdentity{ExternalID: "1", Username: "octocat"},
		points:   650,
	}
	metrics := linkkit.NewCounterMetrics()
	orchestrator := linkkit.NewOrchestrator(
		linkkit.NewRegistry(adapter),
		linkkit.NewMemoryCorrelationStore(10*time.Minute),
		nil,
		metrics,
	)

	oracle := &stubOracle{score: 800}
	engine := chain.NewEngine(oracle, nil, chain.EngineConfig{
		SubscriptionID:  7,
		PollInterval:    time.Millisecond,
		MaxPollAttempts: 5,
	})

	store := scorestore.NewMemoryStore()
	syncer := reconcile.NewSyncer(store, nil)

	server := NewServer(configuration, orchestrator, linkkit.NewRegistry(adapter), engine, oracle, store, syncer, metrics, nil)
	router := gin.New()
	server.MountRoutes(router)

	return &testHarness{router: router, server: server, store: store, oracle: oracle}
}

func (harness *testHarness) sessionCookie(t *testing.T) *http.Cookie {
	t.Helper()
	recorder := httptest.NewRecorder()
	body := strings.NewReader(`{"walletAddress":"` + testWalletAddress + `"}`)
	request := httptest.NewRequest(http.MethodPost, "/session/wallet", body)
	request.Header.Set("Content-Type", "application/json")
	harness.router.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("wallet session: expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == "wallet_session" {
			return cookie
		}
	}
	t.Fatal("wallet session cookie not set")
	return nil
}

func (harness *testHarness) do(t *testing.T, method string, target string, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, target, reader)
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		request.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	harness.router.ServeHTTP(recorder, request)
	return recorder
}

func TestWalletSessionRejectsInvalidAddress(t *testing.T) {
	t.Parallel()
	harness := buildTestHarness(t, nil)

	recorder := harness.do(t, http.MethodPost, "/session/wallet", `{"walletAddress":"not-an-address"}`, nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "invalid_wallet_address") {
		t.Fatalf("expected invalid_wallet_address, got %s", recorder.Body.String())
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	t.Parallel()
	harness := buildTestHarness(t, nil)

	for _, route := range []struct{ method, target string }{
		{http.MethodGet, "/link/status"},
		{http.MethodGet, "/link/github/start"},
		{http.MethodPost, "/score/request"},
		{http.MethodGet, "/score/sync"},
	} {
		recorder := harness.do(t, route.method, route.target, "", nil)
		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d", route.method, route.target, recorder.Code)
		}
	}
}

func TestLinkStartRedirectsToProvider(t *testing.T) {
	t.Parallel()
	harness := buildTestHarness(t, nil)
	cookie := harness.sessionCookie(t)

	recorder := harness.do(t, http.MethodGet, "/link/github/start", "", cookie)
	if recorder.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", recorder.Code)
	}
	location := recorder.Header().Get("Location")
	if !strings.HasPrefix(location, "https://provider.example/authorize?state=") {
		t.Fatalf("unexpected redirect target: %s", location)
	}
}

func TestLinkStartUnknownProvider(t *testing.T) {
	t.Parallel()
	harness := buildTestHarness(t, nil)
	cookie := harness.sessionCookie(t)

	recorder := harness.do(t, http.MethodGet, "/link/myspace/start", "", cookie)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestLinkCallbackProviderErrorRedirectsWithReason(t *testing.T) {
	t.Parallel()
	harness := buildTestHarness(t, nil)

	recorder := harness.do(t, http.MethodGet, "/link/github/callback?error=access_denied", "", nil)
	if recorder.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", recorder.Code)
	}
	location, parseErr := url.Parse(recorder.Header().Get("Location"))
	if parseErr != nil {
		t.Fatalf("parse location: %v", parseErr)
	}
	query := location.Query()
	if query.Get("success") != "false" || query.Get("error") != "access_denied" {
		t.Fatalf("unexpected redirect query: %s", location.RawQuery)
	}
}

func TestLinkCallbackEndToEndPersistsLinkAndScore(t *testing.T) {
	t.Parallel()
	harness := buildTestHarness(t, nil)
	cookie := harness.sessionCookie(t)

	start := harness.do(t, http.MethodGet, "/link/github/start", "", cookie)
	if start.Code != http.StatusFound {
		t.Fatalf("start: expected 302, got %d", start.Code)
	}
	startLocation, _ := url.Parse(start.Header().Get("Location"))
	state := startLocation.Query().Get("state")
	if state == "" {
		t.Fatal("authorization url missing state")
	}

	callback := harness.do(t, http.MethodGet,
		"/link/github/callback?code=code-1&state="+url.QueryEscape(state), "", nil)
	if callback.Code != http.StatusFound {
		t.Fatalf("callback: expected 302, got %d", callback.Code)
	}
	callbackLocation, _ := url.Parse(callback.Header().Get("Location"))
	query := callbackLocation.Query()
	if query.Get("success") != "true" || query.Get("platform") != "github" || query.Get("username") != "octocat" {
		t.Fatalf("unexpected redirect query: %s", callbackLocation.RawQuery)
	}

	user, findErr := harness.store.FindUser(context.Background(), testWalletAddress)
	if findErr != nil {
		t.Fatalf("find user: %v", findErr)
	}
	if username, verified := user.Link("github"); username != "octocat" || !verified {
		t.Fatalf("expected persisted github link, got %q verified=%v", username, verified)
	}

	score, scoreErr := harness.store.GetScore(context.Background(), testWalletAddress, "github")
	if scoreErr != nil {
		t.Fatalf("get score: %v", scoreErr)
	}
	if score.Value != 650 || score.Source != scorestore.SourceChainCallback {
		t.Fatalf("unexpected score record: %+v", score)
	}
}

func TestUnlinkClearsProviderLink(t *testing.T) {
	t.Parallel()
	harness := buildTestHarness(t, nil)
	cookie := harness.sessionCookie(t)

	user := scorestore.UserRecord{WalletAddress: testWalletAddress}
	user.SetLink("github", "octocat")
	if err := harness.store.UpdateUser(context.Background(), user); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	recorder := harness.do(t, http.MethodDelete, "/link/github", "", cookie)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}

	updated, _ := harness.store.FindUser(context.Background(), testWalletAddress)
	if username, verified := updated.Link("github"); username != "" || verified {
		t.Fatalf("expected cleared link, got %q verified=%v", username, verified)
	}

	status := harness.do(t, http.MethodGet, "/link/status", "", cookie)
	if status.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", status.Code)
	}
	var statusBody struct {
		Links map[string]struct {
			Username string `json:"username"`
			Verified bool   `json:"verified"`
		} `json:"links"`
	}
	if err := json.Unmarshal(status.Body.Bytes(), &statusBody); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if statusBody.Links["github"].Verified {
		t.Fatalf("expected unverified github in status, got %+v", statusBody.Links)
	}
}

func TestScoreRequestLifecycle(t *testing.T) {
	t.Parallel()
	harness := buildTestHarness(t, nil)
	cookie := harness.sessionCookie(t)

	recorder := harness.do(t, http.MethodPost, "/score/request", "", cookie)
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", recorder.Code, recorder.Body.String())
	}

	// The engine resolves quickly with the stub oracle; poll the status
	// endpoint until it reports a terminal phase.
	deadline := time.Now().Add(5 * time.Second)
	for {
		status := harness.do(t, http.MethodGet, "/score/status", "", cookie)
		if status.Code != http.StatusOK {
			t.Fatalf("status: expected 200, got %d", status.Code)
		}
		var statusBody struct {
			Phase string  `json:"phase"`
			Score *uint64 `json:"score"`
		}
		if err := json.Unmarshal(status.Body.Bytes(), &statusBody); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		if statusBody.Phase == string(chain.PhaseResolved) {
			if statusBody.Score == nil || *statusBody.Score != 800 {
				t.Fatalf("expected score 800, got %+v", statusBody.Score)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("flow did not resolve in time, last phase %s", statusBody.Phase)
		}
		time.Sleep(time.Millisecond)
	}

	// The resolved score was reconciled into storage with source 'sync'.
	deadline = time.Now().Add(5 * time.Second)
	for {
		stored, getErr := harness.store.GetScore(context.Background(), testWalletAddress, ChainScoreCategory)
		if getErr == nil {
			if stored.Value != 800 || stored.Source != scorestore.SourceSync {
				t.Fatalf("unexpected reconciled record: %+v", stored)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("reconciled score never appeared: %v", getErr)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestScoreRequestRateLimited(t *testing.T) {
	t.Parallel()
	harness := buildTestHarness(t, func(configuration *ServerConfig) {
		configuration.ScoreRequestInterval = time.Hour
	})
	cookie := harness.sessionCookie(t)

	first := harness.do(t, http.MethodPost, "/score/request", "", cookie)
	if first.Code != http.StatusAccepted {
		t.Fatalf("first request: expected 202, got %d", first.Code)
	}
	second := harness.do(t, http.MethodPost, "/score/request", "", cookie)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", second.Code)
	}
}

func TestScoreManualAndSyncView(t *testing.T) {
	t.Parallel()
	harness := buildTestHarness(t, nil)
	harness.oracle.score = 800
	cookie := harness.sessionCookie(t)

	manual := harness.do(t, http.MethodPut, "/score/manual", `{"category":"reputation","value":700}`, cookie)
	if manual.Code != http.StatusNoContent {
		t.Fatalf("manual: expected 204, got %d", manual.Code)
	}

	sync := harness.do(t, http.MethodGet, "/score/sync", "", cookie)
	if sync.Code != http.StatusOK {
		t.Fatalf("sync: expected 200, got %d", sync.Code)
	}
	var syncBody struct {
		Categories []struct {
			Category string `json:"category"`
			Status   string `json:"status"`
		} `json:"categories"`
		NeedsSync bool `json:"needsSync"`
	}
	if err := json.Unmarshal(sync.Body.Bytes(), &syncBody); err != nil {
		t.Fatalf("decode sync: %v", err)
	}
	if len(syncBody.Categories) != 1 || syncBody.Categories[0].Status != string(reconcile.StatusOutOfSync) {
		t.Fatalf("expected out-of-sync reputation, got %+v", syncBody.Categories)
	}
	if !syncBody.NeedsSync {
		t.Fatal("expected needsSync true")
	}
}

func TestScoreManualRejectsNegativeValue(t *testing.T) {
	t.Parallel()
	harness := buildTestHarness(t, nil)
	cookie := harness.sessionCookie(t)

	recorder := harness.do(t, http.MethodPut, "/score/manual", `{"category":"reputation","value":-5}`, cookie)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestMetricsCountersExposed(t *testing.T) {
	t.Parallel()
	harness := buildTestHarness(t, nil)
	cookie := harness.sessionCookie(t)

	if recorder := harness.do(t, http.MethodGet, "/link/github/start", "", cookie); recorder.Code != http.StatusFound {
		t.Fatalf("start: expected 302, got %d", recorder.Code)
	}

	metrics := harness.do(t, http.MethodGet, "/metrics/counters", "", nil)
	if metrics.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", metrics.Code)
	}
	var counters map[string]int64
	if err := json.Unmarshal(metrics.Body.Bytes(), &counters); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if counters[linkkit.MetricAuthorizationBuilt] != 1 {
		t.Fatalf("expected authorization counter, got %+v", counters)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	harness := buildTestHarness(t, nil)
	recorder := harness.do(t, http.MethodGet, "/healthz", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}
