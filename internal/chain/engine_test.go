package chain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeOracle struct {
	mutex        sync.Mutex
	scores       []uint64
	errorPayload []byte
	submitErr    error
	waitErr      error
	scoreCalls   int
	errorCalls   int
}

func (oracle *fakeOracle) SendRequest(ctx context.Context, subscriptionID uint64, args []string) (string, error) {
	if oracle.submitErr != nil {
		return "", oracle.submitErr
	}
	return "0xtxhash", nil
}

func (oracle *fakeOracle) WaitMined(ctx context.Context, txHash string) error {
	return oracle.waitErr
}

func (oracle *fakeOracle) LastRequestID(ctx context.Context) (string, error) {
	return "0xrequest", nil
}

func (oracle *fakeOracle) GetScore(ctx context.Context, caller string) (uint64, error) {
	oracle.mutex.Lock()
	defer oracle.mutex.Unlock()
	oracle.scoreCalls++
	if len(oracle.scores) == 0 {
		return 0, nil
	}
	score := oracle.scores[0]
	if len(oracle.scores) > 1 {
		oracle.scores = oracle.scores[1:]
	}
	return score, nil
}

func (oracle *fakeOracle) LastError(ctx context.Context) ([]byte, error) {
	oracle.mutex.Lock()
	defer oracle.mutex.Unlock()
	oracle.errorCalls++
	return oracle.errorPayload, nil
}

func (oracle *fakeOracle) callCounts() (int, int) {
	oracle.mutex.Lock()
	defer oracle.mutex.Unlock()
	return oracle.scoreCalls, oracle.errorCalls
}

func fastEngine(oracle Oracle, maxAttempts int) *Engine {
	return NewEngine(oracle, nil, EngineConfig{
		SubscriptionID:  7,
		PollInterval:    time.Millisecond,
		MaxPollAttempts: maxAttempts,
	})
}

func waitForFlow(t *testing.T, flow *Flow) {
	t.Helper()
	select {
	case <-flow.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("flow did not finish in time")
	}
}

func TestEngineResolvesOnFirstPositiveScore(t *testing.T) {
	t.Parallel()
	oracle := &fakeOracle{scores: []uint64{0, 0, 42}}
	engine := fastEngine(oracle, 30)

	var observed []Phase
	var observedMutex sync.Mutex
	flow, err := engine.Start(context.Background(), "0xCaller", []string{"octocat"}, func(snapshot Snapshot) {
		observedMutex.Lock()
		observed = append(observed, snapshot.Phase)
		observedMutex.Unlock()
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForFlow(t, flow)

	snapshot, ok := engine.Status("0xCaller")
	if !ok || snapshot.Phase != PhaseResolved {
		t.Fatalf("expected resolved, got %+v", snapshot)
	}
	if snapshot.Score == nil || *snapshot.Score != 42 {
		t.Fatalf("expected score 42, got %+v", snapshot.Score)
	}
	if snapshot.Attempts != 3 {
		t.Fatalf("expected resolution on attempt 3, got %d", snapshot.Attempts)
	}

	scoreCalls, _ := oracle.callCounts()
	if scoreCalls != 3 {
		t.Fatalf("engine must not poll after resolving; score calls = %d", scoreCalls)
	}

	observedMutex.Lock()
	defer observedMutex.Unlock()
	if observed[len(observed)-1] != PhaseResolved {
		t.Fatalf("observer should see terminal phase last, saw %v", observed)
	}
}

func TestEngineStopsImmediatelyOnComputeError(t *testing.T) {
	t.Parallel()
	oracle := &fakeOracle{errorPayload: []byte("execution reverted"), scores: []uint64{99}}
	engine := fastEngine(oracle, 30)

	flow, err := engine.Start(context.Background(), "0xCaller", nil, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForFlow(t, flow)

	snapshot, _ := engine.Status("0xCaller")
	if snapshot.Phase != PhaseErrored || snapshot.Reason != "compute_error" {
		t.Fatalf("expected compute_error, got %+v", snapshot)
	}

	scoreCalls, errorCalls := oracle.callCounts()
	if scoreCalls != 0 {
		t.Fatalf("error check precedes score read; score calls = %d", scoreCalls)
	}
	if errorCalls != 1 {
		t.Fatalf("polling must stop after an explicit error; error calls = %d", errorCalls)
	}
}

func TestEngineTimesOutAfterAttemptCeiling(t *testing.T) {
	t.Parallel()
	oracle := &fakeOracle{}
	engine := fastEngine(oracle, 30)

	flow, err := engine.Start(context.Background(), "0xCaller", nil, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForFlow(t, flow)

	snapshot, _ := engine.Status("0xCaller")
	if snapshot.Phase != PhaseTimedOut || snapshot.Reason != "poll_timeout" {
		t.Fatalf("expected timed_out, got %+v", snapshot)
	}
	if snapshot.Attempts != 30 {
		t.Fatalf("expected 30 attempts, got %d", snapshot.Attempts)
	}

	scoreCalls, _ := oracle.callCounts()
	if scoreCalls != 30 {
		t.Fatalf("expected exactly 30 score reads, got %d", scoreCalls)
	}
}

func TestEngineSubmitFailure(t *testing.T) {
	t.Parallel()
	oracle := &fakeOracle{submitErr: errors.New("rpc unavailable")}
	engine := fastEngine(oracle, 30)

	flow, err := engine.Start(context.Background(), "0xCaller", nil, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForFlow(t, flow)

	snapshot, _ := engine.Status("0xCaller")
	if snapshot.Phase != PhaseErrored || snapshot.Reason != "submit_failed" {
		t.Fatalf("expected submit_failed, got %+v", snapshot)
	}
	if snapshot.TxHash != "" {
		t.Fatalf("no tx hash expected on submit failure, got %q", snapshot.TxHash)
	}
}

func TestEngineConfirmationFailure(t *testing.T) {
	t.Parallel()
	oracle := &fakeOracle{waitErr: ErrConfirmTimeout}
	engine := fastEngine(oracle, 30)

	flow, err := engine.Start(context.Background(), "0xCaller", nil, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForFlow(t, flow)

	snapshot, _ := engine.Status("0xCaller")
	if snapshot.Phase != PhaseErrored || snapshot.Reason != "confirm_timeout" {
		t.Fatalf("expected confirm_timeout, got %+v", snapshot)
	}
}

func TestEngineRejectsReentrantStart(t *testing.T) {
	t.Parallel()
	oracle := &fakeOracle{}
	engine := NewEngine(oracle, nil, EngineConfig{
		SubscriptionID:  7,
		PollInterval:    50 * time.Millisecond,
		MaxPollAttempts: 30,
	})

	flow, err := engine.Start(context.Background(), "0xCaller", nil, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer flow.Cancel()

	if _, err := engine.Start(context.Background(), "0xCaller", nil, nil); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	// A different caller is an independent flow.
	other, otherErr := engine.Start(context.Background(), "0xOther", nil, nil)
	if otherErr != nil {
		t.Fatalf("independent caller rejected: %v", otherErr)
	}
	other.Cancel()
	waitForFlow(t, other)

	flow.Cancel()
	waitForFlow(t, flow)
}

func TestEngineCancelStopsPolling(t *testing.T) {
	t.Parallel()
	oracle := &fakeOracle{}
	engine := NewEngine(oracle, nil, EngineConfig{
		SubscriptionID:  7,
		PollInterval:    50 * time.Millisecond,
		MaxPollAttempts: 30,
	})

	flow, err := engine.Start(context.Background(), "0xCaller", nil, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !engine.Cancel("0xCaller") {
		t.Fatal("expected cancel to find the active flow")
	}
	waitForFlow(t, flow)

	snapshot, _ := engine.Status("0xCaller")
	if snapshot.Phase.Terminal() {
		t.Fatalf("canceled flow must not reach a terminal phase, got %+v", snapshot)
	}
	if snapshot.Reason != "canceled" {
		t.Fatalf("expected canceled reason, got %+v", snapshot)
	}

	// The guard is released after cancellation.
	restarted, restartErr := engine.Start(context.Background(), "0xCaller", nil, nil)
	if restartErr != nil {
		t.Fatalf("restart after cancel: %v", restartErr)
	}
	restarted.Cancel()
	waitForFlow(t, restarted)
}

func TestEngineStartDetachesFromRequestContext(t *testing.T) {
	t.Parallel()
	oracle := &fakeOracle{scores: []uint64{0, 0, 5}}
	engine := fastEngine(oracle, 30)

	requestCtx, cancelRequest := context.WithCancel(context.Background())
	flow, err := engine.Start(requestCtx, "0xCaller", nil, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	cancelRequest()

	waitForFlow(t, flow)
	snapshot, _ := engine.Status("0xCaller")
	if snapshot.Phase != PhaseResolved {
		t.Fatalf("flow should survive request context cancellation, got %+v", snapshot)
	}
}
