package chain

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Phase is the engine's UI-observable state for one score flow.
type Phase string

const (
	PhaseIdle                 Phase = "idle"
	PhaseSubmitting           Phase = "submitting"
	PhaseAwaitingConfirmation Phase = "awaiting_confirmation"
	PhasePolling              Phase = "polling"
	PhaseResolved             Phase = "resolved"
	PhaseTimedOut             Phase = "timed_out"
	PhaseErrored              Phase = "errored"
)

// Terminal reports whether the phase ends the flow.
func (phase Phase) Terminal() bool {
	switch phase {
	case PhaseResolved, PhaseTimedOut, PhaseErrored:
		return true
	default:
		return false
	}
}

// Snapshot is the externally visible state of one flow.
type Snapshot struct {
	Caller    string
	Phase     Phase
	TxHash    string
	RequestID string
	Score     *uint64
	Attempts  int
	Reason    string
}

// Observer receives a snapshot on every phase transition.
type Observer func(Snapshot)

// EngineConfig bounds the poll loop.
type EngineConfig struct {
	SubscriptionID  uint64
	PollInterval    time.Duration
	MaxPollAttempts int
}

const (
	defaultPollInterval    = 10 * time.Second
	defaultMaxPollAttempts = 30
)

// Engine submits compute requests and polls the oracle until a score
// materializes, the oracle reports an error, or the attempt ceiling fires.
// At most one flow runs per caller; the guard rejects reentrant starts.
type Engine struct {
	oracle        Oracle
	logger        *zap.Logger
	configuration EngineConfig

	mutex     sync.Mutex
	active    map[string]context.CancelFunc
	snapshots map[string]Snapshot
}

// NewEngine constructs the engine with defaults applied.
func NewEngine(oracle Oracle, logger *zap.Logger, configuration EngineConfig) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if configuration.PollInterval <= 0 {
		configuration.PollInterval = defaultPollInterval
	}
	if configuration.MaxPollAttempts <= 0 {
		configuration.MaxPollAttempts = defaultMaxPollAttempts
	}
	return &Engine{
		oracle:        oracle,
		logger:        logger,
		configuration: configuration,
		active:        make(map[string]context.CancelFunc),
		snapshots:     make(map[string]Snapshot),
	}
}

// Flow is the handle for one running score request.
type Flow struct {
	caller string
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel stops the flow's pending work. Safe to call more than once.
func (flow *Flow) Cancel() {
	flow.cancel()
}

// Done is closed when the flow goroutine has finished.
func (flow *Flow) Done() <-chan struct{} {
	return flow.done
}

// Start launches a score flow for the caller. The flow detaches from the
// request context's cancellation: it ends only through its own Cancel, a
// terminal phase, or process shutdown.
func (engine *Engine) Start(ctx context.Context, caller string, args []string, observer Observer) (*Flow, error) {
	engine.mutex.Lock()
	if _, running := engine.active[caller]; running {
		engine.mutex.Unlock()
		return nil, ErrAlreadyRunning
	}
	flowCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	engine.active[caller] = cancel
	engine.snapshots[caller] = Snapshot{Caller: caller, Phase: PhaseIdle}
	engine.mutex.Unlock()

	flow := &Flow{caller: caller, cancel: cancel, done: make(chan struct{})}
	go engine.run(flowCtx, caller, args, observer, flow.done)
	return flow, nil
}

// Cancel stops the active flow for a caller, if any.
func (engine *Engine) Cancel(caller string) bool {
	engine.mutex.Lock()
	cancel, running := engine.active[caller]
	engine.mutex.Unlock()
	if !running {
		return false
	}
	cancel()
	return true
}

// Status returns the latest snapshot for a caller, if a flow ran.
func (engine *Engine) Status(caller string) (Snapshot, bool) {
	engine.mutex.Lock()
	defer engine.mutex.Unlock()
	snapshot, ok := engine.snapshots[caller]
	return snapshot, ok
}

func (engine *Engine) run(ctx context.Context, caller string, args []string, observer Observer, done chan struct{}) {
	defer func() {
		engine.mutex.Lock()
		delete(engine.active, caller)
		engine.mutex.Unlock()
		close(done)
	}()

	snapshot := Snapshot{Caller: caller, Phase: PhaseIdle}
	transition := func(mutate func(*Snapshot)) {
		mutate(&snapshot)
		engine.mutex.Lock()
		engine.snapshots[caller] = snapshot
		engine.mutex.Unlock()
		engine.logger.Info("score flow transition",
			zap.String("caller", caller),
			zap.String("phase", string(snapshot.Phase)),
			zap.Int("attempts", snapshot.Attempts))
		if observer != nil {
			observer(snapshot)
		}
	}

	transition(func(s *Snapshot) { s.Phase = PhaseSubmitting })
	txHash, submitErr := engine.oracle.SendRequest(ctx, engine.configuration.SubscriptionID, args)
	if submitErr != nil {
		engine.logger.Warn("score request submission failed",
			zap.String("caller", caller), zap.Error(submitErr))
		transition(func(s *Snapshot) { s.Phase = PhaseErrored; s.Reason = "submit_failed" })
		return
	}

	transition(func(s *Snapshot) { s.Phase = PhaseAwaitingConfirmation; s.TxHash = txHash })
	if confirmErr := engine.oracle.WaitMined(ctx, txHash); confirmErr != nil {
		engine.logger.Warn("score request confirmation failed",
			zap.String("caller", caller), zap.Error(confirmErr))
		transition(func(s *Snapshot) { s.Phase = PhaseErrored; s.Reason = "confirm_timeout" })
		return
	}
	requestID, requestErr := engine.oracle.LastRequestID(ctx)
	if requestErr != nil {
		engine.logger.Warn("request id read failed",
			zap.String("caller", caller), zap.Error(requestErr))
		transition(func(s *Snapshot) { s.Phase = PhaseErrored; s.Reason = "confirm_timeout" })
		return
	}

	transition(func(s *Snapshot) { s.Phase = PhasePolling; s.RequestID = requestID })

	timer := time.NewTimer(engine.configuration.PollInterval)
	defer timer.Stop()
	if !timer.Stop() {
		<-timer.C
	}

	for attempt := 1; attempt <= engine.configuration.MaxPollAttempts; attempt++ {
		if ctx.Err() != nil {
			engine.recordCancelled(caller, &snapshot)
			return
		}

		// Terminal checks in order: explicit oracle error, then a positive
		// score, then the attempt ceiling.
		errorPayload, errorReadErr := engine.oracle.LastError(ctx)
		if errorReadErr != nil {
			engine.logger.Warn("oracle error slot read failed",
				zap.String("caller", caller), zap.Error(errorReadErr))
		} else if len(errorPayload) > 0 {
			transition(func(s *Snapshot) { s.Phase = PhaseErrored; s.Reason = "compute_error"; s.Attempts = attempt })
			return
		}

		score, scoreErr := engine.oracle.GetScore(ctx, caller)
		if scoreErr != nil {
			engine.logger.Warn("score read failed",
				zap.String("caller", caller), zap.Error(scoreErr))
		} else if score > 0 {
			resolved := score
			transition(func(s *Snapshot) { s.Phase = PhaseResolved; s.Score = &resolved; s.Attempts = attempt })
			return
		}

		transition(func(s *Snapshot) { s.Attempts = attempt })
		if attempt == engine.configuration.MaxPollAttempts {
			transition(func(s *Snapshot) { s.Phase = PhaseTimedOut; s.Reason = "poll_timeout" })
			return
		}

		timer.Reset(engine.configuration.PollInterval)
		select {
		case <-ctx.Done():
			engine.recordCancelled(caller, &snapshot)
			return
		case <-timer.C:
		}
	}
}

func (engine *Engine) recordCancelled(caller string, snapshot *Snapshot) {
	snapshot.Reason = "canceled"
	engine.mutex.Lock()
	engine.snapshots[caller] = *snapshot
	engine.mutex.Unlock()
	engine.logger.Info("score flow canceled", zap.String("caller", caller))
}
