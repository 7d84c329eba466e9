// Package chain drives the external score-computation oracle: a contract
// surface with a submit entrypoint and read slots the engine polls until a
// score materializes. The oracle's execution is opaque; this package never
// inspects it.
package chain

import (
	"context"
	"errors"
)

var (
	// ErrSubmitFailed indicates the compute request transaction could not be sent.
	ErrSubmitFailed = errors.New("chain.submit_failed")
	// ErrConfirmTimeout indicates the request transaction was not mined in time.
	ErrConfirmTimeout = errors.New("chain.confirm_timeout")
	// ErrComputeError indicates the oracle reported an explicit error payload.
	ErrComputeError = errors.New("chain.compute_error")
	// ErrPollTimeout indicates the poll attempt ceiling was reached without a score.
	ErrPollTimeout = errors.New("chain.poll_timeout")
	// ErrAlreadyRunning indicates a score flow is already active for the caller.
	ErrAlreadyRunning = errors.New("chain.engine.already_running")
)

// Oracle is the on-chain compute surface. Addresses and hashes cross this
// boundary as hex strings so the engine stays independent of any chain client.
type Oracle interface {
	// SendRequest submits a compute request carrying the subscription
	// identifier and the ordered input arguments. Returns the tx hash.
	SendRequest(ctx context.Context, subscriptionID uint64, args []string) (string, error)
	// WaitMined blocks until the transaction is included or ctx expires.
	WaitMined(ctx context.Context, txHash string) error
	// LastRequestID reads the identifier of the most recent compute request.
	LastRequestID(ctx context.Context) (string, error)
	// GetScore reads the stored score for the caller. Zero means unset.
	GetScore(ctx context.Context, caller string) (uint64, error)
	// LastError reads the oracle's error slot; empty means no error.
	LastError(ctx context.Context) ([]byte, error)
}
