package linkkit

import "errors"

var (
	// ErrMalformedToken indicates a state token that does not parse under the provider family's grammar.
	ErrMalformedToken = errors.New("linkkit.malformed_token")
	// ErrDelimiterInValue indicates a segment value containing the token delimiter at encode time.
	ErrDelimiterInValue = errors.New("linkkit.delimiter_in_value")
	// ErrMissingParameters indicates a callback without a code or state token.
	ErrMissingParameters = errors.New("linkkit.missing_parameters")
	// ErrUnknownProvider indicates a provider name with no registered adapter.
	ErrUnknownProvider = errors.New("linkkit.unknown_provider")
	// ErrStateReplayed indicates the state nonce was never issued, already consumed, or expired.
	ErrStateReplayed = errors.New("linkkit.state_replayed")
	// ErrExchangeFailed indicates a non-2xx response from the provider token endpoint.
	ErrExchangeFailed = errors.New("linkkit.exchange_failed")
	// ErrIdentityFetchFailed indicates the provider profile read failed.
	ErrIdentityFetchFailed = errors.New("linkkit.identity_fetch_failed")
	// ErrCorrelationNotFound indicates no correlation entry matched the (provider, nonce) pair.
	ErrCorrelationNotFound = errors.New("linkkit.correlation_not_found")
	// ErrCorrelationExpired indicates the correlation entry aged past its TTL before consumption.
	ErrCorrelationExpired = errors.New("linkkit.correlation_expired")
)
