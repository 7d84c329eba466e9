package linkkit

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	stateDelimiter       = "|"
	callerIdentityPrefix = "publicKey:"
	stateNonceByteLength = 16
)

// DecodedState is the result of decoding a round-tripped state token.
type DecodedState struct {
	CallerIdentity string
	Nonce          string
	ProofSecret    string
}

// EncodeStateToken joins the non-empty segments with the delimiter. The caller
// identity, when present, is always the first segment and carries the
// "publicKey:" prefix so it is distinguishable from the nonce in provider audit
// logs. Segment values containing the delimiter are rejected because the token
// grammar has no escaping.
func EncodeStateToken(callerIdentity string, nonce string, proofSecret string) (string, error) {
	if nonce == "" {
		return "", fmt.Errorf("statetoken.encode: %w", ErrMalformedToken)
	}
	for _, value := range []string{callerIdentity, nonce, proofSecret} {
		if strings.Contains(value, stateDelimiter) {
			return "", fmt.Errorf("statetoken.encode: %w", ErrDelimiterInValue)
		}
	}
	segments := make([]string, 0, 3)
	if callerIdentity != "" {
		segments = append(segments, callerIdentityPrefix+callerIdentity)
	}
	segments = append(segments, nonce)
	if proofSecret != "" {
		segments = append(segments, proofSecret)
	}
	return strings.Join(segments, stateDelimiter), nil
}

// DecodeStateToken splits the token under the provider family's grammar.
// Proof-of-possession families carry 2-3 segments (nonce and verifier,
// optionally preceded by the caller identity); plain families carry 1-2. The
// segment count determines whether a caller identity is expected, and an
// identity segment without the "publicKey:" prefix is malformed.
func DecodeStateToken(token string, usesProof bool) (DecodedState, error) {
	if token == "" {
		return DecodedState{}, fmt.Errorf("statetoken.decode: %w", ErrMalformedToken)
	}
	segments := strings.Split(token, stateDelimiter)
	for _, segment := range segments {
		if segment == "" {
			return DecodedState{}, fmt.Errorf("statetoken.decode: %w", ErrMalformedToken)
		}
	}

	expectedWithoutIdentity := 1
	if usesProof {
		expectedWithoutIdentity = 2
	}

	var decoded DecodedState
	switch len(segments) {
	case expectedWithoutIdentity:
	case expectedWithoutIdentity + 1:
		if !strings.HasPrefix(segments[0], callerIdentityPrefix) {
			return DecodedState{}, fmt.Errorf("statetoken.decode: %w", ErrMalformedToken)
		}
		decoded.CallerIdentity = strings.TrimPrefix(segments[0], callerIdentityPrefix)
		if decoded.CallerIdentity == "" {
			return DecodedState{}, fmt.Errorf("statetoken.decode: %w", ErrMalformedToken)
		}
		segments = segments[1:]
	default:
		return DecodedState{}, fmt.Errorf("statetoken.decode: %w", ErrMalformedToken)
	}

	decoded.Nonce = segments[0]
	if usesProof {
		decoded.ProofSecret = segments[1]
	}
	return decoded, nil
}

// NewStateNonce generates a random URL-safe nonce for one authorization flow.
func NewStateNonce() (string, error) {
	buffer := make([]byte, stateNonceByteLength)
	if _, err := rand.Read(buffer); err != nil {
		return "", fmt.Errorf("statetoken.nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}
