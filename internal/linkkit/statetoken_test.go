package linkkit

import (
	"errors"
	"testing"
)

func TestStateTokenRoundTrip(t *testing.T) {
	t.Parallel()
	token, err := EncodeStateToken("0xAbC123", "nonce-1", "")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if token != "publicKey:0xAbC123|nonce-1" {
		t.Fatalf("unexpected token: %q", token)
	}

	decoded, decodeErr := DecodeStateToken(token, false)
	if decodeErr != nil {
		t.Fatalf("decode: %v", decodeErr)
	}
	if decoded.CallerIdentity != "0xAbC123" || decoded.Nonce != "nonce-1" || decoded.ProofSecret != "" {
		t.Fatalf("unexpected decoded state: %+v", decoded)
	}
}

func TestStateTokenRoundTripWithProofSecret(t *testing.T) {
	t.Parallel()
	token, err := EncodeStateToken("0xAbC123", "nonce-1", "verifier-9")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, decodeErr := DecodeStateToken(token, true)
	if decodeErr != nil {
		t.Fatalf("decode: %v", decodeErr)
	}
	if decoded.CallerIdentity != "0xAbC123" || decoded.Nonce != "nonce-1" || decoded.ProofSecret != "verifier-9" {
		t.Fatalf("unexpected decoded state: %+v", decoded)
	}
}

func TestStateTokenNonceOnly(t *testing.T) {
	t.Parallel()
	token, err := EncodeStateToken("", "nonce-1", "")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, decodeErr := DecodeStateToken(token, false)
	if decodeErr != nil {
		t.Fatalf("decode: %v", decodeErr)
	}
	if decoded.CallerIdentity != "" || decoded.Nonce != "nonce-1" {
		t.Fatalf("unexpected decoded state: %+v", decoded)
	}
}

func TestStateTokenEncodeRejectsDelimiter(t *testing.T) {
	t.Parallel()
	if _, err := EncodeStateToken("0xabc|0xdef", "nonce-1", ""); !errors.Is(err, ErrDelimiterInValue) {
		t.Fatalf("expected ErrDelimiterInValue, got %v", err)
	}
	if _, err := EncodeStateToken("0xabc", "non|ce", ""); !errors.Is(err, ErrDelimiterInValue) {
		t.Fatalf("expected ErrDelimiterInValue, got %v", err)
	}
}

func TestStateTokenDecodeRejectsUnprefixedIdentity(t *testing.T) {
	t.Parallel()
	if _, err := DecodeStateToken("0xAbC123|nonce-1", false); !errors.Is(err, ErrMalformedToken) {
		t.Fatalf("expected ErrMalformedToken, got %v", err)
	}
}

func TestStateTokenDecodeSegmentCounts(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name      string
		token     string
		usesProof bool
		wantErr   bool
	}{
		{name: "plain single nonce", token: "nonce-1", usesProof: false, wantErr: false},
		{name: "plain too many segments", token: "publicKey:a|nonce|extra", usesProof: false, wantErr: true},
		{name: "proof missing verifier", token: "nonce-1", usesProof: true, wantErr: true},
		{name: "proof nonce and verifier", token: "nonce-1|verifier", usesProof: true, wantErr: false},
		{name: "proof full token", token: "publicKey:a|nonce-1|verifier", usesProof: true, wantErr: false},
		{name: "empty segment", token: "publicKey:a||verifier", usesProof: true, wantErr: true},
		{name: "empty token", token: "", usesProof: false, wantErr: true},
	}
	for _, testCase := range cases {
		_, err := DecodeStateToken(testCase.token, testCase.usesProof)
		if testCase.wantErr && !errors.Is(err, ErrMalformedToken) {
			t.Fatalf("%s: expected ErrMalformedToken, got %v", testCase.name, err)
		}
		if !testCase.wantErr && err != nil {
			t.Fatalf("%s: unexpected error %v", testCase.name, err)
		}
	}
}

func TestNewStateNonceUnique(t *testing.T) {
	t.Parallel()
	first, err := NewStateNonce()
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	second, err := NewStateNonce()
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	if first == "" || first == second {
		t.Fatalf("expected distinct nonces, got %q and %q", first, second)
	}
}
