package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tickruntime/broker/internal/registry"
)

var (
	// ErrInvalidToken means the join token failed signature or structure
	// checks.
	ErrInvalidToken = errors.New("identity: invalid join token")
	// ErrExpiredToken means the join token's expiry is in the past.
	ErrExpiredToken = errors.New("identity: join token expired")
	// ErrClientProvidedIdentifier means the join request carried a
	// non-empty client-supplied player id, save id, or binding token.
	ErrClientProvidedIdentifier = errors.New("identity: client-provided identifier rejected")
)

// JoinClaims is the minimal payload carried by a compact HS256 join token.
type JoinClaims struct {
	Subject   string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Audience  string
}

// JoinTokenVerifier validates compact JWT-style join tokens signed with
// HS256.
type JoinTokenVerifier struct {
	secret []byte
	now    func() time.Time
	leeway time.Duration
}

// NewJoinTokenVerifier constructs a verifier for the given shared secret
// and clock-skew allowance.
func NewJoinTokenVerifier(secret string, leeway time.Duration) (*JoinTokenVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("identity: join token secret must not be empty")
	}
	if leeway < 0 {
		leeway = 0
	}
	return &JoinTokenVerifier{secret: []byte(secret), now: time.Now, leeway: leeway}, nil
}

// WithClock overrides the verifier's clock, enabling deterministic tests.
func (v *JoinTokenVerifier) WithClock(clock func() time.Time) {
	if clock != nil {
		v.now = clock
	}
}

// Verify parses token and validates its signature and expiry.
func (v *JoinTokenVerifier) Verify(token string) (*JoinClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}
	headerPayload := strings.Join(parts[:2], ".")

	headerBytes, err := decodeSegment(parts[0])
	if err != nil {
		return nil, ErrInvalidToken
	}
	var header struct {
		Algorithm string `json:"alg"`
	}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, ErrInvalidToken
	}
	if header.Algorithm != "HS256" {
		return nil, fmt.Errorf("%w: unexpected algorithm %q", ErrInvalidToken, header.Algorithm)
	}

	expected := v.sign([]byte(headerPayload))
	signature, err := decodeSegment(parts[2])
	if err != nil {
		return nil, ErrInvalidToken
	}
	if !hmac.Equal(signature, expected) {
		return nil, ErrInvalidToken
	}

	payloadBytes, err := decodeSegment(parts[1])
	if err != nil {
		return nil, ErrInvalidToken
	}
	var payload struct {
		Subject  string `json:"sub"`
		Expires  int64  `json:"exp"`
		Issued   int64  `json:"iat"`
		Audience string `json:"aud"`
	}
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(payload.Subject) == "" || payload.Expires <= 0 {
		return nil, ErrInvalidToken
	}

	expiresAt := time.Unix(payload.Expires, 0)
	if expiresAt.Add(v.leeway).Before(v.now()) {
		return nil, ErrExpiredToken
	}
	return &JoinClaims{
		Subject:   payload.Subject,
		ExpiresAt: expiresAt,
		IssuedAt:  time.Unix(payload.Issued, 0),
		Audience:  payload.Audience,
	}, nil
}

func (v *JoinTokenVerifier) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	return mac.Sum(nil)
}

func decodeSegment(segment string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(segment)
}

// JoinRequest is the raw, untrusted join attempt submitted by a client.
// Any non-empty client-provided identifier is grounds for immediate
// rejection.
type JoinRequest struct {
	Token                      string
	ClientProvidedPlayerID     string
	ClientProvidedSaveID       string
	ClientProvidedBindingToken string
}

// ProcessJoin enforces the client-identifier rejection rule, verifies the
// join token, and mints a fresh server-issued session id on success. No
// state is created before both checks pass.
func ProcessJoin(verifier *JoinTokenVerifier, req JoinRequest) (registry.SessionID, *JoinClaims, error) {
	if req.ClientProvidedPlayerID != "" || req.ClientProvidedSaveID != "" || req.ClientProvidedBindingToken != "" {
		return registry.SessionID{}, nil, ErrClientProvidedIdentifier
	}
	claims, err := verifier.Verify(req.Token)
	if err != nil {
		return registry.SessionID{}, nil, err
	}
	return MintSessionID(), claims, nil
}
