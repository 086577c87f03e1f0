// Package auth verifies and issues HS256 session tokens carrying
// user.Claims. Issuance belongs to the external credential system; Signer
// exists for tooling and tests.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Strob0t/supportdesk/internal/domain/user"
)

// Token errors.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

type sessionClaims struct {
	Role     string `json:"role"`
	TenantID string `json:"tenant_id"`
	AgentID  string `json:"agent_id,omitempty"`
	jwt.RegisteredClaims
}

// KeySource supplies the secrets a token may be signed with, current first.
type KeySource interface {
	Keys() [][]byte
}

type staticKeys [][]byte

func (k staticKeys) Keys() [][]byte { return k }

// Verifier validates session tokens.
type Verifier struct {
	keys   KeySource
	issuer string
}

// NewVerifier creates a verifier for a single secret. An empty issuer
// accepts any issuer.
func NewVerifier(secret []byte, issuer string) *Verifier {
	return NewRotatingVerifier(staticKeys{secret}, issuer)
}

// NewRotatingVerifier creates a verifier that accepts tokens signed with any
// key keys currently returns.
func NewRotatingVerifier(keys KeySource, issuer string) *Verifier {
	return &Verifier{keys: keys, issuer: issuer}
}

// Verify parses token and returns its claims. The claim set must be
// complete for its role.
func (v *Verifier) Verify(token string) (*user.Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	keys := v.keys.Keys()
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no signing key", ErrInvalidToken)
	}

	var (
		sc  sessionClaims
		err error
	)
	for _, key := range keys {
		sc = sessionClaims{}
		_, err = jwt.ParseWithClaims(token, &sc, func(*jwt.Token) (any, error) {
			return key, nil
		}, opts...)
		if !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			break
		}
	}
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	c := &user.Claims{
		Subject:  sc.Subject,
		Role:     user.Role(sc.Role),
		TenantID: sc.TenantID,
		AgentID:  sc.AgentID,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return c, nil
}

// Signer issues session tokens with the same secret.
type Signer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewSigner creates a signer.
func NewSigner(secret []byte, issuer string) *Signer {
	return &Signer{secret: secret, issuer: issuer, now: time.Now}
}

// Sign issues a token for c that expires after ttl.
func (s *Signer) Sign(c user.Claims, ttl time.Duration) (string, error) {
	now := s.now()
	sc := sessionClaims{
		Role:     string(c.Role),
		TenantID: c.TenantID,
		AgentID:  c.AgentID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.Subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, sc).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
