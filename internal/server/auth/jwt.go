// Package auth signs and verifies the service's JWTs with an asymmetric key
// pair. Signer holds the private key, Verifier only the public one, so
// components that just check tokens never gain signing capability.
package auth

import (
	"crypto"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/timex"
)

// Kind tells access, refresh and reset tokens apart. It travels in the
// "typ" claim.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
	KindReset   Kind = "reset"
)

// Claims are the registered claims (sub, iat, exp, jti) plus the token kind.
type Claims struct {
	jwt.RegisteredClaims
	Kind Kind `json:"typ"`
}

type Signer struct {
	method   jwt.SigningMethod
	key      crypto.PrivateKey
	clock    timex.Clock
	validate *validator.Validate
}

func NewSigner(method jwt.SigningMethod, key crypto.PrivateKey, clock timex.Clock) *Signer {
	return &Signer{
		method:   method,
		key:      key,
		clock:    clock,
		validate: validator.New(),
	}
}

func (s *Signer) Alg() string {
	return s.method.Alg()
}

// Sign mints a token of the given kind for subject, valid for ttl from the
// signer's clock. jti may be empty for access tokens. The subject must be an
// email address.
func (s *Signer) Sign(kind Kind, subject, jti string, ttl time.Duration) (string, *Claims, error) {
	if err := s.validate.Var(subject, "required,email"); err != nil {
		return "", nil, fmt.Errorf("%w: %q", common.ErrInvalidEmail, subject)
	}

	now := s.clock.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
		Kind: kind,
	}

	token, err := jwt.NewWithClaims(s.method, claims).SignedString(s.key)
	if err != nil {
		return "", nil, fmt.Errorf("sign %s token: %w", kind, err)
	}
	return token, claims, nil
}

type Verifier struct {
	key    crypto.PublicKey
	parser *jwt.Parser
}

func NewVerifier(method jwt.SigningMethod, key crypto.PublicKey, clock timex.Clock) *Verifier {
	return &Verifier{
		key: key,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{method.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithTimeFunc(clock.Now),
		),
	}
}

// Verify checks signature, expiry and kind. A correctly signed token past its
// expiry yields common.ErrTokenExpired; anything else wrong yields
// common.ErrInvalidToken.
func (v *Verifier) Verify(tokenString string, kind Kind) (*Claims, error) {
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, common.ErrInvalidToken
	}

	if claims.Kind != kind {
		return nil, fmt.Errorf("%w: expected %s token, got %q", common.ErrInvalidToken, kind, claims.Kind)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", common.ErrInvalidToken)
	}
	if kind != KindAccess && claims.ID == "" {
		return nil, fmt.Errorf("%w: missing jti", common.ErrInvalidToken)
	}
	return claims, nil
}
