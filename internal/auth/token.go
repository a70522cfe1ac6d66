package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/accounts-svc/apiserver/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
)

// Claims is the payload carried by access and refresh tokens. Secret is only
// set on refresh tokens so that two refresh tokens issued in the same second
// still differ.
type Claims struct {
	Secret string `json:"secret,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and validates HMAC JWTs with a secret fixed at
// construction.
type TokenIssuer struct {
	secret    []byte
	method    jwt.SigningMethod
	accessTTL time.Duration
	parser    *jwt.Parser
	now       func() time.Time
}

func NewTokenIssuer(cfg config.JWTConfig) (*TokenIssuer, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	method := jwt.GetSigningMethod(cfg.Algorithm)
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unsupported jwt algorithm %q", cfg.Algorithm)
	}
	return &TokenIssuer{
		secret:    []byte(cfg.Secret),
		method:    method,
		accessTTL: cfg.AccessTokenTTL,
		parser:    jwt.NewParser(jwt.WithValidMethods([]string{method.Alg()})),
		now:       time.Now,
	}, nil
}

// Issue signs claims. A zero ttl produces a token without an exp claim.
func (i *TokenIssuer) Issue(claims Claims, ttl time.Duration) (string, error) {
	now := i.now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	} else {
		claims.ExpiresAt = nil
	}
	token := jwt.NewWithClaims(i.method, claims)
	return token.SignedString(i.secret)
}

func (i *TokenIssuer) IssueAccess(subject string) (string, error) {
	return i.Issue(Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: subject}}, i.accessTTL)
}

func (i *TokenIssuer) IssueRefresh(subject string) (string, error) {
	return i.Issue(Claims{
		Secret:           uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
	}, 0)
}

// Validate checks the signature, algorithm and expiry of token and returns
// its claims. The returned error wraps ErrTokenExpired or ErrTokenInvalid.
func (i *TokenIssuer) Validate(tokenString string) (Claims, error) {
	var claims Claims
	token, err := i.parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return Claims{}, ErrTokenInvalid
	}
	return claims, nil
}
