// handlers/api/token.go
package api

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "mailtriage"

// ErrInvalidToken is returned for row tokens that fail verification.
var ErrInvalidToken = errors.New("invalid row token")

// RowClaims bind one result row to the search and session it was rendered for.
type RowClaims struct {
	EmailID string `json:"eid"`
	Seq     uint64 `json:"seq"`
	jwt.RegisteredClaims
}

// TokenSigner issues and verifies row tokens.
type TokenSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenSigner creates a signer. ttl bounds how long a rendered row can be
// acted on.
func NewTokenSigner(secret string, ttl time.Duration) (*TokenSigner, error) {
	if secret == "" {
		return nil, fmt.Errorf("token secret must not be empty")
	}
	return &TokenSigner{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// GenerateSecret returns a random hex secret.
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Sign creates a token for emailID rendered from search seq for owner.
func (s *TokenSigner) Sign(owner, emailID string, seq uint64) (string, error) {
	now := s.now()
	claims := RowClaims{
		EmailID: emailID,
		Seq:     seq,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   s.subject(owner),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// subject derives the token subject from owner. Tokens are readable by the
// page, so the session id itself never goes into them.
func (s *TokenSigner) subject(owner string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte("owner:" + owner))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks tokenString and that it was issued to owner.
func (s *TokenSigner) Verify(tokenString, owner string) (*RowClaims, error) {
	claims := &RowClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithSubject(s.subject(owner)),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.EmailID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
