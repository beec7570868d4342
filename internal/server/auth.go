package server

import (
	"errors"
	"fmt"
	"time"

	"crypto-settlement-go/internal/models"

	"github.com/golang-jwt/jwt"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims are the JWT claims of an API caller.
type Claims struct {
	Role string `json:"role"`
	jwt.StandardClaims
}

// TokenManager issues and verifies HS256 bearer tokens.
type TokenManager struct {
	signingKey []byte
}

func NewTokenManager(signingKey string) (*TokenManager, error) {
	if signingKey == "" {
		return nil, errors.New("empty signing key")
	}
	return &TokenManager{signingKey: []byte(signingKey)}, nil
}

func (m *TokenManager) Issue(subject, role string, ttl time.Duration) (string, error) {
	if role != models.RoleFreelancer && role != models.RoleAdmin {
		return "", fmt.Errorf("unknown role: %s", role)
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: role,
		StandardClaims: jwt.StandardClaims{
			Subject:   subject,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(ttl).Unix(),
		},
	})
	return token.SignedString(m.signingKey)
}

func (m *TokenManager) Parse(accessToken string) (*models.Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(accessToken, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.signingKey, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.Role == "" {
		return nil, fmt.Errorf("%w: missing subject or role", ErrInvalidToken)
	}
	return &models.Principal{Subject: claims.Subject, Role: claims.Role}, nil
}
