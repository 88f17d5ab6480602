package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sparklenote/server/internal/model"
)

const (
	TokenUseAccess  = "access"
	TokenUseRefresh = "refresh"
)

type Claims struct {
	UserID   string     `json:"user_id"`
	Role     model.Role `json:"role"`
	Name     string     `json:"name,omitempty"`
	TokenUse string     `json:"token_use"`
	jwt.RegisteredClaims
}

func (c *Claims) Identity() model.Identity {
	return model.Identity{ID: c.UserID, Role: c.Role, Name: c.Name}
}

func NewAccessToken(secret, issuer string, ttl time.Duration, identity model.Identity) (string, error) {
	return newToken(secret, issuer, ttl, identity, TokenUseAccess)
}

func NewRefreshToken(secret, issuer string, ttl time.Duration, identity model.Identity) (string, error) {
	return newToken(secret, issuer, ttl, identity, TokenUseRefresh)
}

func newToken(secret, issuer string, ttl time.Duration, identity model.Identity, use string) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		UserID:   identity.ID,
		Role:     identity.Role,
		Name:     identity.Name,
		TokenUse: use,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseToken(secret, issuer, tokenString string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if issuer != "" {
		options = append(options, jwt.WithIssuer(issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, options...)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
