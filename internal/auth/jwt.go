package auth

import (
	"fmt"
	"time"

	"github.com/counseling-records/backend/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims carry the caller identity snapshot issued by the authentication
// service. The lock subsystem only consumes identity; it never issues
// credentials itself outside of tests and tooling.
type Claims struct {
	UserID string      `json:"user_id"`
	Name   string      `json:"name"`
	Role   models.Role `json:"role"`
	Email  string      `json:"email"`
	jwt.RegisteredClaims
}

// GenerateJWT mints a token for the given identity. expiration <= 0 falls
// back to 24h.
func GenerateJWT(secret string, ident models.Identity, expiration time.Duration) (string, error) {
	if expiration <= 0 {
		expiration = 24 * time.Hour
	}

	claims := Claims{
		UserID: ident.UserID.String(),
		Name:   ident.Name,
		Role:   ident.Role,
		Email:  ident.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "counseling-records",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// Identity converts the claims into the snapshot stored on leases and audit
// entries.
func (c *Claims) Identity() (models.Identity, error) {
	id, err := uuid.Parse(c.UserID)
	if err != nil {
		return models.Identity{}, fmt.Errorf("invalid user id in token: %w", err)
	}
	return models.Identity{UserID: id, Name: c.Name, Role: c.Role, Email: c.Email}, nil
}

func ParseJWT(secret string, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
