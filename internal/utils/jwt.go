// Package utils holds token, password and id helpers shared by handlers
// and middleware.
package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/iliyamo/virtual-queue/internal/model"
)

// AccessToken is a signed HS256 JWT and the moment it stops being valid.
type AccessToken struct {
	Token string
	Exp   time.Time
}

// RefreshToken is handed to the client once; only HashRefreshRaw(Raw) is
// persisted.
type RefreshToken struct {
	Raw string
	Exp time.Time
}

// Claims are the fields this service puts in an access token.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// NewAccessToken builds and signs an HS256 JWT carrying the user id as
// subject and the role name as a custom claim.
func NewAccessToken(secret string, userID uint64, role model.Role, ttlMin int) (AccessToken, error) {
	now := time.Now().UTC()
	exp := now.Add(time.Duration(ttlMin) * time.Minute)
	claims := Claims{
		Role: role.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   formatID(userID),
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, errors.Wrap(err, "sign access token")
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// ParseAccessToken validates raw and returns the user id and role it
// carries.  Only HMAC signatures are accepted.
func ParseAccessToken(secret, raw string) (uint64, model.Role, error) {
	var claims Claims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !tok.Valid {
		return 0, 0, errors.Wrap(model.ErrInvalidToken, "access token")
	}
	id, err := parseID(claims.Subject)
	if err != nil {
		return 0, 0, errors.Wrap(model.ErrInvalidToken, "access token subject")
	}
	role, err := model.ParseRole(claims.Role)
	if err != nil {
		return 0, 0, errors.Wrap(model.ErrInvalidToken, "access token role")
	}
	return id, role, nil
}

// refreshBytes is the entropy of a refresh token before hex encoding.
const refreshBytes = 48

func NewRefreshToken(ttlDays int) (RefreshToken, error) {
	buf := make([]byte, refreshBytes)
	if _, err := rand.Read(buf); err != nil {
		return RefreshToken{}, errors.Wrap(err, "generate refresh token")
	}
	exp := time.Now().UTC().AddDate(0, 0, ttlDays)
	return RefreshToken{Raw: hex.EncodeToString(buf), Exp: exp}, nil
}

// HashRefreshRaw is the lookup key stored for a refresh token.
func HashRefreshRaw(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
