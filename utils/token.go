package utils

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenMetadata struct to describe metadata in JWT.
type TokenMetadata struct {
	Id     string
	UserID uint
	Otp    bool
	Exp    int64
}

var ErrInvalidToken = errors.New("invalid token")

// GenerateAccessToken issues an HS512 token in the format the auth service
// uses. Production tokens come from that service; this is used by tools and
// tests.
func GenerateAccessToken(userID uint, otp bool, key string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{}

	claims["id"] = strconv.FormatUint(uint64(userID), 10)
	claims["otp"] = otp
	claims["exp"] = time.Now().Add(ttl).Unix()

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	return token.SignedString([]byte(key))
}

// CheckAndExtractTokenMetadata verifies token with key and returns its claims.
func CheckAndExtractTokenMetadata(token string, key string) (*TokenMetadata, error) {
	t, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
		return []byte(key), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok || !t.Valid {
		return nil, ErrInvalidToken
	}

	userID, err := ClaimsUserID(claims)
	if err != nil {
		return nil, err
	}
	otp, _ := claims["otp"].(bool)
	exp, _ := claims["exp"].(float64)

	return &TokenMetadata{
		Id:     claims["id"].(string),
		UserID: userID,
		Otp:    otp,
		Exp:    int64(exp),
	}, nil
}

// ClaimsUserID reads the string "id" claim as a user id.
func ClaimsUserID(claims jwt.MapClaims) (uint, error) {
	raw, ok := claims["id"].(string)
	if !ok {
		return 0, fmt.Errorf("%w: missing id claim", ErrInvalidToken)
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: bad id claim %q", ErrInvalidToken, raw)
	}
	return uint(id), nil
}
