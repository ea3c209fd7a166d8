package security

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidSubject is returned when a token does not carry a numeric identity.
var ErrInvalidSubject = errors.New("invalid token subject")

// TokenService wraps JWT creation and validation. Tokens carry the identity
// id as their subject; role and activity are always looked up fresh.
type TokenService struct {
	secret    []byte
	expiresIn time.Duration
}

func NewTokenService(secret string, expiresIn time.Duration) *TokenService {
	return &TokenService{
		secret:    []byte(secret),
		expiresIn: expiresIn,
	}
}

// CreateForIdentity creates a JWT for the given identity using the default TTL.
func (t *TokenService) CreateForIdentity(identityID int64) (string, error) {
	return t.CreateWithTTL(identityID, t.expiresIn)
}

// CreateWithTTL creates a JWT for the given identity with an explicit TTL.
func (t *TokenService) CreateWithTTL(identityID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": strconv.FormatInt(identityID, 10),
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Parse validates a token and returns its claims.
func (t *TokenService) Parse(tokenStr string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	if claims, ok := token.Claims.(jwt.MapClaims); ok {
		return claims, nil
	}
	return nil, jwt.ErrTokenMalformed
}

// IdentityID validates a token and returns the identity id in its subject.
func (t *TokenService) IdentityID(tokenStr string) (int64, error) {
	claims, err := t.Parse(tokenStr)
	if err != nil {
		return 0, err
	}
	sub, _ := claims["sub"].(string)
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidSubject
	}
	return id, nil
}
