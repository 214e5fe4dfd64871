package payments

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidState = errors.New("invalid oauth state")

// StateSigner round-trips the user identity through the vendor's OAuth
// redirect as a signed token, so the callback can recover it without
// delimiter parsing and expired or forged states are rejected.
type StateSigner struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

func NewStateSigner(secret string, ttl time.Duration) *StateSigner {
	return &StateSigner{Secret: []byte(secret), TTL: ttl, Now: time.Now}
}

func (s *StateSigner) Issue(userID string) (string, error) {
	now := s.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(s.TTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.Secret)
}

func (s *StateSigner) Verify(state string) (string, error) {
	parsed, err := jwt.Parse(state, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidState
		}
		return s.Secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.Now() }))
	if err != nil || !parsed.Valid {
		return "", ErrInvalidState
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidState
	}
	userID, _ := claims["sub"].(string)
	if userID == "" {
		return "", ErrInvalidState
	}
	return userID, nil
}
