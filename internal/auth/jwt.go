package auth

import (
	"errors"
	"fmt"
	"github.com/golang-jwt/jwt/v5"
	"github.com/nilasense/order-service/internal/orders"
	"time"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Claims is the payload issued by the auth service at login.
type Claims struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	PondID *int64 `json:"pond_id,omitempty"`
	jwt.RegisteredClaims
}

// Actor converts the claims to the caller identity used by the order engine.
func (c *Claims) Actor() orders.Actor {
	a := orders.Actor{ID: c.ID, Name: c.Name, Role: orders.Role(c.Role)}
	if c.PondID != nil {
		a.PondID = *c.PondID
	}
	return a
}

// Verifier checks HS256 bearer tokens.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: time.Now}
}

func (v *Verifier) Parse(token string) (orders.Actor, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return orders.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ID <= 0 || claims.Role == "" {
		return orders.Actor{}, fmt.Errorf("%w: missing id or role", ErrInvalidToken)
	}
	return claims.Actor(), nil
}

// Sign issues a token for a, valid for ttl. Used by tests and local tooling;
// production tokens come from the auth service.
func Sign(secret string, a orders.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		ID:   a.ID,
		Name: a.Name,
		Role: string(a.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if a.PondID > 0 {
		claims.PondID = &a.PondID
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
