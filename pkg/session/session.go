// Package session carries who is acting. Every lending operation takes a
// Session explicitly; nothing reads identity from globals.
package session

import (
	"context"
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	RolePatron    Role = "patron"
	RoleLibrarian Role = "librarian"
)

func (r Role) Valid() bool {
	return r == RolePatron || r == RoleLibrarian
}

type Session struct {
	PatronID string `json:"patronId"`
	Name     string `json:"name"`
	Role     Role   `json:"role"`
}

// Authenticated reports whether the session identifies someone.
func (s Session) Authenticated() bool {
	return s.PatronID != "" && s.Role.Valid()
}

func (s Session) IsLibrarian() bool {
	return s.Role == RoleLibrarian
}

type ctxKey struct{}

func NewContext(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(Session)
	return s, ok && s.Authenticated()
}

type Claims struct {
	Sub  string `json:"sub"`
	Role string `json:"role"`
	Name string `json:"name"`
	jwt.RegisteredClaims
}

var ErrInvalidToken = errors.New("invalid token")

// Issuer signs and verifies HS256 session tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (i *Issuer) Issue(s Session) (string, error) {
	if !s.Authenticated() {
		return "", errors.New("cannot issue token for an anonymous session")
	}
	now := i.now()
	claims := Claims{
		Sub:  s.PatronID,
		Role: string(s.Role),
		Name: s.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.PatronID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

func (i *Issuer) Parse(tokenStr string) (Session, error) {
	t, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		return Session{}, err
	}
	c, ok := t.Claims.(*Claims)
	if !ok || !t.Valid {
		return Session{}, ErrInvalidToken
	}
	s := Session{PatronID: c.Sub, Name: c.Name, Role: Role(c.Role)}
	if !s.Authenticated() {
		return Session{}, ErrInvalidToken
	}
	return s, nil
}
