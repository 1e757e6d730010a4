package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in tokens.
const (
	RoleTeacher = "teacher"
	RoleDevice  = "device"
)

var (
	ErrUnexpectedMethod = errors.New("unexpected signing method")
	ErrInvalidToken     = errors.New("invalid token")
	ErrIssuerMismatch   = errors.New("issuer mismatch")
)

// Token is a signed access token.
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Claims represents JWT payload. For teachers the subject is the teacher
// id; for devices it is the id of the student wearing the device.
type Claims struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
	Name    string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 tokens.
type Issuer struct {
	name string
	key  []byte
	ttl  time.Duration
	now  func() time.Time
}

// NewIssuer creates an issuer. Tokens expire after ttl.
func NewIssuer(name, signingKey string, ttl time.Duration) *Issuer {
	return &Issuer{name: name, key: []byte(signingKey), ttl: ttl, now: time.Now}
}

// Issue signs a token for subject with role.
func (i *Issuer) Issue(subject, role, name string) (Token, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	claims := Claims{
		Subject: subject,
		Role:    role,
		Name:    name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.name,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return Token{}, err
	}
	return Token{AccessToken: signed, ExpiresAt: exp}, nil
}

// Parse validates a token and returns claims.
func (i *Issuer) Parse(tokenStr string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, ErrUnexpectedMethod
		}
		return i.key, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if i.name != "" && claims.Issuer != i.name {
		return Claims{}, ErrIssuerMismatch
	}
	return *claims, nil
}
