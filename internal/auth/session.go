package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rajasatyajit/storeforge/internal/quota"
)

// Claims carried by a session token. The subject is the user id.
type Claims struct {
	Email string `json:"email,omitempty"`
	Plan  string `json:"plan,omitempty"`
	jwt.RegisteredClaims
}

// SessionIssuer mints HS256 session tokens.
type SessionIssuer struct {
	secret []byte
	issuer string
}

func NewSessionIssuer(secret []byte, issuer string) *SessionIssuer {
	return &SessionIssuer{secret: secret, issuer: issuer}
}

// Issue signs a token for the user valid for ttl.
func (s *SessionIssuer) Issue(userID, email string, plan quota.Plan, ttl time.Duration) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, errors.New("user id is required")
	}
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := &Claims{
		Email: email,
		Plan:  string(plan),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// SessionResolver accepts a session token from the Authorization header or
// the session cookie. Bearer values that look like API keys are left alone.
type SessionResolver struct {
	secret []byte
	issuer string
	cookie string
}

func NewSessionResolver(secret []byte, issuer, cookie string) *SessionResolver {
	return &SessionResolver{secret: secret, issuer: issuer, cookie: cookie}
}

func (s *SessionResolver) Resolve(r *http.Request) (*quota.Identity, error) {
	token := bearerToken(r)
	if isAPIKey(token) {
		token = ""
	}
	if token == "" && s.cookie != "" {
		if c, err := r.Cookie(s.cookie); err == nil {
			token = c.Value
		}
	}
	if token == "" {
		return nil, ErrNoCredentials
	}

	claims, err := s.Verify(token)
	if err != nil {
		return nil, err
	}
	return &quota.Identity{
		UserID: claims.Subject,
		Email:  claims.Email,
		Plan:   quota.Plan(claims.Plan),
	}, nil
}

// Verify checks signature, issuer and expiry and returns the claims.
func (s *SessionResolver) Verify(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, invalid("session token", err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, invalid("session token", nil)
	}
	return claims, nil
}
