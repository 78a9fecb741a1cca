// Package authz issues and checks the tokens that bind a browser to its portal session.
package authz

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned when a request carries no valid session token.
var ErrUnauthorized = errors.New("unauthorized")

const issuer = "claims-agent-portal"

// TokenHeader carries a renewed token for clients that send it as a bearer header.
const TokenHeader = "X-Session-Token"

// Claims are the JWT claims of a session token.
type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Issuer signs session tokens with HS256.
type Issuer struct {
	secret     []byte
	cookieName string
	secure     bool
	ttl        time.Duration
	now        func() time.Time
}

// NewIssuer returns an Issuer. ttl bounds the token lifetime and the
// cookie max-age; Renew slides both while the token is in use.
func NewIssuer(secret, cookieName string, secure bool, ttl time.Duration) *Issuer {
	return &Issuer{
		secret:     []byte(secret),
		cookieName: cookieName,
		secure:     secure,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Issue signs a token for the session id.
func (i *Issuer) Issue(sid string) (string, error) {
	now := i.now()
	claims := Claims{
		SessionID: sid,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Verify checks the token and returns its session id.
func (i *Issuer) Verify(token string) (string, error) {
	claims, err := i.parse(token)
	if err != nil {
		return "", err
	}
	return claims.SessionID, nil
}

func (i *Issuer) parse(token string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || claims.SessionID == "" {
		return Claims{}, ErrUnauthorized
	}
	return claims, nil
}

// FromRequest extracts and verifies the session token, reading the
// cookie first and then an Authorization bearer header.
func (i *Issuer) FromRequest(r *http.Request) (string, error) {
	return i.Verify(i.token(r))
}

// Renew verifies the request's token like FromRequest. Once the token is
// past half its lifetime a fresh one is written to the cookie and to
// TokenHeader.
func (i *Issuer) Renew(w http.ResponseWriter, r *http.Request) (string, error) {
	claims, err := i.parse(i.token(r))
	if err != nil {
		return "", err
	}
	if claims.IssuedAt != nil && i.now().Before(claims.IssuedAt.Add(i.ttl/2)) {
		return claims.SessionID, nil
	}
	tok, err := i.Issue(claims.SessionID)
	if err != nil {
		return "", err
	}
	i.SetCookie(w, tok)
	w.Header().Set(TokenHeader, tok)
	return claims.SessionID, nil
}

func (i *Issuer) token(r *http.Request) string {
	if c, err := r.Cookie(i.cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return bearer(r.Header.Get("Authorization"))
}

// SetCookie stores the token in an HTTP-only cookie.
func (i *Issuer) SetCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     i.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(i.ttl.Seconds()),
		HttpOnly: true,
		Secure:   i.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the session cookie.
func (i *Issuer) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     i.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   i.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// bearer returns the token of a "Bearer <token>" header value.
func bearer(auth string) string {
	if !strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return ""
	}
	return strings.TrimSpace(auth[len("bearer "):])
}
