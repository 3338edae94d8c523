// Package auth validates JWT bearer tokens on the producer-facing HTTP
// surface. Tokens are RS256-signed by an external issuer; the relay only
// needs the public key.
package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

// SubjectKey carries the authenticated token subject in the request context.
const SubjectKey contextKey = "subject"

// JWTValidator handles JWT token validation.
type JWTValidator struct {
	publicKey *rsa.PublicKey
	issuer    string
	audience  string
}

// NewJWTValidator parses the PEM-encoded RSA public key and returns a
// validator bound to the expected issuer and audience.
func NewJWTValidator(publicKeyPEM, issuer, audience string) (*JWTValidator, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	publicKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		// Try parsing as PKIX
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %v", err)
		}

		var ok bool
		publicKey, ok = key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is not RSA")
		}
	}

	return &JWTValidator{
		publicKey: publicKey,
		issuer:    issuer,
		audience:  audience,
	}, nil
}

// ValidateToken validates a JWT and returns its subject claim.
func (v *JWTValidator) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.publicKey, nil
	})

	if err != nil {
		return "", fmt.Errorf("failed to parse token: %v", err)
	}

	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid claims")
	}

	if iss, ok := claims["iss"].(string); !ok || iss != v.issuer {
		return "", fmt.Errorf("invalid issuer")
	}

	if aud, ok := claims["aud"].(string); !ok || aud != v.audience {
		return "", fmt.Errorf("invalid audience")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("missing or invalid sub claim")
	}

	return sub, nil
}

// HTTPMiddleware validates the bearer token on every request except the
// health and metrics endpoints, which probes and scrapers hit unauthenticated.
func (v *JWTValidator) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		subject, err := v.ValidateToken(tokenString)
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid token: %v", err), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), SubjectKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetSubjectFromContext extracts the authenticated subject from context.
func GetSubjectFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(SubjectKey).(string)
	return subject, ok
}
