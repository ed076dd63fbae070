package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const StudentContextKey ContextKey = "student"

// Student identifies the holder of a bearer token.
type Student struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Class string `json:"class,omitempty"`
}

type Claims struct {
	Name  string `json:"name,omitempty"`
	Class string `json:"class,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator issues and checks HMAC-signed student tokens.
type Authenticator struct {
	secret  []byte
	issuer  string
	ttl     time.Duration
	enabled bool
}

// New creates an Authenticator. A zero ttl means tokens are valid for 24 hours.
func New(jwtSecret, issuer string, ttl time.Duration, enabled bool) *Authenticator {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Authenticator{
		secret:  []byte(jwtSecret),
		issuer:  issuer,
		ttl:     ttl,
		enabled: enabled,
	}
}

// Enabled returns whether authentication is enforced
func (a *Authenticator) Enabled() bool {
	return a != nil && a.enabled
}

// GenerateJWT creates a JWT token for the student
func (a *Authenticator) GenerateJWT(s Student) (string, error) {
	if a == nil || len(a.secret) == 0 {
		return "", errors.New("auth not initialized")
	}
	if strings.TrimSpace(s.ID) == "" {
		return "", errors.New("student id is required")
	}
	now := time.Now()
	claims := Claims{
		Name:  s.Name,
		Class: s.Class,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    a.issuer,
			Subject:   s.ID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ValidateJWT validates and parses a JWT token
func (a *Authenticator) ValidateJWT(tokenString string) (*Student, error) {
	if a == nil || len(a.secret) == 0 {
		return nil, errors.New("auth not initialized")
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.Subject != "" {
		return &Student{ID: claims.Subject, Name: claims.Name, Class: claims.Class}, nil
	}
	return nil, fmt.Errorf("invalid token")
}

// OptionalAuthMiddleware extracts and validates JWT from request if auth is enabled
// If auth is disabled, it allows all requests through
func (a *Authenticator) OptionalAuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		// Try Authorization header first, then the cookie
		var tokenString string
		authHeader := r.Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
		} else if cookie, err := r.Cookie("auth_token"); err == nil {
			tokenString = cookie.Value
		}

		if tokenString == "" {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		student, err := a.ValidateJWT(tokenString)
		if err != nil {
			http.Error(w, "Invalid authentication token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), StudentContextKey, student)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// StudentFromContext extracts the student from request context
func StudentFromContext(r *http.Request) *Student {
	if s, ok := r.Context().Value(StudentContextKey).(*Student); ok {
		return s
	}
	return nil
}
