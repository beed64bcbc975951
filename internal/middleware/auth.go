// Package middleware provides HTTP middleware for the registry API
package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/R3E-Network/dapp_registry/internal/errors"
	"github.com/R3E-Network/dapp_registry/internal/httputil"
	"github.com/R3E-Network/dapp_registry/pkg/logger"
)

// OperatorHeader carries the operator key that authenticates system actions.
const OperatorHeader = "X-Operator-Key"

// SystemActor is the identity granted to holders of the operator key.
const SystemActor = "system"

type actorKey struct{}

// AuthConfig configures AuthMiddleware.
type AuthConfig struct {
	// JWTSecret signs HS256 bearer tokens. The token subject is the actor.
	JWTSecret string
	// OperatorKeyHash is the bcrypt hash of the operator key. Empty disables
	// operator authentication.
	OperatorKeyHash string
	SkipPaths       []string
}

// AuthMiddleware resolves the acting account of each request. Requests
// without credentials continue anonymously; invalid credentials are rejected.
type AuthMiddleware struct {
	secret       []byte
	operatorHash []byte
	logger       *logger.Logger
	skipPaths    map[string]bool
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(cfg AuthConfig, log *logger.Logger) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	skip := make(map[string]bool)
	for _, path := range cfg.SkipPaths {
		skip[path] = true
	}
	m := &AuthMiddleware{
		secret:    []byte(cfg.JWTSecret),
		logger:    log,
		skipPaths: skip,
	}
	if cfg.OperatorKeyHash != "" {
		m.operatorHash = []byte(cfg.OperatorKeyHash)
	}
	return m
}

// Handler returns the middleware handler
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		actor, err := m.authenticate(r)
		if err != nil {
			m.logger.WithContext(r.Context()).WithError(err).WithField("path", r.URL.Path).Warn("authentication failed")
			httputil.WriteError(w, err)
			return
		}
		if actor != "" {
			m.logger.WithContext(r.Context()).WithField("actor", actor).Debug("authenticated")
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

func (m *AuthMiddleware) authenticate(r *http.Request) (string, error) {
	if key := r.Header.Get(OperatorHeader); key != "" {
		if len(m.operatorHash) == 0 {
			return "", errors.Unauthorized("operator authentication is disabled")
		}
		if err := bcrypt.CompareHashAndPassword(m.operatorHash, []byte(key)); err != nil {
			return "", errors.Unauthorized("invalid operator key")
		}
		return SystemActor, nil
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", nil
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errors.Unauthorized("invalid Authorization header format")
	}
	return m.validateToken(parts[1])
}

// validateToken returns the subject of a valid HS256 token.
func (m *AuthMiddleware) validateToken(tokenString string) (string, error) {
	if len(m.secret) == 0 {
		return "", errors.Unauthorized("bearer authentication is disabled")
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", errors.Unauthorized("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.Unauthorized("token has no subject")
	}
	// Operator identity is only granted by the operator key.
	if claims.Subject == SystemActor {
		return "", errors.Unauthorized("token subject %q is reserved", SystemActor)
	}
	return claims.Subject, nil
}

// IssueToken signs a bearer token for actor.
func IssueToken(secret, actor string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   actor,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// HashOperatorKey returns the bcrypt hash stored in configuration.
func HashOperatorKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// WithActor stores the authenticated actor in ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// Actor returns the authenticated actor, or "" for anonymous requests.
func Actor(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey{}).(string); ok {
		return v
	}
	return ""
}

// RequireActor rejects anonymous requests.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if Actor(r.Context()) == "" {
			httputil.WriteError(w, errors.Unauthorized("credentials required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
