// Package auth provides HMAC-based API key authentication for the HTTP
// surface.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// contextKey is a typed key for context values to avoid collisions.
type contextKey string

// actorKey is the context key for storing the authenticated actor.
const actorKey = contextKey("actor")

// Queries interface defines database operations needed for authentication.
// Implemented by *db.Queries to allow query loading via LoadQueries().
type Queries interface {
	Get(ctx context.Context, name string, dest interface{}, args ...interface{}) error
	Exec(ctx context.Context, name string, args ...interface{}) (sql.Result, error)
}

// Authenticator validates API keys using HMAC-SHA256 signatures.
// Holds an in-memory secret map for O(1) lookup and queries for key
// verification against the api_keys table.
type Authenticator struct {
	secrets map[string][]byte
	queries Queries
}

// NewAuthenticator creates an authenticator with HMAC secrets and query
// interface.
func NewAuthenticator(secrets map[string][]byte, queries Queries) *Authenticator {
	return &Authenticator{
		secrets: secrets,
		queries: queries,
	}
}

// Authenticate validates an API key and returns the actor on success.
// Returns a specific error for each failure mode.
func (a *Authenticator) Authenticate(ctx context.Context, apiKey string) (string, error) {
	secretID, _, err := ParseAPIKey(apiKey)
	if err != nil {
		return "", err
	}

	// O(1) lookup of HMAC secret using secret_id from the key format
	secret, ok := a.secrets[secretID]
	if !ok {
		return "", ErrUnknownKey
	}

	computedHash := ComputeHMAC(secret, apiKey)

	// Query by key_hash (unique constraint ensures single result)
	var result struct {
		APIKeyID   string       `db:"api_key_id"`
		Actor      string       `db:"actor"`
		RevokedAt  sql.NullTime `db:"revoked_at"`
		LastUsedAt sql.NullTime `db:"last_used_at"`
	}

	err = a.queries.Get(ctx, "get-api-key-by-hash", &result, computedHash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrInvalidKey
	}
	if err != nil {
		return "", fmt.Errorf("database error: %w", err)
	}

	if result.RevokedAt.Valid {
		return "", ErrKeyRevoked
	}

	// Update last_used_at if >1 minute since last update.
	// 1-minute throttle reduces write amplification for busy callers.
	if shouldUpdateLastUsed(result.LastUsedAt) {
		_, _ = a.queries.Exec(ctx, "update-api-key-last-used", time.Now().UTC(), result.APIKeyID)
	}

	return result.Actor, nil
}

// shouldUpdateLastUsed implements the 1-minute write throttle.
func shouldUpdateLastUsed(lastUsed sql.NullTime) bool {
	if !lastUsed.Valid {
		return true
	}
	return time.Since(lastUsed.Time) > time.Minute
}

// Middleware returns HTTP middleware that authenticates requests via the
// X-Api-Key header and injects the actor into the request context.
func (a *Authenticator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get("X-Api-Key")
			if apiKey == "" {
				http.Error(w, ErrMissingKey.Error(), http.StatusUnauthorized)
				return
			}

			actor, err := a.Authenticate(r.Context(), apiKey)
			if err != nil {
				switch {
				case errors.Is(err, ErrKeyRevoked):
					http.Error(w, err.Error(), http.StatusForbidden)
				case errors.Is(err, ErrInvalidKeyFormat),
					errors.Is(err, ErrUnknownKey),
					errors.Is(err, ErrInvalidKey):
					http.Error(w, err.Error(), http.StatusUnauthorized)
				default:
					// Database errors are availability problems, not
					// authentication verdicts.
					http.Error(w, "authentication unavailable", http.StatusServiceUnavailable)
				}
				return
			}

			ctx := context.WithValue(r.Context(), actorKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorFromContext extracts the authenticated actor from context.
// Returns empty string if not found.
func ActorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey).(string); ok {
		return actor
	}
	return ""
}
