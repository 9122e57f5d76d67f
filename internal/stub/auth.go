package stub

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

type contextKey string

const clientIDKey contextKey = "client_id"

// requireKey rejects requests whose bearer token is not key. Accepted
// requests carry a client id derived from the key hash.
func (h *Handler) requireKey(key string) func(http.Handler) http.Handler {
	want := sha256.Sum256([]byte(key))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			got := sha256.Sum256([]byte(token))
			if token == "" || subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
				h.fail(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			ctx := WithClientID(r.Context(), hex.EncodeToString(got[:8]))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}

func ClientID(ctx context.Context) string {
	if id, ok := ctx.Value(clientIDKey).(string); ok {
		return id
	}
	return ""
}

func WithClientID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, clientIDKey, id)
}
