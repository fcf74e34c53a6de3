package middleware

import (
	"net/http"
	"strings"

	"github.com/baharkarakas/cirqle-payments/internal/api/httpx"
	"github.com/baharkarakas/cirqle-payments/internal/auth"
)

type AuthMiddleware struct {
	TM     *auth.TokenManager
	AppEnv string
}

func NewAuthMiddleware(tm *auth.TokenManager, appEnv string) *AuthMiddleware {
	return &AuthMiddleware{TM: tm, AppEnv: appEnv}
}

// Auth rejects requests without a valid bearer token.
func (m *AuthMiddleware) Auth(next http.Handler) http.Handler {
	return m.handler(next, true)
}

// Optional lets anonymous requests through but still rejects a bad token.
func (m *AuthMiddleware) Optional(next http.Handler) http.Handler {
	return m.handler(next, false)
}

// DEV: Bearer dev-<id> | everywhere: Bearer <JWT(access)>
func (m *AuthMiddleware) handler(next http.Handler, required bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ah := r.Header.Get("Authorization")
		if ah == "" {
			if required {
				httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token", nil)
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		if !strings.HasPrefix(strings.ToLower(ah), "bearer ") {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token", nil)
			return
		}
		token := strings.TrimSpace(ah[len("Bearer "):])

		if m.AppEnv == "dev" && strings.HasPrefix(token, "dev-") {
			u := UserCtx{UserID: strings.TrimPrefix(token, "dev-"), Role: "user"}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
			return
		}
		if m.TM == nil {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "token verification is not configured", nil)
			return
		}
		claims, err := m.TM.Parse(token)
		if err != nil {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid access token", nil)
			return
		}
		u := UserCtx{UserID: claims.UserID, Role: claims.Role}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
	})
}
