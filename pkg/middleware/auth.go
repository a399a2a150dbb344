package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	apperrors "github.com/altenburg/erp-identity/pkg/errors"
	"github.com/altenburg/erp-identity/pkg/httputil"
	"github.com/altenburg/erp-identity/pkg/logger"
)

type contextKeyType string

const principalKey contextKeyType = "principal"

// Principal is the authenticated caller as described by a verified access token.
type Principal struct {
	UserID   string
	Username string
	Roles    []string
}

// HasRole reports whether the principal holds any of roles.
func (p *Principal) HasRole(roles ...string) bool {
	for _, have := range p.Roles {
		for _, want := range roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// TokenVerifier validates a bearer access token. Errors matching
// apperrors.ErrTokenExpired are reported as TOKEN_EXPIRED; every other
// error as UNAUTHORIZED.
type TokenVerifier func(token string) (*Principal, error)

// Authenticate requires a valid "Authorization: Bearer <token>" header and
// stores the resulting Principal in the request context.
func Authenticate(verify TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				httputil.WriteError(w, r, apperrors.Unauthorized("missing or malformed authorization header"), nil)
				return
			}

			p, err := verify(token)
			if err != nil {
				if errors.Is(err, apperrors.ErrTokenExpired) {
					httputil.WriteError(w, r, apperrors.TokenExpired(), nil)
					return
				}
				httputil.WriteError(w, r, apperrors.Unauthorized("invalid token"), nil)
				return
			}

			ctx := WithPrincipal(r.Context(), p)
			ctx = logger.WithUserID(ctx, p.UserID)
			ctx = logger.NewContext(ctx, logger.FromContext(ctx).With(slog.String("user_id", p.UserID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the authenticated caller, if any.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok && p != nil
}
