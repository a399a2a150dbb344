package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/altenburg/erp-identity/internal/auth"
	"github.com/altenburg/erp-identity/internal/domain"
	"github.com/altenburg/erp-identity/pkg/httputil"
	"github.com/altenburg/erp-identity/pkg/middleware"
)

// ContentTypeJSON enforces that requests with a body have Content-Type: application/json.
// Bodyless PUTs such as the status and lock toggles pass through.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength != 0 {
			ct := r.Header.Get("Content-Type")
			if !strings.HasPrefix(ct, "application/json") {
				httputil.WriteJSON(w, http.StatusUnsupportedMediaType, httputil.Response{
					Error: &httputil.ErrorResponse{
						Code:    "UNSUPPORTED_MEDIA_TYPE",
						Message: "Content-Type must be application/json",
					},
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// NewTokenVerifier adapts the token codec to the authentication middleware.
// Only access tokens are accepted.
func NewTokenVerifier(codec *auth.TokenCodec) middleware.TokenVerifier {
	return func(token string) (*middleware.Principal, error) {
		claims, err := codec.Verify(token, domain.AccessToken, "")
		if err != nil {
			return nil, err
		}
		return &middleware.Principal{
			UserID:   claims.UserID,
			Username: claims.Subject,
			Roles:    claims.Roles,
		}, nil
	}
}

// authorize enforces the access policy for op. The resource owner is the
// {id} path parameter when the route has one.
func authorize(policy *auth.Policy, op auth.Operation) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var caller *auth.Caller
			if p, ok := middleware.PrincipalFromContext(r.Context()); ok {
				caller = &auth.Caller{UserID: p.UserID, Roles: p.Roles}
			}
			if err := policy.Authorize(op, caller, chi.URLParam(r, "id")); err != nil {
				httputil.WriteError(w, r, err, nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
