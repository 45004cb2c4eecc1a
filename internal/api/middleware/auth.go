package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jmrl23/keygate/internal/api/response"
	"github.com/jmrl23/keygate/internal/auth"
	"github.com/jmrl23/keygate/internal/config"
	"github.com/jmrl23/keygate/internal/service"
	"github.com/jmrl23/keygate/pkg/models"
)

// KnockingHeader carries the master bootstrap shared secret.
const KnockingHeader = "knocking"

// userResolver is the slice of the user service the middleware needs.
type userResolver interface {
	GetUserByID(ctx context.Context, id uuid.UUID, opts service.GetUserOptions) (*models.User, error)
	EnsureMasterUser(ctx context.Context) (*models.User, error)
}

type sessionResolver interface {
	GetSession(ctx context.Context, token string) (uuid.UUID, bool, error)
}

// Auth resolves the requesting account before every route. It never
// rejects by itself; the role guards decide.
type Auth struct {
	users    userResolver
	sessions sessionResolver
	knock    config.AuthConfig
}

func NewAuth(users userResolver, sessions sessionResolver, knock config.AuthConfig) *Auth {
	return &Auth{users: users, sessions: sessions, knock: knock}
}

// WithUser binds the account for the request: the knocking header, when
// present and correct, wins over the bearer token.
func (a *Auth) WithUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if knock := r.Header.Get(KnockingHeader); knock != "" && a.knockMatches(knock) {
			master, err := a.users.EnsureMasterUser(r.Context())
			if err != nil {
				response.Error(w, err)
				return
			}
			r = r.WithContext(SetUser(r.Context(), master))
			next.ServeHTTP(w, r)
			return
		}

		token := extractBearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		userID, ok, err := a.sessions.GetSession(r.Context(), token)
		if err != nil {
			response.Error(w, err)
			return
		}
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		user, err := a.users.GetUserByID(r.Context(), userID, service.GetUserOptions{})
		if err != nil {
			response.Error(w, err)
			return
		}
		if user != nil {
			ctx := SetUser(r.Context(), user)
			ctx = SetToken(ctx, token)
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Auth) knockMatches(knock string) bool {
	if a.knock.KnockSalt == "" || a.knock.KnockDigest == "" {
		return false
	}
	digest, err := auth.HashPassword(knock, a.knock.KnockSalt)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(digest), []byte(a.knock.KnockDigest)) == 1
}

// RequireRole guards a route with a role allow-list. auth.RoleAny
// admits any authenticated user. Disabled accounts are always
// rejected.
func RequireRole(roles ...models.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := GetUser(r)

			var role *models.UserRole
			if ok {
				role = &user.Role
			}
			if err := auth.Authorize(role, roles...); err != nil {
				response.Error(w, err)
				return
			}
			if !user.Enable {
				response.ErrorStatus(w, http.StatusUnauthorized, "Account is disabled")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ForbidMaster rejects requests bound to the master account. Routes
// that mutate the requesting account use it so the bootstrap account
// stays pristine.
func ForbidMaster(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, ok := GetUser(r); ok && user.IsMaster() {
			response.ErrorStatus(w, http.StatusForbidden, "Cannot execute operation on master")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
