package auth

import (
	"github.com/jmrl23/keygate/internal/apperr"
	"github.com/jmrl23/keygate/pkg/models"
)

// RoleAny is the allow-list sentinel meaning "any authenticated user".
const RoleAny models.UserRole = "ALL"

// Authorize decides whether a session role satisfies the required
// allow-list. A nil role means no session. It is a pure function so it
// can be tested without an HTTP harness.
func Authorize(role *models.UserRole, required ...models.UserRole) error {
	if role == nil {
		return apperr.Unauthorized("No session")
	}
	for _, r := range required {
		if r == RoleAny || r == *role {
			return nil
		}
	}
	return apperr.Unauthorized("Role is not allowed for this operation")
}
