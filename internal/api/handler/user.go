package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	mw "github.com/jmrl23/keygate/internal/api/middleware"
	"github.com/jmrl23/keygate/internal/api/response"
	"github.com/jmrl23/keygate/pkg/models"
)

// UserAccounts defines the account operations the user handlers depend
// on.
type UserAccounts interface {
	CreateUser(ctx context.Context, username, password, email string, role models.UserRole) (*models.User, error)
	LoginUser(ctx context.Context, usernameOrEmail, password string) (string, error)
	UpdateUserPassword(ctx context.Context, userID uuid.UUID, password string) (*models.User, error)
	UpdateUserInformation(ctx context.Context, userID uuid.UUID, displayName *string) (*models.User, error)
	ToggleUserEnable(ctx context.Context, userID uuid.UUID, enable *bool) (*models.User, error)
}

// SessionEnder is the logout slice of the session service.
type SessionEnder interface {
	DeleteSession(ctx context.Context, token string) error
}

// NewRegisterHandler returns the handler for POST /user/register.
// Creating an ADMIN account requires an already-bound ADMIN session.
func NewRegisterHandler(svc UserAccounts) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string          `json:"username"`
			Password string          `json:"password"`
			Email    string          `json:"email"`
			Role     models.UserRole `json:"role"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.ErrorStatus(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		if req.Username == "" || req.Password == "" || req.Email == "" {
			response.ErrorStatus(w, http.StatusBadRequest, "username, password and email are required")
			return
		}

		if req.Role == models.RoleAdmin {
			requester, ok := mw.GetUser(r)
			if !ok || requester.Role != models.RoleAdmin {
				response.ErrorStatus(w, http.StatusForbidden, "Not authorized to create an ADMIN account")
				return
			}
		}

		user, err := svc.CreateUser(r.Context(), req.Username, req.Password, req.Email, req.Role)
		if err != nil {
			response.Error(w, err)
			return
		}
		response.JSON(w, user)
	}
}

// NewLoginHandler returns the handler for POST /user/login.
func NewLoginHandler(svc UserAccounts) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.ErrorStatus(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		if req.Username == "" || req.Password == "" {
			response.ErrorStatus(w, http.StatusBadRequest, "username and password are required")
			return
		}

		token, err := svc.LoginUser(r.Context(), req.Username, req.Password)
		if err != nil {
			response.Error(w, err)
			return
		}
		response.JSON(w, map[string]string{"token": token})
	}
}

// NewSessionHandler returns the handler for GET /user/session: the
// account bound to the request.
func NewSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := mw.GetUser(r)
		if !ok {
			response.ErrorStatus(w, http.StatusUnauthorized, "No session")
			return
		}
		response.JSON(w, user)
	}
}

// NewPasswordUpdateHandler returns the handler for
// PATCH /user/update/password.
func NewPasswordUpdateHandler(svc UserAccounts) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := mw.GetUser(r)
		if !ok {
			response.ErrorStatus(w, http.StatusUnauthorized, "No session")
			return
		}

		var req struct {
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.ErrorStatus(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		if req.Password == "" {
			response.ErrorStatus(w, http.StatusBadRequest, "password is required")
			return
		}

		updated, err := svc.UpdateUserPassword(r.Context(), user.ID, req.Password)
		if err != nil {
			response.Error(w, err)
			return
		}
		response.JSON(w, updated)
	}
}

// NewInformationUpdateHandler returns the handler for
// PATCH /user/update/information.
func NewInformationUpdateHandler(svc UserAccounts) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := mw.GetUser(r)
		if !ok {
			response.ErrorStatus(w, http.StatusUnauthorized, "No session")
			return
		}

		var req struct {
			DisplayName *string `json:"displayName"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.ErrorStatus(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}

		updated, err := svc.UpdateUserInformation(r.Context(), user.ID, req.DisplayName)
		if err != nil {
			response.Error(w, err)
			return
		}
		response.JSON(w, updated)
	}
}

// NewToggleUserHandler returns the handler for PATCH /user/toggle
// (ADMIN only). A nil enable flips the current state.
func NewToggleUserHandler(svc UserAccounts) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uuid.UUID `json:"id"`
			Enable *bool     `json:"enable"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.ErrorStatus(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		if req.ID == uuid.Nil {
			response.ErrorStatus(w, http.StatusBadRequest, "id is required")
			return
		}

		updated, err := svc.ToggleUserEnable(r.Context(), req.ID, req.Enable)
		if err != nil {
			response.Error(w, err)
			return
		}
		response.JSON(w, updated)
	}
}

// NewLogoutHandler returns the handler for DELETE /user/logout.
// Knocking-bound requests carry no token and there is nothing to end.
func NewLogoutHandler(sessions SessionEnder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := mw.GetToken(r)
		if token != "" {
			if err := sessions.DeleteSession(r.Context(), token); err != nil {
				response.Error(w, err)
				return
			}
		}
		response.NoContent(w)
	}
}
