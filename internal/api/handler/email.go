package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/jmrl23/keygate/internal/api/middleware"
	"github.com/jmrl23/keygate/internal/api/response"
	"github.com/jmrl23/keygate/pkg/models"
)

// EmailManager defines the email operations the handlers depend on.
type EmailManager interface {
	CreateEmail(ctx context.Context, user *models.User, email string) (*models.UserEmail, error)
	SendVerificationOTP(ctx context.Context, user *models.User, emailID uuid.UUID) (string, error)
	VerifyEmailOTP(ctx context.Context, email, otp string) (*models.UserEmail, error)
	SetPrimaryEmail(ctx context.Context, user *models.User, emailID uuid.UUID) (*models.UserEmail, error)
	DeleteEmail(ctx context.Context, user *models.User, emailID uuid.UUID) (*models.UserEmail, error)
}

// NewEmailCreateHandler returns the handler for POST /user/email/create.
func NewEmailCreateHandler(svc EmailManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := mw.GetUser(r)
		if !ok {
			response.ErrorStatus(w, http.StatusUnauthorized, "No session")
			return
		}

		var req struct {
			Email string `json:"email"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.ErrorStatus(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		if req.Email == "" {
			response.ErrorStatus(w, http.StatusBadRequest, "email is required")
			return
		}

		email, err := svc.CreateEmail(r.Context(), user, req.Email)
		if err != nil {
			response.Error(w, err)
			return
		}
		response.JSON(w, email)
	}
}

// NewEmailSendOTPHandler returns the handler for
// GET /user/email/{id}/verify: dispatches (or re-sends) the OTP mail.
// The OTP itself is never part of the response.
func NewEmailSendOTPHandler(svc EmailManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := mw.GetUser(r)
		if !ok {
			response.ErrorStatus(w, http.StatusUnauthorized, "No session")
			return
		}

		emailID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			response.ErrorStatus(w, http.StatusBadRequest, "Invalid email id")
			return
		}

		if _, err := svc.SendVerificationOTP(r.Context(), user, emailID); err != nil {
			response.Error(w, err)
			return
		}
		response.JSON(w, map[string]string{"message": "Verification OTP sent"})
	}
}

// NewEmailVerifyOTPHandler returns the handler for the public
// GET /user/email/{email}/{otp}/verify.
func NewEmailVerifyOTPHandler(svc EmailManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email := chi.URLParam(r, "email")
		otp := chi.URLParam(r, "otp")
		if email == "" || otp == "" {
			response.ErrorStatus(w, http.StatusBadRequest, "email and otp are required")
			return
		}

		verified, err := svc.VerifyEmailOTP(r.Context(), email, otp)
		if err != nil {
			response.Error(w, err)
			return
		}
		response.JSON(w, verified)
	}
}

// NewPrimaryEmailHandler returns the handler for
// PATCH /user/email/primary/set.
func NewPrimaryEmailHandler(svc EmailManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := mw.GetUser(r)
		if !ok {
			response.ErrorStatus(w, http.StatusUnauthorized, "No session")
			return
		}

		var req struct {
			ID uuid.UUID `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.ErrorStatus(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		if req.ID == uuid.Nil {
			response.ErrorStatus(w, http.StatusBadRequest, "id is required")
			return
		}

		email, err := svc.SetPrimaryEmail(r.Context(), user, req.ID)
		if err != nil {
			response.Error(w, err)
			return
		}
		response.JSON(w, email)
	}
}

// NewEmailDeleteHandler returns the handler for
// DELETE /user/email/{id}/delete.
func NewEmailDeleteHandler(svc EmailManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := mw.GetUser(r)
		if !ok {
			response.ErrorStatus(w, http.StatusUnauthorized, "No session")
			return
		}

		emailID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			response.ErrorStatus(w, http.StatusBadRequest, "Invalid email id")
			return
		}

		email, err := svc.DeleteEmail(r.Context(), user, emailID)
		if err != nil {
			response.Error(w, err)
			return
		}
		response.JSON(w, email)
	}
}
