package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmrl23/keygate/internal/apperr"
	"github.com/jmrl23/keygate/internal/cache"
	"github.com/jmrl23/keygate/internal/mail"
	"github.com/jmrl23/keygate/internal/store"
	"github.com/jmrl23/keygate/pkg/models"
)

// otpTTL is how long a verification OTP stays valid once issued.
const otpTTL = 12 * time.Hour

// EmailService manages a user's email set and the OTP verification
// flow.
type EmailService struct {
	store  store.Store
	cache  cache.Cache
	mailer mail.Mailer
}

func NewEmailService(s store.Store, c cache.Cache, mailer mail.Mailer) *EmailService {
	return &EmailService{store: s, cache: c, mailer: mailer}
}

// CreateEmail attaches a new, unverified, non-primary address.
func (s *EmailService) CreateEmail(ctx context.Context, user *models.User, email string) (*models.UserEmail, error) {
	email = strings.ToLower(email)

	count, err := s.store.CountEmailsByAddress(ctx, email)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, apperr.Conflict("Email already used")
	}

	instance := &models.UserEmail{
		ID:     uuid.New(),
		UserID: user.ID,
		Email:  email,
	}
	if err := s.store.CreateEmail(ctx, instance); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, apperr.Conflict("Email already used")
		}
		return nil, err
	}

	if err := s.invalidateUser(ctx, user.ID); err != nil {
		return nil, err
	}
	return instance, nil
}

// SendVerificationOTP issues (or re-sends) the 6-digit OTP for one of
// the user's emails. While an unexpired OTP is cached the same value is
// returned instead of minting a new one.
func (s *EmailService) SendVerificationOTP(ctx context.Context, user *models.User, emailID uuid.UUID) (string, error) {
	email := user.EmailByID(emailID)
	if email == nil {
		return "", apperr.NotFound("User email not found")
	}
	if email.Verified {
		return "", apperr.BadRequest("User email already verified")
	}

	key := cache.EmailOTPKey(email.Email)
	cached, res, err := cache.GetJSON[string](ctx, s.cache, key)
	if err != nil {
		return "", err
	}
	if res == cache.Hit {
		return cached, nil
	}

	otp, err := generateOTP()
	if err != nil {
		return "", err
	}
	if err := cache.SetJSON(ctx, s.cache, key, otp, otpTTL); err != nil {
		return "", err
	}

	_, err = s.mailer.Send(ctx, mail.Message{
		To:      []string{email.Email},
		Subject: "Email verification",
		Text:    fmt.Sprintf("Verification OTP for email %s: %s", email.Email, otp),
		HTML:    fmt.Sprintf("Verification OTP for email <strong>%s</strong>: <strong>%s</strong>", email.Email, otp),
	})
	if err != nil {
		return "", fmt.Errorf("send verification mail: %w", err)
	}
	return otp, nil
}

// VerifyEmailOTP marks the email verified when the presented OTP
// matches the cached one. A successful verification consumes the OTP;
// a mismatch leaves it in place.
func (s *EmailService) VerifyEmailOTP(ctx context.Context, email, otp string) (*models.UserEmail, error) {
	email = strings.ToLower(email)
	key := cache.EmailOTPKey(email)

	cached, res, err := cache.GetJSON[string](ctx, s.cache, key)
	if err != nil {
		return nil, err
	}
	if res != cache.Hit || cached != otp {
		return nil, apperr.BadRequest("Invalid OTP")
	}

	instance, err := s.store.SetEmailVerified(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("User email not found")
	}
	if err != nil {
		return nil, err
	}

	if err := s.cache.Delete(ctx, key); err != nil {
		return nil, err
	}
	if err := s.invalidateUser(ctx, instance.UserID); err != nil {
		return nil, err
	}
	return instance, nil
}

// SetPrimaryEmail reassigns the primary flag. Demote-then-promote runs
// in one store transaction so exactly one primary holds throughout.
func (s *EmailService) SetPrimaryEmail(ctx context.Context, user *models.User, emailID uuid.UUID) (*models.UserEmail, error) {
	ref := user.EmailByID(emailID)
	if ref == nil {
		return nil, apperr.NotFound("User email not found")
	}
	if ref.Primary {
		return nil, apperr.BadRequest("User email is already primary")
	}

	email, err := s.store.SetPrimaryEmail(ctx, user.ID, emailID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("User email not found")
	}
	if err != nil {
		return nil, err
	}

	if err := s.invalidateUser(ctx, user.ID); err != nil {
		return nil, err
	}
	return email, nil
}

// DeleteEmail removes a non-primary address. The primary email and the
// last remaining email cannot be removed.
func (s *EmailService) DeleteEmail(ctx context.Context, user *models.User, emailID uuid.UUID) (*models.UserEmail, error) {
	email := user.EmailByID(emailID)
	if email == nil {
		return nil, apperr.NotFound("User email not found")
	}
	if email.Primary {
		return nil, apperr.Forbidden("Cannot remove a primary email")
	}

	count, err := s.store.CountUserEmails(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if count <= 1 {
		return nil, apperr.BadRequest("Cannot remove the last email")
	}

	if err := s.store.DeleteEmail(ctx, user.ID, emailID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("User email not found")
		}
		return nil, err
	}

	if err := s.invalidateUser(ctx, user.ID); err != nil {
		return nil, err
	}
	return email, nil
}

func (s *EmailService) invalidateUser(ctx context.Context, userID uuid.UUID) error {
	return s.cache.Delete(ctx, cache.UserKey(userID))
}

var otpMax = big.NewInt(1000000)

func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, otpMax)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n), nil
}
