package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmrl23/keygate/internal/apperr"
	"github.com/jmrl23/keygate/internal/auth"
	"github.com/jmrl23/keygate/internal/cache"
	"github.com/jmrl23/keygate/internal/store"
	"github.com/jmrl23/keygate/pkg/models"
)

// entityTTL is the cache lifetime of individual records and lists.
const entityTTL = 5 * time.Minute

// masterTTL is the cache lifetime of the provisioned master account id.
const masterTTL = 10 * time.Minute

// GetOptions control a cache-aside read.
type GetOptions struct {
	// Revalidate forces a cache bypass and refresh.
	Revalidate bool
}

// GetUserOptions control a user read. Credential fields are stripped
// unless IncludePassword is set.
type GetUserOptions struct {
	Revalidate      bool
	IncludePassword bool
}

// UserService is the account directory.
type UserService struct {
	store      store.Store
	cache      cache.Cache
	session    *SessionService
	sessionTTL time.Duration
}

func NewUserService(s store.Store, c cache.Cache, session *SessionService, sessionTTL time.Duration) *UserService {
	return &UserService{store: s, cache: c, session: session, sessionTTL: sessionTTL}
}

// Session exposes the session sub-service.
func (s *UserService) Session() *SessionService {
	return s.session
}

// userCacheEntry is the cached representation of a user. Credentials
// are carried out-of-band of the model so the model's JSON encoding
// never leaks them.
type userCacheEntry struct {
	User     *models.User `json:"user"`
	Password string       `json:"password"`
	Salt     string       `json:"salt"`
}

// CreateUser registers an account with its primary email and an empty
// information record. Username and email are lowercase-normalized.
func (s *UserService) CreateUser(ctx context.Context, username, password, email string, role models.UserRole) (*models.User, error) {
	username = strings.ToLower(username)
	email = strings.ToLower(email)
	if role == "" {
		role = models.RoleUser
	}

	emailCount, err := s.store.CountEmailsByAddress(ctx, email)
	if err != nil {
		return nil, err
	}
	if emailCount > 0 {
		return nil, apperr.Conflict("Email already taken")
	}

	userCount, err := s.store.CountUsersByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if userCount > 0 {
		return nil, apperr.Conflict("Username already taken")
	}

	salt, err := auth.NewSalt()
	if err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(password, salt)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:        uuid.New(),
		CreatedAt: now,
		UpdatedAt: now,
		Username:  username,
		Password:  hash,
		Salt:      salt,
		Role:      role,
		Enable:    true,
	}

	if err := s.store.CreateUser(ctx, user, email); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, apperr.Conflict("Username already taken")
		}
		return nil, err
	}

	return s.GetUserByIDOrThrow(ctx, user.ID, GetUserOptions{})
}

// GetUserByID is a cache-aside read. A nil user with a nil error means
// the account does not exist (possibly negative-cached).
func (s *UserService) GetUserByID(ctx context.Context, id uuid.UUID, opts GetUserOptions) (*models.User, error) {
	key := cache.UserKey(id)

	if opts.Revalidate {
		if err := s.cache.Delete(ctx, key); err != nil {
			return nil, err
		}
	}

	entry, res, err := cache.GetJSON[userCacheEntry](ctx, s.cache, key)
	if err != nil {
		return nil, err
	}
	switch res {
	case cache.Hit:
		user := entry.User
		if opts.IncludePassword {
			user.Password = entry.Password
			user.Salt = entry.Salt
		}
		return user, nil
	case cache.HitNull:
		return nil, nil
	}

	user, err := s.store.GetUserByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		if err := cache.SetNull(ctx, s.cache, key, entityTTL); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	entry = userCacheEntry{User: user.Sanitized(), Password: user.Password, Salt: user.Salt}
	if err := cache.SetJSON(ctx, s.cache, key, entry, entityTTL); err != nil {
		return nil, err
	}

	if !opts.IncludePassword {
		return user.Sanitized(), nil
	}
	return user, nil
}

func (s *UserService) GetUserByIDOrThrow(ctx context.Context, id uuid.UUID, opts GetUserOptions) (*models.User, error) {
	user, err := s.GetUserByID(ctx, id, opts)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.NotFound("User not found")
	}
	return user, nil
}

// LoginUser matches by username or a verified email, checks the
// password and issues a session token.
func (s *UserService) LoginUser(ctx context.Context, usernameOrEmail, password string) (string, error) {
	usernameOrEmail = strings.ToLower(usernameOrEmail)

	account, err := s.store.GetUserByLogin(ctx, usernameOrEmail)
	if errors.Is(err, store.ErrNotFound) {
		return "", apperr.Unauthorized("User not exists")
	}
	if err != nil {
		return "", err
	}

	if !auth.VerifyPassword(password, account.Salt, account.Password) {
		return "", apperr.Unauthorized("Password is incorrect")
	}

	token, err := s.session.CreateSession(ctx, account.ID, s.sessionTTL)
	if err != nil {
		return "", err
	}
	return token, nil
}

// UpdateUserPassword re-fetches the authoritative record, re-hashes
// with a fresh salt and invalidates the cache.
func (s *UserService) UpdateUserPassword(ctx context.Context, userID uuid.UUID, password string) (*models.User, error) {
	user, err := s.GetUserByIDOrThrow(ctx, userID, GetUserOptions{IncludePassword: true})
	if err != nil {
		return nil, err
	}
	if user.IsMaster() {
		return nil, apperr.Forbidden("Cannot execute operation on master")
	}

	salt, err := auth.NewSalt()
	if err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(password, salt)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateUserPassword(ctx, user.ID, hash, salt); err != nil {
		return nil, err
	}
	return s.GetUserByIDOrThrow(ctx, user.ID, GetUserOptions{Revalidate: true})
}

// UpdateUserInformation mutates the profile record and invalidates the
// user cache.
func (s *UserService) UpdateUserInformation(ctx context.Context, userID uuid.UUID, displayName *string) (*models.User, error) {
	user, err := s.GetUserByIDOrThrow(ctx, userID, GetUserOptions{})
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateUserInformation(ctx, user.ID, displayName); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("User info not found")
		}
		return nil, err
	}
	return s.GetUserByIDOrThrow(ctx, user.ID, GetUserOptions{Revalidate: true})
}

// ToggleUserEnable flips (or sets) the enable flag. The master account
// is protected here as well as at the route layer.
func (s *UserService) ToggleUserEnable(ctx context.Context, userID uuid.UUID, enable *bool) (*models.User, error) {
	user, err := s.GetUserByIDOrThrow(ctx, userID, GetUserOptions{})
	if err != nil {
		return nil, err
	}
	if user.IsMaster() {
		return nil, apperr.Forbidden("Cannot execute operation on master")
	}

	target := !user.Enable
	if enable != nil {
		target = *enable
	}

	if err := s.store.UpdateUserEnable(ctx, user.ID, target); err != nil {
		return nil, err
	}
	return s.GetUserByIDOrThrow(ctx, user.ID, GetUserOptions{Revalidate: true})
}

// EnsureMasterUser lazily provisions the reserved master ADMIN account
// and returns it. The id is cached so repeated knocks skip the
// provisioning check. Idempotent.
func (s *UserService) EnsureMasterUser(ctx context.Context) (*models.User, error) {
	id, res, err := cache.GetJSON[uuid.UUID](ctx, s.cache, cache.MasterUserKey())
	if err != nil {
		return nil, err
	}
	if res == cache.Hit {
		if user, err := s.GetUserByID(ctx, id, GetUserOptions{}); err != nil || user != nil {
			return user, err
		}
		// Stale id; fall through and re-provision.
	}

	account, err := s.store.GetUserByLogin(ctx, models.MasterUsername)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if account == nil {
		// The master account is never logged into with a password; it
		// gets a random one it will never use.
		password, err := auth.NewSalt()
		if err != nil {
			return nil, err
		}
		account, err = s.CreateUser(ctx, models.MasterUsername, password, models.MasterUsername+"@localhost", models.RoleAdmin)
		if err != nil {
			var e *apperr.Error
			if !errors.As(err, &e) {
				return nil, err
			}
			// Lost a provisioning race; read the winner's record.
			account, err = s.store.GetUserByLogin(ctx, models.MasterUsername)
			if err != nil {
				return nil, fmt.Errorf("master account provisioning: %w", err)
			}
		}
	}

	if err := cache.SetJSON(ctx, s.cache, cache.MasterUserKey(), account.ID, masterTTL); err != nil {
		return nil, err
	}
	return s.GetUserByIDOrThrow(ctx, account.ID, GetUserOptions{})
}
