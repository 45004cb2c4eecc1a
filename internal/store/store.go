package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmrl23/keygate/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go
// through here. Reads return fully hydrated records (users carry their
// emails and information; API keys carry their application id binding).
type Store interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, user *models.User, primaryEmail string) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByLogin(ctx context.Context, usernameOrEmail string) (*models.User, error)
	CountUsersByUsername(ctx context.Context, username string) (int, error)
	UpdateUserPassword(ctx context.Context, id uuid.UUID, password, salt string) error
	UpdateUserEnable(ctx context.Context, id uuid.UUID, enable bool) error
	UpdateUserInformation(ctx context.Context, userID uuid.UUID, displayName *string) error

	CreateEmail(ctx context.Context, email *models.UserEmail) error
	CountEmailsByAddress(ctx context.Context, email string) (int, error)
	CountUserEmails(ctx context.Context, userID uuid.UUID) (int, error)
	SetEmailVerified(ctx context.Context, email string) (*models.UserEmail, error)
	SetPrimaryEmail(ctx context.Context, userID, emailID uuid.UUID) (*models.UserEmail, error)
	DeleteEmail(ctx context.Context, userID, emailID uuid.UUID) error

	CreateApplication(ctx context.Context, app *models.Application) error
	GetApplicationByID(ctx context.Context, id uuid.UUID) (*models.Application, error)
	CountApplicationsByName(ctx context.Context, name string) (int, error)
	SetApplicationOrigins(ctx context.Context, id uuid.UUID, origins []string) error
	ListApplications(ctx context.Context, filter ApplicationFilter) ([]*models.Application, error)
	DeleteApplication(ctx context.Context, id uuid.UUID) error

	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	GetAPIKeyByID(ctx context.Context, id uuid.UUID) (*models.APIKey, error)
	GetAPIKeyIDByKey(ctx context.Context, rawKey string) (uuid.UUID, error)
	CountAPIKeysByKey(ctx context.Context, rawKey string) (int, error)
	ListAPIKeys(ctx context.Context, filter APIKeyFilter) ([]*models.APIKey, error)
	SetAPIKeyEnable(ctx context.Context, id, userID uuid.UUID, enable bool) error
	DeleteAPIKey(ctx context.Context, id, userID uuid.UUID) error
}

// SortOrder is the createdAt sort direction for list queries.
type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// ApplicationFilter narrows ListApplications. Zero values mean "no
// constraint"; Take <= 0 falls back to a server-side default.
type ApplicationFilter struct {
	CreatedAtFrom *time.Time
	CreatedAtTo   *time.Time
	UpdatedAtFrom *time.Time
	UpdatedAtTo   *time.Time
	NamePrefix    string
	AuthorID      *uuid.UUID
	Skip          int
	Take          int
	Order         SortOrder
}

// APIKeyFilter narrows ListAPIKeys. UserID is mandatory: keys are only
// ever listed by their owner.
type APIKeyFilter struct {
	UserID        uuid.UUID
	CreatedAtFrom *time.Time
	CreatedAtTo   *time.Time
	UpdatedAtFrom *time.Time
	UpdatedAtTo   *time.Time
	Expired       *bool
	Enable        *bool
	Applications  []uuid.UUID
	Skip          int
	Take          int
	Order         SortOrder
}
