package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmrl23/keygate/internal/store"
	"github.com/jmrl23/keygate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("keygate_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

// seedUser creates an account with a primary email and returns it hydrated.
func seedUser(t *testing.T, s store.Store, username, email string) *models.User {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	user := &models.User{
		ID:        uuid.New(),
		CreatedAt: now,
		UpdatedAt: now,
		Username:  username,
		Password:  "digest",
		Salt:      "salt",
		Role:      models.RoleUser,
		Enable:    true,
	}
	require.NoError(t, s.CreateUser(ctx, user, email))

	got, err := s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	return got
}

func seedApp(t *testing.T, s store.Store, authorID uuid.UUID, name string, origins ...string) *models.Application {
	t.Helper()
	if origins == nil {
		origins = []string{}
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	app := &models.Application{
		ID:        uuid.New(),
		CreatedAt: now,
		UpdatedAt: now,
		AuthorID:  authorID,
		Name:      name,
		Origins:   origins,
	}
	require.NoError(t, s.CreateApplication(context.Background(), app))
	return app
}

func seedAPIKey(t *testing.T, s store.Store, userID uuid.UUID, rawKey string, mutate func(*models.APIKey)) *models.APIKey {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	key := &models.APIKey{
		ID:             uuid.New(),
		CreatedAt:      now,
		UpdatedAt:      now,
		UserID:         userID,
		Key:            rawKey,
		Enable:         true,
		ApplicationIDs: []uuid.UUID{},
	}
	if mutate != nil {
		mutate(key)
	}
	require.NoError(t, s.CreateAPIKey(context.Background(), key))
	return key
}

// --- User Tests ---

func TestUser_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	user := seedUser(t, s, "alice", "alice@example.com")

	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, models.RoleUser, user.Role)

	// CreateUser seeds an information row and a primary unverified email.
	require.NotNil(t, user.Information)
	assert.Nil(t, user.Information.DisplayName)
	require.Len(t, user.Emails, 1)
	assert.Equal(t, "alice@example.com", user.Emails[0].Email)
	assert.True(t, user.Emails[0].Primary)
	assert.False(t, user.Emails[0].Verified)
}

func TestUser_GetNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.GetUserByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUser_DuplicateUsername(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	seedUser(t, s, "alice", "alice@example.com")

	now := time.Now().UTC().Truncate(time.Microsecond)
	err := s.CreateUser(ctx, &models.User{
		ID: uuid.New(), CreatedAt: now, UpdatedAt: now,
		Username: "alice", Password: "d", Salt: "s", Role: models.RoleUser, Enable: true,
	}, "other@example.com")
	assert.ErrorIs(t, err, store.ErrDuplicateKey)

	// The rolled-back transaction must not leave the email claimed.
	count, err := s.CountEmailsByAddress(ctx, "other@example.com")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestUser_DuplicateEmail(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	seedUser(t, s, "alice", "shared@example.com")

	now := time.Now().UTC().Truncate(time.Microsecond)
	err := s.CreateUser(ctx, &models.User{
		ID: uuid.New(), CreatedAt: now, UpdatedAt: now,
		Username: "bob", Password: "d", Salt: "s", Role: models.UserRole("USER"), Enable: true,
	}, "shared@example.com")
	assert.ErrorIs(t, err, store.ErrDuplicateKey)

	// The user insert rolled back with the email.
	count, err := s.CountUsersByUsername(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestUser_GetByLogin(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	user := seedUser(t, s, "alice", "alice@example.com")

	byUsername, err := s.GetUserByLogin(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byUsername.ID)

	// The email path only matches verified addresses.
	_, err = s.GetUserByLogin(ctx, "alice@example.com")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.SetEmailVerified(ctx, "alice@example.com")
	require.NoError(t, err)

	byEmail, err := s.GetUserByLogin(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)
}

func TestUser_UpdatePassword(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	user := seedUser(t, s, "alice", "alice@example.com")

	require.NoError(t, s.UpdateUserPassword(ctx, user.ID, "new-digest", "new-salt"))

	got, err := s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-digest", got.Password)
	assert.Equal(t, "new-salt", got.Salt)
	assert.True(t, got.UpdatedAt.After(user.UpdatedAt))

	err = s.UpdateUserPassword(ctx, uuid.New(), "d", "s")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUser_UpdateInformation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	user := seedUser(t, s, "alice", "alice@example.com")

	name := "Alice A."
	require.NoError(t, s.UpdateUserInformation(ctx, user.ID, &name))

	got, err := s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Information)
	require.NotNil(t, got.Information.DisplayName)
	assert.Equal(t, "Alice A.", *got.Information.DisplayName)

	// Clearing stores NULL.
	require.NoError(t, s.UpdateUserInformation(ctx, user.ID, nil))
	got, err = s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Information.DisplayName)
}

func TestUser_UpdateEnableNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.UpdateUserEnable(context.Background(), uuid.New(), false)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- Email Tests ---

func TestEmail_SetPrimary(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	user := seedUser(t, s, "alice", "alice@example.com")
	work := &models.UserEmail{ID: uuid.New(), UserID: user.ID, Email: "work@example.com"}
	require.NoError(t, s.CreateEmail(ctx, work))

	promoted, err := s.SetPrimaryEmail(ctx, user.ID, work.ID)
	require.NoError(t, err)
	assert.True(t, promoted.Primary)

	got, err := s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	primaries := 0
	for _, e := range got.Emails {
		if e.Primary {
			primaries++
			assert.Equal(t, "work@example.com", e.Email)
		}
	}
	assert.Equal(t, 1, primaries)
}

func TestEmail_SetPrimaryNotFoundRollsBack(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	user := seedUser(t, s, "alice", "alice@example.com")

	// A bogus target must not leave the account with no primary.
	_, err := s.SetPrimaryEmail(ctx, user.ID, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)

	got, err := s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, got.Emails, 1)
	assert.True(t, got.Emails[0].Primary)
}

func TestEmail_Delete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	user := seedUser(t, s, "alice", "alice@example.com")
	work := &models.UserEmail{ID: uuid.New(), UserID: user.ID, Email: "work@example.com"}
	require.NoError(t, s.CreateEmail(ctx, work))

	require.NoError(t, s.DeleteEmail(ctx, user.ID, work.ID))

	count, err := s.CountUserEmails(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Scoped to the owner: a foreign user id does not match.
	err = s.DeleteEmail(ctx, uuid.New(), user.Emails[0].ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEmail_SetVerifiedNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.SetEmailVerified(context.Background(), "nobody@example.com")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- Application Tests ---

func TestApplication_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	user := seedUser(t, s, "alice", "alice@example.com")
	app := seedApp(t, s, user.ID, "acme", "https://acme.dev")

	got, err := s.GetApplicationByID(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, "acme", got.Name)
	assert.Equal(t, []string{"https://acme.dev"}, got.Origins)
	assert.Equal(t, user.ID, got.AuthorID)
}

func TestApplication_DuplicateName(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	user := seedUser(t, s, "alice", "alice@example.com")
	seedApp(t, s, user.ID, "acme")

	now := time.Now().UTC().Truncate(time.Microsecond)
	err := s.CreateApplication(ctx, &models.Application{
		ID: uuid.New(), CreatedAt: now, UpdatedAt: now, AuthorID: user.ID, Name: "acme", Origins: []string{},
	})
	assert.ErrorIs(t, err, store.ErrDuplicateKey)

	// Uniqueness is case-sensitive.
	err = s.CreateApplication(ctx, &models.Application{
		ID: uuid.New(), CreatedAt: now, UpdatedAt: now, AuthorID: user.ID, Name: "Acme", Origins: []string{},
	})
	assert.NoError(t, err)
}

func TestApplication_SetOrigins(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	user := seedUser(t, s, "alice", "alice@example.com")
	app := seedApp(t, s, user.ID, "acme", "https://old.acme.dev")

	require.NoError(t, s.SetApplicationOrigins(ctx, app.ID, []string{"https://new.acme.dev"}))

	got, err := s.GetApplicationByID(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://new.acme.dev"}, got.Origins)

	err = s.SetApplicationOrigins(ctx, uuid.New(), []string{"https://x"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestApplication_List(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	alice := seedUser(t, s, "alice", "alice@example.com")
	bob := seedUser(t, s, "bob", "bob@example.com")
	seedApp(t, s, alice.ID, "acme-web")
	seedApp(t, s, alice.ID, "acme-mobile")
	seedApp(t, s, bob.ID, "beta")

	byPrefix, err := s.ListApplications(ctx, store.ApplicationFilter{NamePrefix: "acme-"})
	require.NoError(t, err)
	assert.Len(t, byPrefix, 2)

	byAuthor, err := s.ListApplications(ctx, store.ApplicationFilter{AuthorID: &bob.ID})
	require.NoError(t, err)
	require.Len(t, byAuthor, 1)
	assert.Equal(t, "beta", byAuthor[0].Name)

	page, err := s.ListApplications(ctx, store.ApplicationFilter{Skip: 1, Take: 1, Order: store.OrderAsc})
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func TestApplication_ListDateRange(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	user := seedUser(t, s, "alice", "alice@example.com")
	app := seedApp(t, s, user.ID, "acme")

	before := app.CreatedAt.Add(-time.Minute)
	after := app.CreatedAt.Add(time.Minute)

	hit, err := s.ListApplications(ctx, store.ApplicationFilter{CreatedAtFrom: &before, CreatedAtTo: &after})
	require.NoError(t, err)
	assert.Len(t, hit, 1)

	miss, err := s.ListApplications(ctx, store.ApplicationFilter{CreatedAtFrom: &after})
	require.NoError(t, err)
	assert.Empty(t, miss)
}

func TestApplication_Delete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	user := seedUser(t, s, "alice", "alice@example.com")
	app := seedApp(t, s, user.ID, "acme")

	require.NoError(t, s.DeleteApplication(ctx, app.ID))

	_, err := s.GetApplicationByID(ctx, app.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = s.DeleteApplication(ctx, app.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- API Key Tests ---

func TestAPIKey_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	user := seedUser(t, s, "alice", "alice@example.com")
	app := seedApp(t, s, user.ID, "acme")
	expires := time.Now().UTC().Add(7 * 24 * time.Hour).Truncate(time.Microsecond)
	key := seedAPIKey(t, s, user.ID, "sk-aaaabbbbccccddddeeeeffffggggh", func(k *models.APIKey) {
		k.Expires = &expires
		k.ApplicationIDs = []uuid.UUID{app.ID}
	})

	got, err := s.GetAPIKeyByID(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, key.Key, got.Key)
	assert.Equal(t, []uuid.UUID{app.ID}, got.ApplicationIDs)
	require.NotNil(t, got.Expires)
	assert.WithinDuration(t, expires, *got.Expires, time.Second)

	id, err := s.GetAPIKeyIDByKey(ctx, key.Key)
	require.NoError(t, err)
	assert.Equal(t, key.ID, id)

	count, err := s.CountAPIKeysByKey(ctx, key.Key)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAPIKey_GetByKeyNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.GetAPIKeyIDByKey(context.Background(), "sk-missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAPIKey_DuplicateKey(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	user := seedUser(t, s, "alice", "alice@example.com")
	seedAPIKey(t, s, user.ID, "sk-duplicate", nil)

	now := time.Now().UTC().Truncate(time.Microsecond)
	err := s.CreateAPIKey(ctx, &models.APIKey{
		ID: uuid.New(), CreatedAt: now, UpdatedAt: now, UserID: user.ID,
		Key: "sk-duplicate", Enable: true, ApplicationIDs: []uuid.UUID{},
	})
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

func TestAPIKey_ListFilters(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	alice := seedUser(t, s, "alice", "alice@example.com")
	bob := seedUser(t, s, "bob", "bob@example.com")
	app := seedApp(t, s, alice.ID, "acme")

	past := time.Now().UTC().Add(-time.Hour).Truncate(time.Microsecond)
	seedAPIKey(t, s, alice.ID, "sk-live", func(k *models.APIKey) {
		k.ApplicationIDs = []uuid.UUID{app.ID}
	})
	seedAPIKey(t, s, alice.ID, "sk-dead", func(k *models.APIKey) {
		k.Expires = &past
		k.Enable = false
	})
	seedAPIKey(t, s, bob.ID, "sk-bobs", nil)

	// Scoped to the owner.
	mine, err := s.ListAPIKeys(ctx, store.APIKeyFilter{UserID: alice.ID})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	expired := true
	dead, err := s.ListAPIKeys(ctx, store.APIKeyFilter{UserID: alice.ID, Expired: &expired})
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "sk-dead", dead[0].Key)

	enabled := true
	live, err := s.ListAPIKeys(ctx, store.APIKeyFilter{UserID: alice.ID, Enable: &enabled})
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "sk-live", live[0].Key)

	byApp, err := s.ListAPIKeys(ctx, store.APIKeyFilter{UserID: alice.ID, Applications: []uuid.UUID{app.ID}})
	require.NoError(t, err)
	require.Len(t, byApp, 1)
	assert.Equal(t, "sk-live", byApp[0].Key)
}

func TestAPIKey_SetEnableScopedToOwner(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	user := seedUser(t, s, "alice", "alice@example.com")
	key := seedAPIKey(t, s, user.ID, "sk-toggle", nil)

	err := s.SetAPIKeyEnable(ctx, key.ID, uuid.New(), false)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.SetAPIKeyEnable(ctx, key.ID, user.ID, false))

	got, err := s.GetAPIKeyByID(ctx, key.ID)
	require.NoError(t, err)
	assert.False(t, got.Enable)
}

func TestAPIKey_DeleteScopedToOwner(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	user := seedUser(t, s, "alice", "alice@example.com")
	key := seedAPIKey(t, s, user.ID, "sk-delete", nil)

	err := s.DeleteAPIKey(ctx, key.ID, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.DeleteAPIKey(ctx, key.ID, user.ID))

	_, err = s.GetAPIKeyByID(ctx, key.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- Ping Test ---

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.Ping(context.Background())
	assert.NoError(t, err)
}
