package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmrl23/keygate/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Users ---

// CreateUser inserts the user, its empty information record and the
// primary email in one transaction.
func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User, primaryEmail string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create user: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO users (id, created_at, updated_at, username, password, salt, role, enable)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.CreatedAt, user.UpdatedAt, user.Username, user.Password, user.Salt, user.Role, user.Enable)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create user: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO user_information (id, user_id) VALUES ($1, $2)`,
		uuid.New(), user.ID)
	if err != nil {
		return fmt.Errorf("create user information: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO user_emails (id, user_id, email, verified, "primary")
		 VALUES ($1, $2, $3, FALSE, TRUE)`,
		uuid.New(), user.ID, primaryEmail)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create primary email: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, created_at, updated_at, username, password, salt, role, enable
		 FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt, &u.Username, &u.Password, &u.Salt, &u.Role, &u.Enable)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	if err := s.hydrateUser(ctx, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByLogin matches a lowercase-normalized username or a verified
// email address.
func (s *PostgresStore) GetUserByLogin(ctx context.Context, usernameOrEmail string) (*models.User, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx,
		`SELECT u.id FROM users u
		 WHERE u.username = $1
		    OR EXISTS (
		      SELECT 1 FROM user_emails e
		      WHERE e.user_id = u.id AND e.email = $1 AND e.verified
		    )
		 LIMIT 1`, usernameOrEmail,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by login: %w", err)
	}
	return s.GetUserByID(ctx, id)
}

func (s *PostgresStore) CountUsersByUsername(ctx context.Context, username string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM users WHERE username = $1`, username,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count users by username: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, id uuid.UUID, password, salt string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET password = $2, salt = $3, updated_at = NOW() WHERE id = $1`,
		id, password, salt)
	if err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateUserEnable(ctx context.Context, id uuid.UUID, enable bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET enable = $2, updated_at = NOW() WHERE id = $1`, id, enable)
	if err != nil {
		return fmt.Errorf("update user enable: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateUserInformation(ctx context.Context, userID uuid.UUID, displayName *string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE user_information SET display_name = $2 WHERE user_id = $1`,
		userID, displayName)
	if err != nil {
		return fmt.Errorf("update user information: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	_, err = s.pool.Exec(ctx, `UPDATE users SET updated_at = NOW() WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("touch user: %w", err)
	}
	return nil
}

func (s *PostgresStore) hydrateUser(ctx context.Context, u *models.User) error {
	var info models.UserInformation
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, display_name FROM user_information WHERE user_id = $1`, u.ID,
	).Scan(&info.ID, &info.UserID, &info.DisplayName)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("get user information: %w", err)
	}
	if err == nil {
		u.Information = &info
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, email, verified, "primary"
		 FROM user_emails WHERE user_id = $1 ORDER BY email`, u.ID)
	if err != nil {
		return fmt.Errorf("get user emails: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e models.UserEmail
		if err := rows.Scan(&e.ID, &e.UserID, &e.Email, &e.Verified, &e.Primary); err != nil {
			return fmt.Errorf("scan user email: %w", err)
		}
		u.Emails = append(u.Emails, &e)
	}
	return rows.Err()
}

// --- Emails ---

func (s *PostgresStore) CreateEmail(ctx context.Context, email *models.UserEmail) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_emails (id, user_id, email, verified, "primary")
		 VALUES ($1, $2, $3, $4, $5)`,
		email.ID, email.UserID, email.Email, email.Verified, email.Primary)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create email: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountEmailsByAddress(ctx context.Context, email string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM user_emails WHERE email = $1`, email,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count emails by address: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) CountUserEmails(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM user_emails WHERE user_id = $1`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count user emails: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) SetEmailVerified(ctx context.Context, email string) (*models.UserEmail, error) {
	var e models.UserEmail
	err := s.pool.QueryRow(ctx,
		`UPDATE user_emails SET verified = TRUE WHERE email = $1
		 RETURNING id, user_id, email, verified, "primary"`, email,
	).Scan(&e.ID, &e.UserID, &e.Email, &e.Verified, &e.Primary)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("set email verified: %w", err)
	}
	return &e, nil
}

// SetPrimaryEmail demotes all of the user's emails and promotes the
// target inside one transaction, so exactly one primary holds at every
// observation point.
func (s *PostgresStore) SetPrimaryEmail(ctx context.Context, userID, emailID uuid.UUID) (*models.UserEmail, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin set primary email: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`UPDATE user_emails SET "primary" = FALSE WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("demote emails: %w", err)
	}

	var e models.UserEmail
	err = tx.QueryRow(ctx,
		`UPDATE user_emails SET "primary" = TRUE WHERE id = $1 AND user_id = $2
		 RETURNING id, user_id, email, verified, "primary"`, emailID, userID,
	).Scan(&e.ID, &e.UserID, &e.Email, &e.Verified, &e.Primary)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("promote email: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit set primary email: %w", err)
	}
	return &e, nil
}

func (s *PostgresStore) DeleteEmail(ctx context.Context, userID, emailID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM user_emails WHERE id = $1 AND user_id = $2`, emailID, userID)
	if err != nil {
		return fmt.Errorf("delete email: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Applications ---

func (s *PostgresStore) CreateApplication(ctx context.Context, app *models.Application) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO applications (id, created_at, updated_at, author_id, name, origins)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		app.ID, app.CreatedAt, app.UpdatedAt, app.AuthorID, app.Name, app.Origins)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create application: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetApplicationByID(ctx context.Context, id uuid.UUID) (*models.Application, error) {
	var a models.Application
	err := s.pool.QueryRow(ctx,
		`SELECT id, created_at, updated_at, author_id, name, origins
		 FROM applications WHERE id = $1`, id,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt, &a.AuthorID, &a.Name, &a.Origins)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get application: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) CountApplicationsByName(ctx context.Context, name string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM applications WHERE name = $1`, name,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count applications by name: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) SetApplicationOrigins(ctx context.Context, id uuid.UUID, origins []string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE applications SET origins = $2, updated_at = NOW() WHERE id = $1`, id, origins)
	if err != nil {
		return fmt.Errorf("set application origins: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListApplications(ctx context.Context, filter ApplicationFilter) ([]*models.Application, error) {
	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if filter.CreatedAtFrom != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, *filter.CreatedAtFrom)
		argIdx++
	}
	if filter.CreatedAtTo != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argIdx))
		args = append(args, *filter.CreatedAtTo)
		argIdx++
	}
	if filter.UpdatedAtFrom != nil {
		conditions = append(conditions, fmt.Sprintf("updated_at >= $%d", argIdx))
		args = append(args, *filter.UpdatedAtFrom)
		argIdx++
	}
	if filter.UpdatedAtTo != nil {
		conditions = append(conditions, fmt.Sprintf("updated_at <= $%d", argIdx))
		args = append(args, *filter.UpdatedAtTo)
		argIdx++
	}
	if filter.NamePrefix != "" {
		conditions = append(conditions, fmt.Sprintf("name LIKE $%d || '%%'", argIdx))
		args = append(args, filter.NamePrefix)
		argIdx++
	}
	if filter.AuthorID != nil {
		conditions = append(conditions, fmt.Sprintf("author_id = $%d", argIdx))
		args = append(args, *filter.AuthorID)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")
	order := "DESC"
	if filter.Order == OrderAsc {
		order = "ASC"
	}
	limit, offset := normalizePage(filter.Take, filter.Skip)

	query := fmt.Sprintf(
		`SELECT id, created_at, updated_at, author_id, name, origins
		 FROM applications WHERE %s ORDER BY created_at %s LIMIT $%d OFFSET $%d`,
		where, order, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	var apps []*models.Application
	for rows.Next() {
		var a models.Application
		if err := rows.Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt, &a.AuthorID, &a.Name, &a.Origins); err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		apps = append(apps, &a)
	}
	return apps, rows.Err()
}

func (s *PostgresStore) DeleteApplication(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM applications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete application: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- API Keys ---

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, created_at, updated_at, user_id, api_key, expires, enable, applications)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.CreatedAt, key.UpdatedAt, key.UserID, key.Key, key.Expires, key.Enable, key.ApplicationIDs)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAPIKeyByID(ctx context.Context, id uuid.UUID) (*models.APIKey, error) {
	var k models.APIKey
	err := s.pool.QueryRow(ctx,
		`SELECT id, created_at, updated_at, user_id, api_key, expires, enable, applications
		 FROM api_keys WHERE id = $1`, id,
	).Scan(&k.ID, &k.CreatedAt, &k.UpdatedAt, &k.UserID, &k.Key, &k.Expires, &k.Enable, &k.ApplicationIDs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return &k, nil
}

func (s *PostgresStore) GetAPIKeyIDByKey(ctx context.Context, rawKey string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM api_keys WHERE api_key = $1`, rawKey,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("get api key id: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) CountAPIKeysByKey(ctx context.Context, rawKey string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM api_keys WHERE api_key = $1`, rawKey,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count api keys: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, filter APIKeyFilter) ([]*models.APIKey, error) {
	conditions := []string{"user_id = $1"}
	args := []any{filter.UserID}
	argIdx := 2

	if filter.CreatedAtFrom != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, *filter.CreatedAtFrom)
		argIdx++
	}
	if filter.CreatedAtTo != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argIdx))
		args = append(args, *filter.CreatedAtTo)
		argIdx++
	}
	if filter.UpdatedAtFrom != nil {
		conditions = append(conditions, fmt.Sprintf("updated_at >= $%d", argIdx))
		args = append(args, *filter.UpdatedAtFrom)
		argIdx++
	}
	if filter.UpdatedAtTo != nil {
		conditions = append(conditions, fmt.Sprintf("updated_at <= $%d", argIdx))
		args = append(args, *filter.UpdatedAtTo)
		argIdx++
	}
	if filter.Expired != nil && *filter.Expired {
		conditions = append(conditions, "expires IS NOT NULL AND expires <= NOW()")
	}
	if filter.Enable != nil {
		conditions = append(conditions, fmt.Sprintf("enable = $%d", argIdx))
		args = append(args, *filter.Enable)
		argIdx++
	}
	if len(filter.Applications) > 0 {
		conditions = append(conditions, fmt.Sprintf("applications && $%d", argIdx))
		args = append(args, filter.Applications)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")
	order := "DESC"
	if filter.Order == OrderAsc {
		order = "ASC"
	}
	limit, offset := normalizePage(filter.Take, filter.Skip)

	query := fmt.Sprintf(
		`SELECT id, created_at, updated_at, user_id, api_key, expires, enable, applications
		 FROM api_keys WHERE %s ORDER BY created_at %s LIMIT $%d OFFSET $%d`,
		where, order, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.CreatedAt, &k.UpdatedAt, &k.UserID, &k.Key,
			&k.Expires, &k.Enable, &k.ApplicationIDs); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) SetAPIKeyEnable(ctx context.Context, id, userID uuid.UUID, enable bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET enable = $3, updated_at = NOW()
		 WHERE id = $1 AND user_id = $2`, id, userID, enable)
	if err != nil {
		return fmt.Errorf("set api key enable: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteAPIKey(ctx context.Context, id, userID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM api_keys WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func normalizePage(take, skip int) (limit, offset int) {
	limit = take
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset = skip
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
