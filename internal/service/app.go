package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmrl23/keygate/internal/apperr"
	"github.com/jmrl23/keygate/internal/cache"
	"github.com/jmrl23/keygate/internal/store"
	"github.com/jmrl23/keygate/pkg/models"
)

// AppService is the API application registry.
type AppService struct {
	store store.Store
	cache cache.Cache
}

func NewAppService(s store.Store, c cache.Cache) *AppService {
	return &AppService{store: s, cache: c}
}

// AppListQuery is an application list filter plus the cache-busting
// flag.
type AppListQuery struct {
	store.ApplicationFilter
	Revalidate bool
}

// CreateApp registers an application. Names are globally unique and
// case-sensitive; no normalization is applied.
func (s *AppService) CreateApp(ctx context.Context, user *models.User, name string, origins []string) (*models.Application, error) {
	count, err := s.store.CountApplicationsByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, apperr.Conflict("API application already created")
	}

	if origins == nil {
		origins = []string{}
	}
	now := time.Now().UTC()
	app := &models.Application{
		ID:        uuid.New(),
		CreatedAt: now,
		UpdatedAt: now,
		AuthorID:  user.ID,
		Name:      name,
		Origins:   origins,
	}
	if err := s.store.CreateApplication(ctx, app); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, apperr.Conflict("API application already created")
		}
		return nil, err
	}

	return s.GetAppByIDOrThrow(ctx, app.ID, GetOptions{})
}

// GetAppByID is a cache-aside read; absence is negative-cached.
func (s *AppService) GetAppByID(ctx context.Context, id uuid.UUID, opts GetOptions) (*models.Application, error) {
	key := cache.ApplicationKey(id)

	if opts.Revalidate {
		if err := s.cache.Delete(ctx, key); err != nil {
			return nil, err
		}
	}

	cached, res, err := cache.GetJSON[models.Application](ctx, s.cache, key)
	if err != nil {
		return nil, err
	}
	switch res {
	case cache.Hit:
		return &cached, nil
	case cache.HitNull:
		return nil, nil
	}

	app, err := s.store.GetApplicationByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		if err := cache.SetNull(ctx, s.cache, key, entityTTL); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := cache.SetJSON(ctx, s.cache, key, app, entityTTL); err != nil {
		return nil, err
	}
	return app, nil
}

func (s *AppService) GetAppByIDOrThrow(ctx context.Context, id uuid.UUID, opts GetOptions) (*models.Application, error) {
	app, err := s.GetAppByID(ctx, id, opts)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, apperr.NotFound("API application not found")
	}
	return app, nil
}

// SetOriginsByID replaces the origin allow-list wholesale.
func (s *AppService) SetOriginsByID(ctx context.Context, id uuid.UUID, origins []string) (*models.Application, error) {
	if origins == nil {
		origins = []string{}
	}
	if err := s.store.SetApplicationOrigins(ctx, id, origins); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("API application not found")
		}
		return nil, err
	}
	return s.GetAppByIDOrThrow(ctx, id, GetOptions{Revalidate: true})
}

// GetAppList lists applications. The filter tuple is joined verbatim
// into the cache key, so the key is order-sensitive by construction.
func (s *AppService) GetAppList(ctx context.Context, q AppListQuery) ([]*models.Application, error) {
	parts := []string{
		fmtTimePtr(q.CreatedAtFrom),
		fmtTimePtr(q.CreatedAtTo),
		fmtTimePtr(q.UpdatedAtFrom),
		fmtTimePtr(q.UpdatedAtTo),
		q.NamePrefix,
		fmtUUIDPtr(q.AuthorID),
		strconv.Itoa(q.Skip),
		strconv.Itoa(q.Take),
		string(q.Order),
	}
	key := cache.ApplicationListKey(parts)

	if q.Revalidate {
		if err := s.cache.Delete(ctx, key); err != nil {
			return nil, err
		}
	}

	cached, res, err := cache.GetJSON[[]*models.Application](ctx, s.cache, key)
	if err != nil {
		return nil, err
	}
	if res == cache.Hit {
		return cached, nil
	}

	rows, err := s.store.ListApplications(ctx, q.ApplicationFilter)
	if err != nil {
		return nil, err
	}

	// Re-read each row through the entity cache so the per-id entries
	// get (re)populated alongside the list entry.
	apps := make([]*models.Application, 0, len(rows))
	for _, row := range rows {
		app, err := s.GetAppByIDOrThrow(ctx, row.ID, GetOptions{})
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}

	if err := cache.SetJSON(ctx, s.cache, key, apps, entityTTL); err != nil {
		return nil, err
	}
	return apps, nil
}

// DeleteAppByID removes the application and its cache entry. Ownership
// is enforced at the route layer (owner or admin).
func (s *AppService) DeleteAppByID(ctx context.Context, id uuid.UUID) (*models.Application, error) {
	ref, err := s.GetAppByIDOrThrow(ctx, id, GetOptions{})
	if err != nil {
		return nil, err
	}

	if err := s.store.DeleteApplication(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("API application not found")
		}
		return nil, err
	}

	if err := s.cache.Delete(ctx, cache.ApplicationKey(id)); err != nil {
		return nil, err
	}
	return ref, nil
}

func fmtTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func fmtUUIDPtr(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
