package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmrl23/keygate/internal/apperr"
	"github.com/jmrl23/keygate/internal/cache"
	"github.com/jmrl23/keygate/internal/store"
	"github.com/jmrl23/keygate/pkg/models"
)

const (
	keyPrefix  = "sk-"
	keyRandLen = 29

	// maxKeyAttempts bounds the collision retry; persistent collisions
	// fail with Conflict instead of retrying forever.
	maxKeyAttempts = 5
)

// Status messages, in precedence order. The first failing check wins.
const (
	StatusMissing       = "API key missing"
	StatusInvalid       = "API key invalid"
	StatusDisabled      = "API key disabled"
	StatusExpired       = "API key expired"
	StatusNotAuthorized = "API key not authorized for this application"
	StatusActive        = "API key is active"
)

// KeyService issues API keys and decides request admission.
type KeyService struct {
	store store.Store
	cache cache.Cache
	apps  *AppService
	now   func() time.Time
}

func NewKeyService(s store.Store, c cache.Cache, apps *AppService) *KeyService {
	return &KeyService{store: s, cache: c, apps: apps, now: time.Now}
}

// CreateKeyOptions configure a new key. ExpiresDays of nil means no
// expiry. Applications must reference existing applications.
type CreateKeyOptions struct {
	ExpiresDays  *int
	Applications []uuid.UUID
}

// KeyListQuery is an API key list filter plus the cache-busting flag.
type KeyListQuery struct {
	store.APIKeyFilter
	Revalidate bool
}

// CreateKey issues an opaque key bound to the user. The random suffix
// is collision-checked against the store and regenerated up to
// maxKeyAttempts times.
func (s *KeyService) CreateKey(ctx context.Context, user *models.User, opts CreateKeyOptions) (*models.APIKey, error) {
	if opts.Applications == nil {
		opts.Applications = []uuid.UUID{}
	}
	for _, appID := range opts.Applications {
		if _, err := s.apps.GetAppByIDOrThrow(ctx, appID, GetOptions{}); err != nil {
			return nil, err
		}
	}

	var rawKey string
	for attempt := 0; ; attempt++ {
		if attempt == maxKeyAttempts {
			return nil, apperr.Conflict("Could not allocate a unique API key")
		}

		candidate, err := generateKey()
		if err != nil {
			return nil, err
		}
		count, err := s.store.CountAPIKeysByKey(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if count == 0 {
			rawKey = candidate
			break
		}
	}

	now := s.now().UTC()
	var expires *time.Time
	if opts.ExpiresDays != nil {
		t := now.Add(time.Duration(*opts.ExpiresDays) * 24 * time.Hour)
		expires = &t
	}

	key := &models.APIKey{
		ID:             uuid.New(),
		CreatedAt:      now,
		UpdatedAt:      now,
		UserID:         user.ID,
		Key:            rawKey,
		Expires:        expires,
		Enable:         true,
		ApplicationIDs: opts.Applications,
	}
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, apperr.Conflict("Could not allocate a unique API key")
		}
		return nil, err
	}

	return s.GetKeyByIDOrThrow(ctx, key.ID, GetOptions{})
}

// GetKeyByID is a cache-aside read; the bound applications are
// denormalized to id+name+origins. Absence is negative-cached. A bound
// application that has since been deleted is dropped from the view.
func (s *KeyService) GetKeyByID(ctx context.Context, id uuid.UUID, opts GetOptions) (*models.APIKey, error) {
	cacheKey := cache.APIKeyKey(id)

	if opts.Revalidate {
		if err := s.cache.Delete(ctx, cacheKey); err != nil {
			return nil, err
		}
	}

	cached, res, err := cache.GetJSON[models.APIKey](ctx, s.cache, cacheKey)
	if err != nil {
		return nil, err
	}
	switch res {
	case cache.Hit:
		return &cached, nil
	case cache.HitNull:
		return nil, nil
	}

	key, err := s.store.GetAPIKeyByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		if err := cache.SetNull(ctx, s.cache, cacheKey, entityTTL); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	key.Applications = make([]*models.APIKeyApplication, 0, len(key.ApplicationIDs))
	for _, appID := range key.ApplicationIDs {
		app, err := s.apps.GetAppByID(ctx, appID, GetOptions{})
		if err != nil {
			return nil, err
		}
		if app == nil {
			continue
		}
		key.Applications = append(key.Applications, &models.APIKeyApplication{
			ID:      app.ID,
			Name:    app.Name,
			Origins: app.Origins,
		})
	}

	if err := cache.SetJSON(ctx, s.cache, cacheKey, key, entityTTL); err != nil {
		return nil, err
	}
	return key, nil
}

func (s *KeyService) GetKeyByIDOrThrow(ctx context.Context, id uuid.UUID, opts GetOptions) (*models.APIKey, error) {
	key, err := s.GetKeyByID(ctx, id, opts)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, apperr.NotFound("API key not found")
	}
	return key, nil
}

// GetKeyByItsKey resolves a presented key string. The lookup is cached
// in two levels: key string to id (under a hashed cache key, so the
// literal key is never stored twice), then id to record.
func (s *KeyService) GetKeyByItsKey(ctx context.Context, rawKey string, opts GetOptions) (*models.APIKey, error) {
	lookupKey := cache.APIKeyLookupKey(rawKey)

	if opts.Revalidate {
		if err := s.cache.Delete(ctx, lookupKey); err != nil {
			return nil, err
		}
	}

	cachedID, res, err := cache.GetJSON[uuid.UUID](ctx, s.cache, lookupKey)
	if err != nil {
		return nil, err
	}
	switch res {
	case cache.HitNull:
		return nil, nil
	case cache.Hit:
		return s.GetKeyByIDOrThrow(ctx, cachedID, GetOptions{})
	}

	id, err := s.store.GetAPIKeyIDByKey(ctx, rawKey)
	if errors.Is(err, store.ErrNotFound) {
		if err := cache.SetNull(ctx, s.cache, lookupKey, entityTTL); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := cache.SetJSON(ctx, s.cache, lookupKey, id, entityTTL); err != nil {
		return nil, err
	}
	return s.GetKeyByID(ctx, id, GetOptions{})
}

// GetKeyList lists the user's keys. The filter tuple is joined verbatim
// into the cache key (order-sensitive).
func (s *KeyService) GetKeyList(ctx context.Context, user *models.User, q KeyListQuery) ([]*models.APIKey, error) {
	q.UserID = user.ID

	appIDs := make([]string, 0, len(q.Applications))
	for _, id := range q.Applications {
		appIDs = append(appIDs, id.String())
	}
	parts := []string{
		user.ID.String(),
		fmtTimePtr(q.CreatedAtFrom),
		fmtTimePtr(q.CreatedAtTo),
		fmtTimePtr(q.UpdatedAtFrom),
		fmtTimePtr(q.UpdatedAtTo),
		fmtBoolPtr(q.Expired),
		fmtBoolPtr(q.Enable),
		strings.Join(appIDs, "."),
		strconv.Itoa(q.Skip),
		strconv.Itoa(q.Take),
		string(q.Order),
	}
	key := cache.APIKeyListKey(parts)

	if q.Revalidate {
		if err := s.cache.Delete(ctx, key); err != nil {
			return nil, err
		}
	}

	cached, res, err := cache.GetJSON[[]*models.APIKey](ctx, s.cache, key)
	if err != nil {
		return nil, err
	}
	if res == cache.Hit {
		return cached, nil
	}

	rows, err := s.store.ListAPIKeys(ctx, q.APIKeyFilter)
	if err != nil {
		return nil, err
	}

	keys := make([]*models.APIKey, 0, len(rows))
	for _, row := range rows {
		k, err := s.GetKeyByIDOrThrow(ctx, row.ID, GetOptions{})
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}

	if err := cache.SetJSON(ctx, s.cache, key, keys, entityTTL); err != nil {
		return nil, err
	}
	return keys, nil
}

// ToggleKeyByID flips (or sets) the enable flag. Only the owning user
// may toggle.
func (s *KeyService) ToggleKeyByID(ctx context.Context, user *models.User, id uuid.UUID, enable *bool) (*models.APIKey, error) {
	ref, err := s.mustOwn(ctx, user, id)
	if err != nil {
		return nil, err
	}

	target := !ref.Enable
	if enable != nil {
		target = *enable
	}

	if err := s.store.SetAPIKeyEnable(ctx, id, user.ID, target); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("API key not found")
		}
		return nil, err
	}
	return s.GetKeyByIDOrThrow(ctx, id, GetOptions{Revalidate: true})
}

// DeleteKeyByID removes the key and both of its cache entries. Only
// the owning user may delete.
func (s *KeyService) DeleteKeyByID(ctx context.Context, user *models.User, id uuid.UUID) (*models.APIKey, error) {
	ref, err := s.mustOwn(ctx, user, id)
	if err != nil {
		return nil, err
	}

	if err := s.store.DeleteAPIKey(ctx, id, user.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("API key not found")
		}
		return nil, err
	}

	if err := s.cache.Delete(ctx, cache.APIKeyKey(id)); err != nil {
		return nil, err
	}
	if err := s.cache.Delete(ctx, cache.APIKeyLookupKey(ref.Key)); err != nil {
		return nil, err
	}
	return ref, nil
}

// GetKeyStatus is the admission decision for a presented key + origin.
// Checks run in a fixed precedence and the first failing check wins:
// missing, not found, disabled, expired, origin not authorized.
func (s *KeyService) GetKeyStatus(ctx context.Context, rawKey, origin string) (*models.KeyStatus, error) {
	if rawKey == "" {
		return &models.KeyStatus{Active: false, Message: StatusMissing}, nil
	}

	key, err := s.GetKeyByItsKey(ctx, rawKey, GetOptions{})
	if err != nil {
		return nil, err
	}
	if key == nil {
		return &models.KeyStatus{Active: false, Message: StatusInvalid}, nil
	}
	if !key.Enable {
		return &models.KeyStatus{Active: false, Message: StatusDisabled}, nil
	}
	if key.Expired(s.now()) {
		return &models.KeyStatus{Active: false, Message: StatusExpired}, nil
	}
	if origin != "" && !key.AllowsOrigin(origin) {
		return &models.KeyStatus{Active: false, Message: StatusNotAuthorized}, nil
	}
	return &models.KeyStatus{Active: true, Message: StatusActive}, nil
}

// ValidateRequest is GetKeyStatus as an error: nil for an admitted
// request, Unauthorized for a missing/unknown key, Forbidden for a
// known key that fails a later check.
func (s *KeyService) ValidateRequest(ctx context.Context, rawKey, origin string) error {
	status, err := s.GetKeyStatus(ctx, rawKey, origin)
	if err != nil {
		return err
	}
	if status.Active {
		return nil
	}
	switch status.Message {
	case StatusMissing, StatusInvalid:
		return apperr.Unauthorized(status.Message)
	default:
		return apperr.Forbidden(status.Message)
	}
}

// mustOwn fails closed: any key not owned by the user is Forbidden.
func (s *KeyService) mustOwn(ctx context.Context, user *models.User, id uuid.UUID) (*models.APIKey, error) {
	key, err := s.GetKeyByIDOrThrow(ctx, id, GetOptions{})
	if err != nil {
		return nil, err
	}
	if key.UserID != user.ID {
		return nil, apperr.Forbidden("API key not owned")
	}
	return key, nil
}

const keyAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func generateKey() (string, error) {
	var b strings.Builder
	b.WriteString(keyPrefix)
	max := big.NewInt(int64(len(keyAlphabet)))
	for i := 0; i < keyRandLen; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate api key: %w", err)
		}
		b.WriteByte(keyAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func fmtBoolPtr(b *bool) string {
	if b == nil {
		return ""
	}
	return strconv.FormatBool(*b)
}
