package service_test

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmrl23/keygate/internal/mail"
	"github.com/jmrl23/keygate/internal/store"
	"github.com/jmrl23/keygate/pkg/models"
)

// ─── fake cache ──────────────────────────────────────────────────────────────

type fakeCache struct {
	mu       sync.Mutex
	entries  map[string][]byte
	counters map[string]int64
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		entries:  make(map[string][]byte),
		counters: make(map[string]int64),
	}
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = append([]byte(nil), value...)
	return nil
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *fakeCache) Ping(_ context.Context) error { return nil }

func (c *fakeCache) IncrWithExpiry(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[key]++
	return c.counters[key], nil
}

// keys returns every stored cache key, for assertions about what did
// (not) end up in the cache.
func (c *fakeCache) keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.entries))
	for k := range c.entries {
		out = append(out, k)
	}
	return out
}

// ─── fake store ──────────────────────────────────────────────────────────────

// fakeStore is an in-memory store.Store with the same visible semantics
// as the Postgres implementation: hydrated reads, verified-email login,
// duplicate and not-found sentinels.
type fakeStore struct {
	mu     sync.Mutex
	users  map[uuid.UUID]*models.User
	infos  map[uuid.UUID]*models.UserInformation
	emails []*models.UserEmail
	apps   map[uuid.UUID]*models.Application
	keys   map[uuid.UUID]*models.APIKey

	// keyCollision makes every candidate API key look taken.
	keyCollision bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users: make(map[uuid.UUID]*models.User),
		infos: make(map[uuid.UUID]*models.UserInformation),
		apps:  make(map[uuid.UUID]*models.Application),
		keys:  make(map[uuid.UUID]*models.APIKey),
	}
}

func (s *fakeStore) Ping(_ context.Context) error { return nil }

func (s *fakeStore) hydrate(u *models.User) *models.User {
	c := *u
	if info, ok := s.infos[u.ID]; ok {
		ic := *info
		c.Information = &ic
	}
	c.Emails = nil
	for _, e := range s.emails {
		if e.UserID == u.ID {
			ec := *e
			c.Emails = append(c.Emails, &ec)
		}
	}
	sort.Slice(c.Emails, func(i, j int) bool { return c.Emails[i].Email < c.Emails[j].Email })
	return &c
}

func (s *fakeStore) CreateUser(_ context.Context, user *models.User, primaryEmail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == user.Username {
			return store.ErrDuplicateKey
		}
	}
	for _, e := range s.emails {
		if e.Email == primaryEmail {
			return store.ErrDuplicateKey
		}
	}
	c := *user
	s.users[user.ID] = &c
	s.infos[user.ID] = &models.UserInformation{ID: uuid.New(), UserID: user.ID}
	s.emails = append(s.emails, &models.UserEmail{
		ID:      uuid.New(),
		UserID:  user.ID,
		Email:   primaryEmail,
		Primary: true,
	})
	return nil
}

func (s *fakeStore) GetUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.hydrate(u), nil
}

func (s *fakeStore) GetUserByLogin(_ context.Context, usernameOrEmail string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == usernameOrEmail {
			return s.hydrate(u), nil
		}
	}
	for _, e := range s.emails {
		if e.Email == usernameOrEmail && e.Verified {
			if u, ok := s.users[e.UserID]; ok {
				return s.hydrate(u), nil
			}
		}
	}
	return nil, store.ErrNotFound
}

func (s *fakeStore) CountUsersByUsername(_ context.Context, username string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, u := range s.users {
		if u.Username == username {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) UpdateUserPassword(_ context.Context, id uuid.UUID, password, salt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.Password = password
	u.Salt = salt
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *fakeStore) UpdateUserEnable(_ context.Context, id uuid.UUID, enable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.Enable = enable
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *fakeStore) UpdateUserInformation(_ context.Context, userID uuid.UUID, displayName *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.infos[userID]
	if !ok {
		return store.ErrNotFound
	}
	info.DisplayName = displayName
	return nil
}

func (s *fakeStore) CreateEmail(_ context.Context, email *models.UserEmail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.emails {
		if e.Email == email.Email {
			return store.ErrDuplicateKey
		}
	}
	c := *email
	s.emails = append(s.emails, &c)
	return nil
}

func (s *fakeStore) CountEmailsByAddress(_ context.Context, email string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.emails {
		if e.Email == email {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) CountUserEmails(_ context.Context, userID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.emails {
		if e.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) SetEmailVerified(_ context.Context, email string) (*models.UserEmail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.emails {
		if e.Email == email {
			e.Verified = true
			c := *e
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *fakeStore) SetPrimaryEmail(_ context.Context, userID, emailID uuid.UUID) (*models.UserEmail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var target *models.UserEmail
	for _, e := range s.emails {
		if e.UserID == userID && e.ID == emailID {
			target = e
		}
	}
	if target == nil {
		return nil, store.ErrNotFound
	}
	for _, e := range s.emails {
		if e.UserID == userID {
			e.Primary = false
		}
	}
	target.Primary = true
	c := *target
	return &c, nil
}

func (s *fakeStore) DeleteEmail(_ context.Context, userID, emailID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.emails {
		if e.ID == emailID && e.UserID == userID {
			s.emails = append(s.emails[:i], s.emails[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *fakeStore) CreateApplication(_ context.Context, app *models.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.apps {
		if a.Name == app.Name {
			return store.ErrDuplicateKey
		}
	}
	c := *app
	s.apps[app.ID] = &c
	return nil
}

func (s *fakeStore) GetApplicationByID(_ context.Context, id uuid.UUID) (*models.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.apps[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *a
	return &c, nil
}

func (s *fakeStore) CountApplicationsByName(_ context.Context, name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.apps {
		if a.Name == name {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) SetApplicationOrigins(_ context.Context, id uuid.UUID, origins []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.apps[id]
	if !ok {
		return store.ErrNotFound
	}
	a.Origins = origins
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *fakeStore) ListApplications(_ context.Context, filter store.ApplicationFilter) ([]*models.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Application
	for _, a := range s.apps {
		if filter.CreatedAtFrom != nil && a.CreatedAt.Before(*filter.CreatedAtFrom) {
			continue
		}
		if filter.CreatedAtTo != nil && a.CreatedAt.After(*filter.CreatedAtTo) {
			continue
		}
		if filter.UpdatedAtFrom != nil && a.UpdatedAt.Before(*filter.UpdatedAtFrom) {
			continue
		}
		if filter.UpdatedAtTo != nil && a.UpdatedAt.After(*filter.UpdatedAtTo) {
			continue
		}
		if filter.NamePrefix != "" && !strings.HasPrefix(a.Name, filter.NamePrefix) {
			continue
		}
		if filter.AuthorID != nil && a.AuthorID != *filter.AuthorID {
			continue
		}
		c := *a
		out = append(out, &c)
	}
	sortByCreatedAt(out, filter.Order, func(a *models.Application) time.Time { return a.CreatedAt })
	return paginate(out, filter.Skip, filter.Take), nil
}

func (s *fakeStore) DeleteApplication(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apps[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.apps, id)
	return nil
}

func (s *fakeStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.Key == key.Key {
			return store.ErrDuplicateKey
		}
	}
	c := *key
	c.Applications = nil
	s.keys[key.ID] = &c
	return nil
}

func (s *fakeStore) GetAPIKeyByID(_ context.Context, id uuid.UUID) (*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *k
	return &c, nil
}

func (s *fakeStore) GetAPIKeyIDByKey(_ context.Context, rawKey string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.Key == rawKey {
			return k.ID, nil
		}
	}
	return uuid.Nil, store.ErrNotFound
}

func (s *fakeStore) CountAPIKeysByKey(_ context.Context, rawKey string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keyCollision {
		return 1, nil
	}
	n := 0
	for _, k := range s.keys {
		if k.Key == rawKey {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) ListAPIKeys(_ context.Context, filter store.APIKeyFilter) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.UserID != filter.UserID {
			continue
		}
		if filter.CreatedAtFrom != nil && k.CreatedAt.Before(*filter.CreatedAtFrom) {
			continue
		}
		if filter.CreatedAtTo != nil && k.CreatedAt.After(*filter.CreatedAtTo) {
			continue
		}
		if filter.UpdatedAtFrom != nil && k.UpdatedAt.Before(*filter.UpdatedAtFrom) {
			continue
		}
		if filter.UpdatedAtTo != nil && k.UpdatedAt.After(*filter.UpdatedAtTo) {
			continue
		}
		if filter.Expired != nil && k.Expired(now) != *filter.Expired {
			continue
		}
		if filter.Enable != nil && k.Enable != *filter.Enable {
			continue
		}
		if len(filter.Applications) > 0 && !overlaps(k.ApplicationIDs, filter.Applications) {
			continue
		}
		c := *k
		out = append(out, &c)
	}
	sortByCreatedAt(out, filter.Order, func(k *models.APIKey) time.Time { return k.CreatedAt })
	return paginate(out, filter.Skip, filter.Take), nil
}

func (s *fakeStore) SetAPIKeyEnable(_ context.Context, id, userID uuid.UUID, enable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok || k.UserID != userID {
		return store.ErrNotFound
	}
	k.Enable = enable
	k.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *fakeStore) DeleteAPIKey(_ context.Context, id, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok || k.UserID != userID {
		return store.ErrNotFound
	}
	delete(s.keys, id)
	return nil
}

var _ store.Store = (*fakeStore)(nil)

func sortByCreatedAt[T any](items []T, order store.SortOrder, at func(T) time.Time) {
	sort.SliceStable(items, func(i, j int) bool {
		if order == store.OrderAsc {
			return at(items[i]).Before(at(items[j]))
		}
		return at(items[i]).After(at(items[j]))
	})
}

func paginate[T any](items []T, skip, take int) []T {
	if take <= 0 {
		take = 20
	}
	if take > 100 {
		take = 100
	}
	if skip >= len(items) {
		return nil
	}
	items = items[skip:]
	if len(items) > take {
		items = items[:take]
	}
	return items
}

func overlaps(a, b []uuid.UUID) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// ─── fake mailer ─────────────────────────────────────────────────────────────

type fakeMailer struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (m *fakeMailer) Send(_ context.Context, msg mail.Message) (*mail.SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return &mail.SendResult{MessageID: "fake", Accepted: msg.To}, nil
}

var _ mail.Mailer = (*fakeMailer)(nil)
