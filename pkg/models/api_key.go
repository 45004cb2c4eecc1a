package models

import (
	"time"

	"github.com/google/uuid"
)

// APIKeyApplication is the application view embedded in an API key at
// read time: id, name and origins only.
type APIKeyApplication struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Origins []string  `json:"origins"`
}

// APIKey is an opaque key bound to a user and a set of applications.
// The Applications slice is denormalized from the application ids when
// the record is read.
type APIKey struct {
	ID           uuid.UUID            `db:"id"         json:"id"`
	CreatedAt    time.Time            `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time            `db:"updated_at" json:"updatedAt"`
	UserID       uuid.UUID            `db:"user_id"    json:"userId"`
	Key          string               `db:"api_key"    json:"key"`
	Expires      *time.Time           `db:"expires"    json:"expires"`
	Enable       bool                 `db:"enable"     json:"enable"`
	Applications []*APIKeyApplication `db:"-"          json:"applications"`

	// ApplicationIDs is the stored binding; Applications above is the
	// denormalized view built from it at read time.
	ApplicationIDs []uuid.UUID `db:"applications" json:"-"`
}

// Expired reports whether the key has an expiry at or before now.
func (k *APIKey) Expired(now time.Time) bool {
	return k.Expires != nil && !k.Expires.After(now)
}

// AllowsOrigin reports whether the origin appears in the union of the
// bound applications' allow-lists.
func (k *APIKey) AllowsOrigin(origin string) bool {
	for _, app := range k.Applications {
		for _, o := range app.Origins {
			if o == origin {
				return true
			}
		}
	}
	return false
}

// KeyStatus is the admission decision for a presented key + origin.
type KeyStatus struct {
	Active  bool   `json:"active"`
	Message string `json:"message"`
}
