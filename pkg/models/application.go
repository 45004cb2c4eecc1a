package models

import (
	"time"

	"github.com/google/uuid"
)

// Application is a named allow-list of origins that API keys can be
// scoped to. Names are globally unique, case-sensitive.
type Application struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
	AuthorID  uuid.UUID `db:"author_id"  json:"authorId"`
	Name      string    `db:"name"       json:"name"`
	Origins   []string  `db:"origins"    json:"origins"`
}

// AllowsOrigin reports whether the origin is in the allow-list.
func (a *Application) AllowsOrigin(origin string) bool {
	for _, o := range a.Origins {
		if o == origin {
			return true
		}
	}
	return false
}
