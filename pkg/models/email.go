package models

import "github.com/google/uuid"

// UserEmail is an address attached to an account. Addresses are unique
// across all users. At most one email per user carries the primary flag.
type UserEmail struct {
	ID       uuid.UUID `db:"id"       json:"id"`
	UserID   uuid.UUID `db:"user_id"  json:"-"`
	Email    string    `db:"email"    json:"email"`
	Verified bool      `db:"verified" json:"verified"`
	Primary  bool      `db:"primary"  json:"primary"`
}
