package models

import "github.com/google/uuid"

// UserInformation is the 1:1 profile record, created empty at
// registration.
type UserInformation struct {
	ID          uuid.UUID `db:"id"           json:"id"`
	UserID      uuid.UUID `db:"user_id"      json:"-"`
	DisplayName *string   `db:"display_name" json:"displayName"`
}
