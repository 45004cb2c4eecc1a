package models

import (
	"time"

	"github.com/google/uuid"
)

// UserRole is the account role enum.
type UserRole string

const (
	RoleUser  UserRole = "USER"
	RoleAdmin UserRole = "ADMIN"
)

// Valid reports whether the role is a known enum value.
func (r UserRole) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// MasterUsername is the reserved bootstrap account. It can only be bound
// to a request through the knocking header, never through normal login
// flows, and destructive routes refuse to operate on it.
const MasterUsername = "master"

// User is an account. Username is lowercase-normalized and immutable
// after creation. Password and Salt are only populated when the caller
// explicitly asks for credentials.
type User struct {
	ID          uuid.UUID        `db:"id"           json:"id"`
	CreatedAt   time.Time        `db:"created_at"   json:"createdAt"`
	UpdatedAt   time.Time        `db:"updated_at"   json:"updatedAt"`
	Username    string           `db:"username"     json:"username"`
	Password    string           `db:"password"     json:"-"`
	Salt        string           `db:"salt"         json:"-"`
	Role        UserRole         `db:"role"         json:"role"`
	Enable      bool             `db:"enable"       json:"enable"`
	Information *UserInformation `db:"-"            json:"information"`
	Emails      []*UserEmail     `db:"-"            json:"emails"`
}

// Sanitized returns a copy with credential fields stripped.
func (u *User) Sanitized() *User {
	c := *u
	c.Password = ""
	c.Salt = ""
	return &c
}

// PrimaryEmail returns the user's primary email, or nil.
func (u *User) PrimaryEmail() *UserEmail {
	for _, e := range u.Emails {
		if e.Primary {
			return e
		}
	}
	return nil
}

// EmailByID returns the user's email with the given id, or nil.
func (u *User) EmailByID(id uuid.UUID) *UserEmail {
	for _, e := range u.Emails {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// IsMaster reports whether this is the reserved bootstrap account.
func (u *User) IsMaster() bool {
	return u.Username == MasterUsername
}
