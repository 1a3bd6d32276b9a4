package domain

import "time"

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsStaff      bool      `json:"is_staff"`
	CreatedAt    time.Time `json:"created_at"`
}

// Identity is the authenticated actor attached to a request. The order core
// trusts it as-is; credentials are checked once at session creation.
type Identity struct {
	UserID  string
	IsStaff bool
}
