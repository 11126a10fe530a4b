package domain

import "database/sql"

// User is an operator account for the HTTP API.
type User struct {
	ID            int64          `json:"id"`
	Username      string         `json:"username"`
	Password      string         `json:"-"` // bcrypt hash
	SessionID     sql.NullString `json:"-"`
	ApiKey        sql.NullString `json:"-"`
	SessionExpiry sql.NullTime   `json:"-"`
	Created       sql.NullTime   `json:"created"`
	Enabled       sql.NullBool   `json:"enabled"`
}
