package store

import "time"

type Organization struct {
	ID        string
	Slug      string
	Name      string
	CreatedAt time.Time
}

type User struct {
	ID             string
	OrganizationID string
	DisplayName    string
	Email          string
	PasswordHash   string
	Role           string
	DeactivatedAt  *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Active reports whether the account may still sign in.
func (u User) Active() bool {
	return u.DeactivatedAt == nil
}
