package model

import "time"

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PublicUser is the user shape returned by the API; it never carries the
// password hash.
type PublicUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (u User) Public() PublicUser {
	return PublicUser{ID: u.ID, Email: u.Email, Name: u.Name}
}

// Identity is the claims payload embedded in both token kinds. It is a
// snapshot taken at issue time, not a live reference to the user record.
type Identity struct {
	UserID string `json:"sub"`
	Email  string `json:"email"`
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
}
