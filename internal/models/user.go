package models

import (
	"time"

	"github.com/jason-s-yu/jestblank/internal/docstore"
)

// Identity is the signed-in player as the game sees it.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// User is a row of the users collection backing the local auth service.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Password  string    `json:"password,omitempty"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Identity returns the public part of the user. Name falls back to the
// email, as the hosted account service does.
func (u *User) Identity() Identity {
	name := u.Name
	if name == "" {
		name = u.Email
	}
	return Identity{ID: u.ID, Name: name}
}

func (u *User) ToFields() map[string]interface{} {
	return map[string]interface{}{
		"email":    u.Email,
		"password": u.Password,
		"name":     u.Name,
	}
}

// UserFromRecord decodes a users document.
func UserFromRecord(rec *docstore.Record) *User {
	return &User{
		ID:        rec.ID,
		Email:     rec.String("email"),
		Password:  rec.String("password"),
		Name:      rec.String("name"),
		CreatedAt: rec.CreatedAt,
	}
}
