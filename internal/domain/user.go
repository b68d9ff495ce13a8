package domain

import (
	"time"
)

// User is the stored profile of a marketplace customer.
// Only UserID is consumed by the chatbot; the remaining fields belong to
// profile prefill in the UI.
type User struct {
	UserID     string    `json:"user_id"`
	Name       string    `json:"name,omitempty"`
	Email      string    `json:"email,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IsGuest returns true if the profile was created for an anonymous visitor.
func (u *User) IsGuest() bool {
	return u.Name == "" && u.Email == ""
}
