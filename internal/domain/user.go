package domain

import "time"

// User is an account able to sign in to the LMS.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity returns the claims carried by tokens issued to the user.
func (u *User) Identity() Identity {
	return Identity{SubjectID: u.ID, Email: u.Email, Role: u.Role}
}
