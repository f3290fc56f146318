package domain

// Role enumerates the roles a credential may carry.
type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is one of the modeled roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleAdmin:
		return true
	}
	return false
}

// Identity is the caller attached to a request once its credential verifies.
type Identity struct {
	SubjectID string `json:"id"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
}

// IsAdmin reports whether the identity holds the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}
