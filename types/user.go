package types

import "time"

// Role is the authorization level of an account.
type Role string

// Supported roles.
const (
	// RoleCommonUser can submit and view their own medical requests.
	RoleCommonUser Role = "common_user"

	// RoleManager reviews and completes requests. Only one manager
	// account may exist at any time.
	RoleManager Role = "manager"
)

// ParseRole converts a raw role string into a Role.
// An empty string maps to RoleCommonUser.
func ParseRole(raw string) (Role, bool) {
	switch Role(raw) {
	case "", RoleCommonUser:
		return RoleCommonUser, true
	case RoleManager:
		return RoleManager, true
	default:
		return "", false
	}
}

// User represents an account in the system.
type User struct {
	// ID is the unique identifier of the user. It doubles as the
	// session identifier held by the client.
	ID int `json:"id" db:"id"`

	// Email is the user's login, always stored lowercase.
	Email string `json:"email" db:"email"`

	// Role indicates the user's authorization level.
	Role Role `json:"role" db:"role"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the timestamp when the account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// IsManager reports whether the user holds the manager role.
func (u User) IsManager() bool {
	return u.Role == RoleManager
}
