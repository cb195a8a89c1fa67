package auth

import (
	"errors"
	"regexp"
	"time"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrUsernameExists = errors.New("username already exists")
	ErrTokenInvalid   = errors.New("invalid token")
	ErrForbidden      = errors.New("insufficient permissions")
)

var usernameRE = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// IsValidUsername accepts 1 to 64 letters, digits, dots, dashes and
// underscores.
func IsValidUsername(name string) bool {
	return usernameRE.MatchString(name)
}

// User is a human account. PasswordHash never leaves the server.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	Email        string    `json:"email,omitempty"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	IsActive     bool      `json:"is_active"`
	CreatedBy    string    `json:"created_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Principal is who a verified request acts as. The zero Principal has no
// role and so no permissions.
type Principal struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
	Role     Role   `json:"role"`
}

// PrincipalFromUser returns the Principal for u.
func PrincipalFromUser(u *User) Principal {
	return Principal{UserID: u.ID, Username: u.Username, Role: u.Role}
}
