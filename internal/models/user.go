package models

import "strings"

// Role names known to the application.
const (
	RoleAdmin      = "ADMIN"
	RoleTechnician = "TECNICO"
	RoleAssistant  = "AUXILIAR"
)

// BcryptPrefix marks a password value that is already hashed.
const BcryptPrefix = "$2a$"

// User represents an application user stored in the users table.
type User struct {
	ID            int64  `db:"id" json:"id"`
	Name          string `db:"name" json:"name" validate:"notblank,max=50"`
	FirstSurname  string `db:"first_surname" json:"first_surname" validate:"notblank,max=50"`
	SecondSurname string `db:"second_surname" json:"second_surname,omitempty"`
	Email         string `db:"email" json:"email" validate:"notblank,max=100"`
	Password      string `db:"password" json:"-" validate:"password"`
	RoleID        int64  `db:"role_id" json:"role_id"`
	RoleName      string `db:"role_name" json:"role_name"`
}

// PasswordHashed reports whether Password already holds a bcrypt hash.
func (u *User) PasswordHashed() bool {
	return u != nil && strings.HasPrefix(u.Password, BcryptPrefix)
}

// Actor is the authenticated principal performing an operation. It is passed
// explicitly from the caller instead of being read from ambient state.
type Actor struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// IsAdmin reports whether the actor holds the administrative role.
func (a Actor) IsAdmin() bool {
	return strings.EqualFold(a.Role, RoleAdmin)
}

// ActorFromUser builds the actor for a loaded user.
func ActorFromUser(u *User) Actor {
	if u == nil {
		return Actor{}
	}
	return Actor{UserID: u.ID, Email: u.Email, Role: u.RoleName}
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
