package domain

import "time"

// Role is the account role carried by every authenticated caller.
type Role string

const (
	RoleUser    Role = "USER"
	RoleSupport Role = "SUPPORT"
	RoleAdmin   Role = "ADMIN"
)

// IsStaff reports whether the role may act on any ticket.
func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleSupport
}

// StaffRoles lists the roles accepted as ticket assignees.
var StaffRoles = []Role{RoleAdmin, RoleSupport}

// User is an account of the portfolio platform.
type User struct {
	ID        string
	Name      string
	Email     string
	Role      Role
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserRef is the abbreviated user embedded in ticket responses.
type UserRef struct {
	ID    string
	Name  string
	Email string
}

// Ref abbreviates the user.
func (u *User) Ref() *UserRef {
	if u == nil {
		return nil
	}
	return &UserRef{ID: u.ID, Name: u.Name, Email: u.Email}
}
