package domain

import "time"

type UserID string

type Role string

const (
	RoleAdmin      Role = "admin"
	RolePublisher  Role = "publisher"
	RoleSubscriber Role = "subscriber"
)

// ValidRoles lists every role an admin may assign.
var ValidRoles = []Role{RoleAdmin, RolePublisher, RoleSubscriber}

// UserProfile is the persisted identity record. Email is stored lowercased
// and must be unique. DeviceSessionID is only meaningful for subscribers:
// it holds the opaque token stamped at login by the single-device guard.
type UserProfile struct {
	ID              UserID     `json:"id"`
	Email           string     `json:"email"`
	Role            Role       `json:"role"`
	DisplayName     string     `json:"display_name,omitempty"`
	PasswordHash    string     `json:"-"`
	Active          bool       `json:"active"`
	DeviceSessionID string     `json:"-"`
	LastLoginAt     *time.Time `json:"last_login_at,omitempty"`
	DeactivatedAt   *time.Time `json:"deactivated_at,omitempty"`
	DeactivatedBy   UserID     `json:"deactivated_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Name returns the display name, falling back to the email address.
func (u *UserProfile) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Email
}

// SingleDeviceEnforced reports whether the single-device session guard
// applies to this account. Admins and publishers may hold concurrent logins.
func (u *UserProfile) SingleDeviceEnforced() bool {
	return u.Role == RoleSubscriber
}
