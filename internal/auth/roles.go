package auth

import (
	"context"
	"fmt"
	"slices"
)

// Role is an authorisation tier. Each tier holds every permission of the
// tiers below it.
type Role string

const (
	// RoleUser can look things up: locate a bin, read notifications.
	RoleUser Role = "user"
	// RoleAdmin manages LED bindings, locations and users. Admins receive
	// unlocatable notifications by default.
	RoleAdmin Role = "admin"
	// RoleOwner is an admin who may also manage owner accounts.
	RoleOwner Role = "owner"
)

// ValidRoles lists the tiers from lowest to highest.
var ValidRoles = []Role{RoleUser, RoleAdmin, RoleOwner}

// IsValidUserRole reports whether r is one of ValidRoles.
func IsValidUserRole(r Role) bool {
	return slices.Contains(ValidRoles, r)
}

// rank is r's position in ValidRoles, or -1 for an unknown role.
func (r Role) rank() int {
	return slices.Index(ValidRoles, r)
}

// AtLeast reports whether r is a known role no lower than floor.
func (r Role) AtLeast(floor Role) bool {
	return r.rank() >= 0 && r.rank() >= floor.rank()
}

// Permission names a guarded operation.
type Permission string

const (
	PermLEDLocate      Permission = "led:locate"
	PermLEDManage      Permission = "led:manage" // register, unregister, all off
	PermLocationManage Permission = "location:manage"
	PermUserManage     Permission = "user:manage"
)

// minimumRole is the lowest tier granted each permission.
var minimumRole = map[Permission]Role{
	PermLEDLocate:      RoleUser,
	PermLEDManage:      RoleAdmin,
	PermLocationManage: RoleAdmin,
	PermUserManage:     RoleAdmin,
}

// HasPermission reports whether role is granted perm. Unknown roles and
// unknown permissions are never granted.
func HasPermission(role Role, perm Permission) bool {
	floor, ok := minimumRole[perm]
	return ok && role.AtLeast(floor)
}

// PermissionAuthorizer answers permission checks from the role tiers.
type PermissionAuthorizer struct{}

// Authorize returns an error wrapping ErrForbidden unless p may use perm.
func (PermissionAuthorizer) Authorize(_ context.Context, p Principal, perm Permission) error {
	if HasPermission(p.Role, perm) {
		return nil
	}
	return fmt.Errorf("%w: role %q lacks %s", ErrForbidden, p.Role, perm)
}
