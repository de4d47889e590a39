package rbac

// Role constants
const (
	RoleAdmin     = "admin"
	RoleCounselor = "counselor"
)

// Permission constants
const (
	PermCreateRecord = "create_record"
	PermEditRecord   = "edit_record"
	PermLockRecord   = "lock_record"
	PermUnlockOwn    = "unlock_own"
	PermDeleteRecord = "delete_record"
	PermViewAllLogs  = "view_all_logs"
)

// RolePermissions defines what each role can do.
var RolePermissions = map[string][]string{
	RoleAdmin: {
		PermCreateRecord, PermEditRecord, PermLockRecord, PermUnlockOwn,
		PermDeleteRecord, PermViewAllLogs,
	},
	RoleCounselor: {
		PermCreateRecord, PermEditRecord, PermLockRecord, PermUnlockOwn,
		// Counselor CANNOT: PermDeleteRecord, PermViewAllLogs
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}

// IsAdministrative checks if permission is admin-only.
func IsAdministrative(permission string) bool {
	return permission == PermDeleteRecord || permission == PermViewAllLogs
}
