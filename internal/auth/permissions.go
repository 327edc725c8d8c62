package auth

// Permission codes. The catalogue is additive: codes are never renamed
// once a role references them.
const (
	PermUserRead          = "user:read"
	PermUserManage        = "user:manage"
	PermRoleRead          = "role:read"
	PermRoleManage        = "role:manage"
	PermTenantRead        = "tenant:read"
	PermTenantManage      = "tenant:manage"
	PermDeviceRead        = "device:read"
	PermDeviceManage      = "device:manage"
	PermDeviceControl     = "device:control"
	PermIntercomCall      = "intercom:call"
	PermIntercomAnswer    = "intercom:answer"
	PermAlarmRead         = "alarm:read"
	PermAlarmAcknowledge  = "alarm:acknowledge"
	PermAuditRead         = "audit:read"
	PermSecurityEventRead = "security:events"
)

// Built-in role codes, seeded system-wide.
const (
	RoleCodeAdmin    = "admin"
	RoleCodeOperator = "operator"
	RoleCodeGuard    = "guard"
	RoleCodeResident = "resident"
)

// DefaultRoleCode is assigned to every account created without explicit roles.
const DefaultRoleCode = RoleCodeResident

// Catalogue returns every permission known to this build.
func Catalogue() []Permission {
	return []Permission{
		{Code: PermUserRead, Name: "View users", Module: "user"},
		{Code: PermUserManage, Name: "Manage users", Module: "user", Description: "Create, edit, lock and delete accounts"},
		{Code: PermRoleRead, Name: "View roles", Module: "role"},
		{Code: PermRoleManage, Name: "Manage roles", Module: "role", Description: "Create roles and change assignments"},
		{Code: PermTenantRead, Name: "View tenants", Module: "tenant"},
		{Code: PermTenantManage, Name: "Manage tenants", Module: "tenant"},
		{Code: PermDeviceRead, Name: "View devices", Module: "device"},
		{Code: PermDeviceManage, Name: "Manage devices", Module: "device", Description: "Register and configure door stations, cameras and panels"},
		{Code: PermDeviceControl, Name: "Control devices", Module: "device", Description: "Open doors and switch device state"},
		{Code: PermIntercomCall, Name: "Place intercom calls", Module: "intercom"},
		{Code: PermIntercomAnswer, Name: "Answer intercom calls", Module: "intercom"},
		{Code: PermAlarmRead, Name: "View alarms", Module: "alarm"},
		{Code: PermAlarmAcknowledge, Name: "Acknowledge alarms", Module: "alarm"},
		{Code: PermAuditRead, Name: "View audit log", Module: "audit"},
		{Code: PermSecurityEventRead, Name: "Stream security events", Module: "audit"},
	}
}

// BuiltinRole describes a system role seeded on first boot.
type BuiltinRole struct {
	Code        string
	Name        string
	Description string
	Permissions []string
}

// BuiltinRoles returns the system-wide roles and their permission sets.
func BuiltinRoles() []BuiltinRole {
	return []BuiltinRole{
		{
			Code:        RoleCodeAdmin,
			Name:        "Administrator",
			Description: "Full control within one tenant",
			Permissions: []string{
				PermUserRead, PermUserManage, PermRoleRead, PermRoleManage, PermTenantRead,
				PermDeviceRead, PermDeviceManage, PermDeviceControl,
				PermIntercomCall, PermIntercomAnswer, PermAlarmRead, PermAlarmAcknowledge,
				PermAuditRead, PermSecurityEventRead,
			},
		},
		{
			Code:        RoleCodeOperator,
			Name:        "Operator",
			Description: "Front desk and control room staff",
			Permissions: []string{
				PermUserRead, PermRoleRead, PermDeviceRead, PermDeviceControl,
				PermIntercomCall, PermIntercomAnswer, PermAlarmRead, PermAlarmAcknowledge,
				PermSecurityEventRead,
			},
		},
		{
			Code:        RoleCodeGuard,
			Name:        "Security guard",
			Description: "Patrol staff: alarms and doors",
			Permissions: []string{
				PermDeviceRead, PermDeviceControl, PermIntercomAnswer,
				PermAlarmRead, PermAlarmAcknowledge,
			},
		},
		{
			Code:        RoleCodeResident,
			Name:        "Resident",
			Description: "Building occupant",
			Permissions: []string{PermIntercomCall, PermIntercomAnswer},
		},
	}
}

// IsKnownPermission reports whether code is in the catalogue.
func IsKnownPermission(code string) bool {
	for _, p := range Catalogue() {
		if p.Code == code {
			return true
		}
	}
	return false
}
