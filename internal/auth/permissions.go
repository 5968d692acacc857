package auth

// Permission is a single grantable capability.
type Permission string

// Legacy single-tenant permissions still used by most routes.
const (
	PermCreate              Permission = "create"
	PermRead                Permission = "read"
	PermUpdate              Permission = "update"
	PermDelete              Permission = "delete"
	PermManageUsers         Permission = "manage_users"
	PermManageSettings      Permission = "manage_settings"
	PermViewReports         Permission = "view_reports"
	PermExportData          Permission = "export_data"
	PermApproveApplications Permission = "approve_applications"
	PermManageFinances      Permission = "manage_finances"
)

// Organization-scoped permissions.
const (
	PermOrgManage      Permission = "org:manage"
	PermOrgDelete      Permission = "org:delete"
	PermOrgBilling     Permission = "org:billing"
	PermOrgView        Permission = "org:view"
	PermMembersManage  Permission = "members:manage"
	PermMembersInvite  Permission = "members:invite"
	PermMembersView    Permission = "members:view"
	PermDataCreate     Permission = "data:create"
	PermDataRead       Permission = "data:read"
	PermDataUpdate     Permission = "data:update"
	PermDataDelete     Permission = "data:delete"
	PermReportsView    Permission = "reports:view"
	PermReportsExport  Permission = "reports:export"
	PermReportsCreate  Permission = "reports:create"
	PermSettingsManage Permission = "settings:manage"
	PermSettingsView   Permission = "settings:view"
)

// LegacyPermissions lists every legacy permission.
var LegacyPermissions = []Permission{
	PermCreate, PermRead, PermUpdate, PermDelete,
	PermManageUsers, PermManageSettings, PermViewReports,
	PermExportData, PermApproveApplications, PermManageFinances,
}

// OrgPermissions lists every organization permission.
var OrgPermissions = []Permission{
	PermOrgManage, PermOrgDelete, PermOrgBilling, PermOrgView,
	PermMembersManage, PermMembersInvite, PermMembersView,
	PermDataCreate, PermDataRead, PermDataUpdate, PermDataDelete,
	PermReportsView, PermReportsExport, PermReportsCreate,
	PermSettingsManage, PermSettingsView,
}

// legacyToOrg maps each legacy permission onto the organization permission that implies it.
var legacyToOrg = map[Permission]Permission{
	PermCreate:              PermDataCreate,
	PermRead:                PermDataRead,
	PermUpdate:              PermDataUpdate,
	PermDelete:              PermDataDelete,
	PermManageUsers:         PermMembersManage,
	PermManageSettings:      PermSettingsManage,
	PermViewReports:         PermReportsView,
	PermExportData:          PermReportsExport,
	PermApproveApplications: PermDataUpdate,
	PermManageFinances:      PermDataDelete,
}

// orgRolePermissions is the organization role matrix.
var orgRolePermissions = map[Role][]Permission{
	RoleOwner: OrgPermissions,
	RoleAdmin: {
		PermOrgManage, PermOrgView,
		PermMembersManage, PermMembersInvite, PermMembersView,
		PermDataCreate, PermDataRead, PermDataUpdate, PermDataDelete,
		PermReportsView, PermReportsExport, PermReportsCreate,
		PermSettingsManage, PermSettingsView,
	},
	RoleModerator: {
		PermOrgView,
		PermMembersInvite, PermMembersView,
		PermDataCreate, PermDataRead, PermDataUpdate,
		PermReportsView, PermReportsExport, PermReportsCreate,
		PermSettingsView,
	},
	RoleUser: {
		PermOrgView, PermMembersView,
		PermDataCreate, PermDataRead, PermDataUpdate,
		PermReportsView, PermSettingsView,
	},
	RoleViewer: {
		PermOrgView, PermMembersView,
		PermDataRead, PermReportsView, PermSettingsView,
	},
}
