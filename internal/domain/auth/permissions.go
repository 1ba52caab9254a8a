package auth

import "context"

const (
	RoleEmployee    = "employee"
	RoleManager     = "manager"
	RoleDirector    = "director"
	RoleHR          = "hr"
	RoleSystemAdmin = "system_admin"
)

const (
	PermPeriodsRead       = "appraisal.periods.read"
	PermPeriodsManage     = "appraisal.periods.manage"
	PermKPIManage         = "appraisal.kpis.manage"
	PermSubmissionsRead   = "appraisal.submissions.read"
	PermSubmissionsWrite  = "appraisal.submissions.write"
	PermSubmissionsReview = "appraisal.submissions.review"
	PermAuditRead         = "appraisal.audit.read"
	PermMetricsRead       = "admin.metrics"
)

var DefaultPermissions = []string{
	PermPeriodsRead,
	PermPeriodsManage,
	PermKPIManage,
	PermSubmissionsRead,
	PermSubmissionsWrite,
	PermSubmissionsReview,
	PermAuditRead,
	PermMetricsRead,
}

var RolePermissions = map[string][]string{
	RoleEmployee: {
		PermPeriodsRead,
		PermSubmissionsRead,
		PermSubmissionsWrite,
		PermSubmissionsReview,
	},
	RoleManager: {
		PermPeriodsRead,
		PermSubmissionsRead,
		PermSubmissionsWrite,
		PermSubmissionsReview,
	},
	RoleDirector: {
		PermPeriodsRead,
		PermSubmissionsRead,
		PermSubmissionsReview,
	},
	RoleHR: {
		PermPeriodsRead,
		PermPeriodsManage,
		PermKPIManage,
		PermSubmissionsRead,
		PermSubmissionsWrite,
		PermSubmissionsReview,
		PermAuditRead,
	},
	RoleSystemAdmin: DefaultPermissions,
}

// StaticPermissions answers permission checks from RolePermissions.
type StaticPermissions struct{}

func (StaticPermissions) HasPermission(_ context.Context, role, permission string) (bool, error) {
	for _, candidate := range RolePermissions[role] {
		if candidate == permission {
			return true, nil
		}
	}
	return false, nil
}
