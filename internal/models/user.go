package models

// UserRole represents the roles recognised by the transfer workflow.
type UserRole string

const (
	RoleSuperAdmin        UserRole = "SUPERADMIN"
	RoleOfficeAdmin       UserRole = "OFFICE_ADMIN"
	RoleZonalAuthority    UserRole = "ZONAL_AUTHORITY"
	RoleDistrictAuthority UserRole = "DISTRICT_AUTHORITY"
)

// Actor is the authenticated principal performing a workflow operation.
// It is built from verified token claims and passed explicitly to the core.
type Actor struct {
	UserID     string
	Role       UserRole
	OfficeID   string
	ZoneID     string
	DistrictID string
}
