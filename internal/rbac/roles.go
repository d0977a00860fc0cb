package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleInterviewer    = "interviewer"
	RoleQualityAgent   = "quality_agent"
	RoleProjectManager = "project_manager"
	RoleCompanyAdmin   = "company_admin"
	RoleSuperAdmin     = "super_admin"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

// CanReview reports whether the role may see review metadata (auto-rejection reasons).
// Interviewers never can.
func CanReview(role string) bool {
	switch role {
	case RoleQualityAgent, RoleProjectManager, RoleCompanyAdmin, RoleSuperAdmin:
		return true
	default:
		return false
	}
}
