package guard

import "github.com/hitoshi/campus/internal/model"

// Route は保護されたページのパスとロール要件の組。
type Route struct {
	Path        string
	Requirement Requirement
}

// Routes は保護されたページの一覧を返す。
func Routes() []Route {
	return []Route{
		{Path: "/admin", Requirement: RequireRole(model.RoleSuperadmin)},
		{Path: "/professor", Requirement: AllowRoles(model.RoleProfessor, model.RoleSuperadmin)},
		{Path: "/student", Requirement: RequireRole(model.RoleAluno)},
	}
}
