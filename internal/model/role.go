package model

import "fmt"

// Role はプロフィールに付与される権限ロールを表す。
// DBのprofiles.role、ガード設定、関数ペイロードのすべてでこの型を使用する。
type Role string

const (
	// RoleSuperadmin はプラットフォーム全体の管理者。アクティブなものは最大1件。
	RoleSuperadmin Role = "superadmin"
	// RoleProfessor はコースを作成・管理する講師。
	RoleProfessor Role = "professor"
	// RoleAluno はコースを受講する学生。
	RoleAluno Role = "aluno"
)

// Roles は定義済みロールの一覧を返す。
func Roles() []Role {
	return []Role{RoleSuperadmin, RoleProfessor, RoleAluno}
}

// ParseRole は文字列をRoleに変換する。未定義の値はエラーを返す。
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role: %q", s)
	}
	return r, nil
}

// Valid は定義済みロールかどうかを返す。
func (r Role) Valid() bool {
	switch r {
	case RoleSuperadmin, RoleProfessor, RoleAluno:
		return true
	}
	return false
}

// String はRoleの文字列表現を返す。
func (r Role) String() string {
	return string(r)
}

// In はロールが指定されたロール集合に含まれるかを返す。
func (r Role) In(roles ...Role) bool {
	for _, candidate := range roles {
		if r == candidate {
			return true
		}
	}
	return false
}
