package repository

import (
	"errors"

	"github.com/lib/pq"
)

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = pq.ErrorCode("23505")

// superadminIndexName はアクティブなsuperadminを1件に制限する部分ユニークインデックス名。
const superadminIndexName = "profiles_single_active_superadmin"

// uniqueViolationConstraint は一意制約違反であれば違反した制約名を返す。
func uniqueViolationConstraint(err error) (string, bool) {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return "", false
	}
	if pqErr.Code != uniqueViolation {
		return "", false
	}
	return pqErr.Constraint, true
}
