package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PostgresIdentityRepo はPostgreSQLを使用したidentityリポジトリ。
// ローカルIdentity Providerからのみ利用する。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

const identityColumns = `id, email, password_hash, full_name, email_confirmed_at, created_at`

// FindByID は指定IDのidentityを取得する。見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByID(ctx context.Context, id string) (*IdentityRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE id = $1`,
		id,
	)
	return scanIdentity(row)
}

// FindByEmail はメールアドレスでidentityを検索する。見つからない場合はnilを返す。
// identities_email_lower_key インデックスを使った完全一致検索。
func (r *PostgresIdentityRepo) FindByEmail(ctx context.Context, email string) (*IdentityRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE lower(email) = lower($1)`,
		strings.TrimSpace(email),
	)
	return scanIdentity(row)
}

// Create はidentityを作成する。メールアドレスが既に使われている場合はErrDuplicateを返す。
func (r *PostgresIdentityRepo) Create(ctx context.Context, identity *IdentityRecord) error {
	var confirmedAt *time.Time
	if identity.EmailConfirmed {
		now := identity.CreatedAt
		confirmedAt = &now
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO identities (id, email, password_hash, full_name, email_confirmed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		identity.ID, identity.Email, identity.PasswordHash, identity.FullName, confirmedAt, identity.CreatedAt,
	)
	if _, ok := uniqueViolationConstraint(err); ok {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert identity: %w", err)
	}
	return nil
}

// scanIdentity は1行をIdentityRecordに変換する。行が無い場合はnilを返す。
func scanIdentity(row *sql.Row) (*IdentityRecord, error) {
	rec := &IdentityRecord{}
	var confirmedAt sql.NullTime
	err := row.Scan(&rec.ID, &rec.Email, &rec.PasswordHash, &rec.FullName, &confirmedAt, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	rec.EmailConfirmed = confirmedAt.Valid
	return rec, nil
}

// compile-time interface check
var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
