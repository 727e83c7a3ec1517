package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/campus/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// FindByUserID はIdentity IDでプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByUserID(ctx context.Context, userID string) (*model.Profile, error) {
	p := &model.Profile{}
	var role string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, full_name, email, role, is_active, created_at, updated_at
		 FROM profiles
		 WHERE user_id = $1`,
		userID,
	).Scan(&p.ID, &p.UserID, &p.FullName, &p.Email, &role, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile by user ID: %w", err)
	}

	p.Role, err = model.ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("invalid role stored for user %s: %w", userID, err)
	}

	return p, nil
}

// CountActiveByRole は指定ロールのアクティブなプロフィール数を返す。
func (r *PostgresProfileRepo) CountActiveByRole(ctx context.Context, role model.Role) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM profiles WHERE role = $1 AND is_active`,
		string(role),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count profiles by role: %w", err)
	}
	return count, nil
}

// UpsertByUserID はuser_idをキーにプロフィールを作成または上書きする。
// 既存行がある場合はfull_name、email、role、is_activeを更新し、idとcreated_atは維持する。
// 保存後のid、created_at、updated_atをprofileに反映する。
func (r *PostgresProfileRepo) UpsertByUserID(ctx context.Context, profile *model.Profile) error {
	if profile.ID == "" {
		profile.ID = uuid.New().String()
	}
	now := time.Now()

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO profiles (id, user_id, full_name, email, role, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		 ON CONFLICT (user_id) DO UPDATE SET
		     full_name  = EXCLUDED.full_name,
		     email      = EXCLUDED.email,
		     role       = EXCLUDED.role,
		     is_active  = EXCLUDED.is_active,
		     updated_at = EXCLUDED.updated_at
		 RETURNING id, created_at, updated_at`,
		profile.ID, profile.UserID, profile.FullName, profile.Email,
		string(profile.Role), profile.IsActive, now,
	).Scan(&profile.ID, &profile.CreatedAt, &profile.UpdatedAt)

	if constraint, ok := uniqueViolationConstraint(err); ok {
		if constraint == superadminIndexName {
			return ErrSuperadminTaken
		}
		return fmt.Errorf("%w: %s", ErrDuplicate, constraint)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}

	return nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
