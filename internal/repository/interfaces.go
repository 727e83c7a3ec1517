// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/campus/internal/model"
)

var (
	// ErrDuplicate は一意制約違反（既存レコードとの重複）を表す。
	ErrDuplicate = errors.New("duplicate record")

	// ErrSuperadminTaken はアクティブなsuperadminが既に存在するため
	// profiles_single_active_superadmin インデックスに違反したことを表す。
	ErrSuperadminTaken = errors.New("an active superadmin already exists")
)

// ProfileRepository はプロフィールデータの永続化インターフェース。
type ProfileRepository interface {
	// FindByUserID はIdentity IDでプロフィールを取得する。見つからない場合はnilを返す。
	// 無効化されたプロフィールもそのまま返す（有効性の判定は呼び出し側で行う）。
	FindByUserID(ctx context.Context, userID string) (*model.Profile, error)

	// CountActiveByRole は指定ロールのアクティブなプロフィール数を返す。
	CountActiveByRole(ctx context.Context, role model.Role) (int, error)

	// UpsertByUserID はuser_idをキーにプロフィールを作成または上書きする。
	// superadminの一意制約に違反した場合はErrSuperadminTakenを返す。
	UpsertByUserID(ctx context.Context, profile *model.Profile) error
}

// IdentityRecord はローカルIdentity Providerが保持する認証主体のレコード。
type IdentityRecord struct {
	model.Identity
	PasswordHash string
}

// IdentityRepository はローカルIdentity Providerの認証主体の永続化インターフェース。
type IdentityRepository interface {
	// FindByID は指定IDのidentityを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*IdentityRecord, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない完全一致）でidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*IdentityRecord, error)

	// Create はidentityを作成する。メールアドレスが既に使われている場合はErrDuplicateを返す。
	Create(ctx context.Context, identity *IdentityRecord) error
}

// RefreshTokenRepository はリフレッシュトークンの永続化インターフェース。
type RefreshTokenRepository interface {
	// Create はリフレッシュトークンを作成する。
	Create(ctx context.Context, token *model.RefreshToken) error

	// FindValidByHash はハッシュ値で未失効かつ期限内のトークンを取得する。見つからない場合はnilを返す。
	FindValidByHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error)

	// Revoke は指定IDのトークンを失効させる。
	// 既に失効済みの場合はfalseを返す（ローテーションの二重使用検知に使う）。
	Revoke(ctx context.Context, id string) (bool, error)

	// RevokeByIdentityID は指定identityの全トークンを失効させる。
	RevokeByIdentityID(ctx context.Context, identityID string) error

	// DeleteExpired はbefore以前に期限切れまたは失効したトークンを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
