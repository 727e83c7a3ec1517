// Package identity はIdentity Provider（認証主体の発行・検証）へのアクセスを提供する。
//
// Provider はステートレスな認証操作、Admin はサービスロール権限での管理操作、
// Client はトークンを保持してセッション変更イベントを順序通りに配信する。
package identity

import (
	"context"
	"errors"

	"github.com/hitoshi/campus/internal/model"
)

var (
	// ErrInvalidCredentials はメールアドレスまたはパスワードが一致しないことを表す。
	ErrInvalidCredentials = errors.New("invalid login credentials")

	// ErrUserAlreadyExists はメールアドレスが既に登録済みであることを表す。
	ErrUserAlreadyExists = errors.New("user already registered")

	// ErrInvalidToken はアクセストークンまたはリフレッシュトークンが無効であることを表す。
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrNoSession はクライアントがセッションを保持していないことを表す。
	ErrNoSession = errors.New("no active session")
)

// ProviderError はIdentity Providerが返したエラー。
// Messageは呼び出し元へそのまま渡してよい文言。
type ProviderError struct {
	Status  int
	Code    string
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *ProviderError) Error() string {
	return e.Message
}

// Provider はIdentity Providerの認証操作のインターフェース。
type Provider interface {
	// SignInWithPassword はメールアドレスとパスワードで認証しトークンを発行する。
	// 認証情報が一致しない場合はErrInvalidCredentialsを返す。
	SignInWithPassword(ctx context.Context, email, password string) (*model.TokenPair, error)

	// SignUp はidentityを登録する。fullNameはメタデータとして保存される。
	// メール確認が必要な場合はトークンが空のTokenPair（Identityのみ設定）を返す。
	SignUp(ctx context.Context, email, password, fullName string) (*model.TokenPair, error)

	// SignOut はアクセストークンに紐づくセッションを無効化する。
	SignOut(ctx context.Context, accessToken string) error

	// Refresh はリフレッシュトークンで新しいトークンを発行する。
	// 無効なトークンの場合はErrInvalidTokenを返す。
	Refresh(ctx context.Context, refreshToken string) (*model.TokenPair, error)

	// Verify はアクセストークンを検証しidentityを返す。
	Verify(ctx context.Context, accessToken string) (*model.Identity, error)
}

// CreateUserParams はAdmin.CreateUserの入力。
type CreateUserParams struct {
	Email          string
	Password       string
	FullName       string
	EmailConfirmed bool
}

// Admin はサービスロール権限で実行する管理操作のインターフェース。
type Admin interface {
	// FindUserByEmail はメールアドレスの完全一致でidentityを検索する。見つからない場合はnilを返す。
	FindUserByEmail(ctx context.Context, email string) (*model.Identity, error)

	// CreateUser はidentityを作成する。既に登録済みの場合はErrUserAlreadyExistsを返す。
	CreateUser(ctx context.Context, params CreateUserParams) (*model.Identity, error)
}

// EventType はセッション変更イベントの種別。
type EventType string

const (
	EventInitialSession EventType = "INITIAL_SESSION"
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
	EventUserUpdated    EventType = "USER_UPDATED"
)

// Event はセッション変更イベント。Identityはサインアウト状態ではnil。
type Event struct {
	Type     EventType
	Identity *model.Identity
}
