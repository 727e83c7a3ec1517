// Package model はドメインモデルを定義する。
package model

import "time"

// Identity はIdentity Providerが管理する認証主体を表す。
// 資格情報（パスワードハッシュ）はIdentity Providerの内部にのみ存在し、ここには含めない。
type Identity struct {
	ID             string
	Email          string
	FullName       string // サインアップ時のメタデータ
	EmailConfirmed bool
	CreatedAt      time.Time
}

// TokenPair はサインイン・リフレッシュで発行されるトークンの組を表す。
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Identity     *Identity
}

// RefreshToken はローカルIdentity Providerが発行したリフレッシュトークンの永続化レコード。
// トークン本体は保持せず、SHA-256ハッシュのみを保存する。
type RefreshToken struct {
	ID         string
	IdentityID string
	TokenHash  string
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	CreatedAt  time.Time
}
