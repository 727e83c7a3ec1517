package model

import "time"

// Profile はIdentityと1対1で紐づくアプリケーションの認可レコード。
// 削除はせず、is_active=falseで無効化する。
type Profile struct {
	ID        string
	UserID    string // Identity.ID
	FullName  string
	Email     string
	Role      Role
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Session は現在ログイン中のIdentityと解決済みProfile、ロード状態の組。
// セッション変更イベントごとに丸ごと置き換えられる値型として扱う。
type Session struct {
	Identity *Identity
	Profile  *Profile
	Loading  bool
}

// Authenticated はIdentityが存在するかを返す。
func (s Session) Authenticated() bool {
	return s.Identity != nil
}

// ActiveProfile は有効なProfileを返す。無効化されたProfileはnilとして扱う。
func (s Session) ActiveProfile() *Profile {
	if s.Profile == nil || !s.Profile.IsActive {
		return nil
	}
	return s.Profile
}
