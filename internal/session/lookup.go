// Package session はログイン中のIdentityと、そのIdentityに紐づくProfileを解決する。
//
// Manager はIdentity Providerのセッション変更イベントを購読して単一のSessionを保持する
// プロセス全体の状態で、Resolver はHTTPリクエストごとにトークンからSessionを解決する。
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/campus/internal/model"
)

// プロフィール検索の結果区分
const (
	LookupFound      = "found"
	LookupNotFound   = "not_found"
	LookupInactive   = "inactive"
	LookupError      = "error"
	LookupSuperseded = "superseded"
)

// ProfileFinder はIdentity IDからプロフィールを取得する。
type ProfileFinder interface {
	FindByUserID(ctx context.Context, userID string) (*model.Profile, error)
}

// LookupObserver はプロフィール検索の結果と所要時間を受け取る。
type LookupObserver interface {
	ObserveProfileLookup(outcome string, elapsed time.Duration)
}

// lookupProfile はidentityの有効なプロフィールを取得する。
// 行が無い場合、無効化されている場合、ストアエラーの場合はいずれもnilを返す。
// プロフィールが無いことは登録途中の正常な状態として扱い、エラーにはしない。
func lookupProfile(ctx context.Context, profiles ProfileFinder, identity *model.Identity, logger *slog.Logger) (*model.Profile, string, time.Duration) {
	start := time.Now()
	profile, err := profiles.FindByUserID(ctx, identity.ID)
	elapsed := time.Since(start)

	switch {
	case err != nil:
		if ctx.Err() != nil {
			return nil, LookupSuperseded, elapsed
		}
		logger.Warn("profile lookup failed",
			slog.String("identity_id", identity.ID),
			slog.String("error", err.Error()),
		)
		return nil, LookupError, elapsed
	case profile == nil:
		logger.Info("no profile for identity", slog.String("identity_id", identity.ID))
		return nil, LookupNotFound, elapsed
	case !profile.IsActive:
		logger.Info("profile is inactive", slog.String("identity_id", identity.ID))
		return nil, LookupInactive, elapsed
	}
	return profile, LookupFound, elapsed
}
