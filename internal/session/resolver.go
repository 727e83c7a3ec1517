package session

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hitoshi/campus/internal/identity"
	"github.com/hitoshi/campus/internal/model"
)

// TokenVerifier はアクセストークンを検証してidentityを返す。
type TokenVerifier interface {
	Verify(ctx context.Context, accessToken string) (*model.Identity, error)
}

// Resolver はHTTPリクエストのアクセストークンからSessionを解決する。
// 解決済みのSessionは常にロード完了状態で返す。
type Resolver struct {
	verifier TokenVerifier
	profiles ProfileFinder
	logger   *slog.Logger
	observer LookupObserver
}

// NewResolver はResolverを生成する。observerはnilでもよい。
func NewResolver(verifier TokenVerifier, profiles ProfileFinder, logger *slog.Logger, observer LookupObserver) *Resolver {
	return &Resolver{
		verifier: verifier,
		profiles: profiles,
		logger:   logger,
		observer: observer,
	}
}

// Resolve はアクセストークンからSessionを解決する。
// トークンが空または無効な場合は未認証のSessionを返す。
func (r *Resolver) Resolve(ctx context.Context, accessToken string) model.Session {
	if accessToken == "" {
		return model.Session{}
	}

	ident, err := r.verifier.Verify(ctx, accessToken)
	if err != nil {
		if !errors.Is(err, identity.ErrInvalidToken) {
			r.logger.Warn("access token verification failed", slog.String("error", err.Error()))
		}
		return model.Session{}
	}

	profile, outcome, elapsed := lookupProfile(ctx, r.profiles, ident, r.logger)
	if r.observer != nil {
		r.observer.ObserveProfileLookup(outcome, elapsed)
	}
	return model.Session{Identity: ident, Profile: profile}
}
