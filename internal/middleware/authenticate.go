// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/hitoshi/campus/internal/model"
	"github.com/hitoshi/campus/internal/session"
)

// AccessTokenCookieName はブラウザのページ遷移でアクセストークンを運ぶCookie名。
const AccessTokenCookieName = "sb-access-token"

// SessionResolver はアクセストークンからSessionを解決する。
type SessionResolver interface {
	Resolve(ctx context.Context, accessToken string) model.Session
}

// NewAuthenticateMiddleware はリクエストのアクセストークンからSessionを解決し、
// リクエストコンテキストに格納するミドルウェアを返す。
// 未認証でもリクエストは拒否しない（拒否はアクセスガードとハンドラーが行う）。
func NewAuthenticateMiddleware(resolver SessionResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := resolver.Resolve(r.Context(), AccessTokenFromRequest(r))
			// 外側のロギングミドルウェアはこのコンテキストを参照できないため、直接渡す
			if rec, ok := w.(*statusRecorder); ok && s.Identity != nil {
				rec.identityID = s.Identity.ID
			}
			next.ServeHTTP(w, r.WithContext(session.NewContext(r.Context(), s)))
		})
	}
}

// AccessTokenFromRequest はAuthorizationヘッダーのBearerトークン、
// なければsb-access-token Cookieからアクセストークンを取り出す。
func AccessTokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(AccessTokenCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// IdentityIDFromContext はリクエストコンテキストのSessionからidentity IDを返す。
// 未認証の場合は空文字列を返す。
func IdentityIDFromContext(ctx context.Context) string {
	s, ok := session.FromContext(ctx)
	if !ok || s.Identity == nil {
		return ""
	}
	return s.Identity.ID
}
