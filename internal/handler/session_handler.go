package handler

import (
	"net/http"
	"time"

	"github.com/hitoshi/campus/internal/middleware"
	"github.com/hitoshi/campus/internal/model"
	"github.com/hitoshi/campus/internal/session"
)

// profileResponse はプロフィールのJSON表現。
type profileResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// sessionResponse はリクエストのSessionのJSON表現。
// 無効化されたプロフィールはnullとして返す。
type sessionResponse struct {
	Identity *identityResponse `json:"identity"`
	Profile  *profileResponse  `json:"profile"`
}

// GetSession はリクエストのアクセストークンから解決したSessionを返す。
// GET /api/session
func GetSession(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())
	if !s.Authenticated() {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(s))
}

func toSessionResponse(s model.Session) sessionResponse {
	resp := sessionResponse{Identity: toIdentityResponse(s.Identity)}
	if p := s.ActiveProfile(); p != nil {
		resp.Profile = &profileResponse{
			ID:        p.ID,
			UserID:    p.UserID,
			FullName:  p.FullName,
			Email:     p.Email,
			Role:      string(p.Role),
			IsActive:  p.IsActive,
			CreatedAt: p.CreatedAt,
		}
	}
	return resp
}

// pageResponse は保護されたページのレスポンス。
type pageResponse struct {
	Page    string           `json:"page"`
	Session *sessionResponse `json:"session"`
}

// PageHandler は保護されたページの本体を返すハンドラーを生成する。
// アクセス制御はguard.Middlewareが前段で行う。
func PageHandler(page string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, _ := session.FromContext(r.Context())
		resp := toSessionResponse(s)
		writeJSON(w, http.StatusOK, pageResponse{Page: page, Session: &resp})
	}
}
