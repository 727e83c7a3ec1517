package guard

import (
	"net/http"

	"github.com/hitoshi/campus/internal/session"
)

// DecisionObserver はページアクセスの判定結果を受け取る。
type DecisionObserver interface {
	ObserveGuardDecision(route string, state State)
}

// Middleware はページルートの前に置くアクセス制御ミドルウェア。
// リクエストのSessionは認証ミドルウェアがコンテキストに格納したものを使う。
// unauthorizedの場合は303でリダイレクトし、authorizedの場合のみnextを呼ぶ。
// リダイレクト先がリクエスト中のパス自身である場合はループを避けて403を返す。
func Middleware(route string, req Requirement, targets Targets, observer DecisionObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, _ := session.FromContext(r.Context())
			d := Evaluate(s, req, targets)
			if observer != nil {
				observer.ObserveGuardDecision(route, d.State)
			}

			switch d.State {
			case StateAuthorized:
				next.ServeHTTP(w, r)
			case StateLoading:
				w.Header().Set("Retry-After", "1")
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			default:
				if d.Redirect == r.URL.Path {
					http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
					return
				}
				http.Redirect(w, r, d.Redirect, http.StatusSeeOther)
			}
		})
	}
}
