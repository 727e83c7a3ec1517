package guard

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/campus/internal/model"
	"github.com/hitoshi/campus/internal/session"
)

type recordingDecisions struct {
	states []State
}

func (r *recordingDecisions) ObserveGuardDecision(_ string, state State) {
	r.states = append(r.states, state)
}

func serveGuarded(t *testing.T, path string, s *model.Session, req Requirement, observer DecisionObserver) *httptest.ResponseRecorder {
	t.Helper()
	handler := Middleware("/admin", req, testTargets, observer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("protected"))
	}))

	r := httptest.NewRequest(http.MethodGet, path, nil)
	if s != nil {
		r = r.WithContext(session.NewContext(r.Context(), *s))
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	return w
}

func TestMiddleware_NoSession_RedirectsToSignIn(t *testing.T) {
	w := serveGuarded(t, "/admin", nil, RequireRole(model.RoleSuperadmin), nil)

	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusSeeOther)
	}
	if loc := w.Header().Get("Location"); loc != "/auth" {
		t.Errorf("Location = %q, want /auth", loc)
	}
}

func TestMiddleware_WrongRole_RedirectsHome(t *testing.T) {
	s := sessionWithRole(model.RoleAluno)
	observer := &recordingDecisions{}
	w := serveGuarded(t, "/admin", &s, RequireRole(model.RoleSuperadmin), observer)

	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusSeeOther)
	}
	if loc := w.Header().Get("Location"); loc != "/" {
		t.Errorf("Location = %q, want /", loc)
	}
	if len(observer.states) != 1 || observer.states[0] != StateUnauthorized {
		t.Errorf("observed = %v, want [unauthorized]", observer.states)
	}
}

func TestMiddleware_Authorized_ServesContent(t *testing.T) {
	s := sessionWithRole(model.RoleSuperadmin)
	w := serveGuarded(t, "/admin", &s, RequireRole(model.RoleSuperadmin), nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Body.String() != "protected" {
		t.Errorf("body = %q, want protected", w.Body.String())
	}
}

func TestMiddleware_RedirectToSelf_ReturnsForbidden(t *testing.T) {
	s := model.Session{Identity: &model.Identity{ID: "user-1"}}
	w := serveGuarded(t, "/", &s, RequireRole(model.RoleSuperadmin), nil)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestMiddleware_Loading_DoesNotRedirect(t *testing.T) {
	s := model.Session{Loading: true}
	w := serveGuarded(t, "/admin", &s, RequireRole(model.RoleSuperadmin), nil)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if w.Header().Get("Location") != "" {
		t.Error("loading state must not redirect")
	}
}
