// Package guard は保護されたページの前に置くアクセス制御を提供する。
//
// Evaluate はSessionとロール要件から判定を返す純粋関数で、
// Guard は判定の遷移を追跡し、unauthorizedに入ったときだけリダイレクトを発火する。
package guard

import (
	"sync"

	"github.com/hitoshi/campus/internal/model"
)

// State はアクセス判定の状態。
type State string

const (
	StateLoading      State = "loading"
	StateUnauthorized State = "unauthorized"
	StateAuthorized   State = "authorized"
)

// Requirement は保護対象のロール要件。
// RoleとAllowedの両方が設定されている場合は両方を満たす必要がある。
// どちらも未設定の場合は有効なProfileがあればよい。
type Requirement struct {
	Role    *model.Role
	Allowed []model.Role
}

// RequireRole は単一ロールを要求するRequirementを返す。
func RequireRole(role model.Role) Requirement {
	return Requirement{Role: &role}
}

// AllowRoles はいずれかのロールを許可するRequirementを返す。
func AllowRoles(roles ...model.Role) Requirement {
	return Requirement{Allowed: roles}
}

// Permits はロールが要件を満たすかを返す。
func (r Requirement) Permits(role model.Role) bool {
	if r.Role != nil && role != *r.Role {
		return false
	}
	if len(r.Allowed) > 0 && !role.In(r.Allowed...) {
		return false
	}
	return true
}

// Targets はリダイレクト先のパス。
type Targets struct {
	SignIn string
	Home   string
}

// Decision はアクセス判定の結果。RedirectはStateUnauthorizedの場合のみ設定される。
type Decision struct {
	State    State
	Redirect string
}

// Evaluate はSessionと要件からアクセス判定を返す。副作用はない。
func Evaluate(s model.Session, req Requirement, targets Targets) Decision {
	if s.Loading {
		return Decision{State: StateLoading}
	}
	if s.Identity == nil {
		return Decision{State: StateUnauthorized, Redirect: targets.SignIn}
	}
	profile := s.ActiveProfile()
	if profile == nil {
		// Profileの無いidentityは登録途中のアカウントとして扱う
		return Decision{State: StateUnauthorized, Redirect: targets.Home}
	}
	if !req.Permits(profile.Role) {
		return Decision{State: StateUnauthorized, Redirect: targets.Home}
	}
	return Decision{State: StateAuthorized}
}

// Guard はSessionの変化に応じて判定を遷移させる状態機械。
// リダイレクトはunauthorizedに入ったとき、またはリダイレクト先が変わったときのみ発火する。
type Guard struct {
	requirement Requirement
	targets     Targets
	redirect    func(target string)

	mu   sync.Mutex
	last Decision
}

// New はGuardを生成する。redirectはリダイレクトの副作用を実行する関数。
func New(requirement Requirement, targets Targets, redirect func(target string)) *Guard {
	return &Guard{
		requirement: requirement,
		targets:     targets,
		redirect:    redirect,
		last:        Decision{State: StateLoading},
	}
}

// Observe はSessionを評価して状態を遷移させ、新しい判定を返す。
func (g *Guard) Observe(s model.Session) Decision {
	d := Evaluate(s, g.requirement, g.targets)

	g.mu.Lock()
	prev := g.last
	g.last = d
	g.mu.Unlock()

	if d.State == StateUnauthorized && d != prev && g.redirect != nil {
		g.redirect(d.Redirect)
	}
	return d
}

// Current は直近の判定を返す。
func (g *Guard) Current() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

// Watch はsessionsから届くSessionを順にObserveする。チャネルが閉じられるかstopが閉じられると終了する。
func (g *Guard) Watch(sessions <-chan model.Session, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case s, ok := <-sessions:
			if !ok {
				return
			}
			g.Observe(s)
		}
	}
}
