// Package superadmin は最初のsuperadminの作成（ブートストラップ）と、
// superadminが既に存在するかの確認を提供する。
package superadmin

import (
	"context"
	"log/slog"

	"github.com/hitoshi/campus/internal/model"
)

// 計測用の結果区分
const (
	OutcomeCreated         = "created"
	OutcomeLinked          = "linked"
	OutcomeValidationError = "validation_error"
	OutcomeConflict        = "conflict"
	OutcomeIdentityError   = "identity_error"
	OutcomeStoreError      = "store_error"
	OutcomeError           = "error"
	OutcomeOK              = "ok"
)

// msgStatusUnavailable はsuperadminの件数を取得できなかった場合のメッセージ。
const msgStatusUnavailable = "Não foi possível verificar se já existe um superadmin."

// Observer は処理結果を受け取る。
type Observer interface {
	ObserveBootstrap(outcome string)
	ObserveStatusCheck(outcome string)
}

// Counter はロールごとのアクティブなプロフィール数を返す。
type Counter interface {
	CountActiveByRole(ctx context.Context, role model.Role) (int, error)
}

// Status はsuperadminの存在状況。Existsは常にCount > 0と一致する。
type Status struct {
	Exists bool `json:"exists"`
	Count  int  `json:"count"`
}

// StatusService はsuperadminが既に存在するかを返す。
type StatusService struct {
	profiles Counter
	logger   *slog.Logger
	observer Observer
}

// NewStatusService はStatusServiceを生成する。observerはnilでもよい。
func NewStatusService(profiles Counter, logger *slog.Logger, observer Observer) *StatusService {
	return &StatusService{profiles: profiles, logger: logger, observer: observer}
}

// Status はアクティブなsuperadminの件数を返す。副作用はない。
// 呼び出し側は失敗を「superadminが存在する」として扱うこと。
func (s *StatusService) Status(ctx context.Context) (*Status, error) {
	count, err := s.profiles.CountActiveByRole(ctx, model.RoleSuperadmin)
	if err != nil {
		s.logger.Error("failed to count superadmins", slog.String("error", err.Error()))
		s.observe(OutcomeStoreError)
		return nil, model.NewStoreError(msgStatusUnavailable)
	}

	s.observe(OutcomeOK)
	return &Status{Exists: count > 0, Count: count}, nil
}

func (s *StatusService) observe(outcome string) {
	if s.observer != nil {
		s.observer.ObserveStatusCheck(outcome)
	}
}
