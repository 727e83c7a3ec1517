package superadmin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hitoshi/campus/internal/identity"
	"github.com/hitoshi/campus/internal/model"
	"github.com/hitoshi/campus/internal/repository"
	"github.com/hitoshi/campus/internal/security"
)

// DefaultFullName はfull_nameが省略された場合の表示名。
const DefaultFullName = "Super Admin"

// 入力検証のメッセージ
const (
	msgCredentialsRequired = "E-mail e senha são obrigatórios."
	msgInvalidEmail        = "Informe um e-mail válido."
	msgProfileStore        = "Não foi possível salvar o perfil do superadmin."
)

// Request はブートストラップの入力。
type Request struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	FullName string `json:"full_name"`
}

// Result は作成またはリンクされたidentity。
type Result struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// ProfileStore はブートストラップが使うプロフィールストアの操作。
type ProfileStore interface {
	Counter
	UpsertByUserID(ctx context.Context, profile *model.Profile) error
}

// BootstrapService は最初のsuperadminを1度だけ作成する。
// identityの作成とプロフィールのupsertはどちらも冪等で、
// superadminが既に存在する場合は件数確認の時点で処理を止める。
type BootstrapService struct {
	profiles  ProfileStore
	admin     identity.Admin
	sanitizer security.NameSanitizer
	validate  *validator.Validate
	logger    *slog.Logger
	observer  Observer
}

// NewBootstrapService はBootstrapServiceを生成する。observerはnilでもよい。
func NewBootstrapService(
	profiles ProfileStore,
	admin identity.Admin,
	sanitizer security.NameSanitizer,
	logger *slog.Logger,
	observer Observer,
) *BootstrapService {
	return &BootstrapService{
		profiles:  profiles,
		admin:     admin,
		sanitizer: sanitizer,
		validate:  validator.New(),
		logger:    logger,
		observer:  observer,
	}
}

// Bootstrap はsuperadminのidentityとプロフィールを作成する。
//
// 処理順序:
//  1. 入力検証（I/Oなし）
//  2. アクティブなsuperadminの件数確認。1件以上なら競合エラー
//  3. メールアドレスでidentityを検索（失敗はログのみ）
//  4. 見つからなければidentityを作成。既存エラーの場合は再検索する
//  5. user_idをキーにプロフィールをupsert（role=superadmin, active）
//
// 返すエラーは*model.APIErrorか、想定外の失敗を表すerrorのいずれか。
func (s *BootstrapService) Bootstrap(ctx context.Context, req Request) (*Result, error) {
	req.Email = strings.TrimSpace(req.Email)
	if apiErr := s.validateRequest(req); apiErr != nil {
		s.observe(OutcomeValidationError)
		return nil, apiErr
	}

	count, err := s.profiles.CountActiveByRole(ctx, model.RoleSuperadmin)
	if err != nil {
		s.logger.Error("failed to count superadmins", slog.String("error", err.Error()))
		s.observe(OutcomeStoreError)
		return nil, model.NewStoreError(msgStatusUnavailable)
	}
	if count > 0 {
		s.observe(OutcomeConflict)
		return nil, model.NewSuperadminExistsError()
	}

	fullName := s.sanitizer.Sanitize(req.FullName, DefaultFullName)

	target, created, err := s.resolveIdentity(ctx, req, fullName)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			s.observe(OutcomeIdentityError)
			return nil, apiErr
		}
		s.observe(OutcomeError)
		return nil, err
	}

	email := target.Email
	if email == "" {
		email = req.Email
	}
	profile := &model.Profile{
		UserID:   target.ID,
		FullName: fullName,
		Email:    email,
		Role:     model.RoleSuperadmin,
		IsActive: true,
	}
	if err := s.profiles.UpsertByUserID(ctx, profile); err != nil {
		if errors.Is(err, repository.ErrSuperadminTaken) {
			// 件数確認の後に別の呼び出しが先にsuperadminを作成した
			s.logger.Warn("superadmin created concurrently", slog.String("identity_id", target.ID))
			s.observe(OutcomeConflict)
			return nil, model.NewSuperadminExistsError()
		}
		s.logger.Error("failed to upsert superadmin profile",
			slog.String("identity_id", target.ID),
			slog.String("error", err.Error()),
		)
		s.observe(OutcomeStoreError)
		return nil, model.NewStoreError(msgProfileStore)
	}

	outcome := OutcomeLinked
	if created {
		outcome = OutcomeCreated
	}
	s.observe(outcome)
	s.logger.Info("superadmin bootstrapped",
		slog.String("identity_id", target.ID),
		slog.String("outcome", outcome),
	)

	return &Result{ID: target.ID, Email: email}, nil
}

// resolveIdentity はメールアドレスのidentityを検索し、無ければ作成する。
// 作成したかどうかを合わせて返す。
func (s *BootstrapService) resolveIdentity(ctx context.Context, req Request, fullName string) (*model.Identity, bool, error) {
	target := s.findIdentity(ctx, req.Email)
	if target != nil {
		return target, false, nil
	}

	created, err := s.admin.CreateUser(ctx, identity.CreateUserParams{
		Email:          req.Email,
		Password:       req.Password,
		FullName:       fullName,
		EmailConfirmed: true,
	})
	switch {
	case err == nil:
		return created, true, nil
	case errors.Is(err, identity.ErrUserAlreadyExists):
		// 検索と作成の間に同じメールアドレスで作成された
		if target := s.findIdentity(ctx, req.Email); target != nil {
			return target, false, nil
		}
		return nil, false, model.NewIdentityUnavailableError()
	}

	s.logger.Error("failed to create identity", slog.String("error", err.Error()))
	var perr *identity.ProviderError
	if errors.As(err, &perr) {
		return nil, false, model.NewIdentityProviderError(perr.Message)
	}
	return nil, false, fmt.Errorf("failed to create identity: %w", err)
}

// findIdentity はメールアドレスでidentityを検索する。失敗はログに残してnilを返す。
func (s *BootstrapService) findIdentity(ctx context.Context, email string) *model.Identity {
	found, err := s.admin.FindUserByEmail(ctx, email)
	if err != nil {
		s.logger.Warn("identity lookup failed", slog.String("error", err.Error()))
		return nil
	}
	return found
}

// validateRequest は入力を検証し、最初の違反をユーザー向けメッセージにして返す。
func (s *BootstrapService) validateRequest(req Request) *model.APIError {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return model.NewValidationError(msgCredentialsRequired)
	}

	// 必須項目の欠落を優先して報告する
	for _, fe := range fieldErrs {
		if fe.Tag() == "required" {
			return model.NewValidationError(msgCredentialsRequired)
		}
	}
	switch fe := fieldErrs[0]; fe.Field() {
	case "Email":
		return model.NewValidationError(msgInvalidEmail)
	case "Password":
		if fe.Tag() == "max" {
			return model.NewValidationError(model.MsgPasswordTooLong)
		}
		return model.NewValidationError(model.MsgPasswordTooShort)
	}
	return model.NewValidationError(msgCredentialsRequired)
}

func (s *BootstrapService) observe(outcome string) {
	if s.observer != nil {
		s.observer.ObserveBootstrap(outcome)
	}
}
