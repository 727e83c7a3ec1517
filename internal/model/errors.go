package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// Messageはフォーム付近にインライン表示されるユーザー向け文言。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, conflict, upstream, auth, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeSuperadminExists    = "SUPERADMIN_EXISTS"
	ErrCodeIdentityProvider    = "IDENTITY_PROVIDER_ERROR"
	ErrCodeIdentityUnavailable = "IDENTITY_UNAVAILABLE"
	ErrCodeStore               = "STORE_ERROR"
	ErrCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeRateLimited         = "RATE_LIMITED"
)

// エラーカテゴリ
const (
	CategoryValidation = "validation"
	CategoryConflict   = "conflict"
	CategoryUpstream   = "upstream"
	CategoryAuth       = "auth"
	CategorySystem     = "system"
)

// パスワード長の検証メッセージ。上限はbcryptの入力上限（72バイト）。
const (
	MsgPasswordTooShort = "A senha deve ter pelo menos 8 caracteres."
	MsgPasswordTooLong  = "A senha deve ter no máximo 72 caracteres."
)

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: CategoryValidation,
		Action:   "Verifique os dados informados e tente novamente.",
	}
}

// NewSuperadminExistsError は既にアクティブなsuperadminが存在する場合のエラーを生成する。
// 再試行しても結果は変わらない。
func NewSuperadminExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeSuperadminExists,
		Message:  "Já existe um superadmin cadastrado.",
		Category: CategoryConflict,
		Action:   "Faça login com a conta de superadmin existente.",
	}
}

// NewIdentityProviderError はIdentity Providerの失敗を表すエラーを生成する。
// メッセージはIdentity Providerのものをそのまま渡す。
func NewIdentityProviderError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeIdentityProvider,
		Message:  message,
		Category: CategoryUpstream,
		Action:   "Tente novamente em alguns instantes.",
	}
}

// NewIdentityUnavailableError は作成・検索後もIdentityを取得できなかった場合のエラーを生成する。
func NewIdentityUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeIdentityUnavailable,
		Message:  "Não foi possível obter o usuário administrador.",
		Category: CategoryUpstream,
		Action:   "Tente novamente em alguns instantes.",
	}
}

// NewStoreError はProfile Storeの失敗を表すエラーを生成する。
func NewStoreError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeStore,
		Message:  message,
		Category: CategoryUpstream,
		Action:   "Tente novamente em alguns instantes.",
	}
}

// NewInvalidCredentialsError はサインイン失敗時のエラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "E-mail ou senha inválidos.",
		Category: CategoryAuth,
		Action:   "Confira suas credenciais e tente novamente.",
	}
}

// NewUnauthorizedError は認証が必要なエンドポイントへの未認証アクセスのエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Autenticação necessária.",
		Category: CategoryAuth,
		Action:   "Faça login para continuar.",
	}
}

// NewRateLimitedError はレート制限超過時のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Muitas tentativas. Aguarde e tente novamente.",
		Category: CategorySystem,
		Action:   "Aguarde alguns instantes antes de tentar de novo.",
	}
}
