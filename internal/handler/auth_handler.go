package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/campus/internal/identity"
	"github.com/hitoshi/campus/internal/middleware"
	"github.com/hitoshi/campus/internal/model"
)

const (
	msgCredentialsRequired = "E-mail e senha são obrigatórios."
	msgInvalidEmail        = "Informe um e-mail válido."
	msgRefreshRequired     = "Informe o refresh token."
	msgSessionExpired      = "Sessão expirada. Faça login novamente."
)

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain string
	CookieSecure bool
}

// AuthHandler はIdentity Providerへのサインイン・サインアップ・サインアウトを中継するHTTPハンドラー。
// 発行したアクセストークンはページ遷移でも使えるようsb-access-token Cookieにも設定する。
type AuthHandler struct {
	provider identity.Provider
	config   AuthHandlerConfig
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(provider identity.Provider, config AuthHandlerConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		provider: provider,
		config:   config,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
}

type signInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,max=72"`
}

type signUpRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,max=72"`
	FullName string `json:"full_name" validate:"max=120"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// identityResponse はidentityのJSON表現。
type identityResponse struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	FullName       string `json:"full_name,omitempty"`
	EmailConfirmed bool   `json:"email_confirmed"`
}

// tokenResponse はトークン発行時のレスポンス。
// メール確認待ちのサインアップではトークンが空になる。
type tokenResponse struct {
	AccessToken          string            `json:"access_token,omitempty"`
	RefreshToken         string            `json:"refresh_token,omitempty"`
	ExpiresAt            int64             `json:"expires_at,omitempty"`
	User                 *identityResponse `json:"user"`
	ConfirmationRequired bool              `json:"confirmation_required,omitempty"`
}

// SignIn はメールアドレスとパスワードでサインインする。
// POST /api/auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !h.decode(w, r, &req) {
		return
	}

	pair, err := h.provider.SignInWithPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeProviderError(w, err)
		return
	}

	h.writeTokens(w, pair)
}

// SignUp はidentityを登録する。
// POST /api/auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !h.decode(w, r, &req) {
		return
	}

	pair, err := h.provider.SignUp(r.Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		h.writeProviderError(w, err)
		return
	}

	h.writeTokens(w, pair)
}

// Refresh はリフレッシュトークンで新しいトークンを発行する。
// POST /api/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decode(w, r, &req) {
		return
	}

	pair, err := h.provider.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidToken) {
			h.clearAccessTokenCookie(w)
			apiErr := model.NewUnauthorizedError()
			apiErr.Message = msgSessionExpired
			middleware.WriteErrorResponse(w, http.StatusUnauthorized, apiErr)
			return
		}
		h.writeProviderError(w, err)
		return
	}

	h.writeTokens(w, pair)
}

// SignOut はセッションを無効化しCookieを削除する。
// トークンが無い・既に無効な場合も成功として扱う。
// POST /api/auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if token := middleware.AccessTokenFromRequest(r); token != "" {
		if err := h.provider.SignOut(r.Context(), token); err != nil && !errors.Is(err, identity.ErrInvalidToken) {
			// サインアウト失敗してもCookieはクリアする
			h.logger.Warn("failed to sign out at identity provider", slog.String("error", err.Error()))
		}
	}

	h.clearAccessTokenCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// decode はリクエストボディをデコードして検証する。失敗時はレスポンスを書き込みfalseを返す。
func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError(msgInvalidBody))
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError(validationMessage(err)))
		return false
	}
	return true
}

// validationMessage は検証エラーをユーザー向けメッセージに変換する。
func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return msgCredentialsRequired
	}

	fe := fieldErrs[0]
	switch {
	case fe.Field() == "RefreshToken":
		return msgRefreshRequired
	case fe.Field() == "Email" && fe.Tag() == "email":
		return msgInvalidEmail
	case fe.Field() == "Password" && fe.Tag() == "max":
		return model.MsgPasswordTooLong
	case fe.Tag() == "required":
		return msgCredentialsRequired
	}
	return "Dados inválidos: " + fe.Field()
}

// writeProviderError はIdentity Providerのエラーをレスポンスに変換する。
func (h *AuthHandler) writeProviderError(w http.ResponseWriter, err error) {
	var perr *identity.ProviderError
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidCredentialsError())
	case errors.Is(err, identity.ErrUserAlreadyExists):
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewIdentityProviderError("Este e-mail já está cadastrado."))
	case errors.As(err, &perr):
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewIdentityProviderError(perr.Message))
	default:
		h.logger.Error("identity provider request failed", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
	}
}

// writeTokens はトークンをレスポンスとCookieに書き込む。
func (h *AuthHandler) writeTokens(w http.ResponseWriter, pair *model.TokenPair) {
	resp := tokenResponse{User: toIdentityResponse(pair.Identity)}

	if pair.AccessToken == "" {
		resp.ConfirmationRequired = true
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.AccessToken = pair.AccessToken
	resp.RefreshToken = pair.RefreshToken
	resp.ExpiresAt = pair.ExpiresAt.Unix()

	maxAge := int(pair.ExpiresAt.Sub(h.now()).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AccessTokenCookieName,
		Value:    pair.AccessToken,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) clearAccessTokenCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AccessTokenCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func toIdentityResponse(id *model.Identity) *identityResponse {
	if id == nil {
		return nil
	}
	return &identityResponse{
		ID:             id.ID,
		Email:          id.Email,
		FullName:       id.FullName,
		EmailConfirmed: id.EmailConfirmed,
	}
}
