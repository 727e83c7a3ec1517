// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/campus/internal/middleware"
	"github.com/hitoshi/campus/internal/model"
	"github.com/hitoshi/campus/internal/superadmin"
)

// MsgSuperadminCreated はsuperadmin作成成功時のメッセージ。
const MsgSuperadminCreated = "Superadmin criado com sucesso"

const msgInvalidBody = "Corpo da requisição inválido."

// StatusChecker はsuperadminの存在確認を行うサービスのインターフェース。
type StatusChecker interface {
	Status(ctx context.Context) (*superadmin.Status, error)
}

// Bootstrapper は最初のsuperadminを作成するサービスのインターフェース。
type Bootstrapper interface {
	Bootstrap(ctx context.Context, req superadmin.Request) (*superadmin.Result, error)
}

// SuperadminHandler はsuperadmin関数エンドポイントのHTTPハンドラー。
// レスポンスのエラー形式は{"error": message}のみ。
type SuperadminHandler struct {
	status    StatusChecker
	bootstrap Bootstrapper
	logger    *slog.Logger
}

// NewSuperadminHandler はSuperadminHandlerを生成する。
func NewSuperadminHandler(status StatusChecker, bootstrap Bootstrapper, logger *slog.Logger) *SuperadminHandler {
	return &SuperadminHandler{
		status:    status,
		bootstrap: bootstrap,
		logger:    logger,
	}
}

// createSuperadminResponse はsuperadmin作成成功時のレスポンス。
type createSuperadminResponse struct {
	Message string             `json:"message"`
	User    *superadmin.Result `json:"user"`
}

// Status はアクティブなsuperadminの有無と件数を返す。
// GET|POST /functions/v1/superadmin-status
func (h *SuperadminHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.status.Status(r.Context())
	if err != nil {
		h.writeFunctionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// CreateSuperadmin は最初のsuperadminを作成する。
// POST /functions/v1/create-superadmin
func (h *SuperadminHandler) CreateSuperadmin(w http.ResponseWriter, r *http.Request) {
	var req superadmin.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteMessageError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	result, err := h.bootstrap.Bootstrap(r.Context(), req)
	if err != nil {
		h.writeFunctionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, createSuperadminResponse{
		Message: MsgSuperadminCreated,
		User:    result,
	})
}

// writeFunctionError はサービスのエラーを関数エンドポイントのレスポンスに変換する。
// APIError以外は内容をログにのみ残し、一般的なメッセージの500を返す。
func (h *SuperadminHandler) writeFunctionError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteMessageError(w, functionErrorStatus(apiErr), apiErr.Message)
		return
	}

	h.logger.Error("superadmin function failed", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// functionErrorStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
// 競合のみ403で、それ以外の既知の失敗はすべて400。
func functionErrorStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeSuperadminExists:
		return http.StatusForbidden
	case model.ErrCodeValidation,
		model.ErrCodeIdentityProvider,
		model.ErrCodeIdentityUnavailable,
		model.ErrCodeStore:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// SetupFunctionRoutes はsuperadmin関数のルーティングを設定したchi.Routerを返す。
// bootstrapLimitはnilでもよい。
func SetupFunctionRoutes(h *SuperadminHandler, bootstrapLimit func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.NewFunctionsCORSMiddleware())

	r.Get("/superadmin-status", h.Status)
	r.Post("/superadmin-status", h.Status)

	if bootstrapLimit != nil {
		r.With(bootstrapLimit).Post("/create-superadmin", h.CreateSuperadmin)
	} else {
		r.Post("/create-superadmin", h.CreateSuperadmin)
	}

	return r
}

// writeJSON はvをJSONとして書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}
