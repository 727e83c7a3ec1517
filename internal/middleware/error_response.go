package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/campus/internal/model"
)

// MsgInternalServerError は想定外のエラーでクライアントに返す唯一のメッセージ。
const MsgInternalServerError = "Internal server error"

// ErrorResponseBody はAPIエラーレスポンスのフォーマット。
// errorにはフォーム付近に表示するメッセージが入る。
type ErrorResponseBody struct {
	Error    string `json:"error"`
	Code     string `json:"code,omitempty"`
	Category string `json:"category,omitempty"`
	Action   string `json:"action,omitempty"`
}

// WriteErrorResponse はAPIErrorの全項目を含むエラーレスポンスを書き込む。/api配下で使う。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeJSONError(w, statusCode, ErrorResponseBody{
		Error:    apiErr.Message,
		Code:     apiErr.Code,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteMessageError は{"error": message}のみのエラーレスポンスを書き込む。関数エンドポイントで使う。
func WriteMessageError(w http.ResponseWriter, statusCode int, message string) {
	writeJSONError(w, statusCode, ErrorResponseBody{Error: message})
}

// WriteInternalServerError は内部サーバーエラーのレスポンスを書き込む。
// 詳細はログのみに記録し、クライアントには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteMessageError(w, http.StatusInternalServerError, MsgInternalServerError)
}

func writeJSONError(w http.ResponseWriter, statusCode int, body ErrorResponseBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}
