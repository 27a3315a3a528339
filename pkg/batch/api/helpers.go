package api

import (
	"encoding/json"
	"net/http"

	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
	logger "github.com/tigerroll/batchjob/pkg/batch/util/logger"
)

// ErrorResponse はエラー時のレスポンスボディです。
type ErrorResponse struct {
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Violations []string `json:"violations,omitempty"`
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError はエラーを分類に応じた HTTP ステータスで書き込みます。
// notFoundStatus は NotFound のエラーに使用するステータスです。
// 内部エラーは原因をログに残し、呼び出し元には汎用のメッセージだけを返します。
func WriteError(w http.ResponseWriter, r *http.Request, err error, notFoundStatus int) {
	status := StatusFor(err, notFoundStatus)
	if status == http.StatusInternalServerError {
		logger.Errorf("%s %s の処理中に内部エラーが発生しました: %v", r.Method, r.URL.Path, err)
		_ = WriteJSON(w, status, ErrorResponse{Code: exception.CodeOf(err), Message: "内部エラーが発生しました"})
		return
	}
	logger.Warnf("%s %s は %d で失敗しました: %v", r.Method, r.URL.Path, status, err)
	res := ErrorResponse{Code: exception.CodeOf(err), Message: err.Error()}
	if be, ok := exception.As(err); ok {
		res.Message = be.Message
		res.Violations = be.Violations
	}
	_ = WriteJSON(w, status, res)
}

// StatusFor はエラーの分類を HTTP ステータスに変換します。
func StatusFor(err error, notFoundStatus int) int {
	switch exception.KindOf(err) {
	case exception.KindValidation, exception.KindConflict:
		return http.StatusBadRequest
	case exception.KindNotFound:
		return notFoundStatus
	default:
		return http.StatusInternalServerError
	}
}
