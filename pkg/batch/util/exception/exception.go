package exception

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrorKind はエラーの分類です。API 層で HTTP ステータスへの変換に使用されます。
type ErrorKind string

const (
	KindValidation ErrorKind = "VALIDATION"
	KindNotFound   ErrorKind = "NOT_FOUND"
	KindConflict   ErrorKind = "CONFLICT"
	KindProcessing ErrorKind = "PROCESSING"
	KindInternal   ErrorKind = "INTERNAL"
)

// 機械可読なエラーコード。
const (
	CodeJobAlreadyExists      = "JOB_ALREADY_EXISTS"
	CodeJobInstanceExists     = "JOB_INSTANCE_EXISTS"
	CodeJobNotFound           = "JOB_NOT_FOUND"
	CodeJobNameMismatch       = "JOB_NAME_MISMATCH"
	CodeJobNotRunning         = "JOB_NOT_RUNNING"
	CodeExecutionNotFound     = "EXECUTION_NOT_FOUND"
	CodeExecutionConflict     = "EXECUTION_VERSION_CONFLICT"
	CodeInvalidJobParameters  = "INVALID_JOB_PARAMETERS"
	CodeInvalidJobDefinition  = "INVALID_JOB_DEFINITION"
	CodeValidation            = "VALIDATION_ERROR"
	CodeSkipLimitExceeded     = "SKIP_LIMIT_EXCEEDED"
	CodeItemReadFailed        = "ITEM_READ_FAILED"
	CodeItemProcessFailed     = "ITEM_PROCESS_FAILED"
	CodeItemWriteFailed       = "ITEM_WRITE_FAILED"
	CodeJobLaunchFailed       = "JOB_LAUNCH_FAILED"
	CodeJobRegistrationFailed = "JOB_REGISTRATION_FAILED"
	CodeJobStatusFetchFailed  = "JOB_STATUS_FETCH_FAILED"
	CodeJobHistoryFetchFailed = "JOB_HISTORY_FETCH_FAILED"
	CodeJobStopFailed         = "JOB_STOP_FAILED"
	CodeInternal              = "INTERNAL_ERROR"
)

// BatchError はバッチ処理中に発生するカスタムエラー型です。
// エラーの発生元モジュール、メッセージ、ラップされた元のエラー、
// 分類とエラーコード、そしてリトライ可能か、スキップ可能かのフラグを保持します。
type BatchError struct {
	Module      string    // エラーが発生したモジュール (例: "reader", "processor", "writer", "config")
	Message     string    // エラーの簡潔な説明
	OriginalErr error     // ラップされた元のエラー
	Kind        ErrorKind // エラーの分類
	Code        string    // 安定したエラーコード
	Violations  []string  // バリデーション違反の一覧 (INVALID_JOB_PARAMETERS など)
	isRetryable bool
	isSkippable bool
	StackTrace  string // スタックトレース (デバッグ用)
}

func captureStack() string {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// NewBatchError は新しい BatchError のインスタンスを作成します。
// 分類は Internal、コードは INTERNAL_ERROR になります。
func NewBatchError(module, message string, originalErr error, isRetryable, isSkippable bool) *BatchError {
	return &BatchError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		Kind:        KindInternal,
		Code:        CodeInternal,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
		StackTrace:  captureStack(),
	}
}

// NewBatchErrorf はフォーマット文字列を使用して新しい BatchError のインスタンスを作成します。
func NewBatchErrorf(module, format string, a ...interface{}) *BatchError {
	return NewBatchError(module, fmt.Sprintf(format, a...), nil, false, false)
}

// NewDomainError は分類とエラーコードを持つ BatchError を作成します。
func NewDomainError(kind ErrorKind, code, module, message string, cause error) *BatchError {
	be := NewBatchError(module, message, cause, false, false)
	be.Kind = kind
	be.Code = code
	return be
}

// NewValidationError は入力不正を表すエラーを作成します。
func NewValidationError(code, module, message string, violations ...string) *BatchError {
	be := NewDomainError(KindValidation, code, module, message, nil)
	be.Violations = violations
	return be
}

// NewNotFoundError は対象が存在しないことを表すエラーを作成します。
func NewNotFoundError(code, module, message string) *BatchError {
	return NewDomainError(KindNotFound, code, module, message, nil)
}

// NewConflictError は現在の状態と矛盾する操作を表すエラーを作成します。
func NewConflictError(code, module, message string) *BatchError {
	return NewDomainError(KindConflict, code, module, message, nil)
}

// NewProcessingError はステップの致命的な失敗を表すエラーを作成します。
func NewProcessingError(code, module, message string, cause error) *BatchError {
	return NewDomainError(KindProcessing, code, module, message, cause)
}

// NewInternalError は予期しない内部エラーを作成します。
func NewInternalError(code, module, message string, cause error) *BatchError {
	return NewDomainError(KindInternal, code, module, message, cause)
}

// NewSkippableError はチャンク処理でスキップ対象となるアイテム単位のエラーを作成します。
func NewSkippableError(module, message string, cause error) *BatchError {
	be := NewDomainError(KindProcessing, CodeItemProcessFailed, module, message, cause)
	be.isSkippable = true
	return be
}

// Error は error インターフェースの実装です。
func (e *BatchError) Error() string {
	msg := e.Message
	if len(e.Violations) > 0 {
		msg = fmt.Sprintf("%s (%s)", msg, strings.Join(e.Violations, "; "))
	}
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, msg, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, msg)
}

// Unwrap は errors.Unwrap のために元のエラーを返します。
func (e *BatchError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable はこのエラーがリトライ可能かどうかを返します。
func (e *BatchError) IsRetryable() bool {
	return e.isRetryable
}

// IsSkippable はこのエラーがスキップ可能かどうかを返します。
func (e *BatchError) IsSkippable() bool {
	return e.isSkippable
}

// As はエラーチェーンから最初の BatchError を取り出します。
func As(err error) (*BatchError, bool) {
	var be *BatchError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// KindOf はエラーの分類を返します。BatchError でなければ Internal です。
func KindOf(err error) ErrorKind {
	if be, ok := As(err); ok && be.Kind != "" {
		return be.Kind
	}
	return KindInternal
}

// CodeOf はエラーコードを返します。BatchError でなければ INTERNAL_ERROR です。
func CodeOf(err error) string {
	if be, ok := As(err); ok && be.Code != "" {
		return be.Code
	}
	return CodeInternal
}

// IsSkippable はエラーチェーンにスキップ可能な BatchError が含まれるかを判定します。
func IsSkippable(err error) bool {
	if err == nil {
		return false
	}
	be, ok := As(err)
	return ok && be.IsSkippable()
}

// IsFatal は致命的なエラーかどうかを判定します。
func IsFatal(err error) bool {
	return err != nil && !IsSkippable(err)
}
