package job

import (
	"fmt"

	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
)

// JobRepository はバッチ実行に関するメタデータを永続化・管理するためのインターフェースです。
// 複数のより小さなリポジトリインターフェースを埋め込むことで、責務を分割します。
type JobRepository interface {
	JobInstance
	JobExecution
	StepExecution

	// Close はリポジトリが使用するリソースを解放します。
	Close() error
}

// ErrExecutionNotFound は JobExecution が見つからない場合のエラーを作成します。
func ErrExecutionNotFound(executionID int64) error {
	return exception.NewNotFoundError(exception.CodeExecutionNotFound, "job_repository",
		fmt.Sprintf("JobExecution (ID: %d) が見つかりませんでした", executionID))
}

// ErrInstanceNotFound は JobInstance が見つからない場合のエラーを作成します。
func ErrInstanceNotFound(instanceID int64) error {
	return exception.NewNotFoundError(exception.CodeJobNotFound, "job_repository",
		fmt.Sprintf("JobInstance (ID: %d) が見つかりませんでした", instanceID))
}

// ErrStepExecutionNotFound は StepExecution が見つからない場合のエラーを作成します。
func ErrStepExecutionNotFound(stepExecutionID int64) error {
	return exception.NewNotFoundError(exception.CodeExecutionNotFound, "job_repository",
		fmt.Sprintf("StepExecution (ID: %d) が見つかりませんでした", stepExecutionID))
}

// ErrVersionConflict は保存済みの JobExecution が別の書き手によって更新されていた場合のエラーを作成します。
func ErrVersionConflict(executionID int64, expected int) error {
	return exception.NewConflictError(exception.CodeExecutionConflict, "job_repository",
		fmt.Sprintf("JobExecution (ID: %d) は他の更新と競合しました (期待した Version: %d)", executionID, expected))
}
