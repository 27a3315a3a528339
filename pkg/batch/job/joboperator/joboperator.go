// Package joboperator はジョブの登録、起動、状態照会、停止をまとめた運用向けの操作を提供します。
package joboperator

import (
	"context"
)

// JobOperator はバッチ実行の管理操作を行うためのインターフェースです。
// REST API と CLI はこのインターフェースを介してエンジンを操作します。
type JobOperator interface {
	// Register はテンプレートのステップで新しいジョブを登録します。
	Register(ctx context.Context, req RegistrationRequest) (*JobExecutionResponse, error)

	// Launch はジョブを起動し、起動直後のスナップショットを返します。
	Launch(ctx context.Context, jobName string, params map[string]string) (*JobResponse, error)

	// LaunchAndWait はジョブを起動し、終了するまで待ってから最終状態を返します。
	LaunchAndWait(ctx context.Context, jobName string, params map[string]string) (*JobResponse, error)

	// Status は指定された JobExecution の現在の状態を返します。
	Status(ctx context.Context, jobName string, executionID int64) (*JobResponse, error)

	// History はジョブの実行履歴をページ単位で返します。page は 0 から始まります。
	History(ctx context.Context, jobName string, page, pageSize int) (*JobHistoryPage, error)

	// Stop は実行中の JobExecution に停止を要求します。
	Stop(ctx context.Context, jobName string, executionID int64) error

	// Abandon は終了していない JobExecution を放棄します。
	Abandon(ctx context.Context, jobName string, executionID int64) error

	// JobNames は登録されている全てのジョブ名を返します。
	JobNames() []string
}
