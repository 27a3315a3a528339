// Package joblauncher はジョブの起動と実行中のジョブへの停止要求を扱います。
package joblauncher

import (
	"context"

	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
)

// JobLauncher はジョブ名と文字列パラメータからジョブを起動するためのインターフェースです。
type JobLauncher interface {
	// Launch はジョブを非同期に起動し、STARTING 状態のスナップショットを返します。
	// ここで返されるエラーは起動処理自体のエラーで、ジョブの実行エラーは実行結果に記録されます。
	Launch(ctx context.Context, jobName string, params map[string]string) (*core.JobExecution, error)

	// LaunchAndWait はジョブを起動し、終了するまで待ってから最終状態のスナップショットを返します。
	LaunchAndWait(ctx context.Context, jobName string, params map[string]string) (*core.JobExecution, error)

	// Stop は実行中のジョブに停止を要求します。
	Stop(ctx context.Context, executionID int64) error

	// Abandon は終了していない実行を ABANDONED にします。
	Abandon(ctx context.Context, executionID int64) error

	// Active は実行中の JobExecution のスナップショットを返します。
	Active(executionID int64) (*core.JobExecution, bool)
}
