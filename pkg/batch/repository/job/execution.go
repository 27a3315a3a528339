package job

import (
	"context"
	"sync"

	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
)

// JobExecution は JobExecution の永続化と取得に関する操作を定義します。
// 実装は渡されたインスタンスのコピーを保存し、呼び出し元と状態を共有しません。
type JobExecution interface {
	// SaveJobExecution は新しい JobExecution を永続化し、採番した ID を設定します。
	SaveJobExecution(ctx context.Context, jobExecution *core.JobExecution) error

	// UpdateJobExecution は既存の JobExecution の状態を更新します。
	// 保存済みの Version が jobExecution の Version と一致しない場合は
	// EXECUTION_VERSION_CONFLICT の BatchError を返し、何も書き込みません。
	UpdateJobExecution(ctx context.Context, jobExecution *core.JobExecution) error

	// FindJobExecutionByID は指定された ID の JobExecution を StepExecution を含めて検索します。
	// 見つからない場合は EXECUTION_NOT_FOUND の BatchError を返します。
	FindJobExecutionByID(ctx context.Context, executionID int64) (*core.JobExecution, error)

	// FindLatestJobExecution は指定された JobInstance の最新の JobExecution を検索します。
	// 実行が一つもない場合は nil, nil を返します。
	FindLatestJobExecution(ctx context.Context, jobInstanceID int64) (*core.JobExecution, error)

	// FindJobExecutionsByJobInstance は指定された JobInstance に関連する全ての JobExecution を ID 順に返します。
	FindJobExecutionsByJobInstance(ctx context.Context, jobInstance *core.JobInstance) ([]*core.JobExecution, error)

	// FindJobExecutionsByJobName はジョブの実行履歴をインスタンス ID、実行 ID の昇順で
	// offset から最大 limit 件返し、あわせて総件数を返します。
	FindJobExecutionsByJobName(ctx context.Context, jobName string, offset, limit int) ([]*core.JobExecution, int, error)
}

const executionLockStripes = 64

// ExecutionLocks は JobExecution の ID ごとに更新を直列化します。
// 同じインスタンスを共有する書き手同士が、古いスナップショットで新しい状態を上書きしないようにします。
type ExecutionLocks struct {
	stripes [executionLockStripes]sync.Mutex
}

// Lock は executionID に対応するロックを取得し、解放する関数を返します。
func (l *ExecutionLocks) Lock(executionID int64) func() {
	m := &l.stripes[uint64(executionID)%executionLockStripes]
	m.Lock()
	return m.Unlock
}
