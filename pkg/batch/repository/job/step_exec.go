package job

import (
	"context"

	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
)

// StepExecution は StepExecution の永続化と取得に関する操作を定義します。
type StepExecution interface {
	// SaveStepExecution は新しい StepExecution を永続化し、採番した ID を設定します。
	SaveStepExecution(ctx context.Context, stepExecution *core.StepExecution) error

	// UpdateStepExecution は既存の StepExecution の状態を更新します。
	UpdateStepExecution(ctx context.Context, stepExecution *core.StepExecution) error

	// FindStepExecutionByID は指定された ID の StepExecution を検索します。
	FindStepExecutionByID(ctx context.Context, stepExecutionID int64) (*core.StepExecution, error)

	// FindStepExecutionsByJobExecutionID は指定された JobExecution の StepExecution を ID 順に返します。
	FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID int64) ([]*core.StepExecution, error)
}
