// Package listener はジョブとステップのライフサイクルをログに出力するコールバックを提供します。
package listener

import (
	"context"

	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
	logger "github.com/tigerroll/batchjob/pkg/batch/util/logger"
)

// LoggingCallbacks はジョブとステップの開始・終了、スキップをログに出力する Callbacks を返します。
func LoggingCallbacks() core.Callbacks {
	return core.Callbacks{
		OnJobStart: func(ctx context.Context, e *core.JobExecution) {
			logger.WithExecution(e.ID, e.RunID, "ジョブ '%s' を開始します。パラメータ: %s", e.JobName, e.Parameters.String())
		},
		OnJobEnd: func(ctx context.Context, e *core.JobExecution) {
			read, write, skip := e.Totals()
			logger.WithExecution(e.ID, e.RunID, "ジョブ '%s' が終了しました。ステータス: %s, 終了コード: %s, 読込: %d, 書込: %d, スキップ: %d",
				e.JobName, e.Status, e.ExitStatus, read, write, skip)
			if e.ExitDescription != "" {
				logger.Warnf("ジョブ '%s' の終了説明: %s", e.JobName, e.ExitDescription)
			}
		},
		OnStepStart: func(ctx context.Context, e *core.JobExecution, s *core.StepExecution) {
			logger.Infof("ステップ '%s' (JobExecution ID: %d) を開始します。", s.StepName, e.ID)
		},
		OnStepEnd: func(ctx context.Context, e *core.JobExecution, s *core.StepExecution) {
			logger.Infof("ステップ '%s' が終了しました。ステータス: %s, 読込: %d, 書込: %d, スキップ: %d, フィルタ: %d, コミット: %d, ロールバック: %d",
				s.StepName, s.Status, s.ReadCount, s.WriteCount, s.SkipCount, s.FilterCount, s.CommitCount, s.RollbackCount)
		},
		OnSkip: func(ctx context.Context, s *core.StepExecution, item any, err error) {
			logger.Warnf("ステップ '%s' でアイテムがスキップされました (アイテム: %+v): %v", s.StepName, item, err)
		},
	}
}
