// Package runner はジョブ定義のステップを順に実行します。
package runner

import (
	"context"
	"errors"
	"fmt"

	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
	"github.com/tigerroll/batchjob/pkg/batch/repository/job"
	"github.com/tigerroll/batchjob/pkg/batch/step"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
	logger "github.com/tigerroll/batchjob/pkg/batch/util/logger"
)

// skipNotifier はスキップ通知を受け付けるステップです。
type skipNotifier interface {
	SetSkipFunc(fn step.SkipFunc)
}

// SimpleJob はジョブ定義のステップを定義順に実行します。
type SimpleJob struct {
	def       core.JobDefinition
	repo      job.JobRepository
	callbacks core.Callbacks
}

// NewSimpleJob は新しい SimpleJob のインスタンスを作成します。
// extra のコールバックはジョブ定義のコールバックの後に呼び出されます。
func NewSimpleJob(def core.JobDefinition, repo job.JobRepository, extra ...core.Callbacks) *SimpleJob {
	all := append([]core.Callbacks{def.Callbacks}, extra...)
	return &SimpleJob{def: def, repo: repo, callbacks: core.ComposeCallbacks(all...)}
}

// JobName はジョブ名を返します。
func (j *SimpleJob) JobName() string {
	return j.def.Name
}

// Run はジョブを実行し、最終状態を jobExecution に記録して永続化します。
// 戻り値はステップの失敗などジョブが FAILED で終わった原因で、COMPLETED と STOPPED の場合は nil です。
func (j *SimpleJob) Run(ctx context.Context, jobExecution *core.JobExecution) (runErr error) {
	work := context.WithoutCancel(ctx)
	logger.Infof("ジョブ '%s' (Execution ID: %d) を開始します。", j.def.Name, jobExecution.ID)

	defer func() {
		if r := recover(); r != nil {
			runErr = exception.NewInternalError(exception.CodeInternal, "job_runner", fmt.Sprintf("ジョブ '%s' の実行中にパニックが発生しました: %v", j.def.Name, r), nil)
			jobExecution.MarkAsFailed(runErr)
		}
		j.callbacks.OnJobEnd(work, jobExecution.Snapshot())
		j.persist(work, jobExecution)
		snap := jobExecution.Snapshot()
		logger.Infof("ジョブ '%s' (Execution ID: %d) が終了しました。最終ステータス: %s, 終了ステータス: %s",
			j.def.Name, snap.ID, snap.Status, snap.ExitStatus)
	}()

	// 開始前に停止要求を受けていた場合は、ステップを実行せずに停止する
	if jobExecution.IsStopRequested() {
		logger.Warnf("ジョブ '%s' (Execution ID: %d) は開始前に停止要求を受けました。", j.def.Name, jobExecution.ID)
		return j.finishStopped(jobExecution)
	}
	if err := jobExecution.MarkAsStarted(); err != nil {
		if jobExecution.IsStopRequested() {
			return j.finishStopped(jobExecution)
		}
		jobExecution.MarkAsFailed(err)
		return err
	}
	j.persist(work, jobExecution)
	j.callbacks.OnJobStart(work, jobExecution.Snapshot())

	params := jobExecution.Snapshot().Parameters
	for _, def := range j.def.Steps {
		if jobExecution.IsStopRequested() || ctx.Err() != nil {
			return j.finishStopped(jobExecution)
		}

		status, err := j.runStep(ctx, work, jobExecution, def, params)
		switch {
		case status == core.BatchStatusFailed || err != nil:
			if err == nil {
				err = exception.NewInternalError(exception.CodeInternal, "job_runner", fmt.Sprintf("ステップ '%s' が失敗しました", def.Name), nil)
			}
			jobExecution.MarkAsFailed(err)
			return err
		case status == core.BatchStatusStopped:
			return j.finishStopped(jobExecution)
		}
	}

	if err := jobExecution.MarkAsCompleted(); err != nil {
		// 最後のステップの完了後に停止要求を受けた場合
		if jobExecution.IsStopRequested() {
			return j.finishStopped(jobExecution)
		}
		jobExecution.MarkAsFailed(err)
		return err
	}
	return nil
}

// runStep は一つのステップを実行し、その最終状態を返します。
func (j *SimpleJob) runStep(ctx, work context.Context, jobExecution *core.JobExecution, def core.StepDefinition, params core.JobParameters) (core.JobStatus, error) {
	stepExecution := jobExecution.AddStepExecution(def.Name)
	if err := j.repo.SaveStepExecution(work, stepExecution); err != nil {
		stepExecution.MarkAsFailed(err)
		return core.BatchStatusFailed, exception.NewInternalError(exception.CodeInternal, "job_runner",
			fmt.Sprintf("ステップ '%s' の StepExecution の保存に失敗しました", def.Name), err)
	}
	j.callbacks.OnStepStart(work, jobExecution.Snapshot(), stepExecution.Copy())
	defer func() {
		j.callbacks.OnStepEnd(work, jobExecution.Snapshot(), stepExecution.Copy())
	}()

	s, err := def.Factory(work, def, params, j.repo)
	if err != nil {
		stepExecution.MarkAsFailed(err)
		j.persistStep(work, stepExecution)
		return core.BatchStatusFailed, err
	}
	if n, ok := s.(skipNotifier); ok && j.callbacks.OnSkip != nil {
		n.SetSkipFunc(j.callbacks.OnSkip)
	}

	if err := s.Execute(ctx, jobExecution, stepExecution); err != nil {
		if status := stepExecution.CurrentStatus(); !status.IsFinished() {
			stepExecution.MarkAsFailed(err)
			j.persistStep(work, stepExecution)
		}
		return core.BatchStatusFailed, err
	}
	status := stepExecution.CurrentStatus()
	if status == core.BatchStatusFailed {
		return status, errors.New(stepExecution.Copy().ExitDescription)
	}
	return status, nil
}

// finishStopped は実行を STOPPED で終了させます。既に放棄されている場合は何もしません。
func (j *SimpleJob) finishStopped(jobExecution *core.JobExecution) error {
	if jobExecution.CurrentStatus() == core.BatchStatusAbandoned {
		logger.Warnf("ジョブ '%s' (Execution ID: %d) は放棄されたため処理を中断しました。", j.def.Name, jobExecution.ID)
		return nil
	}
	if err := jobExecution.MarkAsStopped(); err != nil {
		jobExecution.MarkAsFailed(err)
		return err
	}
	return nil
}

func (j *SimpleJob) persist(ctx context.Context, jobExecution *core.JobExecution) {
	if err := j.repo.UpdateJobExecution(ctx, jobExecution); err != nil {
		logger.Errorf("JobExecution (ID: %d) の更新に失敗しました: %v", jobExecution.ID, err)
	}
}

func (j *SimpleJob) persistStep(ctx context.Context, stepExecution *core.StepExecution) {
	if err := j.repo.UpdateStepExecution(ctx, stepExecution); err != nil {
		logger.Errorf("StepExecution (ID: %d) の更新に失敗しました: %v", stepExecution.ID, err)
	}
}
