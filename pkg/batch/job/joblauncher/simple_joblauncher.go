package joblauncher

import (
	"context"
	"fmt"
	"math"
	"sync"

	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
	"github.com/tigerroll/batchjob/pkg/batch/job/parameters"
	"github.com/tigerroll/batchjob/pkg/batch/job/registry"
	"github.com/tigerroll/batchjob/pkg/batch/job/runner"
	"github.com/tigerroll/batchjob/pkg/batch/repository/job"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
	logger "github.com/tigerroll/batchjob/pkg/batch/util/logger"
)

// activeRun は実行中のジョブの状態です。execution はワーカーと停止要求の双方から参照されます。
type activeRun struct {
	execution *core.JobExecution
	done      chan struct{}
}

// SimpleJobLauncher は JobLauncher インターフェースのシンプルな実装です。
// ジョブごとに goroutine を起動し、同一 JobInstance の重複実行をレジストリのロックの下で防ぎます。
type SimpleJobLauncher struct {
	registry      *registry.JobRegistry
	jobRepository job.JobRepository
	codec         *parameters.Codec
	callbacks     []core.Callbacks
	baseCtx       context.Context

	mu     sync.Mutex
	active map[int64]*activeRun
	wg     sync.WaitGroup
}

// NewSimpleJobLauncher は新しい SimpleJobLauncher のインスタンスを作成します。
func NewSimpleJobLauncher(reg *registry.JobRegistry, jobRepository job.JobRepository) *SimpleJobLauncher {
	return &SimpleJobLauncher{
		registry:      reg,
		jobRepository: jobRepository,
		codec:         parameters.NewCodec(),
		baseCtx:       context.Background(),
		active:        make(map[int64]*activeRun),
	}
}

// WithCallbacks は全てのジョブに追加で適用するコールバックを設定します。
func (l *SimpleJobLauncher) WithCallbacks(callbacks ...core.Callbacks) *SimpleJobLauncher {
	l.callbacks = append(l.callbacks, callbacks...)
	return l
}

// WithCodec はパラメータの変換に使用する Codec を差し替えます。
func (l *SimpleJobLauncher) WithCodec(codec *parameters.Codec) *SimpleJobLauncher {
	l.codec = codec
	return l
}

// WithBaseContext はジョブのワーカーに渡すコンテキストを設定します。
// このコンテキストがキャンセルされると、実行中のジョブは次のチャンク境界で停止します。
func (l *SimpleJobLauncher) WithBaseContext(ctx context.Context) *SimpleJobLauncher {
	l.baseCtx = ctx
	return l
}

// Launch はジョブを非同期に起動し、STARTING 状態のスナップショットを返します。
func (l *SimpleJobLauncher) Launch(ctx context.Context, jobName string, raw map[string]string) (*core.JobExecution, error) {
	run, err := l.start(ctx, jobName, raw)
	if err != nil {
		return nil, err
	}
	return run.snapshot, nil
}

// LaunchAndWait はジョブを起動し、終了するまで待ってから最終状態のスナップショットを返します。
// ctx がキャンセルされた場合は待機をやめ、その時点のスナップショットとエラーを返します。
func (l *SimpleJobLauncher) LaunchAndWait(ctx context.Context, jobName string, raw map[string]string) (*core.JobExecution, error) {
	run, err := l.start(ctx, jobName, raw)
	if err != nil {
		return nil, err
	}
	select {
	case <-run.done:
		return run.execution.Snapshot(), nil
	case <-ctx.Done():
		return run.execution.Snapshot(), ctx.Err()
	}
}

type started struct {
	*activeRun
	snapshot *core.JobExecution
}

func (l *SimpleJobLauncher) start(ctx context.Context, jobName string, raw map[string]string) (*started, error) {
	module := "job_launcher"
	logger.Infof("ジョブ '%s' の起動を開始します。", jobName)

	def, err := l.registry.Get(jobName)
	if err != nil {
		return nil, err
	}

	params, err := l.codec.Parse(parameters.MergeDefaults(def.DefaultParameters, raw))
	if err != nil {
		return nil, err
	}
	if err := parameters.Validate(def, params); err != nil {
		logger.Warnf("ジョブ '%s': JobParameters のバリデーションに失敗しました: %v", jobName, err)
		return nil, err
	}

	var run *activeRun
	err = l.registry.WithLock(func(locked registry.Locked) error {
		current, err := locked.Get(jobName)
		if err != nil {
			return err
		}
		def = current
		if params, err = l.increment(ctx, def, params); err != nil {
			return err
		}
		instance, err := l.findOrCreateInstance(ctx, jobName, params)
		if err != nil {
			return err
		}
		latest, err := l.jobRepository.FindLatestJobExecution(ctx, instance.ID)
		if err != nil {
			return exception.NewInternalError(exception.CodeJobLaunchFailed, module,
				fmt.Sprintf("JobInstance (ID: %d) の最新 JobExecution の検索に失敗しました", instance.ID), err)
		}
		if latest != nil && !latest.Status.IsFinished() {
			return exception.NewConflictError(exception.CodeJobInstanceExists, module,
				fmt.Sprintf("ジョブ '%s' の JobInstance (ID: %d) は実行中です (Execution ID: %d, ステータス: %s)", jobName, instance.ID, latest.ID, latest.Status))
		}

		execution := core.NewJobExecution(instance, params)
		if err := l.jobRepository.SaveJobExecution(ctx, execution); err != nil {
			return exception.NewInternalError(exception.CodeJobLaunchFailed, module, "JobExecution の初期保存に失敗しました", err)
		}
		run = &activeRun{execution: execution, done: make(chan struct{})}
		l.mu.Lock()
		l.active[execution.ID] = run
		l.mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	snapshot := run.execution.Snapshot()
	logger.Infof("ジョブ '%s' (Execution ID: %d, Job Instance ID: %d) を起動します。", jobName, snapshot.ID, snapshot.JobInstanceID)

	l.wg.Add(1)
	go l.execute(def, run)
	return &started{activeRun: run, snapshot: snapshot}, nil
}

// increment はジョブ定義の incrementer を適用します。呼び出し元がレジストリのロックを保持します。
func (l *SimpleJobLauncher) increment(ctx context.Context, def core.JobDefinition, params core.JobParameters) (core.JobParameters, error) {
	switch inc := def.Incrementer.(type) {
	case nil:
		return params, nil
	case core.PreviousParametersIncrementer:
		previous, err := l.previousParameters(ctx, def.Name)
		if err != nil {
			return core.JobParameters{}, exception.NewInternalError(exception.CodeJobLaunchFailed, "job_launcher",
				fmt.Sprintf("ジョブ '%s' の直前の実行の検索に失敗しました", def.Name), err)
		}
		return inc.GetNextFrom(previous, params), nil
	default:
		return inc.GetNext(params), nil
	}
}

// previousParameters は履歴の末尾、つまり最も新しい JobInstance の最新の実行のパラメータを返します。
func (l *SimpleJobLauncher) previousParameters(ctx context.Context, jobName string) (*core.JobParameters, error) {
	_, total, err := l.jobRepository.FindJobExecutionsByJobName(ctx, jobName, math.MaxInt, 1)
	if err != nil || total == 0 {
		return nil, err
	}
	executions, _, err := l.jobRepository.FindJobExecutionsByJobName(ctx, jobName, total-1, 1)
	if err != nil || len(executions) == 0 {
		return nil, err
	}
	previous := executions[0].Parameters
	return &previous, nil
}

func (l *SimpleJobLauncher) findOrCreateInstance(ctx context.Context, jobName string, params core.JobParameters) (*core.JobInstance, error) {
	module := "job_launcher"
	identifying := params.Identifying()
	instance, err := l.jobRepository.FindJobInstanceByJobNameAndParameters(ctx, jobName, identifying)
	if err != nil {
		return nil, exception.NewInternalError(exception.CodeJobLaunchFailed, module, "JobInstance の検索に失敗しました", err)
	}
	if instance != nil {
		logger.Debugf("既存の JobInstance (ID: %d, JobName: %s) を使用します。", instance.ID, jobName)
		return instance, nil
	}
	instance, err = core.NewJobInstance(jobName, params)
	if err != nil {
		return nil, exception.NewInternalError(exception.CodeJobLaunchFailed, module, "JobInstance の作成に失敗しました", err)
	}
	if err := l.jobRepository.SaveJobInstance(ctx, instance); err != nil {
		return nil, exception.NewInternalError(exception.CodeJobLaunchFailed, module, "JobInstance の保存に失敗しました", err)
	}
	logger.Infof("新しい JobInstance (ID: %d, JobName: %s) を作成しました。", instance.ID, jobName)
	return instance, nil
}

func (l *SimpleJobLauncher) execute(def core.JobDefinition, run *activeRun) {
	defer l.wg.Done()
	defer func() {
		l.mu.Lock()
		delete(l.active, run.execution.ID)
		l.mu.Unlock()
		close(run.done)
	}()
	job := runner.NewSimpleJob(def, l.jobRepository, l.callbacks...)
	if err := job.Run(l.baseCtx, run.execution); err != nil {
		logger.Errorf("ジョブ '%s' (Execution ID: %d) は失敗しました: %v", def.Name, run.execution.ID, err)
	}
}

// Active は実行中の JobExecution のスナップショットを返します。
func (l *SimpleJobLauncher) Active(executionID int64) (*core.JobExecution, bool) {
	run, ok := l.lookup(executionID)
	if !ok {
		return nil, false
	}
	return run.execution.Snapshot(), true
}

// ActiveCount は実行中のジョブの数を返します。
func (l *SimpleJobLauncher) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}

// Wait は実行中の全てのジョブが終了するまで待ちます。
func (l *SimpleJobLauncher) Wait() {
	l.wg.Wait()
}

func (l *SimpleJobLauncher) lookup(executionID int64) (*activeRun, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	run, ok := l.active[executionID]
	return run, ok
}

// withWorkerOrLocked は executionID のワーカーがいれば active を、いなければ persisted を呼び出します。
// start は JobExecution の保存と active への登録をレジストリのロックの下で行うため、
// ワーカーがいない場合の判定も同じロックの下で行います。
func (l *SimpleJobLauncher) withWorkerOrLocked(executionID int64, active func(*activeRun) error, persisted func() error) error {
	if run, ok := l.lookup(executionID); ok {
		return active(run)
	}
	return l.registry.WithLock(func(registry.Locked) error {
		if run, ok := l.lookup(executionID); ok {
			return active(run)
		}
		return persisted()
	})
}

// Stop は STARTING または STARTED の実行を STOPPING にします。
// ワーカーは次のチャンクのコミット後に停止要求を検知し、STOPPED で終了します。
func (l *SimpleJobLauncher) Stop(ctx context.Context, executionID int64) error {
	module := "job_launcher"
	return l.withWorkerOrLocked(executionID,
		func(run *activeRun) error {
			if !run.execution.RequestStop() {
				return notRunning(executionID, run.execution.CurrentStatus())
			}
			if err := l.jobRepository.UpdateJobExecution(ctx, run.execution); err != nil {
				return exception.NewInternalError(exception.CodeJobStopFailed, module,
					fmt.Sprintf("JobExecution (ID: %d) の停止要求の永続化に失敗しました", executionID), err)
			}
			logger.Infof("JobExecution (ID: %d) に停止を要求しました。", executionID)
			return nil
		},
		func() error {
			// このプロセスにワーカーがいない実行は、その場で STOPPED にする
			execution, err := l.jobRepository.FindJobExecutionByID(ctx, executionID)
			if err != nil {
				return err
			}
			if !execution.RequestStop() {
				return notRunning(executionID, execution.Status)
			}
			if err := execution.MarkAsStopped(); err != nil {
				return exception.NewInternalError(exception.CodeJobStopFailed, module, "JobExecution の停止に失敗しました", err)
			}
			if err := l.jobRepository.UpdateJobExecution(ctx, execution); err != nil {
				if exception.CodeOf(err) == exception.CodeExecutionConflict {
					return err
				}
				return exception.NewInternalError(exception.CodeJobStopFailed, module,
					fmt.Sprintf("JobExecution (ID: %d) の停止の永続化に失敗しました", executionID), err)
			}
			logger.Warnf("JobExecution (ID: %d) はワーカーが存在しないため、直ちに STOPPED にしました。", executionID)
			return nil
		})
}

// Abandon は終了していない実行を ABANDONED にします。
// 実行中のワーカーは次のチャンク境界で処理を止めます。
func (l *SimpleJobLauncher) Abandon(ctx context.Context, executionID int64) error {
	module := "job_launcher"
	abandon := func(execution *core.JobExecution) error {
		if err := execution.MarkAsAbandoned(); err != nil {
			return notRunning(executionID, execution.CurrentStatus())
		}
		if err := l.jobRepository.UpdateJobExecution(ctx, execution); err != nil {
			if exception.CodeOf(err) == exception.CodeExecutionConflict {
				return err
			}
			return exception.NewInternalError(exception.CodeJobStopFailed, module,
				fmt.Sprintf("JobExecution (ID: %d) の放棄の永続化に失敗しました", executionID), err)
		}
		logger.Warnf("JobExecution (ID: %d) を ABANDONED にしました。", executionID)
		return nil
	}
	return l.withWorkerOrLocked(executionID,
		func(run *activeRun) error {
			return abandon(run.execution)
		},
		func() error {
			execution, err := l.jobRepository.FindJobExecutionByID(ctx, executionID)
			if err != nil {
				return err
			}
			return abandon(execution)
		})
}

func notRunning(executionID int64, status core.JobStatus) error {
	return exception.NewConflictError(exception.CodeJobNotRunning, "job_launcher",
		fmt.Sprintf("JobExecution (ID: %d) は実行中ではありません (ステータス: %s)", executionID, status))
}

var _ JobLauncher = (*SimpleJobLauncher)(nil)
