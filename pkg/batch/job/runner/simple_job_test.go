package runner_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
	"github.com/tigerroll/batchjob/pkg/batch/job/runner"
	"github.com/tigerroll/batchjob/pkg/batch/repository/memory"
	"github.com/tigerroll/batchjob/pkg/batch/step"
	"github.com/tigerroll/batchjob/pkg/batch/step/processor"
	"github.com/tigerroll/batchjob/pkg/batch/step/reader"
	"github.com/tigerroll/batchjob/pkg/batch/step/writer"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
)

func numberStep(name string, n, chunkSize, skipLimit int, bad int, sink *[]int) core.StepDefinition {
	return core.StepDefinition{
		Name:      name,
		ChunkSize: chunkSize,
		SkipLimit: skipLimit,
		Factory: step.NewChunkStepFactory(func(ctx context.Context, params core.JobParameters) (step.Components[int, int], error) {
			items := make([]int, n)
			for i := range items {
				items[i] = i + 1
			}
			return step.Components[int, int]{
				Reader: reader.NewSliceReader("numbers", items),
				Processor: processor.FuncProcessor[int, int](func(ctx context.Context, item int) (int, bool, error) {
					if item == bad {
						return 0, false, exception.NewSkippableError("test", fmt.Sprintf("不正な値: %d", item), nil)
					}
					return item * 10, true, nil
				}),
				Writer: writer.FuncWriter[int](func(ctx context.Context, items []int) error {
					*sink = append(*sink, items...)
					return nil
				}),
			}, nil
		}),
	}
}

func newExecution(t *testing.T, repo *memory.MemoryJobRepository, name string) *core.JobExecution {
	t.Helper()
	ctx := context.Background()
	ji, err := core.NewJobInstance(name, core.NewJobParameters())
	require.NoError(t, err)
	require.NoError(t, repo.SaveJobInstance(ctx, ji))
	je := core.NewJobExecution(ji, core.NewJobParameters())
	require.NoError(t, repo.SaveJobExecution(ctx, je))
	return je
}

func TestSimpleJob_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("全ステップが完了すると COMPLETED", func(t *testing.T) {
		repo := memory.NewMemoryJobRepository()
		var first, second []int
		def := core.JobDefinition{
			Name: "twoSteps",
			Steps: []core.StepDefinition{
				numberStep("first", 5, 2, 0, -1, &first),
				numberStep("second", 3, 2, 1, 2, &second),
			},
		}
		var events []string
		cb := core.Callbacks{
			OnJobStart:  func(ctx context.Context, e *core.JobExecution) { events = append(events, "job:start") },
			OnStepStart: func(ctx context.Context, e *core.JobExecution, s *core.StepExecution) { events = append(events, "step:start:"+s.StepName) },
			OnStepEnd:   func(ctx context.Context, e *core.JobExecution, s *core.StepExecution) { events = append(events, "step:end:"+s.StepName) },
			OnSkip:      func(ctx context.Context, s *core.StepExecution, item any, err error) { events = append(events, fmt.Sprintf("skip:%v", item)) },
			OnJobEnd:    func(ctx context.Context, e *core.JobExecution) { events = append(events, "job:end:"+string(e.Status)) },
		}
		je := newExecution(t, repo, def.Name)

		require.NoError(t, runner.NewSimpleJob(def, repo, cb).Run(ctx, je))

		snap := je.Snapshot()
		assert.Equal(t, core.BatchStatusCompleted, snap.Status)
		assert.Equal(t, core.ExitStatusCompleted, snap.ExitStatus)
		require.Len(t, snap.StepExecutions, 2)
		assert.Equal(t, []int{10, 20, 30, 40, 50}, first)
		assert.Equal(t, []int{10, 30}, second)
		read, write, skip := snap.Totals()
		assert.Equal(t, 8, read)
		assert.Equal(t, 7, write)
		assert.Equal(t, 1, skip)
		assert.Equal(t, []string{
			"job:start",
			"step:start:first", "step:end:first",
			"step:start:second", "skip:2", "step:end:second",
			"job:end:COMPLETED",
		}, events)

		stored, err := repo.FindJobExecutionByID(ctx, je.ID)
		require.NoError(t, err)
		assert.Equal(t, core.BatchStatusCompleted, stored.Status)
		assert.Len(t, stored.StepExecutions, 2)
	})

	t.Run("ステップが失敗すると後続のステップは実行されない", func(t *testing.T) {
		repo := memory.NewMemoryJobRepository()
		var first, second []int
		def := core.JobDefinition{
			Name: "failing",
			Steps: []core.StepDefinition{
				numberStep("first", 5, 2, 0, 3, &first),
				numberStep("second", 3, 2, 0, -1, &second),
			},
		}
		je := newExecution(t, repo, def.Name)

		err := runner.NewSimpleJob(def, repo).Run(ctx, je)
		require.Error(t, err)
		assert.Equal(t, exception.CodeSkipLimitExceeded, exception.CodeOf(err))

		snap := je.Snapshot()
		assert.Equal(t, core.BatchStatusFailed, snap.Status)
		assert.Equal(t, core.ExitStatusFailed, snap.ExitStatus)
		assert.NotEmpty(t, snap.ExitDescription)
		require.Len(t, snap.StepExecutions, 1)
		assert.Equal(t, core.BatchStatusFailed, snap.StepExecutions[0].Status)
		assert.Empty(t, second)
	})

	t.Run("ファクトリのエラーで FAILED", func(t *testing.T) {
		repo := memory.NewMemoryJobRepository()
		def := core.JobDefinition{
			Name: "brokenFactory",
			Steps: []core.StepDefinition{{
				Name:      "broken",
				ChunkSize: 1,
				Factory: func(ctx context.Context, def core.StepDefinition, params core.JobParameters, repo core.StepRepository) (core.Step, error) {
					return nil, errors.New("接続できません")
				},
			}},
		}
		je := newExecution(t, repo, def.Name)

		require.Error(t, runner.NewSimpleJob(def, repo).Run(ctx, je))
		snap := je.Snapshot()
		assert.Equal(t, core.BatchStatusFailed, snap.Status)
		assert.Equal(t, core.BatchStatusFailed, snap.StepExecutions[0].Status)
	})

	t.Run("開始前の停止要求で STOPPED", func(t *testing.T) {
		repo := memory.NewMemoryJobRepository()
		var sink []int
		def := core.JobDefinition{Name: "stopped", Steps: []core.StepDefinition{numberStep("only", 3, 1, 0, -1, &sink)}}
		je := newExecution(t, repo, def.Name)
		require.True(t, je.RequestStop())

		require.NoError(t, runner.NewSimpleJob(def, repo).Run(ctx, je))
		snap := je.Snapshot()
		assert.Equal(t, core.BatchStatusStopped, snap.Status)
		assert.Empty(t, snap.StepExecutions)
		assert.Empty(t, sink)
	})

	t.Run("放棄された実行は ABANDONED のまま", func(t *testing.T) {
		repo := memory.NewMemoryJobRepository()
		var sink []int
		def := core.JobDefinition{Name: "abandoned", Steps: []core.StepDefinition{numberStep("only", 3, 1, 0, -1, &sink)}}
		je := newExecution(t, repo, def.Name)
		require.NoError(t, je.MarkAsAbandoned())

		require.NoError(t, runner.NewSimpleJob(def, repo).Run(ctx, je))
		assert.Equal(t, core.BatchStatusAbandoned, je.CurrentStatus())
		assert.Empty(t, sink)
	})

	t.Run("パニックは FAILED として記録される", func(t *testing.T) {
		repo := memory.NewMemoryJobRepository()
		def := core.JobDefinition{
			Name: "panicking",
			Steps: []core.StepDefinition{{
				Name:      "boom",
				ChunkSize: 1,
				Factory: func(ctx context.Context, def core.StepDefinition, params core.JobParameters, repo core.StepRepository) (core.Step, error) {
					panic("boom")
				},
			}},
		}
		je := newExecution(t, repo, def.Name)

		err := runner.NewSimpleJob(def, repo).Run(ctx, je)
		require.Error(t, err)
		assert.Equal(t, core.BatchStatusFailed, je.CurrentStatus())
		stored, err := repo.FindJobExecutionByID(ctx, je.ID)
		require.NoError(t, err)
		assert.Equal(t, core.BatchStatusFailed, stored.Status)
	})
}
