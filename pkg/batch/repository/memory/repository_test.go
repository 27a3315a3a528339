package memory_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
	"github.com/tigerroll/batchjob/pkg/batch/repository/memory"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
)

func saveInstance(t *testing.T, repo *memory.MemoryJobRepository, jobName string, runID int64) *core.JobInstance {
	t.Helper()
	params := core.NewJobParameters()
	params.Put("run.id", core.IntParameter(runID))
	ji, err := core.NewJobInstance(jobName, params)
	require.NoError(t, err)
	require.NoError(t, repo.SaveJobInstance(context.Background(), ji))
	return ji
}

func TestMemoryJobRepository_FindInstanceByParameters(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewMemoryJobRepository()
	ji := saveInstance(t, repo, "loadPersons", 1)

	tests := []struct {
		name  string
		key   core.JobParameter
		found bool
	}{
		{name: "同じ値と型", key: core.IntParameter(1), found: true},
		{name: "型が異なる", key: core.StringParameter("1"), found: false},
		{name: "値が異なる", key: core.IntParameter(2), found: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := core.NewJobParameters()
			params.Put("run.id", tt.key)
			got, err := repo.FindJobInstanceByJobNameAndParameters(ctx, "loadPersons", params)
			require.NoError(t, err)
			if tt.found {
				require.NotNil(t, got)
				assert.Equal(t, ji.ID, got.ID)
			} else {
				assert.Nil(t, got)
			}
		})
	}
}

func TestMemoryJobRepository_StoresCopies(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewMemoryJobRepository()
	ji := saveInstance(t, repo, "loadPersons", 1)

	je := core.NewJobExecution(ji, ji.Parameters)
	require.NoError(t, repo.SaveJobExecution(ctx, je))
	se := je.AddStepExecution("personStep")
	require.NoError(t, repo.SaveStepExecution(ctx, se))

	// 保存後の変更は UpdateJobExecution するまで反映されない
	require.NoError(t, je.MarkAsStarted())
	stored, err := repo.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)
	assert.Equal(t, core.BatchStatusStarting, stored.Status)

	se.MarkAsStarted()
	se.ApplyChunk(3, 3, 0, 0)
	require.NoError(t, repo.UpdateJobExecution(ctx, je))
	stored, err = repo.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)
	assert.Equal(t, core.BatchStatusStarted, stored.Status)
	require.Len(t, stored.StepExecutions, 1)
	assert.Equal(t, 3, stored.StepExecutions[0].WriteCount)
	assert.Equal(t, 1, stored.Version)

	stored.StepExecutions[0].WriteCount = 100
	again, err := repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, again.WriteCount)
}

func TestMemoryJobRepository_History(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewMemoryJobRepository()
	first := saveInstance(t, repo, "loadPersons", 1)
	second := saveInstance(t, repo, "loadPersons", 2)

	// 実行 ID の順序とインスタンス ID の順序が逆になるように保存する
	e1 := core.NewJobExecution(second, second.Parameters)
	require.NoError(t, repo.SaveJobExecution(ctx, e1))
	e2 := core.NewJobExecution(first, first.Parameters)
	require.NoError(t, repo.SaveJobExecution(ctx, e2))
	e3 := core.NewJobExecution(first, first.Parameters)
	require.NoError(t, repo.SaveJobExecution(ctx, e3))

	page, total, err := repo.FindJobExecutionsByJobName(ctx, "loadPersons", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 3)
	assert.Equal(t, []int64{e2.ID, e3.ID, e1.ID}, []int64{page[0].ID, page[1].ID, page[2].ID})

	page, total, err = repo.FindJobExecutionsByJobName(ctx, "loadPersons", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, e3.ID, page[0].ID)

	page, total, err = repo.FindJobExecutionsByJobName(ctx, "unknown", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, page)
}

func TestMemoryJobRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewMemoryJobRepository()

	_, err := repo.FindJobExecutionByID(ctx, 42)
	assert.Equal(t, exception.CodeExecutionNotFound, exception.CodeOf(err))
	assert.Equal(t, exception.KindNotFound, exception.KindOf(err))

	ghost := core.RestoreJobExecution(core.JobExecution{ID: 7})
	err = repo.UpdateJobExecution(ctx, ghost)
	assert.Equal(t, exception.KindNotFound, exception.KindOf(err))

	latest, err := repo.FindLatestJobExecution(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestMemoryJobRepository_VersionCheck(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewMemoryJobRepository()
	ji := saveInstance(t, repo, "loadPersons", 1)

	je := core.NewJobExecution(ji, ji.Parameters)
	require.NoError(t, repo.SaveJobExecution(ctx, je))
	stale, err := repo.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)

	require.NoError(t, je.MarkAsStarted())
	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- repo.UpdateJobExecution(ctx, je)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, writers, je.Snapshot().Version)

	tests := []struct {
		name    string
		target  func(t *testing.T) *core.JobExecution
		code    string
		version int
	}{
		{
			name:    "古いスナップショットからの更新は競合する",
			target:  func(t *testing.T) *core.JobExecution { return stale },
			code:    exception.CodeExecutionConflict,
			version: writers,
		},
		{
			name: "読み直した値からの更新は成功する",
			target: func(t *testing.T) *core.JobExecution {
				fresh, err := repo.FindJobExecutionByID(ctx, je.ID)
				require.NoError(t, err)
				return fresh
			},
			version: writers + 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := tt.target(t)
			require.True(t, target.RequestStop())
			err := repo.UpdateJobExecution(ctx, target)
			if tt.code != "" {
				require.Error(t, err)
				assert.Equal(t, tt.code, exception.CodeOf(err))
				assert.Equal(t, exception.KindConflict, exception.KindOf(err))
			} else {
				require.NoError(t, err)
			}
			stored, err := repo.FindJobExecutionByID(ctx, je.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.version, stored.Version)
		})
	}

	stored, err := repo.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)
	assert.Equal(t, core.BatchStatusStopping, stored.Status)
}
