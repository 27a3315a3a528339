package badger_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
	badgerrepo "github.com/tigerroll/batchjob/pkg/batch/repository/badger"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
)

func openRepo(t *testing.T) *badgerrepo.BadgerJobRepository {
	t.Helper()
	repo, err := badgerrepo.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func newInstance(t *testing.T, repo *badgerrepo.BadgerJobRepository, jobName, date string) *core.JobInstance {
	t.Helper()
	params := core.NewJobParameters()
	params.Put("date", core.StringParameter(date))
	params.Put(core.TimestampKey, core.JobParameter{Type: core.ParameterTypeInteger, Value: int64(1), Identifying: false})
	ji, err := core.NewJobInstance(jobName, params)
	require.NoError(t, err)
	require.NoError(t, repo.SaveJobInstance(context.Background(), ji))
	return ji
}

func TestBadgerJobRepository_Instances(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)

	first := newInstance(t, repo, "loadPersons", "2024-01-01")
	second := newInstance(t, repo, "loadPersons", "2024-01-02")
	newInstance(t, repo, "cleanup", "2024-01-01")

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)

	lookup := core.NewJobParameters()
	lookup.Put("date", core.StringParameter("2024-01-02"))
	found, err := repo.FindJobInstanceByJobNameAndParameters(ctx, "loadPersons", lookup)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, second.ID, found.ID)
	_, hasTimestamp := found.Parameters.Get(core.TimestampKey)
	assert.False(t, hasTimestamp)

	missing := core.NewJobParameters()
	missing.Put("date", core.StringParameter("1999-01-01"))
	found, err = repo.FindJobInstanceByJobNameAndParameters(ctx, "loadPersons", missing)
	require.NoError(t, err)
	assert.Nil(t, found)

	count, err := repo.GetJobInstanceCount(ctx, "loadPersons")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	names, err := repo.GetJobNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"cleanup", "loadPersons"}, names)

	_, err = repo.FindJobInstanceByID(ctx, 99)
	assert.Equal(t, exception.KindNotFound, exception.KindOf(err))
}

func TestBadgerJobRepository_Executions(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)
	ji := newInstance(t, repo, "loadPersons", "2024-01-01")

	je := core.NewJobExecution(ji, ji.Parameters)
	require.NoError(t, repo.SaveJobExecution(ctx, je))
	require.NotZero(t, je.ID)

	require.NoError(t, je.MarkAsStarted())
	se := je.AddStepExecution("personStep")
	require.NoError(t, repo.SaveStepExecution(ctx, se))
	se.MarkAsStarted()
	se.ApplyChunk(10, 9, 1, 0)
	require.NoError(t, repo.UpdateStepExecution(ctx, se))
	se.MarkAsCompleted()
	require.NoError(t, je.MarkAsCompleted())
	require.NoError(t, repo.UpdateJobExecution(ctx, je))

	loaded, err := repo.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)
	assert.Equal(t, core.BatchStatusCompleted, loaded.Status)
	assert.Equal(t, core.ExitStatusCompleted, loaded.ExitStatus)
	assert.Equal(t, je.RunID, loaded.RunID)
	require.NotNil(t, loaded.StartTime)
	require.NotNil(t, loaded.EndTime)
	require.Len(t, loaded.StepExecutions, 1)
	step := loaded.StepExecutions[0]
	assert.Equal(t, "personStep", step.StepName)
	assert.Equal(t, core.BatchStatusCompleted, step.Status)
	assert.Equal(t, 10, step.ReadCount)
	assert.Equal(t, 9, step.WriteCount)
	assert.Equal(t, 1, step.SkipCount)
	assert.Equal(t, 1, step.CommitCount)

	latest, err := repo.FindLatestJobExecution(ctx, ji.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, je.ID, latest.ID)

	_, err = repo.FindJobExecutionByID(ctx, 999)
	assert.Equal(t, exception.CodeExecutionNotFound, exception.CodeOf(err))
}

func TestBadgerJobRepository_History(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)

	var ids []int64
	for _, date := range []string{"2024-01-01", "2024-01-02", "2024-01-03"} {
		ji := newInstance(t, repo, "loadPersons", date)
		je := core.NewJobExecution(ji, ji.Parameters)
		require.NoError(t, repo.SaveJobExecution(ctx, je))
		ids = append(ids, je.ID)
	}

	tests := []struct {
		name     string
		offset   int
		limit    int
		expected []int64
	}{
		{name: "先頭ページ", offset: 0, limit: 2, expected: ids[:2]},
		{name: "次のページ", offset: 2, limit: 2, expected: ids[2:]},
		{name: "範囲外", offset: 5, limit: 2, expected: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, total, err := repo.FindJobExecutionsByJobName(ctx, "loadPersons", tt.offset, tt.limit)
			require.NoError(t, err)
			assert.Equal(t, 3, total)
			var got []int64
			for _, je := range page {
				got = append(got, je.ID)
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestBadgerJobRepository_VersionCheck(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)
	ji := newInstance(t, repo, "loadPersons", "2024-01-01")

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
