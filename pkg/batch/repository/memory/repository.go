// Package memory はプロセス内で完結する JobRepository の実装を提供します。
// テストと、永続化を必要としないデフォルト構成で使用されます。
package memory

import (
	"context"
	"sort"
	"sync"

	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
	"github.com/tigerroll/batchjob/pkg/batch/repository/job"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
	logger "github.com/tigerroll/batchjob/pkg/batch/util/logger"
)

// MemoryJobRepository は JobRepository インターフェースのインメモリ実装です。
// 保存時と取得時にコピーを作成するため、呼び出し元の実行中インスタンスと状態を共有しません。
type MemoryJobRepository struct {
	mu sync.RWMutex

	lastInstanceID  int64
	lastExecutionID int64
	lastStepID      int64

	instances  map[int64]*core.JobInstance
	executions map[int64]*core.JobExecution
	steps      map[int64]*core.StepExecution
}

// NewMemoryJobRepository は新しい MemoryJobRepository のインスタンスを作成します。
func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{
		instances:  make(map[int64]*core.JobInstance),
		executions: make(map[int64]*core.JobExecution),
		steps:      make(map[int64]*core.StepExecution),
	}
}

func copyInstance(ji *core.JobInstance) *core.JobInstance {
	cp := *ji
	cp.Parameters = ji.Parameters.Copy()
	return &cp
}

// SaveJobInstance は新しい JobInstance を保存します。
func (r *MemoryJobRepository) SaveJobInstance(ctx context.Context, jobInstance *core.JobInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastInstanceID++
	jobInstance.ID = r.lastInstanceID
	r.instances[jobInstance.ID] = copyInstance(jobInstance)
	logger.Debugf("JobInstance (ID: %d, JobName: %s) を保存しました。", jobInstance.ID, jobInstance.JobName)
	return nil
}

// FindJobInstanceByJobNameAndParameters はジョブ名と識別パラメータのハッシュで JobInstance を検索します。
func (r *MemoryJobRepository) FindJobInstanceByJobNameAndParameters(ctx context.Context, jobName string, params core.JobParameters) (*core.JobInstance, error) {
	hash, err := params.Hash()
	if err != nil {
		return nil, exception.NewBatchError("job_repository", "検索用 JobParameters のハッシュ計算に失敗しました", err, false, false)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ji := range r.instances {
		if ji.JobName == jobName && ji.ParametersHash == hash {
			return copyInstance(ji), nil
		}
	}
	return nil, nil
}

// FindJobInstanceByID は指定された ID の JobInstance を返します。
func (r *MemoryJobRepository) FindJobInstanceByID(ctx context.Context, instanceID int64) (*core.JobInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ji, ok := r.instances[instanceID]
	if !ok {
		return nil, job.ErrInstanceNotFound(instanceID)
	}
	return copyInstance(ji), nil
}

// GetJobInstanceCount は指定されたジョブ名の JobInstance の数を返します。
func (r *MemoryJobRepository) GetJobInstanceCount(ctx context.Context, jobName string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, ji := range r.instances {
		if ji.JobName == jobName {
			count++
		}
	}
	return count, nil
}

// GetJobNames は保存されている JobInstance のジョブ名を重複なしでソートして返します。
func (r *MemoryJobRepository) GetJobNames(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	names := make([]string, 0)
	for _, ji := range r.instances {
		if _, ok := seen[ji.JobName]; !ok {
			seen[ji.JobName] = struct{}{}
			names = append(names, ji.JobName)
		}
	}
	sort.Strings(names)
	return names, nil
}

// storeExecution は StepExecution を除いたコピーを保存し、ID を持つ StepExecution は個別に更新します。
func (r *MemoryJobRepository) storeExecution(snapshot *core.JobExecution) {
	for _, se := range snapshot.StepExecutions {
		if se.ID != 0 {
			r.steps[se.ID] = se.Copy()
		}
	}
	snapshot.StepExecutions = nil
	r.executions[snapshot.ID] = snapshot
}

// SaveJobExecution は新しい JobExecution を保存します。
func (r *MemoryJobRepository) SaveJobExecution(ctx context.Context, jobExecution *core.JobExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastExecutionID++
	jobExecution.SetID(r.lastExecutionID)
	r.storeExecution(jobExecution.Snapshot())
	logger.Debugf("JobExecution (ID: %d, JobName: %s) を保存しました。", r.lastExecutionID, jobExecution.JobName)
	return nil
}

// UpdateJobExecution は保存済みの Version が一致する場合に JobExecution を更新します。
func (r *MemoryJobRepository) UpdateJobExecution(ctx context.Context, jobExecution *core.JobExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rev, expected := jobExecution.NextRevision()
	stored, ok := r.executions[rev.ID]
	if !ok {
		return job.ErrExecutionNotFound(rev.ID)
	}
	if stored.Version != expected {
		return job.ErrVersionConflict(rev.ID, expected)
	}
	r.storeExecution(rev)
	jobExecution.CommitRevision(rev)
	return nil
}

// assemble は保存済みの JobExecution に StepExecution を結合したコピーを返します。呼び出し元がロックを保持します。
func (r *MemoryJobRepository) assemble(stored *core.JobExecution) *core.JobExecution {
	cp := stored.Snapshot()
	steps := r.stepsOf(cp.ID)
	cp.AttachStepExecutions(steps)
	return cp
}

func (r *MemoryJobRepository) stepsOf(jobExecutionID int64) []*core.StepExecution {
	steps := make([]*core.StepExecution, 0)
	for _, se := range r.steps {
		if se.JobExecutionID == jobExecutionID {
			steps = append(steps, se.Copy())
		}
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].ID < steps[j].ID })
	return steps
}

// FindJobExecutionByID は指定された ID の JobExecution を返します。
func (r *MemoryJobRepository) FindJobExecutionByID(ctx context.Context, executionID int64) (*core.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored, ok := r.executions[executionID]
	if !ok {
		return nil, job.ErrExecutionNotFound(executionID)
	}
	return r.assemble(stored), nil
}

// FindLatestJobExecution は指定された JobInstance の最新の JobExecution を返します。
func (r *MemoryJobRepository) FindLatestJobExecution(ctx context.Context, jobInstanceID int64) (*core.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *core.JobExecution
	for _, je := range r.executions {
		if je.JobInstanceID == jobInstanceID && (latest == nil || je.ID > latest.ID) {
			latest = je
		}
	}
	if latest == nil {
		return nil, nil
	}
	return r.assemble(latest), nil
}

// FindJobExecutionsByJobInstance は JobInstance に属する JobExecution を ID 順に返します。
func (r *MemoryJobRepository) FindJobExecutionsByJobInstance(ctx context.Context, jobInstance *core.JobInstance) ([]*core.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*core.JobExecution, 0)
	for _, je := range r.executions {
		if je.JobInstanceID == jobInstance.ID {
			result = append(result, r.assemble(je))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// FindJobExecutionsByJobName はジョブの実行履歴のページと総件数を返します。
func (r *MemoryJobRepository) FindJobExecutionsByJobName(ctx context.Context, jobName string, offset, limit int) ([]*core.JobExecution, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	matched := make([]*core.JobExecution, 0)
	for _, je := range r.executions {
		if je.JobName == jobName {
			matched = append(matched, je)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].JobInstanceID != matched[j].JobInstanceID {
			return matched[i].JobInstanceID < matched[j].JobInstanceID
		}
		return matched[i].ID < matched[j].ID
	})
	total := len(matched)
	if offset >= total {
		return []*core.JobExecution{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	page := make([]*core.JobExecution, 0, end-offset)
	for _, je := range matched[offset:end] {
		page = append(page, r.assemble(je))
	}
	return page, total, nil
}

// SaveStepExecution は新しい StepExecution を保存します。
func (r *MemoryJobRepository) SaveStepExecution(ctx context.Context, stepExecution *core.StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastStepID++
	stepExecution.SetID(r.lastStepID)
	r.steps[r.lastStepID] = stepExecution.Copy()
	return nil
}

// UpdateStepExecution は既存の StepExecution を更新します。
func (r *MemoryJobRepository) UpdateStepExecution(ctx context.Context, stepExecution *core.StepExecution) error {
	cp := stepExecution.Copy()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.steps[cp.ID]; !ok {
		return job.ErrStepExecutionNotFound(cp.ID)
	}
	r.steps[cp.ID] = cp
	return nil
}

// FindStepExecutionByID は指定された ID の StepExecution を返します。
func (r *MemoryJobRepository) FindStepExecutionByID(ctx context.Context, stepExecutionID int64) (*core.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	se, ok := r.steps[stepExecutionID]
	if !ok {
		return nil, job.ErrStepExecutionNotFound(stepExecutionID)
	}
	return se.Copy(), nil
}

// FindStepExecutionsByJobExecutionID は JobExecution に属する StepExecution を ID 順に返します。
func (r *MemoryJobRepository) FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID int64) ([]*core.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stepsOf(jobExecutionID), nil
}

// Close は何もしません。
func (r *MemoryJobRepository) Close() error {
	return nil
}

var _ job.JobRepository = (*MemoryJobRepository)(nil)
