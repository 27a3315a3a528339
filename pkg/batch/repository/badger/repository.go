// Package badger は BadgerDB (badgerhold) を使用した組み込み型の JobRepository 実装を提供します。
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
	"github.com/tigerroll/batchjob/pkg/batch/repository/job"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
	logger "github.com/tigerroll/batchjob/pkg/batch/util/logger"
)

const (
	seqJobInstance   = "seq:job_instance"
	seqJobExecution  = "seq:job_execution"
	seqStepExecution = "seq:step_execution"
	seqBandwidth     = 100
)

// BadgerJobRepository は JobRepository インターフェースの BadgerDB 実装です。
type BadgerJobRepository struct {
	store *badgerhold.Store

	mu        sync.Mutex
	sequences map[string]*badgerdb.Sequence
	locks     job.ExecutionLocks
}

// Open は path にデータベースを開きます。path が空の場合はインメモリで動作します。
func Open(path string) (*BadgerJobRepository, error) {
	options := badgerhold.DefaultOptions
	options.Logger = nil
	if path == "" {
		options.InMemory = true
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, exception.NewBatchError("job_repository", "Badger のデータディレクトリ作成に失敗しました", err, false, false)
		}
		options.Dir = path
		options.ValueDir = path
	}

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, exception.NewBatchError("job_repository", fmt.Sprintf("Badger データベース '%s' のオープンに失敗しました", path), err, false, false)
	}
	logger.Debugf("Badger データベースを開きました (path: %q)。", path)
	return &BadgerJobRepository{store: store, sequences: make(map[string]*badgerdb.Sequence)}, nil
}

// nextID は名前付きシーケンスから次の ID を取得します。ID は 1 から始まります。
func (r *BadgerJobRepository) nextID(name string) (int64, error) {
	r.mu.Lock()
	seq, ok := r.sequences[name]
	if !ok {
		var err error
		seq, err = r.store.Badger().GetSequence([]byte(name), seqBandwidth)
		if err != nil {
			r.mu.Unlock()
			return 0, err
		}
		r.sequences[name] = seq
	}
	r.mu.Unlock()

	v, err := seq.Next()
	if err != nil {
		return 0, err
	}
	return int64(v) + 1, nil
}

func wrap(message string, err error) error {
	return exception.NewBatchError("job_repository", message, err, false, false)
}

// SaveJobInstance は新しい JobInstance を保存します。
func (r *BadgerJobRepository) SaveJobInstance(ctx context.Context, jobInstance *core.JobInstance) error {
	id, err := r.nextID(seqJobInstance)
	if err != nil {
		return wrap("JobInstance の ID 採番に失敗しました", err)
	}
	jobInstance.ID = id
	rec, err := toInstanceRecord(jobInstance)
	if err != nil {
		return wrap("JobInstance JobParameters のシリアライズに失敗しました", err)
	}
	if err := r.store.Insert(id, rec); err != nil {
		return wrap(fmt.Sprintf("JobInstance (ID: %d) の保存に失敗しました", id), err)
	}
	logger.Debugf("JobInstance (ID: %d, JobName: %s) を保存しました。", id, jobInstance.JobName)
	return nil
}

// FindJobInstanceByJobNameAndParameters はジョブ名と識別パラメータのハッシュで JobInstance を検索します。
func (r *BadgerJobRepository) FindJobInstanceByJobNameAndParameters(ctx context.Context, jobName string, params core.JobParameters) (*core.JobInstance, error) {
	hash, err := params.Hash()
	if err != nil {
		return nil, wrap("検索用 JobParameters のハッシュ計算に失敗しました", err)
	}
	var recs []instanceRecord
	if err := r.store.Find(&recs, badgerhold.Where("JobName").Eq(jobName).And("ParametersHash").Eq(hash).Limit(1)); err != nil {
		return nil, wrap(fmt.Sprintf("JobInstance (JobName: %s) の検索に失敗しました", jobName), err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0].toModel()
}

// FindJobInstanceByID は指定された ID の JobInstance を返します。
func (r *BadgerJobRepository) FindJobInstanceByID(ctx context.Context, instanceID int64) (*core.JobInstance, error) {
	var rec instanceRecord
	if err := r.store.Get(instanceID, &rec); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, job.ErrInstanceNotFound(instanceID)
		}
		return nil, wrap(fmt.Sprintf("JobInstance (ID: %d) の取得に失敗しました", instanceID), err)
	}
	return rec.toModel()
}

// GetJobInstanceCount は指定されたジョブ名の JobInstance の数を返します。
func (r *BadgerJobRepository) GetJobInstanceCount(ctx context.Context, jobName string) (int, error) {
	count, err := r.store.Count(&instanceRecord{}, badgerhold.Where("JobName").Eq(jobName))
	if err != nil {
		return 0, wrap(fmt.Sprintf("JobInstance (JobName: %s) の件数取得に失敗しました", jobName), err)
	}
	return int(count), nil
}

// GetJobNames は保存されているジョブ名を重複なしでソートして返します。
func (r *BadgerJobRepository) GetJobNames(ctx context.Context) ([]string, error) {
	var recs []instanceRecord
	if err := r.store.Find(&recs, nil); err != nil {
		return nil, wrap("ジョブ名の取得に失敗しました", err)
	}
	seen := make(map[string]struct{})
	names := make([]string, 0)
	for _, rec := range recs {
		if _, ok := seen[rec.JobName]; !ok {
			seen[rec.JobName] = struct{}{}
			names = append(names, rec.JobName)
		}
	}
	sort.Strings(names)
	return names, nil
}

// SaveJobExecution は新しい JobExecution を保存します。
func (r *BadgerJobRepository) SaveJobExecution(ctx context.Context, jobExecution *core.JobExecution) error {
	id, err := r.nextID(seqJobExecution)
	if err != nil {
		return wrap("JobExecution の ID 採番に失敗しました", err)
	}
	jobExecution.SetID(id)
	rec, err := toExecutionRecord(jobExecution.Snapshot())
	if err != nil {
		return wrap("JobExecution JobParameters のシリアライズに失敗しました", err)
	}
	if err := r.store.Insert(id, rec); err != nil {
		return wrap(fmt.Sprintf("JobExecution (ID: %d) の保存に失敗しました", id), err)
	}
	logger.Debugf("JobExecution (ID: %d, JobName: %s) を保存しました。", id, rec.JobName)
	return nil
}

// UpdateJobExecution は JobExecution と採番済みの StepExecution を一つのトランザクションで更新します。
// 保存済みの Version が一致しない場合は何も書き込まずに競合エラーを返します。
func (r *BadgerJobRepository) UpdateJobExecution(ctx context.Context, jobExecution *core.JobExecution) error {
	defer r.locks.Lock(jobExecution.Snapshot().ID)()
	rev, expected := jobExecution.NextRevision()
	rec, err := toExecutionRecord(rev)
	if err != nil {
		return wrap("JobExecution JobParameters のシリアライズに失敗しました", err)
	}
	err = r.store.Badger().Update(func(tx *badgerdb.Txn) error {
		var stored executionRecord
		if err := r.store.TxGet(tx, rec.ID, &stored); err != nil {
			return err
		}
		if stored.Version != expected {
			return job.ErrVersionConflict(rec.ID, expected)
		}
		if err := r.store.TxUpdate(tx, rec.ID, rec); err != nil {
			return err
		}
		for _, se := range rev.StepExecutions {
			if se.ID == 0 {
				continue
			}
			if err := r.store.TxUpsert(tx, se.ID, toStepRecord(se)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return job.ErrExecutionNotFound(rec.ID)
		}
		if _, ok := exception.As(err); ok {
			return err
		}
		return wrap(fmt.Sprintf("JobExecution (ID: %d) の更新に失敗しました", rec.ID), err)
	}
	jobExecution.CommitRevision(rev)
	return nil
}

func (r *BadgerJobRepository) assemble(rec *executionRecord) (*core.JobExecution, error) {
	je, err := rec.toModel()
	if err != nil {
		return nil, err
	}
	steps, err := r.findSteps(je.ID)
	if err != nil {
		return nil, err
	}
	je.AttachStepExecutions(steps)
	return je, nil
}

func (r *BadgerJobRepository) assembleAll(recs []executionRecord) ([]*core.JobExecution, error) {
	result := make([]*core.JobExecution, 0, len(recs))
	for i := range recs {
		je, err := r.assemble(&recs[i])
		if err != nil {
			return nil, err
		}
		result = append(result, je)
	}
	return result, nil
}

// FindJobExecutionByID は指定された ID の JobExecution を返します。
func (r *BadgerJobRepository) FindJobExecutionByID(ctx context.Context, executionID int64) (*core.JobExecution, error) {
	var rec executionRecord
	if err := r.store.Get(executionID, &rec); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, job.ErrExecutionNotFound(executionID)
		}
		return nil, wrap(fmt.Sprintf("JobExecution (ID: %d) の取得に失敗しました", executionID), err)
	}
	return r.assemble(&rec)
}

// FindLatestJobExecution は指定された JobInstance の最新の JobExecution を返します。
func (r *BadgerJobRepository) FindLatestJobExecution(ctx context.Context, jobInstanceID int64) (*core.JobExecution, error) {
	var recs []executionRecord
	q := badgerhold.Where("JobInstanceID").Eq(jobInstanceID).SortBy("ID").Reverse().Limit(1)
	if err := r.store.Find(&recs, q); err != nil {
		return nil, wrap(fmt.Sprintf("JobInstance (ID: %d) の最新 JobExecution の取得に失敗しました", jobInstanceID), err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return r.assemble(&recs[0])
}

// FindJobExecutionsByJobInstance は JobInstance に属する JobExecution を ID 順に返します。
func (r *BadgerJobRepository) FindJobExecutionsByJobInstance(ctx context.Context, jobInstance *core.JobInstance) ([]*core.JobExecution, error) {
	var recs []executionRecord
	if err := r.store.Find(&recs, badgerhold.Where("JobInstanceID").Eq(jobInstance.ID).SortBy("ID")); err != nil {
		return nil, wrap(fmt.Sprintf("JobInstance (ID: %d) の JobExecution の取得に失敗しました", jobInstance.ID), err)
	}
	return r.assembleAll(recs)
}

// FindJobExecutionsByJobName はジョブの実行履歴のページと総件数を返します。
func (r *BadgerJobRepository) FindJobExecutionsByJobName(ctx context.Context, jobName string, offset, limit int) ([]*core.JobExecution, int, error) {
	count, err := r.store.Count(&executionRecord{}, badgerhold.Where("JobName").Eq(jobName))
	if err != nil {
		return nil, 0, wrap(fmt.Sprintf("ジョブ '%s' の実行件数の取得に失敗しました", jobName), err)
	}
	total := int(count)
	if offset >= total {
		return []*core.JobExecution{}, total, nil
	}
	q := badgerhold.Where("JobName").Eq(jobName).SortBy("JobInstanceID", "ID").Skip(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []executionRecord
	if err := r.store.Find(&recs, q); err != nil {
		return nil, 0, wrap(fmt.Sprintf("ジョブ '%s' の実行履歴の取得に失敗しました", jobName), err)
	}
	executions, err := r.assembleAll(recs)
	if err != nil {
		return nil, 0, wrap("JobExecution の復元に失敗しました", err)
	}
	return executions, total, nil
}

// SaveStepExecution は新しい StepExecution を保存します。
func (r *BadgerJobRepository) SaveStepExecution(ctx context.Context, stepExecution *core.StepExecution) error {
	id, err := r.nextID(seqStepExecution)
	if err != nil {
		return wrap("StepExecution の ID 採番に失敗しました", err)
	}
	stepExecution.SetID(id)
	if err := r.store.Insert(id, toStepRecord(stepExecution.Copy())); err != nil {
		return wrap(fmt.Sprintf("StepExecution (ID: %d) の保存に失敗しました", id), err)
	}
	return nil
}

// UpdateStepExecution は既存の StepExecution を更新します。
func (r *BadgerJobRepository) UpdateStepExecution(ctx context.Context, stepExecution *core.StepExecution) error {
	rec := toStepRecord(stepExecution.Copy())
	defer r.locks.Lock(rec.JobExecutionID)()
	if err := r.store.Update(rec.ID, rec); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return job.ErrStepExecutionNotFound(rec.ID)
		}
		return wrap(fmt.Sprintf("StepExecution (ID: %d) の更新に失敗しました", rec.ID), err)
	}
	return nil
}

// FindStepExecutionByID は指定された ID の StepExecution を返します。
func (r *BadgerJobRepository) FindStepExecutionByID(ctx context.Context, stepExecutionID int64) (*core.StepExecution, error) {
	var rec stepRecord
	if err := r.store.Get(stepExecutionID, &rec); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, job.ErrStepExecutionNotFound(stepExecutionID)
		}
		return nil, wrap(fmt.Sprintf("StepExecution (ID: %d) の取得に失敗しました", stepExecutionID), err)
	}
	return rec.toModel(), nil
}

func (r *BadgerJobRepository) findSteps(jobExecutionID int64) ([]*core.StepExecution, error) {
	var recs []stepRecord
	if err := r.store.Find(&recs, badgerhold.Where("JobExecutionID").Eq(jobExecutionID).SortBy("ID")); err != nil {
		return nil, err
	}
	steps := make([]*core.StepExecution, 0, len(recs))
	for i := range recs {
		steps = append(steps, recs[i].toModel())
	}
	return steps, nil
}

// FindStepExecutionsByJobExecutionID は JobExecution に属する StepExecution を ID 順に返します。
func (r *BadgerJobRepository) FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID int64) ([]*core.StepExecution, error) {
	steps, err := r.findSteps(jobExecutionID)
	if err != nil {
		return nil, wrap(fmt.Sprintf("JobExecution (ID: %d) の StepExecution の取得に失敗しました", jobExecutionID), err)
	}
	return steps, nil
}

// Close はシーケンスを解放してデータベースを閉じます。
func (r *BadgerJobRepository) Close() error {
	r.mu.Lock()
	for name, seq := range r.sequences {
		if err := seq.Release(); err != nil {
			logger.Warnf("Badger シーケンス '%s' の解放に失敗しました: %v", name, err)
		}
	}
	r.sequences = make(map[string]*badgerdb.Sequence)
	r.mu.Unlock()
	if err := r.store.Close(); err != nil {
		return wrap("Badger データベースのクローズに失敗しました", err)
	}
	return nil
}

var _ job.JobRepository = (*BadgerJobRepository)(nil)
