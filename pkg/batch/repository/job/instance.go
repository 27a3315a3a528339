package job

import (
	"context"

	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
)

// JobInstance は JobInstance の永続化と取得に関する操作を定義します。
type JobInstance interface {
	// SaveJobInstance は新しい JobInstance を永続化し、採番した ID を設定します。
	SaveJobInstance(ctx context.Context, jobInstance *core.JobInstance) error

	// FindJobInstanceByJobNameAndParameters は指定されたジョブ名と識別パラメータに一致する JobInstance を検索します。
	// 見つからない場合は nil, nil を返します。
	FindJobInstanceByJobNameAndParameters(ctx context.Context, jobName string, params core.JobParameters) (*core.JobInstance, error)

	// FindJobInstanceByID は指定された ID の JobInstance を検索します。
	FindJobInstanceByID(ctx context.Context, instanceID int64) (*core.JobInstance, error)

	// GetJobInstanceCount は指定されたジョブ名の JobInstance の数を返します。
	GetJobInstanceCount(ctx context.Context, jobName string) (int, error)

	// GetJobNames はリポジトリに存在する全てのジョブ名をソートして返します。
	GetJobNames(ctx context.Context) ([]string, error)
}
