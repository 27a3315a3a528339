package sql

import (
	"github.com/tigerroll/batchjob/pkg/batch/database"
	"github.com/tigerroll/batchjob/pkg/batch/repository/job"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
	logger "github.com/tigerroll/batchjob/pkg/batch/util/logger"
)

// SQLJobRepository は JobRepository インターフェースの SQL データベース実装です。
// 各リポジトリの具体的な実装を埋め込み、委譲します。
type SQLJobRepository struct {
	dbConnection database.DBConnection

	*SQLJobInstanceRepository
	*SQLJobExecutionRepository
	*SQLStepExecutionRepository
}

// NewSQLJobRepository は新しい SQLJobRepository のインスタンスを作成します。
// 既に確立されたデータベース接続の抽象化を受け取ります。
func NewSQLJobRepository(dbConn database.DBConnection) *SQLJobRepository {
	stepRepo := NewSQLStepExecutionRepository(dbConn)
	return &SQLJobRepository{
		dbConnection:               dbConn,
		SQLJobInstanceRepository:   NewSQLJobInstanceRepository(dbConn),
		SQLJobExecutionRepository:  NewSQLJobExecutionRepository(dbConn, stepRepo),
		SQLStepExecutionRepository: stepRepo,
	}
}

// DBConnection はこのリポジトリが使用するデータベース接続を返します。
// アプリケーションのコンポーネントが同じ接続を共有するために使用します。
func (r *SQLJobRepository) DBConnection() database.DBConnection {
	return r.dbConnection
}

// Close はデータベース接続を閉じます。
func (r *SQLJobRepository) Close() error {
	if r.dbConnection != nil {
		if err := r.dbConnection.Close(); err != nil {
			return exception.NewBatchError("job_repository", "データベース接続を閉じるのに失敗しました", err, false, false)
		}
		logger.Debugf("Job Repository のデータベース接続を閉じました。")
	}
	return nil
}

var _ job.JobRepository = (*SQLJobRepository)(nil)
