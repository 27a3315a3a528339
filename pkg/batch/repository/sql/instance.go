package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tigerroll/batchjob/pkg/batch/database"
	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
	"github.com/tigerroll/batchjob/pkg/batch/repository/job"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
	logger "github.com/tigerroll/batchjob/pkg/batch/util/logger"
	serialization "github.com/tigerroll/batchjob/pkg/batch/util/serialization"
)

const instanceColumns = `id, job_name, job_parameters, parameters_hash, create_time, version`

// SQLJobInstanceRepository は JobInstance インターフェースの SQL データベース実装です。
type SQLJobInstanceRepository struct {
	dbConnection database.DBConnection
	dialect      Dialect
}

// NewSQLJobInstanceRepository は新しい SQLJobInstanceRepository のインスタンスを作成します。
func NewSQLJobInstanceRepository(dbConn database.DBConnection) *SQLJobInstanceRepository {
	return &SQLJobInstanceRepository{
		dbConnection: dbConn,
		dialect:      DialectFor(dbConn.DriverType()),
	}
}

// SaveJobInstance は ID を採番して新しい JobInstance をデータベースに保存します。
func (r *SQLJobInstanceRepository) SaveJobInstance(ctx context.Context, jobInstance *core.JobInstance) error {
	paramsJSON, err := serialization.MarshalJobParameters(jobInstance.Parameters)
	if err != nil {
		return exception.NewBatchError("job_repository", "JobInstance JobParameters のシリアライズに失敗しました", err, false, false)
	}

	err = database.WithTx(ctx, r.dbConnection, func(tx database.Tx) error {
		id, err := r.dialect.nextID(ctx, tx, "job_instance")
		if err != nil {
			return err
		}
		query := r.dialect.Rebind(`INSERT INTO job_instances (` + instanceColumns + `) VALUES (?, ?, ?, ?, ?, ?)`)
		if _, err := tx.ExecContext(ctx, query, id, jobInstance.JobName, string(paramsJSON), jobInstance.ParametersHash, jobInstance.CreateTime, jobInstance.Version); err != nil {
			return err
		}
		jobInstance.ID = id
		return nil
	})
	if err != nil {
		return exception.NewBatchError("job_repository", fmt.Sprintf("JobInstance (JobName: %s) の保存に失敗しました", jobInstance.JobName), err, false, false)
	}

	logger.Debugf("JobInstance (ID: %d, JobName: %s) を保存しました。", jobInstance.ID, jobInstance.JobName)
	return nil
}

func scanInstance(s scanner) (*core.JobInstance, error) {
	ji := &core.JobInstance{}
	var paramsJSON sql.NullString
	if err := s.Scan(&ji.ID, &ji.JobName, &paramsJSON, &ji.ParametersHash, &ji.CreateTime, &ji.Version); err != nil {
		return nil, err
	}
	if err := serialization.UnmarshalJobParameters([]byte(paramsJSON.String), &ji.Parameters); err != nil {
		return nil, err
	}
	return ji, nil
}

// FindJobInstanceByJobNameAndParameters はジョブ名と識別パラメータのハッシュで JobInstance を検索します。
func (r *SQLJobInstanceRepository) FindJobInstanceByJobNameAndParameters(ctx context.Context, jobName string, params core.JobParameters) (*core.JobInstance, error) {
	paramsHash, err := params.Hash()
	if err != nil {
		return nil, exception.NewBatchError("job_repository", "検索用 JobParameters のハッシュ計算に失敗しました", err, false, false)
	}

	query := r.dialect.Rebind(`SELECT ` + instanceColumns + ` FROM job_instances WHERE job_name = ? AND parameters_hash = ?`)
	ji, err := scanInstance(r.dbConnection.QueryRowContext(ctx, query, jobName, paramsHash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, exception.NewBatchError("job_repository", fmt.Sprintf("JobInstance (JobName: %s) の検索に失敗しました", jobName), err, false, false)
	}
	return ji, nil
}

// FindJobInstanceByID は指定された ID の JobInstance をデータベースから取得します。
func (r *SQLJobInstanceRepository) FindJobInstanceByID(ctx context.Context, instanceID int64) (*core.JobInstance, error) {
	query := r.dialect.Rebind(`SELECT ` + instanceColumns + ` FROM job_instances WHERE id = ?`)
	ji, err := scanInstance(r.dbConnection.QueryRowContext(ctx, query, instanceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, job.ErrInstanceNotFound(instanceID)
		}
		return nil, exception.NewBatchError("job_repository", fmt.Sprintf("JobInstance (ID: %d) の取得に失敗しました", instanceID), err, false, false)
	}
	return ji, nil
}

// GetJobInstanceCount は指定されたジョブ名の JobInstance の数を返します。
func (r *SQLJobInstanceRepository) GetJobInstanceCount(ctx context.Context, jobName string) (int, error) {
	var count int
	query := r.dialect.Rebind(`SELECT COUNT(*) FROM job_instances WHERE job_name = ?`)
	if err := r.dbConnection.QueryRowContext(ctx, query, jobName).Scan(&count); err != nil {
		return 0, exception.NewBatchError("job_repository", fmt.Sprintf("JobInstance (JobName: %s) の件数取得に失敗しました", jobName), err, false, false)
	}
	return count, nil
}

// GetJobNames はデータベースに存在するジョブ名をソートして返します。
func (r *SQLJobInstanceRepository) GetJobNames(ctx context.Context) ([]string, error) {
	rows, err := r.dbConnection.QueryContext(ctx, `SELECT DISTINCT job_name FROM job_instances ORDER BY job_name`)
	if err != nil {
		return nil, exception.NewBatchError("job_repository", "ジョブ名の取得に失敗しました", err, false, false)
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, exception.NewBatchError("job_repository", "ジョブ名のスキャンに失敗しました", err, false, false)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, exception.NewBatchError("job_repository", "ジョブ名の取得中にエラーが発生しました", err, false, false)
	}
	return names, nil
}
