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

const executionColumns = `id, run_id, job_instance_id, job_name, job_parameters, status, exit_status, exit_description,
    start_time, end_time, create_time, last_updated, version`

// SQLJobExecutionRepository は JobExecution インターフェースの SQL データベース実装です。
type SQLJobExecutionRepository struct {
	dbConnection database.DBConnection
	dialect      Dialect
	steps        *SQLStepExecutionRepository
}

// NewSQLJobExecutionRepository は新しい SQLJobExecutionRepository のインスタンスを作成します。
// StepExecution の読み込みと更新は steps に委譲します。
func NewSQLJobExecutionRepository(dbConn database.DBConnection, steps *SQLStepExecutionRepository) *SQLJobExecutionRepository {
	return &SQLJobExecutionRepository{
		dbConnection: dbConn,
		dialect:      DialectFor(dbConn.DriverType()),
		steps:        steps,
	}
}

// SaveJobExecution は ID を採番して新しい JobExecution をデータベースに保存します。
func (r *SQLJobExecutionRepository) SaveJobExecution(ctx context.Context, jobExecution *core.JobExecution) error {
	je := jobExecution.Snapshot()
	paramsJSON, err := serialization.MarshalJobParameters(je.Parameters)
	if err != nil {
		return exception.NewBatchError("job_repository", "JobExecution JobParameters のシリアライズに失敗しました", err, false, false)
	}

	var id int64
	err = database.WithTx(ctx, r.dbConnection, func(tx database.Tx) error {
		var err error
		id, err = r.dialect.nextID(ctx, tx, "job_execution")
		if err != nil {
			return err
		}
		query := r.dialect.Rebind(`INSERT INTO job_executions (` + executionColumns + `)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		_, err = tx.ExecContext(ctx, query,
			id, je.RunID, je.JobInstanceID, je.JobName, string(paramsJSON), string(je.Status), string(je.ExitStatus), je.ExitDescription,
			nullTime(je.StartTime), nullTime(je.EndTime), je.CreateTime, je.LastUpdated, je.Version,
		)
		return err
	})
	if err != nil {
		return exception.NewBatchError("job_repository", fmt.Sprintf("JobExecution (JobName: %s) の保存に失敗しました", je.JobName), err, false, false)
	}
	jobExecution.SetID(id)

	logger.Debugf("JobExecution (ID: %d, JobName: %s) を保存しました。", id, je.JobName)
	return nil
}

// UpdateJobExecution は JobExecution と、採番済みの StepExecution を同一トランザクションで更新します。
// UPDATE は保存済みの version が一致する行だけを対象にし、0 行の場合は存在確認をして
// EXECUTION_NOT_FOUND か EXECUTION_VERSION_CONFLICT を返します。
func (r *SQLJobExecutionRepository) UpdateJobExecution(ctx context.Context, jobExecution *core.JobExecution) error {
	defer r.steps.locks.Lock(jobExecution.Snapshot().ID)()
	je, expected := jobExecution.NextRevision()

	err := database.WithTx(ctx, r.dbConnection, func(tx database.Tx) error {
		query := r.dialect.Rebind(`UPDATE job_executions
    SET status = ?, exit_status = ?, exit_description = ?, start_time = ?, end_time = ?, last_updated = ?, version = ?
    WHERE id = ? AND version = ?`)
		res, err := tx.ExecContext(ctx, query,
			string(je.Status), string(je.ExitStatus), je.ExitDescription, nullTime(je.StartTime), nullTime(je.EndTime), je.LastUpdated, je.Version,
			je.ID, expected,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return r.missingOrConflict(ctx, tx, je.ID, expected)
		}
		for _, se := range je.StepExecutions {
			if se.ID == 0 {
				continue
			}
			if err := r.steps.update(ctx, tx, se); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if _, ok := exception.As(err); ok {
			return err
		}
		return exception.NewBatchError("job_repository", fmt.Sprintf("JobExecution (ID: %d) の更新に失敗しました", je.ID), err, false, false)
	}
	jobExecution.CommitRevision(je)
	logger.Debugf("JobExecution (ID: %d) を更新しました。ステータス: %s, Version: %d", je.ID, je.Status, je.Version)
	return nil
}

func (r *SQLJobExecutionRepository) missingOrConflict(ctx context.Context, tx database.Tx, executionID int64, expected int) error {
	var count int
	query := r.dialect.Rebind(`SELECT COUNT(*) FROM job_executions WHERE id = ?`)
	if err := tx.QueryRowContext(ctx, query, executionID).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		return job.ErrExecutionNotFound(executionID)
	}
	return job.ErrVersionConflict(executionID, expected)
}

func scanExecution(s scanner) (*core.JobExecution, error) {
	var je core.JobExecution
	var paramsJSON, exitDescription sql.NullString
	var status, exitStatus string
	var startTime, endTime sql.NullTime
	err := s.Scan(
		&je.ID, &je.RunID, &je.JobInstanceID, &je.JobName, &paramsJSON, &status, &exitStatus, &exitDescription,
		&startTime, &endTime, &je.CreateTime, &je.LastUpdated, &je.Version,
	)
	if err != nil {
		return nil, err
	}
	if err := serialization.UnmarshalJobParameters([]byte(paramsJSON.String), &je.Parameters); err != nil {
		return nil, err
	}
	je.Status = core.JobStatus(status)
	je.ExitStatus = core.ExitStatus(exitStatus)
	je.ExitDescription = exitDescription.String
	je.StartTime = timePtr(startTime)
	je.EndTime = timePtr(endTime)
	return core.RestoreJobExecution(je), nil
}

func (r *SQLJobExecutionRepository) withSteps(ctx context.Context, je *core.JobExecution) (*core.JobExecution, error) {
	steps, err := r.steps.FindStepExecutionsByJobExecutionID(ctx, je.ID)
	if err != nil {
		return nil, err
	}
	je.AttachStepExecutions(steps)
	return je, nil
}

// FindJobExecutionByID は指定された ID の JobExecution を StepExecution と共に取得します。
func (r *SQLJobExecutionRepository) FindJobExecutionByID(ctx context.Context, executionID int64) (*core.JobExecution, error) {
	query := r.dialect.Rebind(`SELECT ` + executionColumns + ` FROM job_executions WHERE id = ?`)
	je, err := scanExecution(r.dbConnection.QueryRowContext(ctx, query, executionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, job.ErrExecutionNotFound(executionID)
		}
		return nil, exception.NewBatchError("job_repository", fmt.Sprintf("JobExecution (ID: %d) の取得に失敗しました", executionID), err, false, false)
	}
	return r.withSteps(ctx, je)
}

// FindLatestJobExecution は JobInstance の最新の JobExecution を取得します。存在しない場合は nil, nil を返します。
func (r *SQLJobExecutionRepository) FindLatestJobExecution(ctx context.Context, jobInstanceID int64) (*core.JobExecution, error) {
	query := r.dialect.Rebind(`SELECT ` + executionColumns + ` FROM job_executions WHERE job_instance_id = ? ORDER BY id DESC LIMIT 1`)
	je, err := scanExecution(r.dbConnection.QueryRowContext(ctx, query, jobInstanceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, exception.NewBatchError("job_repository", fmt.Sprintf("JobInstance (ID: %d) の最新 JobExecution の取得に失敗しました", jobInstanceID), err, false, false)
	}
	return r.withSteps(ctx, je)
}

func (r *SQLJobExecutionRepository) queryExecutions(ctx context.Context, query string, args ...any) ([]*core.JobExecution, error) {
	rows, err := r.dbConnection.QueryContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	executions := make([]*core.JobExecution, 0)
	for rows.Next() {
		je, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, je)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// rows を閉じてから StepExecution を読み込みます
	rows.Close()
	for _, je := range executions {
		if _, err := r.withSteps(ctx, je); err != nil {
			return nil, err
		}
	}
	return executions, nil
}

// FindJobExecutionsByJobInstance は JobInstance に属する JobExecution を ID 順に取得します。
func (r *SQLJobExecutionRepository) FindJobExecutionsByJobInstance(ctx context.Context, jobInstance *core.JobInstance) ([]*core.JobExecution, error) {
	executions, err := r.queryExecutions(ctx, `SELECT `+executionColumns+` FROM job_executions WHERE job_instance_id = ? ORDER BY id`, jobInstance.ID)
	if err != nil {
		return nil, exception.NewBatchError("job_repository", fmt.Sprintf("JobInstance (ID: %d) の JobExecution の取得に失敗しました", jobInstance.ID), err, false, false)
	}
	return executions, nil
}

// FindJobExecutionsByJobName はジョブの実行履歴のページと総件数を取得します。
func (r *SQLJobExecutionRepository) FindJobExecutionsByJobName(ctx context.Context, jobName string, offset, limit int) ([]*core.JobExecution, int, error) {
	var total int
	countQuery := r.dialect.Rebind(`SELECT COUNT(*) FROM job_executions WHERE job_name = ?`)
	if err := r.dbConnection.QueryRowContext(ctx, countQuery, jobName).Scan(&total); err != nil {
		return nil, 0, exception.NewBatchError("job_repository", fmt.Sprintf("ジョブ '%s' の実行件数の取得に失敗しました", jobName), err, false, false)
	}
	if offset >= total {
		return []*core.JobExecution{}, total, nil
	}
	executions, err := r.queryExecutions(ctx,
		`SELECT `+executionColumns+` FROM job_executions WHERE job_name = ? ORDER BY job_instance_id, id LIMIT ? OFFSET ?`,
		jobName, limit, offset)
	if err != nil {
		return nil, 0, exception.NewBatchError("job_repository", fmt.Sprintf("ジョブ '%s' の実行履歴の取得に失敗しました", jobName), err, false, false)
	}
	return executions, total, nil
}
