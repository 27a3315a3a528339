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
)

const stepColumns = `id, job_execution_id, step_name, status, exit_status, exit_description,
    read_count, write_count, skip_count, filter_count, commit_count, rollback_count,
    start_time, end_time, last_updated, version`

// SQLStepExecutionRepository は StepExecution インターフェースの SQL データベース実装です。
// JobExecution の更新と同じロックで書き込みを直列化し、古い件数で上書きしないようにします。
type SQLStepExecutionRepository struct {
	dbConnection database.DBConnection
	dialect      Dialect
	locks        job.ExecutionLocks
}

// NewSQLStepExecutionRepository は新しい SQLStepExecutionRepository のインスタンスを作成します。
func NewSQLStepExecutionRepository(dbConn database.DBConnection) *SQLStepExecutionRepository {
	return &SQLStepExecutionRepository{
		dbConnection: dbConn,
		dialect:      DialectFor(dbConn.DriverType()),
	}
}

// SaveStepExecution は ID を採番して新しい StepExecution をデータベースに保存します。
func (r *SQLStepExecutionRepository) SaveStepExecution(ctx context.Context, stepExecution *core.StepExecution) error {
	se := stepExecution.Copy()
	if se.JobExecutionID == 0 {
		return exception.NewBatchError("job_repository", "StepExecution が JobExecution に紐づいていません", nil, false, false)
	}

	var id int64
	err := database.WithTx(ctx, r.dbConnection, func(tx database.Tx) error {
		var err error
		id, err = r.dialect.nextID(ctx, tx, "step_execution")
		if err != nil {
			return err
		}
		query := r.dialect.Rebind(`INSERT INTO step_executions (` + stepColumns + `)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		_, err = tx.ExecContext(ctx, query,
			id, se.JobExecutionID, se.StepName, string(se.Status), string(se.ExitStatus), se.ExitDescription,
			se.ReadCount, se.WriteCount, se.SkipCount, se.FilterCount, se.CommitCount, se.RollbackCount,
			nullTime(se.StartTime), nullTime(se.EndTime), se.LastUpdated, se.Version,
		)
		return err
	})
	if err != nil {
		return exception.NewBatchError("job_repository", fmt.Sprintf("StepExecution (StepName: %s) の保存に失敗しました", se.StepName), err, false, false)
	}
	stepExecution.SetID(id)

	logger.Debugf("StepExecution (ID: %d, JobExecutionID: %d) を保存しました。", id, se.JobExecutionID)
	return nil
}

// UpdateStepExecution は既存の StepExecution の状態をデータベースで更新します。
func (r *SQLStepExecutionRepository) UpdateStepExecution(ctx context.Context, stepExecution *core.StepExecution) error {
	defer r.locks.Lock(stepExecution.Copy().JobExecutionID)()
	return r.update(ctx, r.dbConnection, stepExecution.Copy())
}

func (r *SQLStepExecutionRepository) update(ctx context.Context, q querier, se *core.StepExecution) error {
	query := r.dialect.Rebind(`UPDATE step_executions
    SET status = ?, exit_status = ?, exit_description = ?, read_count = ?, write_count = ?, skip_count = ?,
        filter_count = ?, commit_count = ?, rollback_count = ?, start_time = ?, end_time = ?, last_updated = ?, version = ?
    WHERE id = ?`)
	res, err := q.ExecContext(ctx, query,
		string(se.Status), string(se.ExitStatus), se.ExitDescription, se.ReadCount, se.WriteCount, se.SkipCount,
		se.FilterCount, se.CommitCount, se.RollbackCount, nullTime(se.StartTime), nullTime(se.EndTime), se.LastUpdated, se.Version,
		se.ID,
	)
	if err != nil {
		return exception.NewBatchError("job_repository", fmt.Sprintf("StepExecution (ID: %d) の更新に失敗しました", se.ID), err, false, false)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return exception.NewBatchError("job_repository", fmt.Sprintf("StepExecution (ID: %d) の更新結果取得に失敗しました", se.ID), err, false, false)
	}
	if rowsAffected == 0 {
		return job.ErrStepExecutionNotFound(se.ID)
	}
	logger.Debugf("StepExecution (ID: %d) を更新しました。", se.ID)
	return nil
}

func scanStep(s scanner) (*core.StepExecution, error) {
	var se core.StepExecution
	var status, exitStatus string
	var exitDescription sql.NullString
	var startTime, endTime sql.NullTime
	err := s.Scan(
		&se.ID, &se.JobExecutionID, &se.StepName, &status, &exitStatus, &exitDescription,
		&se.ReadCount, &se.WriteCount, &se.SkipCount, &se.FilterCount, &se.CommitCount, &se.RollbackCount,
		&startTime, &endTime, &se.LastUpdated, &se.Version,
	)
	if err != nil {
		return nil, err
	}
	se.Status = core.JobStatus(status)
	se.ExitStatus = core.ExitStatus(exitStatus)
	se.ExitDescription = exitDescription.String
	se.StartTime = timePtr(startTime)
	se.EndTime = timePtr(endTime)
	return core.RestoreStepExecution(se), nil
}

// FindStepExecutionByID は指定された ID の StepExecution をデータベースから取得します。
func (r *SQLStepExecutionRepository) FindStepExecutionByID(ctx context.Context, stepExecutionID int64) (*core.StepExecution, error) {
	query := r.dialect.Rebind(`SELECT ` + stepColumns + ` FROM step_executions WHERE id = ?`)
	se, err := scanStep(r.dbConnection.QueryRowContext(ctx, query, stepExecutionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, job.ErrStepExecutionNotFound(stepExecutionID)
		}
		return nil, exception.NewBatchError("job_repository", fmt.Sprintf("StepExecution (ID: %d) の取得に失敗しました", stepExecutionID), err, false, false)
	}
	return se, nil
}

// FindStepExecutionsByJobExecutionID は JobExecution に属する StepExecution を ID 順に取得します。
func (r *SQLStepExecutionRepository) FindStepExecutionsByJobExecutionID(ctx context.Context, jobExecutionID int64) ([]*core.StepExecution, error) {
	query := r.dialect.Rebind(`SELECT ` + stepColumns + ` FROM step_executions WHERE job_execution_id = ? ORDER BY id`)
	rows, err := r.dbConnection.QueryContext(ctx, query, jobExecutionID)
	if err != nil {
		return nil, exception.NewBatchError("job_repository", fmt.Sprintf("JobExecution (ID: %d) の StepExecution の取得に失敗しました", jobExecutionID), err, false, false)
	}
	defer rows.Close()

	steps := make([]*core.StepExecution, 0)
	for rows.Next() {
		se, err := scanStep(rows)
		if err != nil {
			return nil, exception.NewBatchError("job_repository", "StepExecution のスキャンに失敗しました", err, false, false)
		}
		steps = append(steps, se)
	}
	if err := rows.Err(); err != nil {
		return nil, exception.NewBatchError("job_repository", "StepExecution の取得中にエラーが発生しました", err, false, false)
	}
	return steps, nil
}
