package sql_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/batchjob/pkg/batch/database"
	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
	sqlrepo "github.com/tigerroll/batchjob/pkg/batch/repository/sql"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
)

var (
	updateExecution = regexp.QuoteMeta(`UPDATE job_executions`)
	countExecution  = regexp.QuoteMeta(`SELECT COUNT(*) FROM job_executions WHERE id = $1`)
)

func TestSQLJobExecutionRepository_UpdateVersionCheck(t *testing.T) {
	tests := []struct {
		name        string
		affected    int64
		existing    int
		wantCode    string
		wantVersion int
	}{
		{name: "version が一致すれば更新する", affected: 1, wantVersion: 3},
		{name: "他の書き手が先に更新していれば競合", affected: 0, existing: 1, wantCode: exception.CodeExecutionConflict, wantVersion: 2},
		{name: "行が存在しない", affected: 0, existing: 0, wantCode: exception.CodeExecutionNotFound, wantVersion: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			t.Cleanup(func() { _ = db.Close() })
			repo := sqlrepo.NewSQLJobRepository(database.NewSQLDBAdapter(db, "postgres"))

			je := core.RestoreJobExecution(core.JobExecution{
				ID:         5,
				JobName:    "loadPersons",
				Parameters: core.NewJobParameters(),
				Status:     core.BatchStatusStarted,
				ExitStatus: core.ExitStatusExecuting,
				Version:    2,
			})

			mock.ExpectBegin()
			mock.ExpectExec(updateExecution).
				WithArgs(
					string(core.BatchStatusStarted), string(core.ExitStatusExecuting), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
					int64(3), int64(5), int64(2),
				).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))
			if tt.affected == 0 {
				mock.ExpectQuery(countExecution).
					WithArgs(int64(5)).
					WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(tt.existing))
				mock.ExpectRollback()
			} else {
				mock.ExpectCommit()
			}

			err = repo.UpdateJobExecution(context.Background(), je)
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, exception.CodeOf(err))
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantVersion, je.Snapshot().Version)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
