// Package repository は設定に応じた JobRepository の実装を生成します。
package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/tigerroll/batchjob/pkg/batch/config"
	"github.com/tigerroll/batchjob/pkg/batch/database/connector"
	badgerrepo "github.com/tigerroll/batchjob/pkg/batch/repository/badger"
	"github.com/tigerroll/batchjob/pkg/batch/repository/job"
	"github.com/tigerroll/batchjob/pkg/batch/repository/memory"
	sqlrepo "github.com/tigerroll/batchjob/pkg/batch/repository/sql"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
	logger "github.com/tigerroll/batchjob/pkg/batch/util/logger"
)

// NewJobRepository は database.type に応じた JobRepository を作成します。
// SQL 系のタイプではデータベース接続をリトライ付きで確立します。
func NewJobRepository(ctx context.Context, cfg config.Config) (job.JobRepository, error) {
	module := "repository_factory"
	dbType := strings.ToLower(cfg.Database.Type)
	logger.Debugf("JobRepository の生成を開始します (Type: %s).", dbType)

	switch dbType {
	case "", "memory":
		logger.Debugf("MemoryJobRepository を生成しました。")
		return memory.NewMemoryJobRepository(), nil
	case "badger":
		repo, err := badgerrepo.Open(cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		logger.Debugf("BadgerJobRepository を生成しました (Path: %s)。", cfg.Database.Path)
		return repo, nil
	}

	if !cfg.Database.IsSQL() {
		return nil, exception.NewValidationError(exception.CodeValidation, module,
			fmt.Sprintf("未対応のデータベースタイプです: %s", cfg.Database.Type))
	}
	dbConn, err := connector.NewDBConnectionFromConfig(ctx, cfg.Database)
	if err != nil {
		logger.Errorf("JobRepository 用のデータベース接続確立に失敗しました (Type: %s): %v", dbType, err)
		return nil, exception.NewBatchError(module, fmt.Sprintf("JobRepository 用のデータベース接続確立に失敗しました (Type: %s)", dbType), err, false, false)
	}
	logger.Debugf("SQLJobRepository を生成しました。")
	return sqlrepo.NewSQLJobRepository(dbConn), nil
}
