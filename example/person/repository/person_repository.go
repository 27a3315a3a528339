// Package repository は Person の読み込み元と書き込み先を提供します。
package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/tigerroll/batchjob/example/person/domain/entity"
	"github.com/tigerroll/batchjob/pkg/batch/config"
	"github.com/tigerroll/batchjob/pkg/batch/database"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
	logger "github.com/tigerroll/batchjob/pkg/batch/util/logger"
)

// PersonRepository は Person のページ読み込みと一括 upsert を行います。
type PersonRepository interface {
	// FindPage は ID の昇順で offset から最大 limit 件を返します。
	FindPage(ctx context.Context, offset, limit int) ([]entity.Person, error)
	// Upsert は persons を ID で上書き保存します。
	// SQL 系の実装は tx の中で書き込み、それ以外の実装は tx を使用しません。
	Upsert(ctx context.Context, tx database.Tx, persons []entity.Person) error
	// FindByID は Person を返します。存在しない場合は nil を返します。
	FindByID(ctx context.Context, id int64) (*entity.Person, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// NewPersonRepository は database.type に応じた PersonRepository を作成します。
// SQL 系では conn を使用します。
func NewPersonRepository(cfg config.Config, conn database.DBConnection) (PersonRepository, error) {
	module := "person_repository_factory"
	dbType := strings.ToLower(cfg.Database.Type)
	logger.Debugf("PersonRepository の生成を開始します (Type: %s).", dbType)

	switch dbType {
	case "", "memory":
		return NewMemoryPersonRepository(), nil
	case "badger":
		path := cfg.Database.Path
		if path != "" {
			path = strings.TrimSuffix(path, "/") + "/persons"
		}
		return OpenBadgerPersonRepository(path)
	case "postgres", "redshift", "mysql":
		if conn == nil {
			return nil, exception.NewBatchErrorf(module, "データベースタイプ '%s' の接続がありません", dbType)
		}
		return NewSQLPersonRepository(conn), nil
	default:
		errMsg := fmt.Sprintf("サポートされていないデータベースタイプです: %s", cfg.Database.Type)
		logger.Errorf("%s", errMsg)
		return nil, exception.NewValidationError(exception.CodeValidation, module, errMsg)
	}
}
