package writer

import (
	"context"

	"github.com/tigerroll/batchjob/example/person/domain/entity"
	"github.com/tigerroll/batchjob/example/person/repository"
	"github.com/tigerroll/batchjob/pkg/batch/database"
	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
	"github.com/tigerroll/batchjob/pkg/batch/step/writer"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
	logger "github.com/tigerroll/batchjob/pkg/batch/util/logger"
)

// NewPersonWriter は target にチャンク単位で Person を upsert する Writer を作成します。
// conn が nil でなければチャンクごとにトランザクションを開始します。
func NewPersonWriter(target repository.PersonRepository, conn database.DBConnection) core.ItemWriter[entity.Person] {
	if conn != nil {
		return writer.NewTxWriter(conn, func(ctx context.Context, tx database.Tx, items []entity.Person) error {
			return upsert(ctx, target, tx, items)
		})
	}
	return writer.FuncWriter[entity.Person](func(ctx context.Context, items []entity.Person) error {
		return upsert(ctx, target, nil, items)
	})
}

func upsert(ctx context.Context, target repository.PersonRepository, tx database.Tx, items []entity.Person) error {
	if len(items) == 0 {
		logger.Debugf("書き込むアイテムがありません。")
		return nil
	}
	if err := target.Upsert(ctx, tx, items); err != nil {
		return exception.NewBatchError("person_writer", "Person の upsert に失敗しました", err, true, false)
	}
	logger.Debugf("Person のチャンクを保存しました。件数: %d", len(items))
	return nil
}
