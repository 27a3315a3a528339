package reader

import (
	"context"

	"github.com/tigerroll/batchjob/example/person/domain/entity"
	"github.com/tigerroll/batchjob/example/person/repository"
	"github.com/tigerroll/batchjob/pkg/batch/step/reader"
)

// NewPersonReader は source から pageSize 件ずつ Person を読み込む Reader を作成します。
// pageSize にはステップのチャンクサイズを渡します。
func NewPersonReader(source repository.PersonRepository, pageSize int) *reader.PagedReader[entity.Person] {
	return reader.NewPagedReader("personReader", pageSize, func(ctx context.Context, offset, limit int) ([]entity.Person, error) {
		return source.FindPage(ctx, offset, limit)
	})
}
