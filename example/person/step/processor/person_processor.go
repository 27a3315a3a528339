package processor

import (
	"context"
	"fmt"
	"strings"

	"github.com/tigerroll/batchjob/example/person/domain/entity"
	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
	logger "github.com/tigerroll/batchjob/pkg/batch/util/logger"
)

// PersonProcessor はメールアドレスを大文字に変換した新しい Person を返します。
// '@' を含まないメールアドレスはスキップ可能なエラーになります。
type PersonProcessor struct{}

// NewPersonProcessor は新しい PersonProcessor のインスタンスを作成します。
func NewPersonProcessor() *PersonProcessor {
	return &PersonProcessor{}
}

func (p *PersonProcessor) Process(ctx context.Context, item entity.Person) (entity.Person, bool, error) {
	if !strings.Contains(item.Email, "@") {
		return entity.Person{}, false, exception.NewSkippableError("person_processor",
			fmt.Sprintf("person (id=%d) のメールアドレス '%s' が不正です", item.ID, item.Email), nil)
	}
	out := entity.Person{
		ID:    item.ID,
		Name:  item.Name,
		Email: strings.ToUpper(item.Email),
	}
	logger.Debugf("%s を %s に変換しました。", item, out)
	return out, true, nil
}

var _ core.ItemProcessor[entity.Person, entity.Person] = (*PersonProcessor)(nil)
