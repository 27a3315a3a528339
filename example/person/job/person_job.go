// Package job は loadPersons ジョブのコンポーネントとテンプレートを組み立てます。
package job

import (
	"context"
	"fmt"
	"strconv"

	"github.com/tigerroll/batchjob/example/person/domain/entity"
	"github.com/tigerroll/batchjob/example/person/repository"
	personprocessor "github.com/tigerroll/batchjob/example/person/step/processor"
	personreader "github.com/tigerroll/batchjob/example/person/step/reader"
	personwriter "github.com/tigerroll/batchjob/example/person/step/writer"
	config "github.com/tigerroll/batchjob/pkg/batch/config"
	"github.com/tigerroll/batchjob/pkg/batch/database"
	component "github.com/tigerroll/batchjob/pkg/batch/job/component"
	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
	"github.com/tigerroll/batchjob/pkg/batch/job/joboperator"
	"github.com/tigerroll/batchjob/pkg/batch/step"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
	logger "github.com/tigerroll/batchjob/pkg/batch/util/logger"
)

const (
	JobName       = "loadPersons"
	TemplateName  = "personStep"
	ReaderName    = "personReader"
	ProcessorName = "personProcessor"
	WriterName    = "personWriter"

	// PageSizeProperty は Reader のページサイズを指定する JSL のプロパティです。
	PageSizeProperty = "page-size"
)

// PersonJob は source から読み込んだ Person を加工して target に upsert します。
type PersonJob struct {
	source repository.PersonRepository
	target repository.PersonRepository
	conn   database.DBConnection
}

// NewPersonJob は新しい PersonJob のインスタンスを作成します。
// conn が nil でなければ、書き込みはチャンクごとのトランザクションで行われます。
func NewPersonJob(source, target repository.PersonRepository, conn database.DBConnection) *PersonJob {
	return &PersonJob{source: source, target: target, conn: conn}
}

// Source は読み込み元のリポジトリを返します。
func (j *PersonJob) Source() repository.PersonRepository { return j.source }

// Target は書き込み先のリポジトリを返します。
func (j *PersonJob) Target() repository.PersonRepository { return j.target }

func pageSize(bc component.BuildContext) (int, error) {
	raw, ok := bc.Properties[PageSizeProperty]
	if !ok || raw == "" {
		return bc.Config.Batch.ChunkSize, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, exception.NewValidationError(exception.CodeInvalidJobDefinition, "person_job",
			fmt.Sprintf("%s '%s' は正の整数である必要があります", PageSizeProperty, raw))
	}
	return n, nil
}

// RegisterComponents は JSL から参照される Reader, Processor, Writer を登録します。
func (j *PersonJob) RegisterComponents(components *component.Registry) error {
	if err := component.RegisterReader(components, ReaderName, func(ctx context.Context, bc component.BuildContext) (core.ItemReader[entity.Person], error) {
		size, err := pageSize(bc)
		if err != nil {
			return nil, err
		}
		return personreader.NewPersonReader(j.source, size), nil
	}); err != nil {
		return err
	}
	if err := component.RegisterProcessor(components, ProcessorName, func(ctx context.Context, bc component.BuildContext) (core.ItemProcessor[entity.Person, entity.Person], error) {
		return personprocessor.NewPersonProcessor(), nil
	}); err != nil {
		return err
	}
	if err := component.RegisterWriter(components, WriterName, func(ctx context.Context, bc component.BuildContext) (core.ItemWriter[entity.Person], error) {
		return personwriter.NewPersonWriter(j.target, j.conn), nil
	}); err != nil {
		return err
	}
	logger.Debugf("Person ジョブのコンポーネントを登録しました。")
	return nil
}

// Template は API から登録されたジョブに使用するステップ構成を返します。
// チャンクサイズとスキップ上限は cfg.Batch の値を使用します。
func (j *PersonJob) Template(cfg *config.Config) joboperator.JobTemplate {
	return func() []core.StepDefinition {
		chunkSize := cfg.Batch.ChunkSize
		return []core.StepDefinition{{
			Name:      TemplateName,
			ChunkSize: chunkSize,
			SkipLimit: cfg.Batch.ItemSkip.SkipLimit,
			Factory: step.NewChunkStepFactory(func(ctx context.Context, params core.JobParameters) (step.Components[entity.Person, entity.Person], error) {
				return step.Components[entity.Person, entity.Person]{
					Reader:    personreader.NewPersonReader(j.source, chunkSize),
					Processor: personprocessor.NewPersonProcessor(),
					Writer:    personwriter.NewPersonWriter(j.target, j.conn),
				}, nil
			}),
		}}
	}
}

// Close は書き込み先と読み込み元のリポジトリを閉じます。
func (j *PersonJob) Close() error {
	var firstErr error
	for _, r := range []repository.PersonRepository{j.target, j.source} {
		if r == nil {
			continue
		}
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
