package jsl

import (
	"context"
	"fmt"

	config "github.com/tigerroll/batchjob/pkg/batch/config"
	component "github.com/tigerroll/batchjob/pkg/batch/job/component"
	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
	"github.com/tigerroll/batchjob/pkg/batch/job/incrementer"
	"github.com/tigerroll/batchjob/pkg/batch/job/registry"
	"github.com/tigerroll/batchjob/pkg/batch/step"
	"github.com/tigerroll/batchjob/pkg/batch/step/processor"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
	logger "github.com/tigerroll/batchjob/pkg/batch/util/logger"
)

// ConvertJSLToDefinition は JSL のジョブを core.JobDefinition に変換します。
// コンポーネントの参照はこの時点で存在を確認し、生成はジョブ実行ごとに行います。
// チャンクサイズとスキップ上限が省略された場合は cfg.Batch の値を使用します。
func ConvertJSLToDefinition(jobDef Job, components *component.Registry, cfg *config.Config) (core.JobDefinition, error) {
	module := "jsl_converter"
	var violations []string

	def := core.JobDefinition{
		Name:               jobDef.Name,
		Description:        jobDef.Description,
		Schedule:           jobDef.Schedule,
		RequiredParameters: jobDef.Parameters.Required,
		AllowedParameters:  jobDef.Parameters.Allowed,
		DefaultParameters:  jobDef.Parameters.Defaults,
	}

	switch jobDef.Incrementer {
	case "":
	case "run-id":
		def.Incrementer = incrementer.NewRunIDIncrementer("run.id")
	default:
		violations = append(violations, fmt.Sprintf("incrementer '%s' はサポートされていません", jobDef.Incrementer))
	}

	for _, s := range jobDef.Steps {
		if !components.HasReader(s.Reader.Ref) {
			violations = append(violations, fmt.Sprintf("ステップ '%s': reader '%s' は登録されていません", s.ID, s.Reader.Ref))
		}
		if s.Processor.Ref != "" && !components.HasProcessor(s.Processor.Ref) {
			violations = append(violations, fmt.Sprintf("ステップ '%s': processor '%s' は登録されていません", s.ID, s.Processor.Ref))
		}
		if !components.HasWriter(s.Writer.Ref) {
			violations = append(violations, fmt.Sprintf("ステップ '%s': writer '%s' は登録されていません", s.ID, s.Writer.Ref))
		}

		chunkSize := cfg.Batch.ChunkSize
		if s.Chunk != nil && s.Chunk.ItemCount != 0 {
			chunkSize = s.Chunk.ItemCount
		}
		skipLimit := cfg.Batch.ItemSkip.SkipLimit
		if s.SkipLimit != nil {
			skipLimit = *s.SkipLimit
		}
		def.Steps = append(def.Steps, core.StepDefinition{
			Name:      s.ID,
			ChunkSize: chunkSize,
			SkipLimit: skipLimit,
			Factory:   stepFactory(s, components),
		})
	}

	if len(violations) > 0 {
		return core.JobDefinition{}, exception.NewValidationError(exception.CodeInvalidJobDefinition, module,
			fmt.Sprintf("JSL ジョブ '%s' の変換に失敗しました", jobDef.ID), violations...)
	}
	logger.Debugf("JSL ジョブ '%s' を %d ステップのジョブ定義に変換しました。", jobDef.ID, len(def.Steps))
	return def, nil
}

// stepFactory はジョブ実行ごとに参照先のコンポーネントを生成する StepFactory を返します。
func stepFactory(s Step, components *component.Registry) core.StepFactory {
	return step.NewChunkStepFactory(func(ctx context.Context, params core.JobParameters) (step.Components[any, any], error) {
		r, err := components.BuildReader(ctx, s.Reader.Ref, params, s.Reader.Properties)
		if err != nil {
			return step.Components[any, any]{}, err
		}
		var p core.ItemProcessor[any, any] = processor.PassThrough[any]()
		if s.Processor.Ref != "" {
			p, err = components.BuildProcessor(ctx, s.Processor.Ref, params, s.Processor.Properties)
			if err != nil {
				return step.Components[any, any]{}, err
			}
		}
		w, err := components.BuildWriter(ctx, s.Writer.Ref, params, s.Writer.Properties)
		if err != nil {
			return step.Components[any, any]{}, err
		}
		return step.Components[any, any]{Reader: r, Processor: p, Writer: w}, nil
	})
}

// RegisterAll は JSL のジョブを全て変換して JobRegistry に登録します。
// extra のコールバックは全てのジョブ定義に設定されます。
func RegisterAll(jobs []Job, components *component.Registry, cfg *config.Config, reg *registry.JobRegistry, extra ...core.Callbacks) error {
	for _, jobDef := range jobs {
		def, err := ConvertJSLToDefinition(jobDef, components, cfg)
		if err != nil {
			return err
		}
		if len(extra) > 0 {
			def.Callbacks = core.ComposeCallbacks(extra...)
		}
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}
