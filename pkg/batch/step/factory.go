package step

import (
	"context"
	"fmt"

	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
)

// Components はチャンクステップを構成する Reader, Processor, Writer の組です。
type Components[I, O any] struct {
	Reader    core.ItemReader[I]
	Processor core.ItemProcessor[I, O]
	Writer    core.ItemWriter[O]
}

// BuildFunc はジョブ実行ごとに新しい Components を生成します。
type BuildFunc[I, O any] func(ctx context.Context, params core.JobParameters) (Components[I, O], error)

// NewChunkStepFactory は build で生成した Components から ChunkStep を作る StepFactory を返します。
// チャンクサイズとスキップ上限は StepDefinition から取得します。
func NewChunkStepFactory[I, O any](build BuildFunc[I, O]) core.StepFactory {
	return func(ctx context.Context, def core.StepDefinition, params core.JobParameters, repo core.StepRepository) (core.Step, error) {
		c, err := build(ctx, params)
		if err != nil {
			return nil, exception.NewBatchError("step_factory", fmt.Sprintf("ステップ '%s' のコンポーネント生成に失敗しました", def.Name), err, false, false)
		}
		if c.Reader == nil || c.Processor == nil || c.Writer == nil {
			return nil, exception.NewBatchErrorf("step_factory", "ステップ '%s' の Reader, Processor, Writer のいずれかが nil です", def.Name)
		}
		return NewChunkStep(def.Name, c.Reader, c.Processor, c.Writer, def.ChunkSize, def.SkipLimit, repo), nil
	}
}
