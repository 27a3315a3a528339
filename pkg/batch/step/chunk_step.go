package step

import (
	"context"
	"errors"
	"fmt"
	"io"

	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
	logger "github.com/tigerroll/batchjob/pkg/batch/util/logger"
)

// SkipFunc はスキップされたアイテムごとに呼び出されます。
type SkipFunc func(ctx context.Context, stepExecution *core.StepExecution, item any, err error)

// ChunkStep はチャンク指向のステップを実装します。
// Reader, Processor, Writer を使用してアイテムを処理し、チャンクごとにコミットします。
type ChunkStep[I, O any] struct {
	name      string
	reader    core.ItemReader[I]
	processor core.ItemProcessor[I, O]
	writer    core.ItemWriter[O]
	chunkSize int
	skipLimit int
	repo      core.StepRepository
	onSkip    SkipFunc
}

// NewChunkStep は新しい ChunkStep のインスタンスを作成します。
func NewChunkStep[I, O any](
	name string,
	r core.ItemReader[I],
	p core.ItemProcessor[I, O],
	w core.ItemWriter[O],
	chunkSize int,
	skipLimit int,
	repo core.StepRepository,
) *ChunkStep[I, O] {
	return &ChunkStep[I, O]{
		name:      name,
		reader:    r,
		processor: p,
		writer:    w,
		chunkSize: chunkSize,
		skipLimit: skipLimit,
		repo:      repo,
	}
}

// StepName はステップの名前を返します。
func (cs *ChunkStep[I, O]) StepName() string {
	return cs.name
}

// SetSkipFunc はスキップ発生時のコールバックを設定します。
func (cs *ChunkStep[I, O]) SetSkipFunc(fn SkipFunc) {
	cs.onSkip = fn
}

// chunk は一つのチャンクの処理結果です。コミットされるまで StepExecution には反映されません。
type chunk[I, O any] struct {
	inputs   []I
	items    []O
	filtered int
	skipped  int
	eof      bool
}

// Execute はチャンクの読み込み、変換、書き込みを終端まで繰り返します。
// 停止要求とコンテキストのキャンセルはチャンクのコミット後にのみ確認され、
// チャンクの途中では処理を中断しません。
func (cs *ChunkStep[I, O]) Execute(ctx context.Context, jobExecution *core.JobExecution, stepExecution *core.StepExecution) error {
	logger.Infof("ステップ '%s' の実行を開始します。", cs.name)

	// チャンク内の I/O と永続化は停止要求の影響を受けない
	work := context.WithoutCancel(ctx)

	stepExecution.MarkAsStarted()
	if err := cs.repo.UpdateStepExecution(work, stepExecution); err != nil {
		return cs.fail(work, stepExecution, exception.NewInternalError(exception.CodeInternal, "chunk_step",
			fmt.Sprintf("StepExecution (ID: %d) の状態更新に失敗しました", stepExecution.ID), err))
	}

	if err := cs.reader.Open(work); err != nil {
		return cs.fail(work, stepExecution, exception.NewProcessingError(exception.CodeItemReadFailed, "chunk_step",
			"Reader のオープンに失敗しました", err))
	}
	defer func() {
		if err := cs.reader.Close(work); err != nil {
			logger.Warnf("ステップ '%s': Reader のクローズに失敗しました: %v", cs.name, err)
		}
	}()

	skipTotal := 0
	for {
		c, err := cs.readChunk(work)
		if err != nil {
			return cs.fail(work, stepExecution, err)
		}
		if len(c.inputs) == 0 {
			break
		}
		if err := cs.processChunk(work, stepExecution, c, skipTotal); err != nil {
			return cs.fail(work, stepExecution, err)
		}
		if len(c.items) > 0 {
			if err := cs.writer.Write(work, c.items); err != nil {
				stepExecution.IncrementRollback()
				logger.Errorf("ステップ '%s': チャンクの書き込みに失敗したためロールバックしました: %v", cs.name, err)
				return cs.fail(work, stepExecution, exception.NewProcessingError(exception.CodeItemWriteFailed, "chunk_step",
					fmt.Sprintf("ステップ '%s' のチャンク書き込みに失敗しました", cs.name), err))
			}
		}

		stepExecution.ApplyChunk(len(c.inputs), len(c.items), c.skipped, c.filtered)
		skipTotal += c.skipped
		if err := cs.repo.UpdateStepExecution(work, stepExecution); err != nil {
			return cs.fail(work, stepExecution, exception.NewInternalError(exception.CodeInternal, "chunk_step",
				fmt.Sprintf("StepExecution (ID: %d) のコミット後の永続化に失敗しました", stepExecution.ID), err))
		}
		logger.Debugf("ステップ '%s': %d 件読み込み、%d 件書き込み、%d 件スキップ、%d 件フィルタしました。",
			cs.name, len(c.inputs), len(c.items), c.skipped, c.filtered)

		if c.eof {
			break
		}
		if jobExecution.IsStopRequested() || ctx.Err() != nil {
			stepExecution.MarkAsStopped()
			cs.persist(work, stepExecution)
			logger.Warnf("ステップ '%s' は停止要求により停止しました。", cs.name)
			return nil
		}
	}

	stepExecution.MarkAsCompleted()
	cs.persist(work, stepExecution)
	logger.Infof("ステップ '%s' の実行が完了しました。", cs.name)
	return nil
}

func (cs *ChunkStep[I, O]) readChunk(ctx context.Context) (*chunk[I, O], error) {
	c := &chunk[I, O]{inputs: make([]I, 0, cs.chunkSize)}
	for len(c.inputs) < cs.chunkSize {
		item, err := cs.reader.Read(ctx)
		if errors.Is(err, io.EOF) {
			c.eof = true
			break
		}
		if err != nil {
			return nil, exception.NewProcessingError(exception.CodeItemReadFailed, "chunk_step",
				fmt.Sprintf("ステップ '%s' のアイテム読み込みに失敗しました", cs.name), err)
		}
		c.inputs = append(c.inputs, item)
	}
	return c, nil
}

// processChunk はチャンク内のアイテムを変換します。
// スキップ可能なエラーのアイテムは除外され、スキップ数の合計が上限を超えた時点でステップは失敗します。
func (cs *ChunkStep[I, O]) processChunk(ctx context.Context, stepExecution *core.StepExecution, c *chunk[I, O], committedSkips int) error {
	c.items = make([]O, 0, len(c.inputs))
	for _, in := range c.inputs {
		out, keep, err := cs.processor.Process(ctx, in)
		if err != nil {
			if !exception.IsSkippable(err) {
				return exception.NewProcessingError(exception.CodeItemProcessFailed, "chunk_step",
					fmt.Sprintf("ステップ '%s' のアイテム処理に失敗しました", cs.name), err)
			}
			if committedSkips+c.skipped+1 > cs.skipLimit {
				return exception.NewProcessingError(exception.CodeSkipLimitExceeded, "chunk_step",
					fmt.Sprintf("ステップ '%s' のスキップ数が上限 (%d) を超えました", cs.name, cs.skipLimit), err)
			}
			c.skipped++
			logger.Warnf("ステップ '%s': アイテムをスキップしました (%d/%d): %v", cs.name, committedSkips+c.skipped, cs.skipLimit, err)
			if cs.onSkip != nil {
				cs.onSkip(ctx, stepExecution.Copy(), in, err)
			}
			continue
		}
		if !keep {
			c.filtered++
			continue
		}
		c.items = append(c.items, out)
	}
	return nil
}

// fail はステップを FAILED で終了させて永続化し、原因のエラーを返します。
func (cs *ChunkStep[I, O]) fail(ctx context.Context, stepExecution *core.StepExecution, err error) error {
	stepExecution.MarkAsFailed(err)
	cs.persist(ctx, stepExecution)
	logger.Errorf("ステップ '%s' が失敗しました: %v", cs.name, err)
	return err
}

func (cs *ChunkStep[I, O]) persist(ctx context.Context, stepExecution *core.StepExecution) {
	if err := cs.repo.UpdateStepExecution(ctx, stepExecution); err != nil {
		logger.Errorf("ステップ '%s' の最終 StepExecution (ID: %d) の更新に失敗しました: %v", cs.name, stepExecution.ID, err)
	}
}

var _ core.Step = (*ChunkStep[any, any])(nil)
