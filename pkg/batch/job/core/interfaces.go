package core

import (
	"context"
)

// Step はジョブ内で実行される単一のステップのインターフェースです。
// Execute はステップが COMPLETED または STOPPED で終わった場合に nil を返し、
// FAILED の場合は原因となったエラーを返します。最終状態は stepExecution に記録されます。
type Step interface {
	StepName() string
	Execute(ctx context.Context, jobExecution *JobExecution, stepExecution *StepExecution) error
}

// ItemReader はデータを読み込むステップのインターフェースです。
// I は読み込まれるアイテムの型です。データの終端では io.EOF を返します。
type ItemReader[I any] interface {
	Open(ctx context.Context) error
	Read(ctx context.Context) (I, error)
	Close(ctx context.Context) error
}

// ItemProcessor はアイテムを変換するインターフェースです。
// 入力を変更せず、新しい出力値を返します。
// keep が false の場合、そのアイテムは書き込まれません (フィルタ)。
type ItemProcessor[I, O any] interface {
	Process(ctx context.Context, item I) (out O, keep bool, err error)
}

// ItemWriter はアイテムのチャンクを書き込むインターフェースです。
// 一回の Write 呼び出しは全件成功するか全件失敗するかのどちらかでなければなりません。
type ItemWriter[O any] interface {
	Write(ctx context.Context, items []O) error
}

// StepRepository はチャンクのコミットごとに StepExecution を永続化するための最小限の契約です。
type StepRepository interface {
	UpdateStepExecution(ctx context.Context, stepExecution *StepExecution) error
}

// StepFactory はジョブ実行ごとに新しい Step を生成します。
// Reader の読み込み位置などの状態は実行ごとに初期化されます。
type StepFactory func(ctx context.Context, def StepDefinition, params JobParameters, repo StepRepository) (Step, error)

// JobParametersIncrementer は起動時のパラメータに値を付与します。
type JobParametersIncrementer interface {
	GetNext(params JobParameters) JobParameters
}

// PreviousParametersIncrementer は同じジョブの直前の実行のパラメータから次の値を決めます。
// previous は実行が一つもない場合に nil です。
type PreviousParametersIncrementer interface {
	JobParametersIncrementer
	GetNextFrom(previous *JobParameters, params JobParameters) JobParameters
}
