package core

import (
	"context"
)

// Callbacks はジョブとステップのライフサイクルで呼び出される関数群です。
// 引数の JobExecution と StepExecution はスナップショットであり、変更しても実行には影響しません。
// nil のフィールドは呼び出されません。
type Callbacks struct {
	OnJobStart  func(ctx context.Context, execution *JobExecution)
	OnJobEnd    func(ctx context.Context, execution *JobExecution)
	OnStepStart func(ctx context.Context, execution *JobExecution, step *StepExecution)
	OnStepEnd   func(ctx context.Context, execution *JobExecution, step *StepExecution)
	OnSkip      func(ctx context.Context, step *StepExecution, item any, err error)
}

// ComposeCallbacks は複数の Callbacks を順に呼び出す一つの Callbacks にまとめます。
func ComposeCallbacks(all ...Callbacks) Callbacks {
	return Callbacks{
		OnJobStart: func(ctx context.Context, e *JobExecution) {
			for _, c := range all {
				if c.OnJobStart != nil {
					c.OnJobStart(ctx, e)
				}
			}
		},
		OnJobEnd: func(ctx context.Context, e *JobExecution) {
			for _, c := range all {
				if c.OnJobEnd != nil {
					c.OnJobEnd(ctx, e)
				}
			}
		},
		OnStepStart: func(ctx context.Context, e *JobExecution, s *StepExecution) {
			for _, c := range all {
				if c.OnStepStart != nil {
					c.OnStepStart(ctx, e, s)
				}
			}
		},
		OnStepEnd: func(ctx context.Context, e *JobExecution, s *StepExecution) {
			for _, c := range all {
				if c.OnStepEnd != nil {
					c.OnStepEnd(ctx, e, s)
				}
			}
		},
		OnSkip: func(ctx context.Context, s *StepExecution, item any, err error) {
			for _, c := range all {
				if c.OnSkip != nil {
					c.OnSkip(ctx, s, item, err)
				}
			}
		},
	}
}

// StepDefinition はチャンク指向ステップの定義です。
type StepDefinition struct {
	Name      string
	ChunkSize int
	SkipLimit int
	Factory   StepFactory
}

// JobDefinition は登録後に変更されないジョブの定義です。
type JobDefinition struct {
	Name               string
	Description        string
	Steps              []StepDefinition
	DefaultParameters  map[string]string
	RequiredParameters []string
	// AllowedParameters が空の場合は任意のキーを受け付けます。
	AllowedParameters []string
	// Schedule は cron 形式の実行予定のヒントです。エンジンは実行しません。
	Schedule string
	// Incrementer は起動時にパラメータを付与します。nil の場合は何もしません。
	Incrementer JobParametersIncrementer
	Callbacks   Callbacks
}

// Copy はスライスとマップを複製したコピーを返します。
func (d JobDefinition) Copy() JobDefinition {
	cp := d
	cp.Steps = append([]StepDefinition(nil), d.Steps...)
	cp.RequiredParameters = append([]string(nil), d.RequiredParameters...)
	cp.AllowedParameters = append([]string(nil), d.AllowedParameters...)
	if d.DefaultParameters != nil {
		cp.DefaultParameters = make(map[string]string, len(d.DefaultParameters))
		for k, v := range d.DefaultParameters {
			cp.DefaultParameters[k] = v
		}
	}
	return cp
}

// StepNames はステップ名を定義順に返します。
func (d JobDefinition) StepNames() []string {
	names := make([]string, 0, len(d.Steps))
	for _, s := range d.Steps {
		names = append(names, s.Name)
	}
	return names
}
