// Package processor は ItemProcessor の汎用実装を提供します。
package processor

import (
	"context"

	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
)

// FuncProcessor は関数を ItemProcessor として扱うアダプターです。
type FuncProcessor[I, O any] func(ctx context.Context, item I) (O, bool, error)

// Process は関数を呼び出します。
func (f FuncProcessor[I, O]) Process(ctx context.Context, item I) (O, bool, error) {
	return f(ctx, item)
}

// PassThrough は入力をそのまま出力する ItemProcessor を返します。
func PassThrough[T any]() FuncProcessor[T, T] {
	return func(ctx context.Context, item T) (T, bool, error) {
		return item, true, nil
	}
}

// Filter は pred が false を返したアイテムを除外する ItemProcessor を返します。
func Filter[T any](pred func(T) bool) FuncProcessor[T, T] {
	return func(ctx context.Context, item T) (T, bool, error) {
		return item, pred(item), nil
	}
}

var _ core.ItemProcessor[any, any] = FuncProcessor[any, any](nil)
