package component

import (
	"context"
	"fmt"

	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
)

type readerAdapter[T any] struct {
	inner core.ItemReader[T]
}

func (a readerAdapter[T]) Open(ctx context.Context) error { return a.inner.Open(ctx) }

func (a readerAdapter[T]) Read(ctx context.Context) (any, error) {
	item, err := a.inner.Read(ctx)
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (a readerAdapter[T]) Close(ctx context.Context) error { return a.inner.Close(ctx) }

// mismatch はステップ内のコンポーネントの型が一致しない場合の致命的なエラーです。
func mismatch(name string, want any, got any) error {
	return exception.NewProcessingError(exception.CodeItemProcessFailed, "component_registry",
		fmt.Sprintf("コンポーネント '%s' は %T を期待しましたが %T を受け取りました", name, want, got), nil)
}

type processorAdapter[I, O any] struct {
	name  string
	inner core.ItemProcessor[I, O]
}

func (a processorAdapter[I, O]) Process(ctx context.Context, item any) (any, bool, error) {
	in, ok := item.(I)
	if !ok {
		var zero I
		return nil, false, mismatch(a.name, zero, item)
	}
	out, keep, err := a.inner.Process(ctx, in)
	if err != nil || !keep {
		return nil, keep, err
	}
	return out, true, nil
}

type writerAdapter[T any] struct {
	name  string
	inner core.ItemWriter[T]
}

func (a writerAdapter[T]) Write(ctx context.Context, items []any) error {
	typed := make([]T, 0, len(items))
	for _, item := range items {
		v, ok := item.(T)
		if !ok {
			var zero T
			return mismatch(a.name, zero, item)
		}
		typed = append(typed, v)
	}
	return a.inner.Write(ctx, typed)
}
