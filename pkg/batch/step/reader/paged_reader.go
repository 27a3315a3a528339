// Package reader は ItemReader の汎用実装を提供します。
package reader

import (
	"context"
	"io"
	"sync"

	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
	logger "github.com/tigerroll/batchjob/pkg/batch/util/logger"
)

// PageFunc は offset から最大 limit 件のアイテムを返します。終端では空のスライスを返します。
type PageFunc[T any] func(ctx context.Context, offset, limit int) ([]T, error)

// PagedReader はページ単位でアイテムを取得し、一件ずつ返す ItemReader の実装です。
// Open するたびに読み込み位置は先頭に戻ります。
type PagedReader[T any] struct {
	name     string
	fetch    PageFunc[T]
	pageSize int

	mu     sync.Mutex
	buffer []T
	offset int
	done   bool
}

// NewPagedReader は新しい PagedReader のインスタンスを作成します。
func NewPagedReader[T any](name string, pageSize int, fetch PageFunc[T]) *PagedReader[T] {
	if pageSize <= 0 {
		pageSize = 1
	}
	return &PagedReader[T]{name: name, fetch: fetch, pageSize: pageSize}
}

// Open は読み込み位置を初期化します。
func (r *PagedReader[T]) Open(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffer = nil
	r.offset = 0
	r.done = false
	logger.Debugf("Reader '%s' をオープンしました (ページサイズ: %d)。", r.name, r.pageSize)
	return nil
}

// Read は次のアイテムを返します。終端では io.EOF を返します。
func (r *PagedReader[T]) Read(ctx context.Context) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	if len(r.buffer) == 0 && !r.done {
		page, err := r.fetch(ctx, r.offset, r.pageSize)
		if err != nil {
			return zero, err
		}
		r.offset += len(page)
		r.buffer = page
		if len(page) < r.pageSize {
			r.done = true
		}
	}
	if len(r.buffer) == 0 {
		return zero, io.EOF
	}
	item := r.buffer[0]
	r.buffer = r.buffer[1:]
	return item, nil
}

// Close はバッファを解放します。
func (r *PagedReader[T]) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffer = nil
	return nil
}

// NewSliceReader は items を順に返す Reader を作成します。
func NewSliceReader[T any](name string, items []T) *PagedReader[T] {
	return NewPagedReader(name, len(items)+1, func(ctx context.Context, offset, limit int) ([]T, error) {
		if offset >= len(items) {
			return nil, nil
		}
		end := offset + limit
		if end > len(items) {
			end = len(items)
		}
		return append([]T(nil), items[offset:end]...), nil
	})
}

var _ core.ItemReader[any] = (*PagedReader[any])(nil)
