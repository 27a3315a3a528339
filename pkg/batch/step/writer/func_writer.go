// Package writer は ItemWriter の汎用実装を提供します。
package writer

import (
	"context"

	"github.com/tigerroll/batchjob/pkg/batch/database"
	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
)

// FuncWriter は関数を ItemWriter として扱うアダプターです。
// 関数はチャンク全体を一括で書き込むか、何も書き込まずにエラーを返す必要があります。
type FuncWriter[O any] func(ctx context.Context, items []O) error

// Write は関数を呼び出します。
func (f FuncWriter[O]) Write(ctx context.Context, items []O) error {
	return f(ctx, items)
}

// TxWriteFunc はトランザクション内でチャンクを書き込みます。
type TxWriteFunc[O any] func(ctx context.Context, tx database.Tx, items []O) error

// TxWriter はチャンクごとにトランザクションを開始し、成功時にコミット、失敗時にロールバックする ItemWriter です。
type TxWriter[O any] struct {
	conn  database.DBConnection
	write TxWriteFunc[O]
}

// NewTxWriter は新しい TxWriter のインスタンスを作成します。
func NewTxWriter[O any](conn database.DBConnection, write TxWriteFunc[O]) *TxWriter[O] {
	return &TxWriter[O]{conn: conn, write: write}
}

// Write はチャンクを一つのトランザクションで書き込みます。
func (w *TxWriter[O]) Write(ctx context.Context, items []O) error {
	return database.WithTx(ctx, w.conn, func(tx database.Tx) error {
		return w.write(ctx, tx, items)
	})
}

var (
	_ core.ItemWriter[any] = FuncWriter[any](nil)
	_ core.ItemWriter[any] = (*TxWriter[any])(nil)
)
