package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Tx はデータベーストランザクションのインターフェースです。
// sql.Tx の必要なメソッドを抽象化します。
type Tx interface {
	Commit() error
	Rollback() error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DBConnection はデータベース接続のインターフェースです。
// sql.DB の必要なメソッドを抽象化します。
type DBConnection interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error)
	Close() error
	PingContext(ctx context.Context) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	// DriverType は接続先のデータベースタイプ (postgres, mysql など) を返します。
	DriverType() string
}

// sqlTxAdapter は sql.Tx を database.Tx インターフェースに適合させるアダプターです。
type sqlTxAdapter struct {
	*sql.Tx
}

// sqlDBAdapter は sql.DB を database.DBConnection インターフェースに適合させるアダプターです。
type sqlDBAdapter struct {
	db         *sql.DB
	driverType string
}

// NewSQLDBAdapter は新しい sqlDBAdapter のインスタンスを作成します。
func NewSQLDBAdapter(db *sql.DB, driverType string) DBConnection {
	return &sqlDBAdapter{db: db, driverType: driverType}
}

// BeginTx は sql.DB の BeginTx メソッドを呼び出し、結果を database.Tx でラップします。
func (a *sqlDBAdapter) BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error) {
	tx, err := a.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &sqlTxAdapter{tx}, nil
}

func (a *sqlDBAdapter) Close() error {
	return a.db.Close()
}

func (a *sqlDBAdapter) PingContext(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

func (a *sqlDBAdapter) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return a.db.ExecContext(ctx, query, args...)
}

func (a *sqlDBAdapter) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return a.db.QueryContext(ctx, query, args...)
}

func (a *sqlDBAdapter) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return a.db.QueryRowContext(ctx, query, args...)
}

func (a *sqlDBAdapter) DriverType() string {
	return a.driverType
}

// WithTx はトランザクション内で fn を実行します。
// fn がエラーを返した場合はロールバックし、成功した場合はコミットします。
func WithTx(ctx context.Context, conn DBConnection, fn func(tx Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (ロールバックにも失敗しました: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}
