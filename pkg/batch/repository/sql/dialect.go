package sql

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"
)

// querier は DBConnection と Tx に共通するクエリ実行メソッドです。
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scanner は *sql.Row と *sql.Rows に共通する Scan メソッドです。
type scanner interface {
	Scan(dest ...any) error
}

// Dialect はデータベースタイプごとのプレースホルダ形式を表します。
type Dialect struct {
	numbered bool
}

// DialectFor はデータベースタイプに対応する Dialect を返します。
// postgres と redshift は $1 形式、それ以外は ? 形式です。
func DialectFor(driverType string) Dialect {
	switch strings.ToLower(driverType) {
	case "postgres", "redshift":
		return Dialect{numbered: true}
	default:
		return Dialect{}
	}
}

// Rebind は ? プレースホルダをデータベースの形式に変換します。
func (d Dialect) Rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// nextID は batch_sequences の値を一つ進めて返します。呼び出し元のトランザクション内で実行します。
func (d Dialect) nextID(ctx context.Context, q querier, name string) (int64, error) {
	if _, err := q.ExecContext(ctx, d.Rebind(`UPDATE batch_sequences SET value = value + 1 WHERE name = ?`), name); err != nil {
		return 0, err
	}
	var id int64
	if err := q.QueryRowContext(ctx, d.Rebind(`SELECT value FROM batch_sequences WHERE name = ?`), name).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
