package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/tigerroll/batchjob/example/person/domain/entity"
	"github.com/tigerroll/batchjob/pkg/batch/database"
	sqlrepo "github.com/tigerroll/batchjob/pkg/batch/repository/sql"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
)

// SQLPersonRepository は persons テーブルに Person を保存します。
// 接続は JobRepository と共有するため、Close では閉じません。
type SQLPersonRepository struct {
	conn    database.DBConnection
	dialect sqlrepo.Dialect
	upsert  string
}

// NewSQLPersonRepository は新しい SQLPersonRepository のインスタンスを作成します。
func NewSQLPersonRepository(conn database.DBConnection) *SQLPersonRepository {
	driverType := strings.ToLower(conn.DriverType())
	dialect := sqlrepo.DialectFor(driverType)
	return &SQLPersonRepository{conn: conn, dialect: dialect, upsert: dialect.Rebind(upsertQuery(driverType))}
}

func upsertQuery(driverType string) string {
	switch driverType {
	case "mysql":
		return `INSERT INTO persons (id, name, email) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE name = VALUES(name), email = VALUES(email)`
	default:
		return `INSERT INTO persons (id, name, email) VALUES (?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email`
	}
}

func (r *SQLPersonRepository) FindPage(ctx context.Context, offset, limit int) ([]entity.Person, error) {
	rows, err := r.conn.QueryContext(ctx, r.dialect.Rebind(`SELECT id, name, email FROM persons ORDER BY id LIMIT ? OFFSET ?`), limit, offset)
	if err != nil {
		return nil, exception.NewBatchError("person_repository", "persons の読み込みに失敗しました", err, true, false)
	}
	defer rows.Close()

	var persons []entity.Person
	for rows.Next() {
		var p entity.Person
		if err := rows.Scan(&p.ID, &p.Name, &p.Email); err != nil {
			return nil, exception.NewBatchError("person_repository", "persons の行の読み取りに失敗しました", err, false, false)
		}
		persons = append(persons, p)
	}
	if err := rows.Err(); err != nil {
		return nil, exception.NewBatchError("person_repository", "persons の読み込みに失敗しました", err, true, false)
	}
	return persons, nil
}

// Upsert は tx の中で persons を一件ずつ upsert します。
func (r *SQLPersonRepository) Upsert(ctx context.Context, tx database.Tx, persons []entity.Person) error {
	if tx == nil {
		return exception.NewBatchErrorf("person_repository", "SQL への書き込みにはトランザクションが必要です")
	}
	for _, p := range persons {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if _, err := tx.ExecContext(ctx, r.upsert, p.ID, p.Name, p.Email); err != nil {
			return fmt.Errorf("person (id=%d) の upsert に失敗しました: %w", p.ID, err)
		}
	}
	return nil
}

func (r *SQLPersonRepository) FindByID(ctx context.Context, id int64) (*entity.Person, error) {
	var p entity.Person
	err := r.conn.QueryRowContext(ctx, r.dialect.Rebind(`SELECT id, name, email FROM persons WHERE id = ?`), id).Scan(&p.ID, &p.Name, &p.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, exception.NewBatchError("person_repository", fmt.Sprintf("person (id=%d) の取得に失敗しました", id), err, true, false)
	}
	return &p, nil
}

func (r *SQLPersonRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM persons`).Scan(&n); err != nil {
		return 0, exception.NewBatchError("person_repository", "persons の件数取得に失敗しました", err, true, false)
	}
	return n, nil
}

func (r *SQLPersonRepository) Close() error {
	return nil
}

var _ PersonRepository = (*SQLPersonRepository)(nil)
