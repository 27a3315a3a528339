package repository

import (
	"context"
	"errors"
	"fmt"
	"os"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"github.com/tigerroll/batchjob/example/person/domain/entity"
	"github.com/tigerroll/batchjob/pkg/batch/database"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
	logger "github.com/tigerroll/batchjob/pkg/batch/util/logger"
)

// BadgerPersonRepository は Person を BadgerDB に保存します。
type BadgerPersonRepository struct {
	store *badgerhold.Store
}

// OpenBadgerPersonRepository は path にデータベースを開きます。path が空の場合はインメモリで動作します。
func OpenBadgerPersonRepository(path string) (*BadgerPersonRepository, error) {
	options := badgerhold.DefaultOptions
	options.Logger = nil
	if path == "" {
		options.InMemory = true
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, exception.NewBatchError("person_repository", "Badger のデータディレクトリ作成に失敗しました", err, false, false)
		}
		options.Dir = path
		options.ValueDir = path
	}
	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, exception.NewBatchError("person_repository", fmt.Sprintf("Badger データベース '%s' のオープンに失敗しました", path), err, false, false)
	}
	logger.Debugf("Person 用の Badger データベースを開きました (path: %q)。", path)
	return &BadgerPersonRepository{store: store}, nil
}

func (r *BadgerPersonRepository) FindPage(ctx context.Context, offset, limit int) ([]entity.Person, error) {
	var persons []entity.Person
	q := (&badgerhold.Query{}).SortBy("ID").Skip(offset).Limit(limit)
	if err := r.store.Find(&persons, q); err != nil {
		return nil, exception.NewBatchError("person_repository", "persons の読み込みに失敗しました", err, true, false)
	}
	return persons, nil
}

// Upsert は一つの Badger トランザクションで persons を保存します。
func (r *BadgerPersonRepository) Upsert(ctx context.Context, tx database.Tx, persons []entity.Person) error {
	return r.store.Badger().Update(func(btx *badgerdb.Txn) error {
		for _, p := range persons {
			if err := r.store.TxUpsert(btx, p.ID, p); err != nil {
				return fmt.Errorf("person (id=%d) の upsert に失敗しました: %w", p.ID, err)
			}
		}
		return nil
	})
}

func (r *BadgerPersonRepository) FindByID(ctx context.Context, id int64) (*entity.Person, error) {
	var p entity.Person
	err := r.store.Get(id, &p)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, exception.NewBatchError("person_repository", fmt.Sprintf("person (id=%d) の取得に失敗しました", id), err, true, false)
	}
	return &p, nil
}

func (r *BadgerPersonRepository) Count(ctx context.Context) (int, error) {
	n, err := r.store.Count(&entity.Person{}, &badgerhold.Query{})
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r *BadgerPersonRepository) Close() error {
	return r.store.Close()
}

var _ PersonRepository = (*BadgerPersonRepository)(nil)
