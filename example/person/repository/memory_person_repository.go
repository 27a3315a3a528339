package repository

import (
	"context"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/tigerroll/batchjob/example/person/domain/entity"
	"github.com/tigerroll/batchjob/pkg/batch/database"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
)

// MemoryPersonRepository は Person をメモリ上に保持します。
type MemoryPersonRepository struct {
	mu      sync.RWMutex
	persons map[int64]entity.Person
}

// NewMemoryPersonRepository は persons を初期データとして保持するリポジトリを作成します。
func NewMemoryPersonRepository(persons ...entity.Person) *MemoryPersonRepository {
	r := &MemoryPersonRepository{persons: make(map[int64]entity.Person, len(persons))}
	for _, p := range persons {
		r.persons[p.ID] = p
	}
	return r
}

func (r *MemoryPersonRepository) sorted() []entity.Person {
	all := make([]entity.Person, 0, len(r.persons))
	for _, p := range r.persons {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}

func (r *MemoryPersonRepository) FindPage(ctx context.Context, offset, limit int) ([]entity.Person, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.sorted()
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return append([]entity.Person(nil), all[offset:end]...), nil
}

// Upsert はコピーに全件を反映してから入れ替えます。途中で失敗した場合は何も反映しません。
func (r *MemoryPersonRepository) Upsert(ctx context.Context, tx database.Tx, persons []entity.Person) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	staged := make(map[int64]entity.Person, len(r.persons)+len(persons))
	for id, p := range r.persons {
		staged[id] = p
	}
	for _, p := range persons {
		staged[p.ID] = p
	}
	r.persons = staged
	return nil
}

func (r *MemoryPersonRepository) FindByID(ctx context.Context, id int64) (*entity.Person, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.persons[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *MemoryPersonRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.persons), nil
}

func (r *MemoryPersonRepository) Close() error {
	return nil
}

var _ PersonRepository = (*MemoryPersonRepository)(nil)

// LoadPersonsYAML は YAML のリストを Person のスライスに変換します。
func LoadPersonsYAML(data []byte) ([]entity.Person, error) {
	var persons []entity.Person
	if err := yaml.Unmarshal(data, &persons); err != nil {
		return nil, exception.NewBatchError("person_repository", "Person のデータの解析に失敗しました", err, false, false)
	}
	return persons, nil
}
