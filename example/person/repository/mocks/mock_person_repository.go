// Package mocks は PersonRepository のテスト用モックを提供します。
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/tigerroll/batchjob/example/person/domain/entity"
	"github.com/tigerroll/batchjob/example/person/repository"
	"github.com/tigerroll/batchjob/pkg/batch/database"
)

// MockPersonRepository は testify の mock.Mock による PersonRepository です。
type MockPersonRepository struct {
	mock.Mock
}

func (m *MockPersonRepository) FindPage(ctx context.Context, offset, limit int) ([]entity.Person, error) {
	args := m.Called(ctx, offset, limit)
	persons, _ := args.Get(0).([]entity.Person)
	return persons, args.Error(1)
}

func (m *MockPersonRepository) Upsert(ctx context.Context, tx database.Tx, persons []entity.Person) error {
	args := m.Called(ctx, tx, persons)
	return args.Error(0)
}

func (m *MockPersonRepository) FindByID(ctx context.Context, id int64) (*entity.Person, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(*entity.Person)
	return p, args.Error(1)
}

func (m *MockPersonRepository) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockPersonRepository) Close() error {
	return m.Called().Error(0)
}

var _ repository.PersonRepository = (*MockPersonRepository)(nil)
