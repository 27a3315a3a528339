package writer_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/batchjob/example/person/domain/entity"
	"github.com/tigerroll/batchjob/example/person/repository"
	"github.com/tigerroll/batchjob/example/person/repository/mocks"
	"github.com/tigerroll/batchjob/example/person/step/writer"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
)

func TestPersonWriter_Write(t *testing.T) {
	ctx := context.Background()
	chunk := []entity.Person{{ID: 1, Name: "Sato", Email: "SATO@EXAMPLE.COM"}, {ID: 2, Name: "Ito", Email: "ITO@EXAMPLE.COM"}}

	t.Run("チャンクを upsert", func(t *testing.T) {
		repo := &mocks.MockPersonRepository{}
		repo.On("Upsert", mock.Anything, mock.Anything, chunk).Return(nil).Once()
		require.NoError(t, writer.NewPersonWriter(repo, nil).Write(ctx, chunk))
		repo.AssertExpectations(t)
	})
	t.Run("空のチャンク", func(t *testing.T) {
		repo := &mocks.MockPersonRepository{}
		require.NoError(t, writer.NewPersonWriter(repo, nil).Write(ctx, nil))
		repo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything)
	})
	t.Run("書き込みの失敗は致命的", func(t *testing.T) {
		repo := &mocks.MockPersonRepository{}
		repo.On("Upsert", mock.Anything, mock.Anything, chunk).Return(errors.New("disk full"))
		err := writer.NewPersonWriter(repo, nil).Write(ctx, chunk)
		require.Error(t, err)
		assert.True(t, exception.IsFatal(err))
		assert.ErrorContains(t, err, "disk full")
	})
	t.Run("メモリへの反映", func(t *testing.T) {
		repo := repository.NewMemoryPersonRepository(entity.Person{ID: 1, Name: "Sato", Email: "sato@example.com"})
		require.NoError(t, writer.NewPersonWriter(repo, nil).Write(ctx, chunk))
		n, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		p, err := repo.FindByID(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "SATO@EXAMPLE.COM", p.Email)
	})
}
