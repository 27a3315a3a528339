package repository_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/batchjob/example/person/domain/entity"
	"github.com/tigerroll/batchjob/example/person/repository"
	"github.com/tigerroll/batchjob/pkg/batch/config"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
)

func people(n int) []entity.Person {
	persons := make([]entity.Person, 0, n)
	for i := n; i >= 1; i-- {
		persons = append(persons, entity.Person{ID: int64(i), Name: "p", Email: "p@example.com"})
	}
	return persons
}

func TestPersonRepositories(t *testing.T) {
	ctx := context.Background()
	badgerRepo, err := repository.OpenBadgerPersonRepository("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = badgerRepo.Close() })

	repos := map[string]repository.PersonRepository{
		"memory": repository.NewMemoryPersonRepository(),
		"badger": badgerRepo,
	}
	for name, repo := range repos {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, repo.Upsert(ctx, nil, people(5)))

			n, err := repo.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 5, n)

			page, err := repo.FindPage(ctx, 0, 2)
			require.NoError(t, err)
			require.Len(t, page, 2)
			assert.Equal(t, int64(1), page[0].ID)
			assert.Equal(t, int64(2), page[1].ID)

			page, err = repo.FindPage(ctx, 4, 2)
			require.NoError(t, err)
			require.Len(t, page, 1)
			assert.Equal(t, int64(5), page[0].ID)

			page, err = repo.FindPage(ctx, 10, 2)
			require.NoError(t, err)
			assert.Empty(t, page)

			require.NoError(t, repo.Upsert(ctx, nil, []entity.Person{{ID: 3, Name: "updated", Email: "U@EXAMPLE.COM"}}))
			p, err := repo.FindByID(ctx, 3)
			require.NoError(t, err)
			require.NotNil(t, p)
			assert.Equal(t, "updated", p.Name)

			n, err = repo.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 5, n)

			missing, err := repo.FindByID(ctx, 99)
			require.NoError(t, err)
			assert.Nil(t, missing)
		})
	}
}

func TestLoadPersonsYAML(t *testing.T) {
	persons, err := repository.LoadPersonsYAML([]byte("- id: 1\n  name: Sato\n  email: sato@example.com\n- id: 2\n  name: Ito\n  email: ito@example.com\n"))
	require.NoError(t, err)
	assert.Equal(t, []entity.Person{{ID: 1, Name: "Sato", Email: "sato@example.com"}, {ID: 2, Name: "Ito", Email: "ito@example.com"}}, persons)

	_, err = repository.LoadPersonsYAML([]byte("id: [1"))
	assert.Error(t, err)
}

func TestNewPersonRepository(t *testing.T) {
	tests := []struct {
		name    string
		dbType  string
		wantErr bool
	}{
		{name: "memory", dbType: "memory"},
		{name: "既定", dbType: ""},
		{name: "接続のない postgres", dbType: "postgres", wantErr: true},
		{name: "snowflake", dbType: "snowflake", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewConfig()
			cfg.Database.Type = tt.dbType
			repo, err := repository.NewPersonRepository(*cfg, nil)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, &repository.MemoryPersonRepository{}, repo)
		})
	}

	_, err := repository.NewPersonRepository(config.Config{Database: config.DatabaseConfig{Type: "oracle"}}, nil)
	assert.Equal(t, exception.KindValidation, exception.KindOf(err))
}
