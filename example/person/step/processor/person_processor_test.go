package processor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/batchjob/example/person/domain/entity"
	"github.com/tigerroll/batchjob/example/person/step/processor"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
)

func TestPersonProcessor_Process(t *testing.T) {
	tests := []struct {
		name     string
		in       entity.Person
		want     entity.Person
		skipable bool
	}{
		{
			name: "大文字に変換",
			in:   entity.Person{ID: 1, Name: "Sato", Email: "sato@example.com"},
			want: entity.Person{ID: 1, Name: "Sato", Email: "SATO@EXAMPLE.COM"},
		},
		{
			name: "既に大文字",
			in:   entity.Person{ID: 2, Name: "Ito", Email: "ITO@EXAMPLE.COM"},
			want: entity.Person{ID: 2, Name: "Ito", Email: "ITO@EXAMPLE.COM"},
		},
		{name: "@ がない", in: entity.Person{ID: 3, Name: "Kato", Email: "kato.example.com"}, skipable: true},
		{name: "空のメールアドレス", in: entity.Person{ID: 4, Name: "Mori"}, skipable: true},
	}
	p := processor.NewPersonProcessor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.in
			out, keep, err := p.Process(context.Background(), in)
			if tt.skipable {
				require.Error(t, err)
				assert.True(t, exception.IsSkippable(err))
				assert.False(t, keep)
				return
			}
			require.NoError(t, err)
			assert.True(t, keep)
			assert.Equal(t, tt.want, out)
			assert.Equal(t, tt.in, in)
		})
	}
}
