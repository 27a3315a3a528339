package incrementer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
	"github.com/tigerroll/batchjob/pkg/batch/job/incrementer"
)

func withRunID(id int64) core.JobParameters {
	params := core.NewJobParameters()
	params.Put("run.id", core.IntParameter(id))
	return params
}

func TestRunIDIncrementer_GetNextFrom(t *testing.T) {
	last := withRunID(4)
	withoutRunID := core.NewJobParameters()
	withoutRunID.Put("date", core.StringParameter("2024-01-01"))

	tests := []struct {
		name     string
		previous *core.JobParameters
		params   core.JobParameters
		want     int64
	}{
		{name: "直前の実行がない", previous: nil, params: core.NewJobParameters(), want: 1},
		{name: "直前の run.id を引き継ぐ", previous: &last, params: core.NewJobParameters(), want: 5},
		{name: "指定された run.id を優先する", previous: &last, params: withRunID(7), want: 8},
		{name: "直前の実行に run.id がない", previous: &withoutRunID, params: core.NewJobParameters(), want: 1},
	}
	inc := incrementer.NewRunIDIncrementer("run.id")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := inc.GetNextFrom(tt.previous, tt.params)
			got, ok := next.GetInt("run.id")
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
			p, _ := next.Get("run.id")
			assert.True(t, p.Identifying)
		})
	}

	// 元のパラメータは変更しない
	params := withRunID(7)
	inc.GetNextFrom(&last, params)
	got, _ := params.GetInt("run.id")
	assert.Equal(t, int64(7), got)
}
