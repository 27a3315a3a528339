package serialization_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
	"github.com/tigerroll/batchjob/pkg/batch/util/serialization"
)

func TestJobParameters_PreservesTypes(t *testing.T) {
	params := core.NewJobParameters()
	params.Put("big", core.IntParameter(9007199254740993))
	params.Put("date", core.DateParameter(time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)))
	params.Put("name", core.StringParameter("42"))
	params.Put(core.TimestampKey, core.JobParameter{Type: core.ParameterTypeInteger, Value: int64(5), Identifying: false})

	data, err := serialization.MarshalJobParameters(params)
	require.NoError(t, err)

	var decoded core.JobParameters
	require.NoError(t, serialization.UnmarshalJobParameters(data, &decoded))
	assert.True(t, params.Equal(decoded))

	ts, ok := decoded.Get(core.TimestampKey)
	require.True(t, ok)
	assert.False(t, ts.Identifying)

	name, ok := decoded.Get("name")
	require.True(t, ok)
	assert.Equal(t, core.ParameterTypeString, name.Type)
}

func TestUnmarshalJobParameters_EmptyAndInvalid(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{name: "空データ", data: "", wantErr: false},
		{name: "null", data: "null", wantErr: false},
		{name: "壊れた JSON", data: "{", wantErr: true},
		{name: "未知の型", data: `{"a":{"type":"FLOAT","value":"1.0","identifying":true}}`, wantErr: true},
		{name: "整数として不正", data: `{"a":{"type":"INTEGER","value":"x","identifying":true}}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var params core.JobParameters
			err := serialization.UnmarshalJobParameters([]byte(tt.data), &params)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 0, params.Len())
		})
	}
}

func TestStringMap(t *testing.T) {
	data, err := serialization.MarshalStringMap(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	data, err = serialization.MarshalStringMap(map[string]string{"k": "v"})
	require.NoError(t, err)
	m, err := serialization.UnmarshalStringMap(data)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"k": "v"}, m)
}
