package component_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/tigerroll/batchjob/pkg/batch/config"
	component "github.com/tigerroll/batchjob/pkg/batch/job/component"
	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
	"github.com/tigerroll/batchjob/pkg/batch/step/processor"
	"github.com/tigerroll/batchjob/pkg/batch/step/reader"
	"github.com/tigerroll/batchjob/pkg/batch/step/writer"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
)

func newRegistry(t *testing.T, sink *[]string) *component.Registry {
	t.Helper()
	reg := component.NewRegistry(config.NewConfig())
	require.NoError(t, component.RegisterReader(reg, "words", func(ctx context.Context, bc component.BuildContext) (core.ItemReader[string], error) {
		return reader.NewSliceReader("words", strings.Split(bc.Properties["words"], ",")), nil
	}))
	require.NoError(t, component.RegisterProcessor(reg, "upper", func(ctx context.Context, bc component.BuildContext) (core.ItemProcessor[string, string], error) {
		return processor.FuncProcessor[string, string](func(ctx context.Context, item string) (string, bool, error) {
			return strings.ToUpper(item), item != "", nil
		}), nil
	}))
	require.NoError(t, component.RegisterProcessor(reg, "length", func(ctx context.Context, bc component.BuildContext) (core.ItemProcessor[int, int], error) {
		return processor.PassThrough[int](), nil
	}))
	require.NoError(t, component.RegisterWriter(reg, "collect", func(ctx context.Context, bc component.BuildContext) (core.ItemWriter[string], error) {
		return writer.FuncWriter[string](func(ctx context.Context, items []string) error {
			*sink = append(*sink, items...)
			return nil
		}), nil
	}))
	return reg
}

func TestRegistry_BuildAndAdapt(t *testing.T) {
	ctx := context.Background()
	var sink []string
	reg := newRegistry(t, &sink)
	params := core.NewJobParameters()

	r, err := reg.BuildReader(ctx, "words", params, map[string]string{"words": "a,,b"})
	require.NoError(t, err)
	p, err := reg.BuildProcessor(ctx, "upper", params, nil)
	require.NoError(t, err)
	w, err := reg.BuildWriter(ctx, "collect", params, nil)
	require.NoError(t, err)

	require.NoError(t, r.Open(ctx))
	var out []any
	for {
		item, err := r.Read(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		v, keep, err := p.Process(ctx, item)
		require.NoError(t, err)
		if keep {
			out = append(out, v)
		}
	}
	require.NoError(t, r.Close(ctx))
	require.NoError(t, w.Write(ctx, out))
	assert.Equal(t, []string{"A", "B"}, sink)
}

func TestRegistry_Errors(t *testing.T) {
	ctx := context.Background()
	var sink []string
	reg := newRegistry(t, &sink)
	params := core.NewJobParameters()

	t.Run("重複登録", func(t *testing.T) {
		err := component.RegisterWriter(reg, "collect", func(ctx context.Context, bc component.BuildContext) (core.ItemWriter[string], error) {
			return nil, nil
		})
		require.Error(t, err)
		assert.Equal(t, exception.KindConflict, exception.KindOf(err))
	})

	t.Run("未登録の参照", func(t *testing.T) {
		_, err := reg.BuildReader(ctx, "missing", params, nil)
		require.Error(t, err)
		assert.Equal(t, exception.CodeInvalidJobDefinition, exception.CodeOf(err))
	})

	t.Run("型の不一致は致命的なエラー", func(t *testing.T) {
		p, err := reg.BuildProcessor(ctx, "length", params, nil)
		require.NoError(t, err)
		_, _, err = p.Process(ctx, "not an int")
		require.Error(t, err)
		assert.True(t, exception.IsFatal(err))

		w, err := reg.BuildWriter(ctx, "collect", params, nil)
		require.NoError(t, err)
		err = w.Write(ctx, []any{"ok", 1})
		require.Error(t, err)
		assert.Empty(t, sink)
	})

	assert.Equal(t, map[string][]string{
		"reader":    {"words"},
		"processor": {"length", "upper"},
		"writer":    {"collect"},
	}, reg.Names())
}
