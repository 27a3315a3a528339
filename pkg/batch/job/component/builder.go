// Package component は YAML のジョブ定義から参照される Reader, Processor, Writer の生成関数を保持します。
package component

import (
	"context"
	"fmt"
	"sort"
	"sync"

	config "github.com/tigerroll/batchjob/pkg/batch/config"
	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
	logger "github.com/tigerroll/batchjob/pkg/batch/util/logger"
)

// BuildContext はコンポーネントの生成時に渡される値です。
type BuildContext struct {
	Config *config.Config
	// Params は起動された JobExecution のパラメータです。
	Params core.JobParameters
	// Properties は JSL の参照に付与されたプロパティです。
	Properties map[string]string
}

// ReaderBuilder は ItemReader を生成する関数です。
type ReaderBuilder[T any] func(ctx context.Context, bc BuildContext) (core.ItemReader[T], error)

// ProcessorBuilder は ItemProcessor を生成する関数です。
type ProcessorBuilder[I, O any] func(ctx context.Context, bc BuildContext) (core.ItemProcessor[I, O], error)

// WriterBuilder は ItemWriter を生成する関数です。
type WriterBuilder[T any] func(ctx context.Context, bc BuildContext) (core.ItemWriter[T], error)

type kind string

const (
	kindReader    kind = "reader"
	kindProcessor kind = "processor"
	kindWriter    kind = "writer"
)

// Registry はコンポーネント名から生成関数を引くためのテーブルです。
// 型の異なるコンポーネントを同じステップで組み合わせるため、内部では any に変換したアダプタを保持します。
type Registry struct {
	cfg *config.Config

	mu         sync.RWMutex
	readers    map[string]ReaderBuilder[any]
	processors map[string]ProcessorBuilder[any, any]
	writers    map[string]WriterBuilder[any]
}

// NewRegistry は空の Registry を作成します。
func NewRegistry(cfg *config.Config) *Registry {
	return &Registry{
		cfg:        cfg,
		readers:    make(map[string]ReaderBuilder[any]),
		processors: make(map[string]ProcessorBuilder[any, any]),
		writers:    make(map[string]WriterBuilder[any]),
	}
}

func duplicate(k kind, name string) error {
	return exception.NewConflictError(exception.CodeJobRegistrationFailed, "component_registry",
		fmt.Sprintf("%s '%s' は既に登録されています", k, name))
}

// RegisterReader は型付きの ReaderBuilder を登録します。
func RegisterReader[T any](r *Registry, name string, build ReaderBuilder[T]) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.readers[name]; ok {
		return duplicate(kindReader, name)
	}
	r.readers[name] = func(ctx context.Context, bc BuildContext) (core.ItemReader[any], error) {
		inner, err := build(ctx, bc)
		if err != nil {
			return nil, err
		}
		return readerAdapter[T]{inner: inner}, nil
	}
	logger.Debugf("Reader '%s' を登録しました。", name)
	return nil
}

// RegisterProcessor は型付きの ProcessorBuilder を登録します。
func RegisterProcessor[I, O any](r *Registry, name string, build ProcessorBuilder[I, O]) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.processors[name]; ok {
		return duplicate(kindProcessor, name)
	}
	r.processors[name] = func(ctx context.Context, bc BuildContext) (core.ItemProcessor[any, any], error) {
		inner, err := build(ctx, bc)
		if err != nil {
			return nil, err
		}
		return processorAdapter[I, O]{name: name, inner: inner}, nil
	}
	logger.Debugf("Processor '%s' を登録しました。", name)
	return nil
}

// RegisterWriter は型付きの WriterBuilder を登録します。
func RegisterWriter[T any](r *Registry, name string, build WriterBuilder[T]) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.writers[name]; ok {
		return duplicate(kindWriter, name)
	}
	r.writers[name] = func(ctx context.Context, bc BuildContext) (core.ItemWriter[any], error) {
		inner, err := build(ctx, bc)
		if err != nil {
			return nil, err
		}
		return writerAdapter[T]{name: name, inner: inner}, nil
	}
	logger.Debugf("Writer '%s' を登録しました。", name)
	return nil
}

func unknown(k kind, name string) error {
	return exception.NewValidationError(exception.CodeInvalidJobDefinition, "component_registry",
		fmt.Sprintf("%s '%s' は登録されていません", k, name))
}

// HasReader は Reader が登録されているかを返します。
func (r *Registry) HasReader(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.readers[name]
	return ok
}

// HasProcessor は Processor が登録されているかを返します。
func (r *Registry) HasProcessor(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.processors[name]
	return ok
}

// HasWriter は Writer が登録されているかを返します。
func (r *Registry) HasWriter(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.writers[name]
	return ok
}

func (r *Registry) buildContext(params core.JobParameters, props map[string]string) BuildContext {
	return BuildContext{Config: r.cfg, Params: params, Properties: props}
}

// BuildReader は name の Reader を生成します。
func (r *Registry) BuildReader(ctx context.Context, name string, params core.JobParameters, props map[string]string) (core.ItemReader[any], error) {
	r.mu.RLock()
	build, ok := r.readers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, unknown(kindReader, name)
	}
	return build(ctx, r.buildContext(params, props))
}

// BuildProcessor は name の Processor を生成します。
func (r *Registry) BuildProcessor(ctx context.Context, name string, params core.JobParameters, props map[string]string) (core.ItemProcessor[any, any], error) {
	r.mu.RLock()
	build, ok := r.processors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, unknown(kindProcessor, name)
	}
	return build(ctx, r.buildContext(params, props))
}

// BuildWriter は name の Writer を生成します。
func (r *Registry) BuildWriter(ctx context.Context, name string, params core.JobParameters, props map[string]string) (core.ItemWriter[any], error) {
	r.mu.RLock()
	build, ok := r.writers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, unknown(kindWriter, name)
	}
	return build(ctx, r.buildContext(params, props))
}

// Names は登録されているコンポーネント名を種類ごとにソートして返します。
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string][]string{
		string(kindReader):    sortedNames(r.readers),
		string(kindProcessor): sortedNames(r.processors),
		string(kindWriter):    sortedNames(r.writers),
	}
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
