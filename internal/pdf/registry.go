package pdf

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Input は操作に渡す入力です。Image は画像がアップロードされた場合のみ設定されます。
type Input struct {
	Params map[string]any
	Image  []byte
}

// Operation は Document を変更する PDF 操作です。
type Operation interface {
	Apply(ctx context.Context, doc *Document, in Input) error
}

// OperationFunc は関数を Operation として扱うためのアダプターです。
type OperationFunc func(ctx context.Context, doc *Document, in Input) error

// Apply は f(ctx, doc, in) を呼び出します。
func (f OperationFunc) Apply(ctx context.Context, doc *Document, in Input) error {
	return f(ctx, doc, in)
}

// Registry は操作名から Operation を引く表です。
type Registry struct {
	mu  sync.RWMutex
	ops map[string]Operation
}

// NewRegistry は空の Registry を作成します。
func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]Operation)}
}

// DefaultRegistry は組み込みの操作をすべて登録した Registry を返します。
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("noop", OperationFunc(noop))
	r.Register("process-pdf", OperationFunc(optimize))
	r.Register("compress", OperationFunc(compress))
	r.Register("watermark", OperationFunc(watermark))
	r.Register("sign", OperationFunc(sign))
	r.Register("page-numbers", OperationFunc(pageNumbers))
	r.Register("rotate", OperationFunc(rotate))
	r.Register("extract-pages", OperationFunc(extractPages))
	r.Register("remove-pages", OperationFunc(removePages))
	r.Register("protect", OperationFunc(protect))
	return r
}

// Register は操作を登録します。同名の操作は置き換えます。
func (r *Registry) Register(name string, op Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[name] = op
}

// Lookup は名前に対応する操作を返します。未登録なら UNSUPPORTED_OPERATION のエラーです。
func (r *Registry) Lookup(name string) (Operation, error) {
	r.mu.RLock()
	op, ok := r.ops[name]
	r.mu.RUnlock()
	if !ok {
		return nil, newError(CodeUnsupportedOperation, fmt.Sprintf("unsupported operation %q", name), nil)
	}
	return op, nil
}

// Names は登録済みの操作名をソートして返します。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
