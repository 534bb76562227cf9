// Package plugins maps layer names to codec factories so chains can be
// assembled from configuration.
package plugins

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/danmuck/linkstack/internal/chain"
	"github.com/danmuck/linkstack/internal/protocol"
)

var (
	ErrUnknownLayer = errors.New("plugins: unknown layer")
	ErrBadParam     = errors.New("plugins: bad layer parameter")
)

// LayerSpec names a layer and carries its string parameters.
type LayerSpec struct {
	Name   string
	Params map[string]string
}

// Factory builds a codec from a spec.
type Factory func(spec LayerSpec) (protocol.Codec, error)

var (
	mu       sync.RWMutex
	registry = map[string]Factory{}
)

func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = f
}

func Get(name string) (Factory, bool) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// Names lists registered layers in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func Build(spec LayerSpec) (protocol.Codec, error) {
	f, ok := Get(spec.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLayer, spec.Name)
	}
	codec, err := f(spec)
	if err != nil {
		return nil, fmt.Errorf("layer %q: %w", spec.Name, err)
	}
	return codec, nil
}

// BuildChain builds every spec in order, head first.
func BuildChain(opts chain.Options, specs []LayerSpec) (*chain.Chain, error) {
	codecs := make([]protocol.Codec, 0, len(specs))
	for _, spec := range specs {
		codec, err := Build(spec)
		if err != nil {
			return nil, err
		}
		codecs = append(codecs, codec)
	}
	return chain.Build(opts, codecs...)
}
