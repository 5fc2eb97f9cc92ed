// Package completion implements argument-completion providers attached by
// name to prompt arguments.
package completion

import (
	"context"
	"strings"
)

// Completer is an asynchronous suggestion provider: given the partial
// input typed so far, it returns candidate completions.
type Completer interface {
	Complete(ctx context.Context, value string) ([]string, error)
}

// CallbackFunc adapts a plain function to a Completer.
type CallbackFunc func(ctx context.Context, value string) ([]string, error)

// Complete calls f.
func (f CallbackFunc) Complete(ctx context.Context, value string) ([]string, error) {
	return f(ctx, value)
}

// FixedSet completes against a fixed list of candidates, filtering by
// case-insensitive substring match.
type FixedSet struct {
	values []string
}

// NewFixedSet builds a FixedSet completer over values.
func NewFixedSet(values []string) *FixedSet {
	return &FixedSet{values: values}
}

// Complete returns every value containing the (case-folded) partial input
// as a substring.
func (f *FixedSet) Complete(ctx context.Context, value string) ([]string, error) {
	needle := strings.ToLower(value)
	out := make([]string, 0, len(f.values))
	for _, v := range f.values {
		if strings.Contains(strings.ToLower(v), needle) {
			out = append(out, v)
		}
	}
	return out, nil
}

// Registry attaches completers to prompt arguments by name.
type Registry struct {
	byArg map[string]Completer
}

// NewRegistry builds an empty completion registry.
func NewRegistry() *Registry {
	return &Registry{byArg: make(map[string]Completer)}
}

// Register attaches a completer to the named prompt argument.
func (r *Registry) Register(argName string, c Completer) {
	r.byArg[argName] = c
}

// Complete runs the completer registered for argName, or returns an empty
// result if none is registered.
func (r *Registry) Complete(ctx context.Context, argName, value string) ([]string, error) {
	c, ok := r.byArg[argName]
	if !ok {
		return nil, nil
	}
	return c.Complete(ctx, value)
}
