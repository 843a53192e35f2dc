package evo

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrComponentExists   = errors.New("component already registered")
	ErrComponentNotFound = errors.New("component not found")
)

const (
	DefaultSelectorName  = "tournament"
	DefaultCrossoverName = "window_list"
)

type namedRegistry[T any] struct {
	mu sync.RWMutex
	m  map[string]T
}

func newNamedRegistry[T any]() *namedRegistry[T] {
	return &namedRegistry[T]{m: make(map[string]T)}
}

func (r *namedRegistry[T]) register(kind, name string, v T) error {
	if name == "" {
		return fmt.Errorf("%s name is required", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.m[name]; exists {
		return fmt.Errorf("%w: %s %s", ErrComponentExists, kind, name)
	}
	r.m[name] = v
	return nil
}

func (r *namedRegistry[T]) resolve(kind, name string) (T, error) {
	r.mu.RLock()
	v, ok := r.m[name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s %s (available: %s)", ErrComponentNotFound, kind, name, strings.Join(r.names(), ", "))
	}
	return v, nil
}

func (r *namedRegistry[T]) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.m))
	for name := range r.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var (
	selectorRegistry  = newNamedRegistry[Selector]()
	crossoverRegistry = newNamedRegistry[Crossover]()
)

func init() {
	_ = RegisterSelector(DefaultSelectorName, TournamentSelector{TournamentSize: DefaultTournamentSize})
	_ = RegisterCrossover(DefaultCrossoverName, WindowListCrossover{})
	_ = RegisterCrossover("none", PassthroughCrossover{})
}

func RegisterSelector(name string, s Selector) error {
	if s == nil {
		return errors.New("selector is required")
	}
	return selectorRegistry.register("selector", name, s)
}

// ResolveSelector returns the selector registered under name. An empty name
// resolves to the tournament selector.
func ResolveSelector(name string) (Selector, error) {
	if name == "" {
		name = DefaultSelectorName
	}
	return selectorRegistry.resolve("selector", name)
}

func ListSelectors() []string {
	return selectorRegistry.names()
}

func RegisterCrossover(name string, c Crossover) error {
	if c == nil {
		return errors.New("crossover is required")
	}
	return crossoverRegistry.register("crossover", name, c)
}

func ResolveCrossover(name string) (Crossover, error) {
	if name == "" {
		name = DefaultCrossoverName
	}
	return crossoverRegistry.resolve("crossover", name)
}

func ListCrossovers() []string {
	return crossoverRegistry.names()
}
