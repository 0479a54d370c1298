package repo

import (
	"fmt"
	"sort"
)

var factory = make(map[string]func() Type)

// Register adds a package type under its name. First registration wins;
// backends register themselves from init.
func Register(name string, fn func() Type) {
	if _, ok := factory[name]; ok {
		return
	}
	factory[name] = fn
}

// NewType builds the Type registered under name. The set is closed: anything
// unregistered fails before a single path is built.
func NewType(name string) (Type, error) {
	if fn, ok := factory[name]; ok {
		return fn(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrDirectoryNotAllowed, name)
}

// TypeNames lists the registered package types in stable order.
func TypeNames() []string {
	names := make([]string, 0, len(factory))
	for name := range factory {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
