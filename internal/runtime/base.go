package runtime

import (
	"fmt"
	"sort"
	"strings"
)

// Runtime describes how to materialize and build a repository of one
// declared runtime category inside a sandbox.
type Runtime interface {
	// Name returns the category identifier (e.g. "nodejs", "python").
	Name() string

	// Image returns the container image reference for this category.
	Image() string

	// InstallCommand returns the dependency-install command run inside
	// the sandbox workspace. Installs execute untrusted project hooks by
	// design; the sandbox is what contains them.
	InstallCommand() []string

	// BuildCommand returns the build/compile command run after install.
	BuildCommand() []string

	// ManifestFiles returns the dependency manifest filenames this
	// category declares its dependencies in.
	ManifestFiles() []string
}

// Registry maps runtime categories to their Runtime implementations.
type Registry struct {
	runtimes map[string]Runtime
}

// NewRegistry creates a registry with all supported categories.
func NewRegistry() *Registry {
	r := &Registry{runtimes: make(map[string]Runtime)}
	r.Register(&NodeJSRuntime{})
	r.Register(&PythonRuntime{})
	r.Register(&GoRuntime{})
	return r
}

// Register adds a runtime to the registry.
func (r *Registry) Register(rt Runtime) {
	r.runtimes[rt.Name()] = rt
}

// Get returns the runtime for the given category.
func (r *Registry) Get(category string) (Runtime, error) {
	rt, ok := r.runtimes[category]
	if !ok {
		return nil, fmt.Errorf("unsupported runtime category %q (supported: %s)",
			category, strings.Join(r.Categories(), ", "))
	}
	return rt, nil
}

// Supported reports whether category is a recognized value.
func (r *Registry) Supported(category string) bool {
	_, ok := r.runtimes[category]
	return ok
}

// Categories returns all registered category names, sorted.
func (r *Registry) Categories() []string {
	names := make([]string, 0, len(r.runtimes))
	for name := range r.runtimes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
