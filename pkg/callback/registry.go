// Package callback holds the registry of bot-developer supplied logic and
// render functions invoked by API actions.
package callback

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// LogicFunc is the side-effecting half of an API callback. It may mutate
// entity memory through the manager and return a value for rendering.
type LogicFunc func(ctx context.Context, mem *Manager, args map[string]string) (any, error)

// RenderFunc turns a logic return value into a response string. It only
// gets read access to memory.
type RenderFunc func(ctx context.Context, logicValue any, mem ReadOnly, args map[string]string) (string, error)

// Callback is one registered API callback. Argument names are declared
// explicitly by the registrant; there is no introspection of function
// signatures.
type Callback struct {
	Name       string
	LogicArgs  []string
	RenderArgs []string
	Logic      LogicFunc
	Render     RenderFunc
}

// Registry maps callback names to registered callbacks.
type Registry struct {
	mu        sync.RWMutex
	callbacks map[string]Callback
}

// NewRegistry creates an empty callback registry.
func NewRegistry() *Registry {
	return &Registry{callbacks: make(map[string]Callback)}
}

// Add registers a callback. Malformed declarations fail registration
// outright rather than degrading to an empty argument list.
func (r *Registry) Add(cb Callback) error {
	if cb.Name == "" {
		return fmt.Errorf("callback has no name")
	}
	if cb.Logic == nil && cb.Render == nil {
		return fmt.Errorf("callback %q declares neither logic nor render", cb.Name)
	}
	if err := checkArgNames(cb.Name, "logic", cb.LogicArgs); err != nil {
		return err
	}
	if err := checkArgNames(cb.Name, "render", cb.RenderArgs); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.callbacks[cb.Name]; dup {
		return fmt.Errorf("callback %q already registered", cb.Name)
	}
	r.callbacks[cb.Name] = cb
	return nil
}

func checkArgNames(name, kind string, args []string) error {
	seen := make(map[string]struct{}, len(args))
	for _, a := range args {
		if a == "" {
			return fmt.Errorf("callback %q: empty %s argument name", name, kind)
		}
		if _, dup := seen[a]; dup {
			return fmt.Errorf("callback %q: duplicate %s argument %q", name, kind, a)
		}
		seen[a] = struct{}{}
	}
	return nil
}

// Get returns the callback registered under name.
func (r *Registry) Get(name string) (Callback, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.callbacks[name]
	return cb, ok
}

// Names returns all registered callback names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.callbacks))
	for name := range r.callbacks {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
