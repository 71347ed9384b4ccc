package hooks

import (
	"errors"
	"strings"
	"sync"

	"github.com/pressgate/pressgate/internal/exceptions"
)

type entry struct {
	name  string
	hooks Hooks
}

var registry = struct {
	sync.RWMutex
	entries []entry
}{}

// ErrDuplicateHook indicates an extension name already has hooks registered.
var ErrDuplicateHook = errors.New("hook already registered")

// Register appends hooks under the given extension name. Registration
// order is the order in which hooks run.
func Register(name string, hooks Hooks) error {
	key := normalizeKey(name)
	if key == "" {
		return errors.New("extension name required")
	}
	registry.Lock()
	defer registry.Unlock()
	for _, e := range registry.entries {
		if e.name == key {
			return ErrDuplicateHook
		}
	}
	registry.entries = append(registry.entries, entry{name: key, hooks: hooks})
	for _, tag := range hooks.ConditionalTags {
		exceptions.RegisterConditionalTag(tag)
	}
	return nil
}

// MustRegister panics on registration failure.
func MustRegister(name string, hooks Hooks) {
	if err := Register(name, hooks); err != nil {
		panic(err)
	}
}

// Fetch retrieves hooks registered under an extension name.
func Fetch(name string) (Hooks, bool) {
	key := normalizeKey(name)
	registry.RLock()
	defer registry.RUnlock()
	for _, e := range registry.entries {
		if e.name == key {
			return e.hooks, true
		}
	}
	return Hooks{}, false
}

// Registered returns every registered hook set in registration order.
func Registered() Chain {
	registry.RLock()
	defer registry.RUnlock()
	out := make(Chain, 0, len(registry.entries))
	for _, e := range registry.entries {
		out = append(out, e.hooks)
	}
	return out
}

// Names returns the registered extension names in order.
func Names() []string {
	registry.RLock()
	defer registry.RUnlock()
	out := make([]string, 0, len(registry.entries))
	for _, e := range registry.entries {
		out = append(out, e.name)
	}
	return out
}

// Status returns hook registration status for an extension name.
func Status(name string) string {
	if _, ok := Fetch(name); ok {
		return "registered"
	}
	return "missing"
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func reset() {
	registry.Lock()
	registry.entries = nil
	registry.Unlock()
}
