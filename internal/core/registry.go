package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownEntity is returned when an entity kind has not been registered.
var ErrUnknownEntity = errors.New("unknown entity")

var (
	registry   = make(map[EntityKind]EntityDefinition)
	registryMu sync.RWMutex
)

// Register adds an entity definition to the registry.
// Panics if the kind is already registered or the definition is malformed.
func Register(def EntityDefinition) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[def.Kind]; exists {
		panic(fmt.Sprintf("entity already registered: %s", def.Kind))
	}
	if def.Kind == "" {
		panic("entity definition without kind")
	}

	// Every kind is reachable by id
	if !def.HasIndex(IndexID) {
		def.Indexes = append([]IndexKey{IndexID}, def.Indexes...)
	}
	for _, m := range def.Matchers {
		if m.Behavior == "" {
			panic(fmt.Sprintf("matcher %s.%s has no behavior", def.Kind, m.Field))
		}
	}
	if def.Table == "" {
		def.Table = string(def.Kind)
	}

	registry[def.Kind] = def
}

// Get returns an entity definition by kind.
func Get(kind EntityKind) (EntityDefinition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	def, ok := registry[kind]
	return def, ok
}

// Lookup is Get with an error suitable for returning to callers.
func Lookup(kind EntityKind) (EntityDefinition, error) {
	def, ok := Get(kind)
	if !ok {
		return EntityDefinition{}, fmt.Errorf("%w: %s", ErrUnknownEntity, kind)
	}
	return def, nil
}

// All returns all registered definitions sorted by kind.
func All() []EntityDefinition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]EntityDefinition, 0, len(registry))
	for _, def := range registry {
		result = append(result, def)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Kind < result[j].Kind
	})

	return result
}

// EntityCount returns the number of registered kinds.
func EntityCount() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(registry)
}

// Clear removes all registered kinds.
// Primarily useful for testing.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[EntityKind]EntityDefinition)
}
