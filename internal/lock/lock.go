// Package lock serializes imports per tenant.
//
// Redis is used when several server instances share one staging store; Local
// is enough for a single process and for the CLI. Both return
// core.ErrImportLocked when the key is already held.
package lock

import (
	"context"
	"fmt"
	"sync"

	"github.com/JonMunkholm/resolver/internal/core"
)

// Local is an in-process core.Locker.
type Local struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocal creates an empty Local locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]bool)}
}

var _ core.Locker = (*Local)(nil)

// Lock takes key without waiting.
func (l *Local) Lock(_ context.Context, key string) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[key] {
		return nil, fmt.Errorf("%w: %s", core.ErrImportLocked, key)
	}
	l.held[key] = true

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
		return nil
	}, nil
}

// Held reports whether key is currently locked.
func (l *Local) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[key]
}
