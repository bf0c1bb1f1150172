// Package recovery runs catch-up work when the daemon starts.
//
// A restart can skip a scheduled sweep or leave per-user state pointing at
// sessions that closed in the meantime. Components register a Recoverable and
// the Manager runs each once at startup. All registered work is idempotent.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
)

// Recoverable is a component that restores its state on startup.
type Recoverable interface {
	Name() string
	Recover(ctx context.Context) error
}

// Func adapts a function to a Recoverable.
type Func struct {
	ComponentName string
	Fn            func(ctx context.Context) error
}

// Name implements Recoverable.
func (f Func) Name() string { return f.ComponentName }

// Recover implements Recoverable.
func (f Func) Recover(ctx context.Context) error { return f.Fn(ctx) }

// Manager orchestrates recovery of all registered components.
type Manager struct {
	recoverables []Recoverable
}

// NewManager creates an empty recovery manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register adds a component to recover.
func (m *Manager) Register(r Recoverable) {
	m.recoverables = append(m.recoverables, r)
}

// Len returns the number of registered components.
func (m *Manager) Len() int {
	return len(m.recoverables)
}

// RecoverAll recovers every registered component in registration order.
// A failing component is logged and does not stop the others.
func (m *Manager) RecoverAll(ctx context.Context) error {
	slog.Info("Starting recovery", "components", len(m.recoverables))

	recovered, failed := 0, 0
	for _, r := range m.recoverables {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.Recover(ctx); err != nil {
			slog.Error("Component recovery failed", "error", err, "component", r.Name())
			failed++
			continue
		}
		recovered++
	}

	slog.Info("Recovery completed", "recovered", recovered, "errors", failed)
	if failed > 0 {
		return fmt.Errorf("recovery completed with %d errors out of %d components", failed, len(m.recoverables))
	}
	return nil
}
