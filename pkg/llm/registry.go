package llm

import (
	"fmt"
	"log/slog"
	"sync"
)

// Registry holds the process-wide active provider. It is initialized at
// startup and re-initialized only on explicit reload, so providers are
// hot-swappable by configuration without racing in-flight calls (calls
// keep the provider instance they started with).
type Registry struct {
	mu     sync.RWMutex
	active Provider
}

// NewRegistry creates a registry with the given initial provider.
func NewRegistry(initial Provider) *Registry {
	return &Registry{active: initial}
}

// Active returns the currently configured provider.
func (r *Registry) Active() Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Reload swaps the active provider and tears down the previous one.
func (r *Registry) Reload(next Provider) error {
	if next == nil {
		return fmt.Errorf("cannot reload with nil provider")
	}
	r.mu.Lock()
	prev := r.active
	r.active = next
	r.mu.Unlock()

	if prev != nil {
		if err := prev.Close(); err != nil {
			slog.Warn("Failed to close previous provider",
				"provider", prev.Name(), "error", err)
		}
	}
	slog.Info("Provider reloaded", "provider", next.Name())
	return nil
}

// Close tears down the active provider.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return nil
	}
	err := r.active.Close()
	r.active = nil
	return err
}
