package guard

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// RegistryConfig describes the dependencies shared by every guard.
type RegistryConfig struct {
	Logger  *zap.Logger
	Metrics *Metrics
}

// Registry owns one Guard per logical table name.
type Registry struct {
	logger  *zap.Logger
	metrics *Metrics

	mu     sync.Mutex
	guards map[string]*Guard
}

// NewRegistry constructs an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:  logger,
		metrics: cfg.Metrics,
		guards:  make(map[string]*Guard),
	}
}

// For returns the guard for table, creating it on first access.
func (r *Registry) For(table string) *Guard {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.guards[table]; ok {
		return existing
	}
	created := newGuard(table, r.logger.With(zap.String("component", "guard")), r.metrics)
	r.guards[table] = created
	return created
}

// Reset clears the guard state for table. Unknown tables are ignored.
func (r *Registry) Reset(table string) {
	r.mu.Lock()
	existing, ok := r.guards[table]
	r.mu.Unlock()
	if ok {
		existing.Reset()
	}
}

// ResetAll clears every guard. Called once provisioning has created the tables.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	guards := make([]*Guard, 0, len(r.guards))
	for _, existing := range r.guards {
		guards = append(guards, existing)
	}
	r.mu.Unlock()
	for _, existing := range guards {
		existing.Reset()
	}
}

// MissingTables lists the tables currently cached as missing, sorted by name.
func (r *Registry) MissingTables() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var missing []string
	for name, existing := range r.guards {
		if existing.KnownMissing() {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}
