package adapter

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Factory builds an unconnected catalog adapter.
type Factory func(*slog.Logger) Adapter

type registration struct {
	factory Factory
	schemes []string
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]registration)
	// aliases maps extra cluster URI schemes to a registered connection type.
	aliases = make(map[string]string)
)

// Register makes a catalog adapter available under a connection type.
// Extra URI schemes that select the same adapter (postgresql for
// postgres) may be listed. Adapters call it from init.
func Register(connType string, factory Factory, schemes ...string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[connType] = registration{factory: factory, schemes: schemes}
	for _, s := range schemes {
		aliases[strings.ToLower(s)] = connType
	}
}

// Lookup returns the factory for a connection type or URI scheme.
func Lookup(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return lookupLocked(strings.ToLower(name))
}

func lookupLocked(name string) (Factory, bool) {
	if target, ok := aliases[name]; ok {
		name = target
	}
	r, ok := registry[name]
	return r.factory, ok
}

// NewAdapter returns an unconnected adapter able to read the catalog of
// cfg.DSN. A nil logger is replaced by a discard logger.
func NewAdapter(cfg Config, logger *slog.Logger) (Adapter, error) {
	if cfg.Type == "" {
		return nil, fmt.Errorf("no connection type for catalog %q", cfg.DSN)
	}
	factory, ok := Lookup(cfg.Type)
	if !ok {
		return nil, &UnknownAdapterError{Type: cfg.Type, Registered: Types()}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return factory(logger), nil
}

// Types lists registered connection types in order, aliases excluded.
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered reports whether name is a connection type or URI scheme
// with a catalog adapter.
func IsRegistered(name string) bool {
	_, ok := Lookup(name)
	return ok
}

// UnknownAdapterError reports a connection type no catalog adapter serves.
type UnknownAdapterError struct {
	Type       string
	Registered []string
}

func (e *UnknownAdapterError) Error() string {
	schemes := make([]string, len(e.Registered))
	for i, t := range e.Registered {
		schemes[i] = t + "://"
	}
	return fmt.Sprintf("no catalog adapter for connection type %q (use a %s cluster URI or set connection.type)",
		e.Type, strings.Join(schemes, ", "))
}
