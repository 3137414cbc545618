package handler

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/goran-ethernal/BlockIndexor/internal/logger"
	"github.com/goran-ethernal/BlockIndexor/pkg/config"
)

// Factory is a function that creates a handler for a data source.
type Factory func(ds config.DataSourceConfig, log *logger.Logger) (Handler, error)

var (
	registry = make(map[string]Factory)
	mu       sync.RWMutex
)

// Register registers a handler factory with the given type name.
// This is typically called in init() functions of handler packages.
// The type name is case-insensitive and will be stored in lowercase.
func Register(handlerType string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	name := strings.ToLower(handlerType)
	if _, exists := registry[name]; exists {
		logger.GetDefaultLogger().Infof("handler with name %s already in handler registry. "+
			"It will be overwritten.", name)
	}

	registry[name] = factory
}

// GetFactory returns the factory for the given handler type.
// Returns nil if the type is not registered.
func GetFactory(handlerType string) Factory {
	mu.RLock()
	defer mu.RUnlock()
	return registry[strings.ToLower(handlerType)]
}

// ListRegistered returns the sorted names of all registered handler types.
func ListRegistered() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}

// Create creates a handler for ds using the factory registered for ds.Handler.
func Create(ds config.DataSourceConfig, log *logger.Logger) (Handler, error) {
	factory := GetFactory(ds.Handler)
	if factory == nil {
		return nil, fmt.Errorf("unknown handler type: %s (registered types: %v)", ds.Handler, ListRegistered())
	}

	return factory(ds, log)
}
