package registry

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store persists server records keyed by configuration hash. It is the only
// component that reads or writes the underlying state; everything else goes
// through Registry. Implementations must tolerate corrupt persisted state by
// discarding it (return "absent", never an error) so a damaged record can
// never wedge a test run.
type Store interface {
	// Load returns the record for hash, and false when absent or discarded
	// as corrupt.
	Load(ctx context.Context, hash string) (Record, bool, error)
	// Save writes rec atomically with respect to process crashes.
	Save(ctx context.Context, rec Record) error
	// List returns every persisted record.
	List(ctx context.Context) ([]Record, error)
	// Delete removes the record for hash; missing records are not an error.
	Delete(ctx context.Context, hash string) error
	Close() error
}

// Config selects and parameterizes a store backend.
type Config struct {
	Type string `json:"type" mapstructure:"type"` // "file" (default), "sqlite", "postgres"

	// File specific: directory holding one file per config hash.
	Dir string `json:"dir,omitempty" mapstructure:"dir"`

	// SQLite specific
	Path string `json:"path,omitempty" mapstructure:"path"`

	// PostgreSQL specific
	DSN string `json:"dsn,omitempty" mapstructure:"dsn"`

	// Connection pooling (sqlite/postgres)
	MaxOpenConns int           `json:"max_open_conns,omitempty" mapstructure:"max_open_conns"`
	MaxIdleConns int           `json:"max_idle_conns,omitempty" mapstructure:"max_idle_conns"`
	ConnMaxAge   time.Duration `json:"conn_max_age,omitempty" mapstructure:"conn_max_age"`
}

// Builder is a function that creates a store from config
type Builder func(config Config) (Store, error)

// DefaultFactory maps store type names to builders.
type DefaultFactory struct {
	builders map[string]Builder
	mu       sync.RWMutex
}

var globalFactory = &DefaultFactory{
	builders: make(map[string]Builder),
}

func init() {
	RegisterStoreType("file", func(config Config) (Store, error) {
		return NewFileStore(config.Dir)
	})
	RegisterStoreType("sqlite", func(config Config) (Store, error) {
		return NewSQLiteStore(config)
	})
	RegisterStoreType("postgres", func(config Config) (Store, error) {
		return NewPostgresStore(config)
	})
	RegisterStoreType("postgresql", func(config Config) (Store, error) {
		return NewPostgresStore(config)
	})
}

// RegisterStoreType registers a new store type with the global factory
func RegisterStoreType(storeType string, builder Builder) {
	globalFactory.RegisterStoreType(storeType, builder)
}

// CreateStore creates a store using the global factory. An empty type means
// the default file backend.
func CreateStore(config Config) (Store, error) {
	if config.Type == "" {
		config.Type = "file"
	}
	return globalFactory.CreateStore(config)
}

// SupportedTypes returns supported store types from the global factory
func SupportedTypes() []string {
	return globalFactory.SupportedTypes()
}

// RegisterStoreType registers a new store type
func (f *DefaultFactory) RegisterStoreType(storeType string, builder Builder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[storeType] = builder
}

// CreateStore creates a store based on the configuration
func (f *DefaultFactory) CreateStore(config Config) (Store, error) {
	f.mu.RLock()
	builder, exists := f.builders[config.Type]
	f.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unsupported store type: %s (supported: %v)", config.Type, f.SupportedTypes())
	}

	return builder(config)
}

// SupportedTypes returns a list of supported store types
func (f *DefaultFactory) SupportedTypes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]string, 0, len(f.builders))
	for storeType := range f.builders {
		types = append(types, storeType)
	}
	return types
}
