package backend

import (
	"context"
	"time"

	"spendlog/internal/amqp"
	"spendlog/internal/storage"
	"spendlog/internal/store"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// Result bundles the controller's collaborators built from configuration.
// Bus is nil when change notifications are disabled.
type Result struct {
	Store   store.ExpenseStore
	Local   *storage.SQLiteRepository
	Bus     *amqp.Client
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	Create(ctx context.Context, config Config) (*Result, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// REST store
	StoreURL     string
	StoreTimeout time.Duration

	// Local state
	SQLiteDBPath string

	// Optional change notifications
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
}

// BackendType selects the expense store implementation
type BackendType string

const (
	RESTBackend   BackendType = "rest"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case RESTBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
