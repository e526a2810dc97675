package backend

import (
	"context"
	"errors"
	"fmt"

	"spendlog/internal/amqp"
	"spendlog/internal/log"
	"spendlog/internal/storage"
	"spendlog/internal/store"
	"spendlog/internal/store/memory"
	"spendlog/internal/store/rest"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &DefaultFactory{logger: logger.WithComponent(log.ComponentApp)}
}

// Create builds the expense store, opens local storage and, when
// configured, connects the change bus. An unreachable broker is logged and
// skipped; the tracker works without it.
func (f *DefaultFactory) Create(ctx context.Context, config Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	st, err := f.createStore(config)
	if err != nil {
		return nil, err
	}

	local, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	var bus *amqp.Client
	if config.AMQPURL != "" {
		bus, err = amqp.NewClient(ctx, amqp.Config{
			URL:      config.AMQPURL,
			Exchange: config.AMQPExchange,
			Queue:    config.AMQPQueue,
			Logger:   f.logger,
		})
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without change notifications", log.FieldError, err)
			bus = nil
		} else {
			f.logger.Info("Initialized AMQP client", "exchange", config.AMQPExchange, log.FieldOrigin, bus.Origin())
		}
	}

	f.logger.Info("Initialized backend",
		"store", config.Type,
		"db_path", config.SQLiteDBPath,
		"amqp_enabled", bus != nil)

	return &Result{
		Store: st,
		Local: local,
		Bus:   bus,
		Cleanup: func() error {
			var errs []error
			if bus != nil {
				errs = append(errs, bus.Close())
			}
			errs = append(errs, local.Close())
			return errors.Join(errs...)
		},
	}, nil
}

func (f *DefaultFactory) createStore(config Config) (store.ExpenseStore, error) {
	switch config.Type {
	case RESTBackend:
		c, err := rest.New(config.StoreURL, config.StoreTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize REST store: %w", err)
		}
		f.logger.Info("Using REST expense store", "url", config.StoreURL, "timeout", config.StoreTimeout)
		return c.WithLogger(f.logger), nil
	case MemoryBackend:
		f.logger.Info("Using in-memory expense store")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}
