package backend

import (
	"fmt"
	"strings"

	"spendlog/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.StoreBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.StoreBackend)
	}

	bc := Config{
		Type:         backendType,
		StoreURL:     appConfig.StoreURL,
		StoreTimeout: appConfig.StoreTimeout,
		SQLiteDBPath: appConfig.SQLiteDBPath,
	}
	// The factory connects the bus only when a URL is set.
	if appConfig.AMQPEnabled() {
		bc.AMQPURL = strings.TrimSpace(appConfig.AMQPURL)
		bc.AMQPExchange = appConfig.AMQPExchange
		bc.AMQPQueue = appConfig.AMQPQueue
	}
	return bc, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}
	if c.Type == RESTBackend && c.StoreURL == "" {
		return fmt.Errorf("store URL is required for rest backend")
	}
	if c.SQLiteDBPath == "" {
		return fmt.Errorf("SQLite database path is required")
	}
	return nil
}
