package runtime

import (
	"fmt"
	"log/slog"

	"github.com/apexsec/voice-dispatch/internal/config"
	"github.com/apexsec/voice-dispatch/internal/notify"
	"github.com/apexsec/voice-dispatch/internal/ports"
	"github.com/apexsec/voice-dispatch/internal/storage"
	"github.com/apexsec/voice-dispatch/internal/storage/memory"
	"github.com/apexsec/voice-dispatch/internal/storage/sqlite"
)

// Option is a functional option for configuring a Service.
type Option func(*Service) error

// WithConfig uses an already-loaded configuration.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) error {
		s.cfg = cfg
		return nil
	}
}

// WithConfigFile loads configuration from the given YAML file, overlaid
// with DISPATCH_ environment variables.
func WithConfigFile(path string) Option {
	return func(s *Service) error {
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		s.cfg = cfg
		return nil
	}
}

// WithLogger replaces the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) error {
		s.logger = logger
		return nil
	}
}

// WithMemoryStore forces in-memory persistence regardless of configuration.
func WithMemoryStore() Option {
	return func(s *Service) error {
		s.store = memory.New()
		return nil
	}
}

// WithSQLite forces SQLite persistence at the given path.
func WithSQLite(path string) Option {
	return func(s *Service) error {
		store, err := sqlite.New(path)
		if err != nil {
			return fmt.Errorf("open sqlite storage: %w", err)
		}
		s.store = store
		return nil
	}
}

// WithStore injects a custom store implementation.
func WithStore(store storage.CallStore) Option {
	return func(s *Service) error {
		s.store = store
		return nil
	}
}

// WithNotifier injects a custom notification collaborator.
func WithNotifier(n ports.Notifier) Option {
	return func(s *Service) error {
		s.notifier = n
		return nil
	}
}

// WithWebhookNotifier sends notifications to the given endpoint.
func WithWebhookNotifier(url string) Option {
	return func(s *Service) error {
		s.notifier = notify.NewWebhook(url, s.logger)
		return nil
	}
}

// WithIncidentCreator injects a custom case-management collaborator.
// The default files incidents in the call store.
func WithIncidentCreator(c ports.IncidentCreator) Option {
	return func(s *Service) error {
		s.incidents = c
		return nil
	}
}
