// Package runtime assembles the dispatch service from its parts and manages
// its lifecycle. Service can be embedded in a larger program or run
// standalone from cmd/dispatchd.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/apexsec/voice-dispatch/internal/compose"
	"github.com/apexsec/voice-dispatch/internal/config"
	"github.com/apexsec/voice-dispatch/internal/dispatch"
	"github.com/apexsec/voice-dispatch/internal/domain"
	"github.com/apexsec/voice-dispatch/internal/escalate"
	"github.com/apexsec/voice-dispatch/internal/guard"
	"github.com/apexsec/voice-dispatch/internal/notify"
	"github.com/apexsec/voice-dispatch/internal/ports"
	"github.com/apexsec/voice-dispatch/internal/procedure"
	"github.com/apexsec/voice-dispatch/internal/server"
	"github.com/apexsec/voice-dispatch/internal/storage"
	"github.com/apexsec/voice-dispatch/internal/storage/memory"
	"github.com/apexsec/voice-dispatch/internal/storage/sqlite"
)

// Service is the assembled dispatch orchestrator.
type Service struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     storage.CallStore
	notifier  ports.Notifier
	incidents ports.IncidentCreator

	orc *dispatch.Orchestrator
	srv *server.Server
}

// New builds a Service with the given options. Configuration is required;
// everything else defaults from it.
func New(opts ...Option) (*Service, error) {
	s := &Service{logger: slog.Default()}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if s.cfg == nil {
		return nil, fmt.Errorf("configuration required (use WithConfig or WithConfigFile)")
	}

	if s.store == nil {
		store, err := storeFromConfig(s.cfg)
		if err != nil {
			return nil, err
		}
		s.store = store
	}

	if s.notifier == nil {
		if url := s.cfg.Notify.WebhookURL; url != "" {
			s.notifier = notify.NewWebhook(url, s.logger)
		} else {
			s.logger.Info("no webhook configured, notifications disabled")
			s.notifier = notify.Nop{}
		}
	}

	if s.incidents == nil {
		s.incidents = &storeIncidents{store: s.store}
	}

	s.orc = dispatch.New(dispatch.Deps{
		Library: procedure.NewLibrary(s.cfg.DomainProcedures()),
		Composer: compose.New(compose.Policy{
			MaxGatheringTurns: s.cfg.Dialogue.MaxGatheringTurns,
			CriticalMinTurns:  s.cfg.Dialogue.CriticalMinTurns,
			MinTurns:          s.cfg.Dialogue.MinTurns,
		}),
		Scheduler:           escalate.NewScheduler(s.cfg.Escalation.Delay, s.logger),
		Incidents:           s.incidents,
		Notifier:            s.notifier,
		Guards:              guard.NewRoster(s.cfg.RosterGuards()),
		Store:               s.store,
		Logger:              s.logger,
		ConfidenceThreshold: s.cfg.Escalation.ConfidenceThreshold,
		LowConfidenceLimit:  s.cfg.Escalation.LowConfidenceLimit,
	})

	s.srv = server.New(s.cfg.Server.Port, s.logger)
	server.NewAPI(s.orc, s.store, s.logger).RegisterRoutes(s.srv.Router)

	return s, nil
}

func storeFromConfig(cfg *config.Config) (storage.CallStore, error) {
	switch cfg.Storage.Type {
	case "", "memory":
		return memory.New(), nil
	case "sqlite":
		store, err := sqlite.New(cfg.Storage.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite storage: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

// Orchestrator exposes the call registry, mainly for embedding and tests.
func (s *Service) Orchestrator() *dispatch.Orchestrator { return s.orc }

// Run serves until ctx is cancelled, then drains: the HTTP listener stops
// first so no new events arrive, then every live call is ended and storage
// is closed.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("server shutdown failed", slog.String("error", err.Error()))
		}
		s.orc.Shutdown(shutdownCtx)
		if err := s.store.Close(); err != nil {
			s.logger.Error("storage close failed", slog.String("error", err.Error()))
		}
		return nil
	})

	return g.Wait()
}

// storeIncidents is the default incident clerk: it files the incident in
// the call store and returns the generated identifier.
type storeIncidents struct {
	store storage.CallStore
}

func (c *storeIncidents) CreateIncident(ctx context.Context, callID string, info domain.ExtractedInfo, summary string) (string, error) {
	id := "INC-" + uuid.NewString()[:8]
	err := c.store.CreateIncident(ctx, &storage.IncidentRecord{
		IncidentID: id,
		CallID:     callID,
		Info:       info,
		Summary:    summary,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		return "", err
	}
	return id, nil
}
