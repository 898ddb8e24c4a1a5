package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/peto/internal/batch"
	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/handlers"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/ratelimit"
	"github.com/ternarybob/peto/internal/services/events"
	"github.com/ternarybob/peto/internal/services/llm"
	"github.com/ternarybob/peto/internal/services/profile"
	"github.com/ternarybob/peto/internal/session"
	badgerstorage "github.com/ternarybob/peto/internal/storage/badger"
	"github.com/ternarybob/peto/internal/vnc"
)

// App holds all application components and dependencies
type App struct {
	Config    *common.Config
	Logger    arbor.ILogger
	ctx       context.Context
	cancelCtx context.CancelFunc

	StorageManager interfaces.StorageManager
	EventService   interfaces.EventService
	Limiter        interfaces.RateLimiter
	Reserver       interfaces.QuotaReserver
	LLMService     interfaces.LLMService
	Gateway        interfaces.LLMGateway
	ProfileService interfaces.ProfileService
	Fleet          *vnc.Fleet
	Sweeper        *vnc.Sweeper
	Runner         interfaces.SessionRunner
	BatchService   interfaces.BatchService

	// HTTP handlers
	APIHandler         *handlers.APIHandler
	ApplicationHandler *handlers.ApplicationHandler
	VNCStreamHandler   *handlers.VNCStreamHandler
	WSHandler          *handlers.WebSocketHandler
}

// New wires the application: storage, services, fleet, scheduler,
// handlers. Components that came up are torn down again when a later
// step fails.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		Config:    cfg,
		Logger:    logger,
		ctx:       ctx,
		cancelCtx: cancel,
	}

	if err := a.init(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init() error {
	storageManager, err := badgerstorage.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.StorageManager = storageManager

	a.EventService = events.NewService(a.Logger)
	a.Limiter = ratelimit.NewService(&a.Config.RateLimit, &a.Config.LLM, storageManager.KeyValueStorage(), a.Logger)
	a.Reserver = ratelimit.NewReservationQueue(a.Config.LLM.ReserveSlots, a.Logger)

	llmService, err := llm.NewLLMService(a.Config, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM service: %w", err)
	}
	a.LLMService = llmService
	a.Gateway = llm.NewGateway(&a.Config.LLM, llmService, a.Limiter, a.Reserver, a.Logger)

	profileService, err := profile.NewService(a.Config.Profiles.Dir, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize profile service: %w", err)
	}
	a.ProfileService = profileService

	a.Fleet = vnc.NewFleet(a.Config.VNC, storageManager.VNCSessionStorage(), a.Logger)
	recovered, err := a.Fleet.Recover(a.ctx)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Session recovery incomplete")
	}
	if recovered > 0 {
		a.Logger.Info().Int("recovered", recovered).Msg("Sessions recovered from previous run")
	}

	a.Sweeper = vnc.NewSweeper(a.Config.VNC, a.Fleet, storageManager.VNCSessionStorage(), storageManager.ActionLogStorage(), a.Logger)
	if err := a.Sweeper.Start(); err != nil {
		return fmt.Errorf("failed to start cleanup sweep: %w", err)
	}

	a.Runner = session.NewRunner(a.Config, a.Fleet, a.ProfileService, a.Gateway, storageManager.ActionLogStorage(), a.EventService, a.Logger)
	a.BatchService = batch.NewScheduler(a.Config.Batch, storageManager.BatchStorage(), a.Runner, a.Fleet, a.EventService, a.Logger)

	a.APIHandler = handlers.NewAPIHandler()
	a.ApplicationHandler = handlers.NewApplicationHandler(a.BatchService, a.Limiter, a.Logger)
	a.VNCStreamHandler = handlers.NewVNCStreamHandler(a.Fleet, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, a.Logger)

	a.Logger.Info().Msg("Application initialized")
	return nil
}

// Close closes all application resources in reverse dependency order.
// Live VNC sessions are left running: their durable rows stay active so
// the next process can recover them inside the recovery window.
func (a *App) Close() error {
	a.cancelCtx()

	if scheduler, ok := a.BatchService.(*batch.Scheduler); ok {
		scheduler.Stop()
	}
	if a.Sweeper != nil {
		a.Sweeper.Stop()
	}
	if a.LLMService != nil {
		if err := a.LLMService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("LLM service close failed")
		}
	}
	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Event service close failed")
		}
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Storage close failed")
			return err
		}
	}
	return nil
}
