package app

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lectern/internal/common"
	"github.com/ternarybob/lectern/internal/embeddings"
	"github.com/ternarybob/lectern/internal/events"
	"github.com/ternarybob/lectern/internal/handlers"
	"github.com/ternarybob/lectern/internal/jobs"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	Bus        *events.Bus
	Provider   *embeddings.Client
	JobManager *jobs.Manager

	// HTTP handlers
	APIHandler     *handlers.APIHandler
	JobHandler     *handlers.JobHandler
	EventsHandler  *handlers.EventsHandler
	LibraryHandler *handlers.LibraryHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
	}

	a.Bus = events.NewBus(logger)
	a.Provider = embeddings.NewClient(logger, cfg.Embed.BaseURL)
	a.JobManager = jobs.NewManager(logger, a.Bus, a.Provider)

	a.APIHandler = handlers.NewAPIHandler(logger)
	a.JobHandler = handlers.NewJobHandler(a.JobManager, logger)
	a.EventsHandler = handlers.NewEventsHandler(a.Bus, logger)
	a.LibraryHandler = handlers.NewLibraryHandler(a.JobManager, cfg.Library.Root, logger)

	return a, nil
}

// Close releases the job manager and its per-root catalog stores.
func (a *App) Close() error {
	if a.JobManager != nil {
		a.JobManager.Close()
	}
	return nil
}
