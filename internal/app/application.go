package app

import (
	"context"
	"fmt"
	"time"

	ledgersvc "github.com/inecat/mapads/internal/app/services/ledger"
	"github.com/inecat/mapads/internal/app/services/markers"
	"github.com/inecat/mapads/internal/app/storage"
	"github.com/inecat/mapads/internal/app/storage/memory"
	"github.com/inecat/mapads/internal/app/system"
	"github.com/inecat/mapads/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Markers storage.MarkerStore
	Ledger  storage.LedgerStore
}

// Gateways carries the external collaborators. Channel, Map, and Feed may be
// nil: without a channel no submissions are accepted, without a map pin
// maintenance is skipped, and without a feed decisions arrive via polling
// only. A nil Ledger falls back to the in-process balance service.
type Gateways struct {
	Ledger  markers.Ledger
	Channel markers.ApprovalChannel
	Map     markers.MarkerMap
	Feed    markers.ReactionFeed
}

// Options tunes the workflow and its background reconcilers.
type Options struct {
	Workflow          markers.Config
	PollInterval      time.Duration
	ExpirySchedule    string
	ApprovalChannelID string
	Notifier          markers.Notifier
	Authorizer        markers.Authorizer
}

// Application ties the marker workflow and its reconcilers together and
// manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Markers *markers.Service
	Ledger  markers.Ledger
	Sweeper *markers.ExpirationSweeper
}

// New builds a fully initialised application.
func New(stores Stores, gateways Gateways, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Markers == nil {
		stores.Markers = mem
	}
	if stores.Ledger == nil {
		stores.Ledger = mem
	}
	if gateways.Ledger == nil {
		gateways.Ledger = ledgersvc.New(stores.Ledger, log)
	}

	manager := system.NewManager()

	workflow := markers.New(stores.Markers, gateways.Ledger, gateways.Channel, gateways.Map, opts.Workflow, log)
	if opts.Notifier != nil {
		workflow.WithNotifier(opts.Notifier)
	}
	if opts.Authorizer != nil {
		workflow.WithAuthorizer(opts.Authorizer)
	}

	// Gateways owning a session register ahead of everything that uses them.
	if svc, ok := gateways.Channel.(system.Service); ok {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	services := []system.Service{workflow}
	if gateways.Channel != nil {
		services = append(services, markers.NewReactionPoller(stores.Markers, workflow, gateways.Channel, opts.PollInterval, log))
		if gateways.Feed != nil {
			services = append(services, markers.NewReactionListener(stores.Markers, workflow, gateways.Channel, gateways.Feed, opts.ApprovalChannelID, log))
		}
	} else {
		log.Warn("no approval channel configured; marker submissions disabled")
	}

	sweeper := markers.NewExpirationSweeper(stores.Markers, workflow, opts.ExpirySchedule, log)
	services = append(services, sweeper)

	for _, svc := range services {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager: manager,
		log:     log,
		Markers: workflow,
		Ledger:  gateways.Ledger,
		Sweeper: sweeper,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
