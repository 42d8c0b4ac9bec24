package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/tip_settlement/internal/app/events"
	"github.com/R3E-Network/tip_settlement/internal/app/processor"
	"github.com/R3E-Network/tip_settlement/internal/app/services/admission"
	"github.com/R3E-Network/tip_settlement/internal/app/services/devices"
	"github.com/R3E-Network/tip_settlement/internal/app/services/fees"
	"github.com/R3E-Network/tip_settlement/internal/app/services/notify"
	"github.com/R3E-Network/tip_settlement/internal/app/services/onboarding"
	"github.com/R3E-Network/tip_settlement/internal/app/services/reconcile"
	"github.com/R3E-Network/tip_settlement/internal/app/services/settlement"
	"github.com/R3E-Network/tip_settlement/internal/app/services/sweeper"
	"github.com/R3E-Network/tip_settlement/internal/app/storage"
	"github.com/R3E-Network/tip_settlement/internal/app/storage/memory"
	"github.com/R3E-Network/tip_settlement/internal/app/system"
	"github.com/R3E-Network/tip_settlement/internal/config"
	"github.com/R3E-Network/tip_settlement/internal/logging"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Tips    storage.TipStore
	Users   storage.UserStore
	Devices storage.DeviceStore
}

// Dependencies are the external collaborators. Nil fields default to the
// in-process mock processor, an in-memory broker and a discarding publisher.
type Dependencies struct {
	Processor processor.Client
	Broker    notify.Broker
	Publisher events.Publisher
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logging.Logger

	Stores        Stores
	Processor     processor.Client
	Notifications notify.Subscriber
	Dispatcher    *notify.Dispatcher

	Admission  *admission.Verifier
	Settlement *settlement.Service
	Reconciler *reconcile.Reconciler
	Devices    *devices.Service
	Onboarding *onboarding.Service
	Sweeper    *sweeper.Sweeper
}

// New builds a fully initialised application from cfg.
func New(cfg *config.Config, stores Stores, deps Dependencies, log *logging.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logging.NewDefault("app")
	}

	mem := memory.New()
	if stores.Tips == nil {
		stores.Tips = mem
	}
	if stores.Users == nil {
		stores.Users = mem
	}
	if stores.Devices == nil {
		stores.Devices = mem
	}
	if deps.Processor == nil {
		log.Warn("no payment processor configured; using in-process mock")
		deps.Processor = processor.NewMockClient()
	}
	if deps.Broker == nil {
		deps.Broker = notify.NewMemoryBroker()
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NoopPublisher{}
	}

	maxAmount, err := decimal.NewFromString(cfg.Tips.MaxAmount)
	if err != nil {
		return nil, fmt.Errorf("tips max amount: %w", err)
	}
	maxRatio, err := decimal.NewFromString(cfg.Fraud.MaxDisputeRatio)
	if err != nil {
		return nil, fmt.Errorf("fraud max dispute ratio: %w", err)
	}
	schedule, err := fees.ScheduleFromConfig(cfg.Fees)
	if err != nil {
		return nil, fmt.Errorf("fee schedule: %w", err)
	}

	dispatcher := notify.NewDispatcher(deps.Broker, cfg.Tips.NotifyTimeout, log)

	verifier := admission.New(stores.Users, stores.Devices, stores.Tips, admission.Options{
		MaxAmount:         maxAmount,
		ClockSkew:         cfg.Tips.ClockSkew,
		ActiveDevicesOnly: cfg.Tips.ActiveDevicesOnly,
	}, log)

	settlementSvc := settlement.New(stores.Tips, stores.Users, deps.Processor, schedule, dispatcher, deps.Publisher, settlement.Options{
		Currency:        cfg.Stripe.Currency,
		DefaultTimezone: cfg.Tips.DefaultTimezone,
	}, log)

	reconciler := reconcile.New(stores.Tips, stores.Users, deps.Publisher, reconcile.Options{
		MaxDisputes:     cfg.Fraud.MaxDisputes,
		MaxDisputeRatio: maxRatio,
	}, log)

	manager := system.NewManager()
	var sweep *sweeper.Sweeper
	if cfg.Sweeper.Enabled {
		sweep, err = sweeper.New(stores.Tips, deps.Processor, reconciler, sweeper.Options{
			Schedule: cfg.Sweeper.Schedule,
			MinAge:   cfg.Sweeper.MinAge,
			Batch:    cfg.Sweeper.Batch,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("configure sweeper: %w", err)
		}
		if err := manager.Register(sweep); err != nil {
			return nil, fmt.Errorf("register %s: %w", sweep.Name(), err)
		}
	} else {
		log.Warn("pending tip sweeper disabled")
	}

	return &Application{
		manager:       manager,
		log:           log,
		Stores:        stores,
		Processor:     deps.Processor,
		Notifications: deps.Broker,
		Dispatcher:    dispatcher,
		Admission:     verifier,
		Settlement:    settlementSvc,
		Reconciler:    reconciler,
		Devices:       devices.New(stores.Users, stores.Devices, log),
		Onboarding:    onboarding.New(stores.Users, deps.Processor, onboarding.Options{PublicURL: cfg.Server.PublicURL}, log),
		Sweeper:       sweep,
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

// Stop stops all services and waits for in-flight notifications.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)

	done := make(chan struct{})
	go func() {
		a.Dispatcher.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Join(err, fmt.Errorf("waiting for notifications: %w", ctx.Err()))
	}
	return err
}
