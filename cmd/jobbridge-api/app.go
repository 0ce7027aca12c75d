package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/jobbridge/internal/config"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/contacts"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/courses"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/database"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/docstore"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/guard"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/hiring"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/ids"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/issues"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/notifications"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/realtime"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/users"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// application holds the wired services shared by every command.
type application struct {
	cfg        config.AppConfig
	logger     *zap.Logger
	store      docstore.Store
	schema     database.Schema
	registry   *prometheus.Registry
	guards     *guard.Registry
	dispatcher *realtime.Dispatcher
	bus        *realtime.RedisBus

	users         *users.Service
	hiring        *hiring.Service
	notifications *notifications.Service
	courses       *courses.Service
	issues        *issues.Service
	contacts      *contacts.Service
}

func newApplication(ctx context.Context, cfg config.AppConfig, logger *zap.Logger) (*application, error) {
	store, err := database.OpenStore(database.StoreConfig{
		Driver:     cfg.StoreDriver,
		SQLitePath: cfg.SQLitePath,
		BadgerPath: cfg.BadgerPath,
	}, logger)
	if err != nil {
		return nil, err
	}

	app := &application{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		schema:     database.SchemaFromConfig(cfg.Tables),
		registry:   prometheus.NewRegistry(),
		dispatcher: realtime.NewDispatcher(),
	}
	app.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	app.guards = guard.NewRegistry(guard.RegistryConfig{Logger: logger, Metrics: guard.NewMetrics(app.registry)})

	var publisher realtime.Publisher = app.dispatcher
	if cfg.RedisAddress != "" {
		bus, err := realtime.NewRedisBus(ctx, realtime.RedisBusConfig{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			Channel:  cfg.RedisChannel,
			Local:    app.dispatcher,
			Logger:   logger,
		})
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		app.bus = bus
		publisher = bus
	}

	if err := app.wireServices(publisher); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (a *application) wireServices(publisher realtime.Publisher) error {
	idProvider := ids.NewUUIDProvider()
	var err error

	a.users, err = users.NewService(users.ServiceConfig{
		Store:      a.store,
		Tables:     users.Tables{Users: a.schema.Users, Students: a.schema.Students},
		Publisher:  publisher,
		IDProvider: idProvider,
		Logger:     a.logger.Named("users"),
	})
	if err != nil {
		return fmt.Errorf("users service: %w", err)
	}

	a.notifications, err = notifications.NewService(notifications.ServiceConfig{
		Store:       a.store,
		Table:       a.schema.Notifications,
		Directory:   a.users,
		Publisher:   publisher,
		IDProvider:  idProvider,
		Metrics:     notifications.NewMetrics(a.registry),
		Concurrency: a.cfg.FanoutConcurrency,
		Logger:      a.logger.Named("notifications"),
	})
	if err != nil {
		return fmt.Errorf("notifications service: %w", err)
	}

	a.hiring, err = hiring.NewService(hiring.ServiceConfig{
		Store: a.store,
		Tables: hiring.Tables{
			Jobs:          a.schema.Jobs,
			Applications:  a.schema.Applications,
			HiringRecords: a.schema.HiringRecords,
		},
		Directory:  a.users,
		Notifier:   a.notifications,
		Publisher:  publisher,
		IDProvider: idProvider,
		Logger:     a.logger.Named("hiring"),
	})
	if err != nil {
		return fmt.Errorf("hiring service: %w", err)
	}

	a.courses, err = courses.NewService(courses.ServiceConfig{
		Store:      a.store,
		Table:      a.schema.Courses,
		Guards:     a.guards,
		IDProvider: idProvider,
		Logger:     a.logger.Named("courses"),
	})
	if err != nil {
		return fmt.Errorf("courses service: %w", err)
	}

	a.issues, err = issues.NewService(issues.ServiceConfig{
		Store:      a.store,
		Table:      a.schema.Issues,
		Guards:     a.guards,
		Directory:  a.users,
		IDProvider: idProvider,
		Logger:     a.logger.Named("issues"),
	})
	if err != nil {
		return fmt.Errorf("issues service: %w", err)
	}

	a.contacts, err = contacts.NewService(contacts.ServiceConfig{
		Store:      a.store,
		Table:      a.schema.Contacts,
		Guards:     a.guards,
		IDProvider: idProvider,
		Logger:     a.logger.Named("contacts"),
	})
	if err != nil {
		return fmt.Errorf("contacts service: %w", err)
	}
	return nil
}

func (a *application) provision(ctx context.Context) (database.ProvisionReport, error) {
	return database.Provision(ctx, database.ProvisionConfig{
		Store:  a.store,
		Schema: a.schema,
		Guards: a.guards,
		Logger: a.logger.Named("provision"),
	})
}

func (a *application) Close() error {
	var errs []error
	if a.bus != nil {
		errs = append(errs, a.bus.Close())
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}
