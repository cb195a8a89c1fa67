package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/nerrad567/ledlocator/internal/audit"
	"github.com/nerrad567/ledlocator/internal/auth"
	"github.com/nerrad567/ledlocator/internal/infrastructure/config"
	"github.com/nerrad567/ledlocator/internal/infrastructure/database"
	"github.com/nerrad567/ledlocator/internal/infrastructure/logging"
	"github.com/nerrad567/ledlocator/internal/inventory"
	"github.com/nerrad567/ledlocator/internal/locator"
	"github.com/nerrad567/ledlocator/internal/metrics"
	"github.com/nerrad567/ledlocator/internal/notify"
	"github.com/nerrad567/ledlocator/internal/wled"
	"github.com/nerrad567/ledlocator/migrations"
)

// core is the locator and its stores, shared by the server and the
// one-shot CLI commands.
type core struct {
	db         *database.DB
	users      *auth.SQLiteUserRepository
	locations  *inventory.SQLiteRepository
	audit      *audit.SQLiteRepository
	notifier   *notify.Service
	controller *wled.Client
	locator    *locator.Service
}

// coreOptions carries the optional integrations. Both fields may be nil.
type coreOptions struct {
	Publisher notify.Publisher
	Recorder  wled.Recorder
}

// openCore opens and migrates the database, seeds the owner account and
// builds the locator. Audit and Prometheus sinks are always attached.
// The caller closes c.db.
func openCore(ctx context.Context, cfg *config.Config, log *logging.Logger, opts coreOptions) (*core, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "path", cfg.Database.Path)

	c, err := buildCore(ctx, db, cfg, log, opts)
	if err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, err
	}
	return c, nil
}

func buildCore(ctx context.Context, db *database.DB, cfg *config.Config, log *logging.Logger, opts coreOptions) (*core, error) {
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete")

	c := &core{
		db:        db,
		users:     auth.NewUserRepository(db.DB),
		locations: inventory.NewSQLiteRepository(db.DB),
		audit:     audit.NewSQLiteRepository(db.DB),
	}

	if _, err := auth.SeedOwner(ctx, c.users, log.Logger); err != nil {
		return nil, fmt.Errorf("seeding owner account: %w", err)
	}

	// LED controller
	c.controller = wled.NewClient(wled.ConfigFrom(cfg.WLED), nil)
	c.controller.SetLogger(log.Component("wled"))
	recorders := controllerRecorders{metrics.Recorder{}}
	if opts.Recorder != nil {
		recorders = append(recorders, opts.Recorder)
	}
	c.controller.SetRecorder(recorders)
	if strings.TrimSpace(cfg.WLED.Address) == "" {
		log.Warn("wled.address is not set; locate and off will fail until it is configured")
	} else {
		log.Info("WLED controller configured", "address", cfg.WLED.Address, "max_leds", cfg.WLED.MaxLEDs)
	}

	notifier, err := notify.NewService(notify.Deps{
		Repo:       notify.NewSQLiteRepository(db.DB),
		Recipients: c.users,
		Roles:      recipientRoles(cfg.Notify.RecipientRoles),
		Publisher:  opts.Publisher,
		Logger:     log,
	})
	if err != nil {
		return nil, fmt.Errorf("creating notification service: %w", err)
	}
	c.notifier = notifier

	svc, err := locator.NewService(locator.Deps{
		Registry:    inventory.NewMetadataRegistry(c.locations),
		Illuminator: c.controller,
		Notifier:    notifier,
		Authorizer:  auth.PermissionAuthorizer{},
		MaxLEDs:     cfg.WLED.MaxLEDs,
		Logger:      log,
	})
	if err != nil {
		return nil, fmt.Errorf("creating locator service: %w", err)
	}
	svc.AddSink(audit.NewRecorder(c.audit, log))
	svc.AddSink(metrics.Recorder{})
	c.locator = svc

	return c, nil
}

// recipientRoles converts configured role names. Config validation has
// already rejected unknown names.
func recipientRoles(names []string) []auth.Role {
	roles := make([]auth.Role, 0, len(names))
	for _, n := range names {
		roles = append(roles, auth.Role(n))
	}
	return roles
}
