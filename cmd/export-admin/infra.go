package main

import (
	"context"
	"database/sql"

	"github.com/target/mmk-export-api/internal/bootstrap"
	"github.com/target/mmk-export-api/internal/data"
	"github.com/target/mmk-export-api/internal/data/database"
	"github.com/target/mmk-export-api/internal/service"
)

// openLedger connects to the configured ledger. An embedded SQLite ledger has no separate
// migration step, so its schema is applied here.
func openLedger(cmdCtx *commandContext) (*sql.DB, database.Dialect, error) {
	db, dialect, err := bootstrap.ConnectLedger(bootstrap.DatabaseConfig{
		Ledger:   cmdCtx.Config.Ledger,
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return nil, "", err
	}
	if dialect == database.SQLite {
		if err := bootstrap.RunMigrations(cmdCtx.Ctx, db, dialect, cmdCtx.Logger); err != nil {
			closeLedger(cmdCtx, db)
			return nil, "", err
		}
	}
	return db, dialect, nil
}

func closeLedger(cmdCtx *commandContext, db *sql.DB) {
	if closeErr := db.Close(); closeErr != nil {
		cmdCtx.Logger.Warn("db close failed", "error", closeErr)
	}
}

func newLedger(db *sql.DB, dialect database.Dialect, cmdCtx *commandContext) *data.SearchJobRepo {
	return data.NewSearchJobRepo(db, data.SearchJobRepoConfig{Dialect: dialect, Logger: cmdCtx.Logger})
}

func newReaper(db *sql.DB, dialect database.Dialect, cmdCtx *commandContext) (*service.ReaperService, error) {
	return service.NewReaperService(service.ReaperServiceOptions{
		Repo:   newLedger(db, dialect, cmdCtx),
		Config: cmdCtx.Config.Reaper,
		Logger: cmdCtx.Logger,
	})
}

// adminRuntime holds the ledger and services of one command. The status cache is never used, so
// the CLI always reads the ledger.
type adminRuntime struct {
	db       *sql.DB
	services *bootstrap.ServiceContainer
}

func openRuntime(ctx context.Context, cmdCtx *commandContext) (*adminRuntime, error) {
	db, dialect, err := openLedger(cmdCtx)
	if err != nil {
		return nil, err
	}

	deps := &bootstrap.ServiceDeps{
		Config:    &cmdCtx.Config,
		DB:        db,
		Dialect:   dialect,
		Logger:    cmdCtx.Logger,
		Exporter:  cmdCtx.Exporter,
		Publisher: cmdCtx.Publisher,
	}
	if deps.Exporter == nil {
		if deps.Search, err = bootstrap.NewSearchClient(cmdCtx.Config.Search, cmdCtx.Logger); err != nil {
			closeLedger(cmdCtx, db)
			return nil, err
		}
	}
	if deps.Publisher == nil {
		if deps.Storage, err = bootstrap.NewStorageClient(ctx, cmdCtx.Config.Storage, cmdCtx.Logger); err != nil {
			closeLedger(cmdCtx, db)
			return nil, err
		}
	}

	services, err := bootstrap.NewServices(ctx, deps)
	if err != nil {
		closeLedger(cmdCtx, db)
		return nil, err
	}
	return &adminRuntime{db: db, services: services}, nil
}

func (r *adminRuntime) Close(cmdCtx *commandContext) {
	if err := r.services.Observability.Close(context.Background()); err != nil {
		cmdCtx.Logger.Warn("close observability failed", "error", err)
	}
	closeLedger(cmdCtx, r.db)
}
