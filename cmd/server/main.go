package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/dfryer1193/mjolnir/router"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ppongpan/Q-Collector-sub002/internal/backup"
	"github.com/ppongpan/Q-Collector-sub002/internal/data/repository/postgres"
	"github.com/ppongpan/Q-Collector-sub002/internal/data/utils"
	"github.com/ppongpan/Q-Collector-sub002/internal/migration"
	"github.com/ppongpan/Q-Collector-sub002/internal/queue"
	"github.com/ppongpan/Q-Collector-sub002/internal/rest"
	"github.com/ppongpan/Q-Collector-sub002/internal/rest/handlers"
	"github.com/ppongpan/Q-Collector-sub002/internal/schema"
	"github.com/rs/zerolog/log"
)

func main() {
	utils.LoadEnv()

	connString, err := utils.BuildConnectionString()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build connection string")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create connection pool")
	}
	defer pool.Close()

	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure engine schema")
	}

	ledger := postgres.NewLedgerRepository(pool)
	backups := postgres.NewBackupRepository(pool)
	jobs := postgres.NewJobRepository(pool)
	inspector := schema.NewInspector(pool)

	store := backup.NewStore(pool, inspector, backups, ledger)
	executor := migration.NewExecutor(pool, inspector, ledger, store)

	migrationQueue := queue.New(jobs, ledger, executor, queue.LogNotifier{}, queue.Options{
		Workers: utils.IntFromEnv("MIGRATION_WORKERS", 4),
	})
	if err := migrationQueue.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start migration queue")
	}

	r := router.New()
	rest.SetupRoutes(r,
		handlers.NewMigrationHandler(ledger, executor, migrationQueue),
		handlers.NewQueueHandler(migrationQueue),
		handlers.NewBackupHandler(store, backups),
	)

	port := utils.IntFromEnv("PORT", 8080)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}

	go func() {
		log.Info().Msg("Starting server on port :" + fmt.Sprint(port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	log.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Failed to shutdown server")
	}

	// Let in-flight DDL finish; interrupting it mid-transaction risks
	// catalog corruption.
	migrationQueue.Stop()

	log.Info().Msg("Server stopped")
}
