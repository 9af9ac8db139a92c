/*
main.go - server entrypoint

Boot order matters here:
  1. config + logger
  2. sqlite store (runs migrations)
  3. domain services wired on top of the store
  4. background workers (accrual queue, expiry scheduler)
  5. HTTP server

Shutdown runs the same order in reverse so in-flight accruals drain before
the store closes.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/toil-engine/api"
	"github.com/warp/toil-engine/config"
	"github.com/warp/toil-engine/jobs"
	"github.com/warp/toil-engine/store/sqlite"
	"github.com/warp/toil-engine/toil"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := newLogger(cfg)
	log.Info().Int("port", cfg.Port).Str("db", cfg.DBPath).Msg("starting toil engine")

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	manager := toil.NewAccrualManager(store, store, log)
	queue := jobs.NewAccrualQueue(manager, cfg.AccrualWorkers, log)
	workflow := toil.NewWorkflow(store, queue, log)
	leave := toil.NewLeaveService(store, store, log)

	expiry := toil.NewExpiryJob(store, log)
	scheduler := jobs.NewExpiryScheduler(expiry, log)
	scheduler.Interval = cfg.ExpiryInterval

	queue.Start()
	defer queue.Stop()
	scheduler.Start()
	defer scheduler.Stop()

	// Accrual outcomes are logged centrally so every worker result is visible
	// even when no client is polling the timesheet.
	go func() {
		for ev := range queue.Events() {
			if ev.Err != nil {
				log.Error().Err(ev.Err).Str("timesheet", string(ev.TimesheetID)).Msg("accrual failed")
				continue
			}
			log.Info().
				Str("timesheet", string(ev.TimesheetID)).
				Str("allocation", string(ev.AllocationID)).
				Msg("accrual confirmed")
		}
	}()

	handler := api.NewHandler(store, workflow, leave, log)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, cfg.JWTSecret, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("bye")
	return nil
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var out = zerolog.New(os.Stdout)
	if cfg.Pretty {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return out.Level(level).With().Timestamp().Logger()
}
