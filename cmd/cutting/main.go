package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cutting-erp/internal/config"
	"cutting-erp/internal/events"
	"cutting-erp/internal/metrics"
	"cutting-erp/internal/service/allocation"
	"cutting-erp/internal/service/cutting"
	"cutting-erp/internal/service/draft"
	generate_excel "cutting-erp/internal/service/generate-excel"
	"cutting-erp/internal/storage/memory"
	"cutting-erp/internal/storage/mysql"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

const eventSource = "cutting-erp"

// store is everything the services need from persistence. Both the mysql and
// the in-memory storage satisfy it.
type store interface {
	cutting.PlanStorage
	allocation.PieceInventory
	allocation.RequisitionStore
	allocation.IssuanceLedger
	draft.DraftStorage
	draft.RequisitionStorage
	draft.PieceStorage
}

type publisher interface {
	allocation.Publisher
	Close() error
}

func main() {
	cfg := config.MustConfig()

	log := setupLogger(cfg.Env, cfg.Log.ErrorFile)

	st, closeStorage, err := openStorage(cfg)
	if err != nil {
		log.Error("failed to open storage", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer closeStorage()

	pub := newPublisher(cfg)
	defer func() {
		if err := pub.Close(); err != nil {
			log.Error("failed to close publisher", slog.String("error", err.Error()))
		}
	}()

	router := routes(*cfg, log, newServices(log, st, pub, metrics.New()))

	srv := &http.Server{
		Addr:         cfg.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout + cfg.Cutting.RequestTimeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("server started",
			slog.String("address", cfg.Address),
			slog.String("env", cfg.Env),
			slog.String("storage", cfg.StorageDriver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("failed to start server", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop server", slog.String("error", err.Error()))
	}

	log.Info("server stopped")
}

func newServices(log *slog.Logger, st store, pub allocation.Publisher, m *metrics.Metrics) services {
	fifo := allocation.NewFifoAllocator(log, st, st, st, pub, m)
	cut := allocation.NewCutAllocator(log, st, st, m)

	return services{
		planner: cutting.NewPlanner(log, st, m),
		pool:    st,
		fifo:    fifo,
		drafts:  draft.New(log, st, st, st, cut, fifo, m),
		excel:   generate_excel.NewGenerateService(st),
		metrics: m,
	}
}

func openStorage(cfg *config.Config) (store, func(), error) {
	switch cfg.StorageDriver {
	case "memory":
		return memory.New(), func() {}, nil
	case "mysql":
		st, err := mysql.New(cfg.DB)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
}

func newPublisher(cfg *config.Config) publisher {
	if !cfg.Kafka.Enabled {
		return events.Nop{}
	}
	return events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, eventSource)
}

// dualHandler writes everything to the core handler and duplicates errors
// into the error log file.
type dualHandler struct {
	coreHandler  slog.Handler
	errorHandler slog.Handler
}

func (h *dualHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.coreHandler.Enabled(ctx, lvl) || h.errorHandler.Enabled(ctx, lvl)
}

func (h *dualHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error

	if h.coreHandler.Enabled(ctx, r.Level) {
		if err = h.coreHandler.Handle(ctx, r); err != nil {
			return err
		}
	}

	if r.Level >= slog.LevelError && h.errorHandler.Enabled(ctx, r.Level) {
		// a broken error file must not break stdout logging
		_ = h.errorHandler.Handle(ctx, r.Clone())
	}

	return err
}

func (h *dualHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &dualHandler{
		coreHandler:  h.coreHandler.WithAttrs(attrs),
		errorHandler: h.errorHandler.WithAttrs(attrs),
	}
}

func (h *dualHandler) WithGroup(name string) slog.Handler {
	return &dualHandler{
		coreHandler:  h.coreHandler.WithGroup(name),
		errorHandler: h.errorHandler.WithGroup(name),
	}
}

func setupLogger(env, errorFile string) *slog.Logger {
	level := slog.LevelDebug
	if env == envProd {
		level = slog.LevelInfo
	}

	var coreHandler slog.Handler
	switch env {
	case envDev:
		coreHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	case envLocal, envProd:
		coreHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	default:
		coreHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}

	f, err := os.OpenFile(errorFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		slog.Warn("cannot open error log file", slog.String("path", errorFile), slog.String("error", err.Error()))
		return slog.New(coreHandler)
	}

	return slog.New(&dualHandler{
		coreHandler:  coreHandler,
		errorHandler: slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelError}),
	})
}
