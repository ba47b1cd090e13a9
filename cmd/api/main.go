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

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cde-ev/cdedb2-sub001/internal/adapters/httpapi"
	"github.com/cde-ev/cdedb2-sub001/internal/app/assemblies"
	"github.com/cde-ev/cdedb2-sub001/internal/app/droids"
	"github.com/cde-ev/cdedb2-sub001/internal/app/events"
	"github.com/cde-ev/cdedb2-sub001/internal/app/genesis"
	"github.com/cde-ev/cdedb2-sub001/internal/app/mailinglists"
	"github.com/cde-ev/cdedb2-sub001/internal/app/personas"
	"github.com/cde-ev/cdedb2-sub001/internal/platform/auth/sessiontoken"
	platformclock "github.com/cde-ev/cdedb2-sub001/internal/platform/clock"
	"github.com/cde-ev/cdedb2-sub001/internal/platform/config"
	"github.com/cde-ev/cdedb2-sub001/internal/platform/eventkeeper"
	"github.com/cde-ev/cdedb2-sub001/internal/platform/logging"
)

const genesisCleanupInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(2)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("api stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.close()

	clk := platformclock.NewSystemClock()

	codec, err := sessiontoken.NewCodec([]byte(cfg.SessionSigningKey), cfg.SessionTTL)
	if err != nil {
		return fmt.Errorf("session codec: %w", err)
	}
	personaSvc := personas.NewService(store.personas, store.sessions, codec, clk)
	personaSvc.MaxSessions = cfg.MaxSessionsPerPersona

	static, err := cfg.StaticDroids()
	if err != nil {
		return err
	}
	droidSvc := droids.NewService(store.droids, store.events, clk, static)

	genesisSvc := genesis.NewService(store.genesis, store.personas, clk, []byte(cfg.GenesisConfirmSecret), log.Named("genesis"))
	genesisSvc.UnconfirmedTTL = cfg.GenesisUnconfirmedTTL

	eventSvc := events.NewService(store.events, store.personas, clk, log.Named("events"))
	svcs := httpapi.Services{
		Personas:     personaSvc,
		Droids:       droidSvc,
		Genesis:      genesisSvc,
		Events:       eventSvc,
		Mailinglists: mailinglists.NewService(store.ml, store.personas, store.events, store.assemblies, clk),
		Assemblies:   assemblies.NewService(store.assemblies, store.personas, clk, log.Named("assemblies")),
	}

	if cfg.BootstrapAdminEmail != "" {
		created, err := personaSvc.Bootstrap(ctx, cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword)
		if err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		if created {
			log.Info("bootstrap admin created", zap.String("email", cfg.BootstrapAdminEmail))
		}
	}

	var worker *eventkeeper.Worker
	if cfg.EventKeeperRoot != "" {
		keeper, err := eventkeeper.New(cfg.EventKeeperRoot, log.Named("eventkeeper"))
		if err != nil {
			return fmt.Errorf("eventkeeper: %w", err)
		}
		worker = eventkeeper.NewWorker(keeper, eventSvc, cfg.EventKeeperInterval, log.Named("eventkeeper"))
		eventSvc.SetNotifier(worker)
		svcs.History = keeper
	}

	api := httpapi.NewServer(svcs, store.idem, clk, log.Named("http"))

	var authMW func(http.Handler) http.Handler
	switch cfg.AuthMode {
	case config.AuthModeDev:
		log.Warn("dev auth mode: X-Debug-Persona is trusted and genesis tokens are returned")
		authMW = httpapi.NewDevAuthMiddleware(personaSvc, personaSvc, droidSvc, cfg.DevPersona)
		api.ExposeGenesisTokens = true
	default:
		authMW = httpapi.NewAuthMiddleware(personaSvc, droidSvc)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpapi.NewRouter(api, authMW),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("api listening", zap.String("addr", srv.Addr), zap.String("storage", cfg.StorageBackend), zap.String("auth_mode", cfg.AuthMode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if worker != nil {
		g.Go(func() error { return worker.Run(ctx) })
	}
	g.Go(func() error {
		ticker := time.NewTicker(genesisCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				n, err := genesisSvc.CleanupUnconfirmed(ctx)
				if err != nil {
					log.Error("genesis cleanup", zap.Error(err))
					continue
				}
				if n > 0 {
					log.Info("expired unconfirmed genesis cases", zap.Int("count", n))
				}
			}
		}
	})
	return g.Wait()
}
