package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ZanzyTHEbar/mcpdesk/internal/api"
	"github.com/ZanzyTHEbar/mcpdesk/internal/app"
)

// ServeCmd runs the HTTP API until interrupted.
type ServeCmd struct {
	Addr string `short:"a" long:"addr" description:"listen address (overrides server.address)"`
}

func (s *ServeCmd) Execute(_ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.Config.Server
	if s.Addr != "" {
		cfg.Address = s.Addr
	}
	opts := api.Options{
		Requests:       a,
		Executions:     a.Orchestrator,
		ElevationToken: cfg.ElevationToken,
	}
	if a.History != nil {
		opts.History = a.History
	}
	server := &http.Server{
		Addr:         cfg.Address,
		Handler:      api.NewHandler(opts),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("HTTP API listening (address: %s)", cfg.Address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		log.Printf("Shutting down HTTP API")
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return a.Janitor(gctx)
	})
	g.Go(func() error {
		return reloadOnHangup(gctx, a)
	})
	return g.Wait()
}

// reloadOnHangup re-reads the configuration on SIGHUP and applies its
// tools.disabled list to the running registry.
func reloadOnHangup(ctx context.Context, a *app.App) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			cfg, err := loadConfig()
			if err != nil {
				log.Printf("Configuration reload failed (error: %v)", err)
				continue
			}
			if _, err := a.ReloadTools(ctx, cfg.Tools.Disabled); err != nil {
				log.Printf("Tool reload failed (error: %v)", err)
			}
		}
	}
}
