package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"kangaroo-trader/internal/alerts"
	"kangaroo-trader/internal/api"
	"kangaroo-trader/internal/executor"
	"kangaroo-trader/internal/ingest"
	"kangaroo-trader/internal/market"
	"kangaroo-trader/internal/orders"
	"kangaroo-trader/internal/scanner"
	"kangaroo-trader/internal/service"
	"kangaroo-trader/internal/store"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the market engine, alert monitor, scanner and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	logger := service.Named("main")

	st, err := store.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	capital := decimal.NewFromFloat(cfg.Account.StartingBalance)
	if err := st.Migrate(capital); err != nil {
		return err
	}

	clock, err := market.NewClock(cfg.Engine)
	if err != nil {
		return err
	}

	exec := executor.NewSimulatorExecutor(executor.SimulatorConfig{InitialCapital: capital}, st.DB(), service.Named("executor"))
	book := orders.NewBook(st.DB(), service.Named("orders"))
	matcher := orders.NewMatcher(book, exec, service.Named("matcher"))

	resolver := market.NewYahooSectorResolver(cfg.Sector, service.Named("sector"))
	writer := ingest.NewSnapshotWriter(st.DB(), resolver, cfg.Sector, service.Named("snapshot"))
	newSource := func() ingest.QuoteSource {
		return api.NewChromeConnector(cfg.Source, service.Named("browser"))
	}
	engine := ingest.NewEngine(cfg.Engine, clock, newSource, writer, matcher, ingest.NewStatusPublisher(), service.Named("engine"))

	alertSvc := alerts.NewService(st.DB(), service.Named("alerts"))
	monitor := alerts.NewMonitor(alertSvc, cfg.Alerts.Interval, service.Named("alerts"))
	scan := scanner.New(cfg.Scanner, st, service.Named("scanner"))

	server := api.NewServer(cfg.HTTP, api.Deps{
		Store:    st,
		Clock:    clock,
		Status:   engine.Status(),
		Executor: exec,
		Book:     book,
		Alerts:   alertSvc,
		Scanner:  scan,
	}, service.Named("http"))

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Infow("Kangaroo trader running",
		"http", cfg.HTTP.Addr,
		"session", cfg.Engine.Open+"-"+cfg.Engine.Close,
		"timezone", cfg.Engine.Timezone,
		"database", cfg.Database.Driver,
	)

	err = runLoops(ctx, map[string]func(context.Context) error{
		"engine":  engine.Run,
		"alerts":  monitor.Run,
		"scanner": scan.Run,
		"http":    server.Run,
	}, logger)
	if err != nil {
		return err
	}
	logger.Info("Shutdown complete")
	return nil
}

// runLoops runs every loop until ctx ends or one of them fails. The first
// failure stops the others and is returned once they have all exited.
func runLoops(ctx context.Context, loops map[string]func(context.Context) error, logger *zap.SugaredLogger) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	var (
		wg       sync.WaitGroup
		failOnce sync.Once
		failErr  error
	)
	for name, run := range loops {
		name, run := name, run
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorw("Loop exited, shutting down", "loop", name, "error", err)
				failOnce.Do(func() { failErr = fmt.Errorf("%s: %w", name, err) })
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("Shutting down, waiting for loops to finish")
	wg.Wait()
	return failErr
}
