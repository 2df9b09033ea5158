package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alejandrodnm/settlebot/config"
	"github.com/alejandrodnm/settlebot/internal/adapters/dashboard"
	"github.com/alejandrodnm/settlebot/internal/adapters/notify"
	"github.com/alejandrodnm/settlebot/internal/adapters/storage"
	"github.com/alejandrodnm/settlebot/internal/application/alerts"
	"github.com/alejandrodnm/settlebot/internal/application/engine"
	"github.com/alejandrodnm/settlebot/internal/domain"
	"golang.org/x/sync/errgroup"
)

const (
	recentTrades    = 20
	stopFileCheck   = time.Second
	shutdownTimeout = 5 * time.Second
)

// runPaper arranca scan loop, poller, dashboard y watcher del STOP file en
// un errgroup. El dispatcher de alertas corre aparte para poder entregar
// system_stop después de que el resto haya parado.
func runPaper(ctx context.Context, cfg *config.Config, eng *engine.Engine, d *alerts.Dispatcher, console *notify.Console, store *storage.SQLiteStorage, hub *dashboard.Hub) error {
	slog.Info("=== PAPER TRADING MODE (settlement arbitrage) ===",
		"category", cfg.Strategy.Category,
		"max_positions", cfg.Risk.MaxPositions,
		"capital_split", cfg.Risk.CapitalSplit,
		"initial_balance", cfg.Paper.InitialBalance,
	)

	alertCtx, stopAlerts := context.WithCancel(context.Background())
	alertsDone := make(chan error, 1)
	go func() { alertsDone <- d.Run(alertCtx) }()

	acc := eng.Ledger()
	d.Emit(domain.AlertEvent{
		Type:     domain.AlertSystemStart,
		Severity: domain.SeverityInfo,
		Title:    "Settlebot started",
		Message:  fmt.Sprintf("paper trading %s, balance $%.2f", cfg.Strategy.Category, acc.Total),
		Fields: map[string]string{
			"available": fmt.Sprintf("%.2f", acc.Available),
			"deployed":  fmt.Sprintf("%.2f", acc.Deployed),
		},
	})

	// Una línea por tick con aperturas; el resto, una vez por minuto.
	heartbeat := int64(time.Minute / cfg.ScanInterval())
	if heartbeat < 1 {
		heartbeat = 1
	}
	var ticks int64
	eng.OnTick(func(r *engine.TickResult) {
		ticks++
		if len(r.Opened) > 0 || ticks%heartbeat == 0 {
			console.PrintTick(tickLine(r, eng))
		}
	})

	fmt.Printf("[PAPER] scanning every %s — press Ctrl+C or create %s file to exit\n",
		cfg.ScanInterval(), cfg.Paper.StopFile)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return eng.Run(gctx) })
	g.Go(func() error { return eng.Poller().Run(gctx) })
	g.Go(func() error { return watchStopFile(gctx, cfg.Paper.StopFile, stop) })

	if hub != nil {
		server := dashboard.NewServer(dashboard.Config{
			Addr:        cfg.Dashboard.Addr,
			CORSOrigins: cfg.Dashboard.CORSOrigins,
			Params:      dashboardParams(engineConfig(cfg)),
		}, eng, hub)
		g.Go(func() error { return hub.Run(gctx) })
		g.Go(server.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	final := eng.Ledger()
	d.Emit(domain.AlertEvent{
		Type:     domain.AlertSystemStop,
		Severity: domain.SeverityInfo,
		Title:    "Settlebot stopped",
		Message:  fmt.Sprintf("balance $%.2f, %d open positions", final.Total, eng.Status().OpenPositions),
	})
	stopAlerts()
	<-alertsDone

	delivered, suppressed, dropped := d.Stats()
	slog.Info("alerts summary", "delivered", delivered, "suppressed", suppressed, "dropped", dropped)

	printReport(context.Background(), eng, store, console)
	return err
}

// dashboardParams expone en /api/config la configuración efectiva del core.
func dashboardParams(c engine.Config) dashboard.Params {
	return dashboard.Params{
		Category:       c.Category,
		MinPrice:       c.Strategy.MinPrice,
		MaxPrice:       c.Strategy.MaxPrice,
		WindowMin:      c.Strategy.WindowMin,
		WindowMax:      c.Strategy.WindowMax,
		MaxPositions:   c.Risk.MaxPositions,
		CapitalSplit:   c.Risk.CapitalSplit,
		ScanInterval:   c.ScanInterval,
		InitialBalance: c.InitialBalance,
	}
}

// runOnce ejecuta un tick y una pasada del poller, y muestra el reporte.
func runOnce(ctx context.Context, eng *engine.Engine, d *alerts.Dispatcher, console *notify.Console, store *storage.SQLiteStorage) {
	alertCtx, stopAlerts := context.WithCancel(context.Background())
	alertsDone := make(chan error, 1)
	go func() { alertsDone <- d.Run(alertCtx) }()

	res, err := eng.RunOnce(ctx)
	if err != nil {
		slog.Error("tick failed", "err", err)
	} else {
		console.PrintTick(tickLine(res, eng))
	}

	poll := eng.Poller().CheckOnce(ctx)
	slog.Info("settlement poll",
		"checked", poll.Checked,
		"settled", len(poll.Settled),
		"pending", poll.Pending,
		"waiting", poll.Waiting,
		"errors", poll.Errors,
	)

	stopAlerts()
	<-alertsDone
	printReport(ctx, eng, store, console)
}

// watchStopFile cancela la ejecución cuando aparece el archivo de parada.
func watchStopFile(ctx context.Context, path string, stop context.CancelFunc) error {
	ticker := time.NewTicker(stopFileCheck)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := os.Stat(path); err == nil {
				slog.Info("STOP file detected — shutting down", "file", path)
				if err := os.Remove(path); err != nil {
					slog.Warn("could not remove STOP file", "err", err)
				}
				stop()
				return nil
			}
		}
	}
}

func printReport(ctx context.Context, eng *engine.Engine, store *storage.SQLiteStorage, console *notify.Console) {
	journaled := 0
	if entries, err := store.Entries(ctx); err != nil {
		slog.Warn("could not read journal", "err", err)
	} else {
		journaled = len(entries)
	}

	console.PrintReport(notify.Report{
		Status:    eng.Status(),
		PnL:       eng.PnL(),
		Open:      eng.Positions(domain.StatusOpen),
		Trades:    eng.Trades(recentTrades),
		Journaled: journaled,
	})
}

func tickLine(r *engine.TickResult, eng *engine.Engine) notify.TickLine {
	st := eng.Status()
	return notify.TickLine{
		At:        r.At,
		Markets:   r.Markets,
		Qualified: r.Stats.Qualified,
		Opened:    r.Opened,
		Skips:     len(r.Skips),
		Skipped:   r.Skipped,
		Open:      st.OpenPositions,
		MaxOpen:   st.MaxPositions,
		Account:   r.Account,
		TotalPnL:  eng.PnL().TotalPnL,
	}
}
