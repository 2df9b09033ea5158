package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alejandrodnm/settlebot/config"
	"github.com/alejandrodnm/settlebot/internal/adapters/dashboard"
	"github.com/alejandrodnm/settlebot/internal/adapters/notify"
	"github.com/alejandrodnm/settlebot/internal/adapters/polymarket"
	"github.com/alejandrodnm/settlebot/internal/adapters/storage"
	"github.com/alejandrodnm/settlebot/internal/application/alerts"
	"github.com/alejandrodnm/settlebot/internal/application/engine"
	"github.com/alejandrodnm/settlebot/internal/application/risk"
	"github.com/alejandrodnm/settlebot/internal/application/settlement"
	"github.com/alejandrodnm/settlebot/internal/application/strategy"
	"github.com/alejandrodnm/settlebot/internal/domain"
	"github.com/olekukonko/tablewriter"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one scan tick + one settlement poll and exit")
	report := flag.Bool("report", false, "print PnL/positions from the journal and exit")
	validate := flag.Bool("validate", false, "load + validate config, print effective parameters")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	if *validate {
		printConfig(cfg)
		return
	}

	slog.Info("settlebot starting",
		"config", *configPath,
		"category", cfg.Strategy.Category,
		"interval", cfg.ScanInterval(),
		"once", *once,
		"report", *report,
	)

	client := polymarket.NewClient(polymarket.Config{
		GammaBase:  cfg.API.GammaBase,
		RatePerSec: cfg.API.RatePerSecond,
		Burst:      cfg.API.Burst,
		Timeout:    cfg.APITimeout(),
		PageSize:   cfg.API.PageSize,
		MaxPages:   cfg.API.MaxPages,
		Lookahead:  cfg.Lookahead(),
		TagIDs:     polymarket.DefaultTagIDs(),
	})

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	console := notify.NewConsole()
	dispatcher := alerts.New(alerts.Config{
		QueueSize:     cfg.Alerts.QueueSize,
		Cooldown:      cfg.AlertCooldown(),
		RatePerSecond: cfg.Alerts.RatePerSecond,
		Burst:         5,
		RetryMaxTries: uint(cfg.Alerts.RetryMaxTries),
	})

	eng, err := engine.New(engineConfig(cfg), engine.Deps{
		Provider: client,
		Journal:  store,
		Alerts:   dispatcher,
	})
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := eng.Restore(ctx); err != nil {
		slog.Error("failed to restore from journal", "err", err)
		os.Exit(1)
	}

	if *report {
		printReport(ctx, eng, store, console)
		return
	}

	var hub *dashboard.Hub
	if cfg.Dashboard.Enabled {
		hub = dashboard.NewHub(eng)
	}
	closeSenders := registerSenders(ctx, cfg, dispatcher, console, hub)
	defer closeSenders()

	if *once {
		runOnce(ctx, eng, dispatcher, console, store)
		return
	}

	if err := runPaper(ctx, cfg, eng, dispatcher, console, store, hub); err != nil {
		slog.Error("settlebot exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("settlebot stopped cleanly")
}

// engineConfig traduce la configuración de archivo a los Config del core.
func engineConfig(cfg *config.Config) engine.Config {
	windowMin, windowMax := cfg.EntryWindow()
	return engine.Config{
		Strategy: strategy.Config{
			MinPrice:  cfg.Strategy.MinPrice,
			MaxPrice:  cfg.Strategy.MaxPrice,
			WindowMin: windowMin,
			WindowMax: windowMax,
		},
		Risk: risk.Config{
			MaxPositions: cfg.Risk.MaxPositions,
			CapitalSplit: cfg.Risk.CapitalSplit,
		},
		Settlement: settlement.Config{
			Interval:   cfg.PollInterval(),
			StaleAfter: cfg.StaleAfter(),
		},
		Category:       cfg.Strategy.Category,
		ScanInterval:   cfg.ScanInterval(),
		InitialBalance: cfg.Paper.InitialBalance,
	}
}

// registerSenders cuelga del dispatcher los canales configurados. Un canal
// que no se puede inicializar se loguea y se omite; la consola siempre está.
func registerSenders(ctx context.Context, cfg *config.Config, d *alerts.Dispatcher, console *notify.Console, hub *dashboard.Hub) func() {
	var closers []func() error

	d.AddSender(console, severity(cfg.Alerts.ConsoleSeverity))

	if url := cfg.Alerts.Discord.WebhookURL; url != "" {
		d.AddSender(notify.NewDiscordSender(url, cfg.Alerts.Discord.MentionUser), severity(cfg.Alerts.Discord.MinSeverity))
		slog.Info("discord alerts enabled", "min_severity", cfg.Alerts.Discord.MinSeverity)
	}

	if em := cfg.Alerts.Email; em.Server != "" && len(em.To) > 0 {
		sender, err := notify.NewEmailSender(notify.SMTPConfig{
			Server:   em.Server,
			Port:     em.Port,
			Username: em.Username,
			Password: em.Password,
			From:     em.From,
			To:       em.To,
		})
		if err != nil {
			slog.Warn("email alerts disabled", "err", err)
		} else {
			d.AddSender(sender, severity(em.MinSeverity))
			slog.Info("email alerts enabled", "to", strings.Join(em.To, ","), "min_severity", em.MinSeverity)
		}
	}

	if rc := cfg.Alerts.Redis; rc.Addr != "" {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		sender, err := notify.NewRedisSender(pingCtx, notify.RedisConfig{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
			Channel:  rc.Channel,
			Stream:   rc.Stream,
		})
		cancel()
		if err != nil {
			slog.Warn("redis alerts disabled", "err", err)
		} else {
			d.AddSender(sender, severity(rc.MinSeverity))
			closers = append(closers, sender.Close)
			slog.Info("redis alerts enabled", "addr", rc.Addr, "channel", rc.Channel)
		}
	}

	if hub != nil {
		d.AddSender(hub, domain.SeverityInfo)
	}

	return func() {
		for _, c := range closers {
			if err := c(); err != nil {
				slog.Warn("closing alert sender", "err", err)
			}
		}
	}
}

func severity(s string) domain.Severity {
	return domain.ParseSeverity(strings.ToLower(s))
}

func printConfig(cfg *config.Config) {
	windowMin, windowMax := cfg.EntryWindow()
	t := tablewriter.NewWriter(os.Stdout)
	t.Header("Parameter", "Value")
	rows := [][]string{
		{"strategy.category", cfg.Strategy.Category},
		{"strategy.price_range", fmt.Sprintf("[%.4f, %.4f]", cfg.Strategy.MinPrice, cfg.Strategy.MaxPrice)},
		{"strategy.entry_window", fmt.Sprintf("[%s, %s]", windowMin, windowMax)},
		{"risk.max_positions", fmt.Sprintf("%d", cfg.Risk.MaxPositions)},
		{"risk.capital_split", fmt.Sprintf("%.2f%%", cfg.Risk.CapitalSplit*100)},
		{"paper.initial_balance", fmt.Sprintf("$%.2f", cfg.Paper.InitialBalance)},
		{"paper.scan_interval", cfg.ScanInterval().String()},
		{"settlement.poll_interval", cfg.PollInterval().String()},
		{"settlement.stale_after", cfg.StaleAfter().String()},
		{"api.gamma_base", cfg.API.GammaBase},
		{"storage.dsn", cfg.Storage.DSN},
		{"alerts.cooldown", cfg.AlertCooldown().String()},
		{"alerts.discord", enabled(cfg.Alerts.Discord.WebhookURL != "")},
		{"alerts.email", enabled(cfg.Alerts.Email.Server != "" && len(cfg.Alerts.Email.To) > 0)},
		{"alerts.redis", enabled(cfg.Alerts.Redis.Addr != "")},
		{"dashboard", enabled(cfg.Dashboard.Enabled) + " " + cfg.Dashboard.Addr},
		{"log", cfg.Log.Level + "/" + cfg.Log.Format},
	}
	for _, r := range rows {
		t.Append(r[0], r[1])
	}
	t.Render()
	fmt.Println("config OK")
}

func enabled(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
