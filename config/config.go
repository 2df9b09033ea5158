package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del paper trader.
type Config struct {
	Strategy   StrategyConfig   `yaml:"strategy"`
	Risk       RiskConfig       `yaml:"risk"`
	Paper      PaperConfig      `yaml:"paper"`
	Settlement SettlementConfig `yaml:"settlement"`
	API        APIConfig        `yaml:"api"`
	Storage    StorageConfig    `yaml:"storage"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
	Log        LogConfig        `yaml:"log"`
}

// StrategyConfig controla qué mercados se consideran oportunidad.
type StrategyConfig struct {
	Category    string  `yaml:"category"`      // crypto | fed; una categoría por proceso
	MinPrice    float64 `yaml:"min_price"`     // inclusivo
	MaxPrice    float64 `yaml:"max_price"`     // inclusivo
	WindowMinMs int     `yaml:"window_min_ms"` // segundos al cierre, mínimo
	WindowMaxMs int     `yaml:"window_max_ms"`
}

// RiskConfig limita cuántas posiciones y de qué tamaño.
type RiskConfig struct {
	MaxPositions int     `yaml:"max_positions"`
	CapitalSplit float64 `yaml:"capital_split"` // fracción del total por posición
}

// PaperConfig controla el loop de simulación.
type PaperConfig struct {
	InitialBalance float64 `yaml:"initial_balance"`  // solo se usa en el primer arranque
	ScanIntervalMs int     `yaml:"scan_interval_ms"` // el cierre de 1-2s exige sub-segundo
	StopFile       string  `yaml:"stop_file"`        // si existe, el bot se detiene
}

// SettlementConfig controla el poller de resoluciones.
type SettlementConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	StaleAfterHours     int `yaml:"stale_after_hours"`
}

// APIConfig contiene el base URL de Gamma y los límites del cliente.
type APIConfig struct {
	GammaBase        string  `yaml:"gamma_base"`
	RatePerSecond    float64 `yaml:"rate_per_second"`
	Burst            int     `yaml:"burst"`
	TimeoutSeconds   int     `yaml:"timeout_seconds"`
	PageSize         int     `yaml:"page_size"`
	MaxPages         int     `yaml:"max_pages"`
	LookaheadMinutes int     `yaml:"lookahead_minutes"`
}

// StorageConfig controla dónde se persiste el journal.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// AlertsConfig agrupa el dispatcher y sus canales.
type AlertsConfig struct {
	CooldownSeconds int           `yaml:"cooldown_seconds"`
	QueueSize       int           `yaml:"queue_size"`
	RatePerSecond   float64       `yaml:"rate_per_second"`
	RetryMaxTries   int           `yaml:"retry_max_tries"`
	ConsoleSeverity string        `yaml:"console_min_severity"`
	Discord         DiscordConfig `yaml:"discord"`
	Email           EmailConfig   `yaml:"email"`
	Redis           RedisConfig   `yaml:"redis"`
}

type DiscordConfig struct {
	WebhookURL  string `yaml:"webhook_url"`
	MentionUser string `yaml:"mention_user"`
	MinSeverity string `yaml:"min_severity"`
}

// EmailConfig: sin servidor o sin destinatarios el canal queda desactivado.
type EmailConfig struct {
	Server      string   `yaml:"smtp_server"`
	Port        int      `yaml:"smtp_port"`
	Username    string   `yaml:"smtp_username"`
	Password    string   `yaml:"smtp_password"`
	From        string   `yaml:"from"`
	To          []string `yaml:"to"`
	MinSeverity string   `yaml:"min_severity"` // por defecto solo errores
}

type RedisConfig struct {
	Addr        string `yaml:"addr"`
	Password    string `yaml:"password"`
	DB          int    `yaml:"db"`
	Channel     string `yaml:"channel"`
	Stream      string `yaml:"stream"`
	MinSeverity string `yaml:"min_severity"`
}

// DashboardConfig controla la API de solo lectura.
type DashboardConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse aplica env, defaults y validación sobre un YAML ya leído.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ScanInterval devuelve el intervalo del loop como time.Duration.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Paper.ScanIntervalMs) * time.Millisecond
}

// EntryWindow devuelve [min, max] de segundos al cierre.
func (c *Config) EntryWindow() (time.Duration, time.Duration) {
	return time.Duration(c.Strategy.WindowMinMs) * time.Millisecond,
		time.Duration(c.Strategy.WindowMaxMs) * time.Millisecond
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Settlement.PollIntervalSeconds) * time.Second
}

func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Settlement.StaleAfterHours) * time.Hour
}

func (c *Config) AlertCooldown() time.Duration {
	return time.Duration(c.Alerts.CooldownSeconds) * time.Second
}

func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

func (c *Config) Lookahead() time.Duration {
	return time.Duration(c.API.LookaheadMinutes) * time.Minute
}

// Validate devuelve el primer parámetro imposible. Es fatal al arrancar.
func (c *Config) Validate() error {
	s := c.Strategy
	switch {
	case s.MinPrice <= 0 || s.MinPrice > 1:
		return fmt.Errorf("config: strategy.min_price %.4f out of (0,1]", s.MinPrice)
	case s.MaxPrice < s.MinPrice || s.MaxPrice > 1:
		return fmt.Errorf("config: strategy.max_price %.4f must be in [min_price,1]", s.MaxPrice)
	case s.WindowMinMs < 0 || s.WindowMaxMs < s.WindowMinMs:
		return fmt.Errorf("config: strategy window [%d,%d]ms invalid", s.WindowMinMs, s.WindowMaxMs)
	}
	if c.Risk.MaxPositions <= 0 {
		return fmt.Errorf("config: risk.max_positions must be positive, got %d", c.Risk.MaxPositions)
	}
	if c.Risk.CapitalSplit <= 0 || c.Risk.CapitalSplit > 1 {
		return fmt.Errorf("config: risk.capital_split %.4f out of (0,1]", c.Risk.CapitalSplit)
	}
	if c.Paper.InitialBalance <= 0 {
		return fmt.Errorf("config: paper.initial_balance must be positive, got %.2f", c.Paper.InitialBalance)
	}
	if c.API.RatePerSecond <= 0 {
		return fmt.Errorf("config: api.rate_per_second must be positive")
	}
	for name, sev := range map[string]string{
		"alerts.console_min_severity": c.Alerts.ConsoleSeverity,
		"alerts.discord.min_severity": c.Alerts.Discord.MinSeverity,
		"alerts.email.min_severity":   c.Alerts.Email.MinSeverity,
		"alerts.redis.min_severity":   c.Alerts.Redis.MinSeverity,
	} {
		if !validSeverity(sev) {
			return fmt.Errorf("config: %s %q unknown (info|warning|error|critical)", name, sev)
		}
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("config: log.format %q unknown (text|json)", c.Log.Format)
	}
	return nil
}

func validSeverity(s string) bool {
	switch strings.ToLower(s) {
	case "info", "warning", "warn", "error", "critical":
		return true
	}
	return false
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("FAKE_CURRENCY_BALANCE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: FAKE_CURRENCY_BALANCE %q: %w", v, err)
		}
		cfg.Paper.InitialBalance = f
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
	}
	if v := os.Getenv("DISCORD_MENTION_USER"); v != "" {
		cfg.Alerts.Discord.MentionUser = v
	}
	if v := os.Getenv("ALERT_EMAIL_TO"); v != "" {
		cfg.Alerts.Email.To = splitList(v)
	}
	if v := os.Getenv("ALERT_EMAIL_FROM"); v != "" {
		cfg.Alerts.Email.From = v
	}
	if v := os.Getenv("SMTP_SERVER"); v != "" {
		cfg.Alerts.Email.Server = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: SMTP_PORT %q: %w", v, err)
		}
		cfg.Alerts.Email.Port = p
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		cfg.Alerts.Email.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.Alerts.Email.Password = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Alerts.Redis.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
// Solo rellena ceros; un valor explícito inválido lo rechaza Validate.
func setDefaults(cfg *Config) {
	if cfg.Strategy.Category == "" {
		cfg.Strategy.Category = "crypto"
	}
	if cfg.Strategy.MinPrice == 0 {
		cfg.Strategy.MinPrice = 0.985
	}
	if cfg.Strategy.MaxPrice == 0 {
		cfg.Strategy.MaxPrice = 1.00
	}
	if cfg.Strategy.WindowMinMs == 0 && cfg.Strategy.WindowMaxMs == 0 {
		cfg.Strategy.WindowMinMs = 1000
		cfg.Strategy.WindowMaxMs = 2000
	}
	if cfg.Risk.MaxPositions == 0 {
		cfg.Risk.MaxPositions = 5
	}
	if cfg.Risk.CapitalSplit == 0 {
		cfg.Risk.CapitalSplit = 0.20
	}
	if cfg.Paper.InitialBalance == 0 {
		cfg.Paper.InitialBalance = 10000
	}
	if cfg.Paper.ScanIntervalMs <= 0 {
		cfg.Paper.ScanIntervalMs = 500
	}
	if cfg.Paper.StopFile == "" {
		cfg.Paper.StopFile = "STOP"
	}
	if cfg.Settlement.PollIntervalSeconds <= 0 {
		cfg.Settlement.PollIntervalSeconds = 5
	}
	if cfg.Settlement.StaleAfterHours <= 0 {
		cfg.Settlement.StaleAfterHours = 24
	}
	if cfg.API.GammaBase == "" {
		cfg.API.GammaBase = "https://gamma-api.polymarket.com"
	}
	if cfg.API.RatePerSecond == 0 {
		cfg.API.RatePerSecond = 18 // Gamma permite ~300 req/10s
	}
	if cfg.API.Burst <= 0 {
		cfg.API.Burst = 10
	}
	if cfg.API.TimeoutSeconds <= 0 {
		cfg.API.TimeoutSeconds = 10
	}
	if cfg.API.PageSize <= 0 {
		cfg.API.PageSize = 100
	}
	if cfg.API.MaxPages <= 0 {
		cfg.API.MaxPages = 10
	}
	if cfg.API.LookaheadMinutes <= 0 {
		cfg.API.LookaheadMinutes = 10
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "settlebot.db"
	}
	if cfg.Alerts.CooldownSeconds <= 0 {
		cfg.Alerts.CooldownSeconds = 300
	}
	if cfg.Alerts.QueueSize <= 0 {
		cfg.Alerts.QueueSize = 256
	}
	if cfg.Alerts.RatePerSecond <= 0 {
		cfg.Alerts.RatePerSecond = 1
	}
	if cfg.Alerts.RetryMaxTries <= 0 {
		cfg.Alerts.RetryMaxTries = 3
	}
	if cfg.Alerts.ConsoleSeverity == "" {
		cfg.Alerts.ConsoleSeverity = "info"
	}
	if cfg.Alerts.Discord.MinSeverity == "" {
		cfg.Alerts.Discord.MinSeverity = "info"
	}
	if cfg.Alerts.Email.Port <= 0 {
		cfg.Alerts.Email.Port = 587
	}
	if cfg.Alerts.Email.MinSeverity == "" {
		cfg.Alerts.Email.MinSeverity = "error"
	}
	if cfg.Alerts.Redis.Channel == "" {
		cfg.Alerts.Redis.Channel = "settlebot:alerts"
	}
	if cfg.Alerts.Redis.MinSeverity == "" {
		cfg.Alerts.Redis.MinSeverity = "info"
	}
	if cfg.Dashboard.Addr == "" {
		cfg.Dashboard.Addr = ":8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
