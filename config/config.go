package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // Asia/Kolkata must resolve on hosts without zoneinfo

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/papertrader/internal/application/engine"
	"github.com/alejandrodnm/papertrader/internal/domain"
)

// Config es la configuración completa del paper trader.
type Config struct {
	Trading     TradingConfig      `yaml:"trading"`
	Risk        RiskConfig         `yaml:"risk"`
	Tokens      TokensConfig       `yaml:"tokens"`
	Underlyings []UnderlyingConfig `yaml:"underlyings"`
	API         APIConfig          `yaml:"api"`
	Storage     StorageConfig      `yaml:"storage"`
	Dashboard   DashboardConfig    `yaml:"dashboard"`
	Log         LogConfig          `yaml:"log"`
}

// TradingConfig controla el loop de paper trading.
type TradingConfig struct {
	PollIntervalSeconds   int    `yaml:"poll_interval_seconds"` // mínimo 5
	StatusIntervalSeconds int    `yaml:"status_interval_seconds"`
	Lots                  int    `yaml:"lots"`
	CandidateCap          int    `yaml:"candidate_cap"`
	EntryAfter            string `yaml:"entry_after"` // HH:MM
	ExitBy                string `yaml:"exit_by"`     // HH:MM
	DailyReset            string `yaml:"daily_reset"` // HH:MM, inicio del día de trading
	Timezone              string `yaml:"timezone"`
	OptionPrice           string `yaml:"option_price"` // ltp | quote
}

// RiskConfig son los límites del risk manager.
type RiskConfig struct {
	MaxLossPerTrade      float64 `yaml:"max_loss_per_trade"`
	MaxDailyLoss         float64 `yaml:"max_daily_loss"`
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"`
	TargetRR             float64 `yaml:"target_rr"`
	InitialSLPct         float64 `yaml:"initial_sl_pct"`
	TrailSLPct           float64 `yaml:"trail_sl_pct"`
}

// TokensConfig dice de dónde salen los bearer tokens.
// GROWW_TOKENS (separados por coma) tiene prioridad sobre File.
type TokensConfig struct {
	MinGapSeconds int    `yaml:"min_gap_seconds"`
	File          string `yaml:"file"` // un token por línea, '#' comenta

	values []string
}

// UnderlyingConfig es un índice a monitorizar.
type UnderlyingConfig struct {
	Symbol   string `yaml:"symbol"` // p.ej. NSE_NIFTY
	Name     string `yaml:"name"`   // p.ej. NIFTY
	Exchange string `yaml:"exchange"`
	LotSize  int    `yaml:"lot_size"`
	Expiry   string `yaml:"expiry"` // weekly | monthly
}

// APIConfig contiene el base URL y los límites de la API de mercado.
type APIConfig struct {
	BaseURL        string  `yaml:"base_url"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	RatePerSecond  float64 `yaml:"rate_per_second"` // por token
	Burst          int     `yaml:"burst"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	Backend       string `yaml:"backend"` // csv | sqlite
	TradeLogDir   string `yaml:"trade_log_dir"`
	PortfolioPath string `yaml:"portfolio_path"`
	DSN           string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// DashboardConfig controla el servidor HTTP de estado. Addr vacío lo desactiva.
type DashboardConfig struct {
	Addr        string `yaml:"addr"`
	PushSeconds int    `yaml:"push_seconds"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML (si path no está vacío)
// y el archivo .env si existe. Las variables de entorno sobreescriben el YAML.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	setDefaults(&cfg)

	return &cfg, nil
}

// PollInterval devuelve el intervalo de polling como time.Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Trading.PollIntervalSeconds) * time.Second
}

// StatusInterval devuelve cada cuánto se imprime la línea de estado.
func (c *Config) StatusInterval() time.Duration {
	return time.Duration(c.Trading.StatusIntervalSeconds) * time.Second
}

// MinGap devuelve el hueco mínimo entre dos usos del mismo token.
func (c *Config) MinGap() time.Duration {
	return time.Duration(c.Tokens.MinGapSeconds) * time.Second
}

// APITimeout devuelve el timeout por request.
func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// PushInterval devuelve cada cuánto el dashboard empuja un snapshot.
func (c *Config) PushInterval() time.Duration {
	return time.Duration(c.Dashboard.PushSeconds) * time.Second
}

// Location carga la zona horaria de trading.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Trading.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config.Location: %q: %w", c.Trading.Timezone, err)
	}
	return loc, nil
}

// Clock parses one of the trading HH:MM fields.
func (c *Config) Clock(field string) (time.Duration, error) {
	var raw string
	switch field {
	case "entry_after":
		raw = c.Trading.EntryAfter
	case "exit_by":
		raw = c.Trading.ExitBy
	case "daily_reset":
		raw = c.Trading.DailyReset
	default:
		return 0, fmt.Errorf("config.Clock: unknown field %q", field)
	}
	d, err := engine.ParseClock(raw)
	if err != nil {
		return 0, fmt.Errorf("config.Clock: trading.%s: %w", field, err)
	}
	return d, nil
}

// DomainUnderlyings convierte la lista configurada al tipo de dominio.
func (c *Config) DomainUnderlyings() []domain.Underlying {
	out := make([]domain.Underlying, 0, len(c.Underlyings))
	for _, u := range c.Underlyings {
		out = append(out, domain.Underlying{
			Symbol:   u.Symbol,
			Name:     u.Name,
			Exchange: u.Exchange,
			LotSize:  u.LotSize,
			Expiry:   domain.ExpiryRule(u.Expiry),
		})
	}
	return out
}

// TokenList devuelve los tokens de GROWW_TOKENS o, si no hay, los del
// fichero configurado.
func (c *Config) TokenList() ([]string, error) {
	if len(c.Tokens.values) > 0 {
		return c.Tokens.values, nil
	}
	if c.Tokens.File == "" {
		return nil, fmt.Errorf("config.TokenList: set GROWW_TOKENS or tokens.file: %w", domain.ErrConfig)
	}

	f, err := os.Open(c.Tokens.File)
	if err != nil {
		return nil, fmt.Errorf("config.TokenList: open %q: %w", c.Tokens.File, err)
	}
	defer f.Close()

	var tokens []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tokens = append(tokens, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("config.TokenList: read %q: %w", c.Tokens.File, err)
	}
	return tokens, nil
}

// Validate rechaza horas mal formadas, ventanas vacías y valores fuera de
// los enumerados.
func (c *Config) Validate() error {
	entry, err := c.Clock("entry_after")
	if err != nil {
		return invalid(err.Error())
	}
	exit, err := c.Clock("exit_by")
	if err != nil {
		return invalid(err.Error())
	}
	if exit <= entry {
		return invalid(fmt.Sprintf("trading.exit_by %s must be after entry_after %s", c.Trading.ExitBy, c.Trading.EntryAfter))
	}
	if _, err := c.Clock("daily_reset"); err != nil {
		return invalid(err.Error())
	}
	if _, err := c.Location(); err != nil {
		return invalid(err.Error())
	}

	switch c.Trading.OptionPrice {
	case "ltp", "quote":
	default:
		return invalid(fmt.Sprintf("trading.option_price %q (want ltp|quote)", c.Trading.OptionPrice))
	}
	switch c.Storage.Backend {
	case "csv", "sqlite":
	default:
		return invalid(fmt.Sprintf("storage.backend %q (want csv|sqlite)", c.Storage.Backend))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid(fmt.Sprintf("log.level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return invalid(fmt.Sprintf("log.format %q", c.Log.Format))
	}

	seen := make(map[string]bool, len(c.Underlyings))
	for i, u := range c.Underlyings {
		if u.Symbol == "" || u.Name == "" {
			return invalid(fmt.Sprintf("underlyings[%d]: symbol and name are required", i))
		}
		if seen[u.Symbol] {
			return invalid(fmt.Sprintf("underlyings[%d]: duplicate symbol %s", i, u.Symbol))
		}
		seen[u.Symbol] = true
		switch domain.ExpiryRule(u.Expiry) {
		case domain.ExpiryWeekly, domain.ExpiryMonthly:
		default:
			return invalid(fmt.Sprintf("underlyings[%d]: expiry %q (want weekly|monthly)", i, u.Expiry))
		}
	}
	return nil
}

func invalid(msg string) error {
	return fmt.Errorf("config.Validate: %s: %w", msg, domain.ErrConfig)
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v, ok := os.LookupEnv("DASHBOARD_ADDR"); ok {
		cfg.Dashboard.Addr = v
	}
	if v := os.Getenv("GROWW_TOKENS"); v != "" {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				cfg.Tokens.values = append(cfg.Tokens.values, t)
			}
		}
	}

	ints := []struct {
		env string
		dst *int
	}{
		{"POLL_INTERVAL_S", &cfg.Trading.PollIntervalSeconds},
		{"POSITION_LOTS", &cfg.Trading.Lots},
		{"MAX_CONSECUTIVE_LOSSES", &cfg.Risk.MaxConsecutiveLosses},
	}
	for _, o := range ints {
		v := os.Getenv(o.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("env %s=%q: %w", o.env, v, domain.ErrConfig)
		}
		*o.dst = n
	}

	floats := []struct {
		env string
		dst *float64
	}{
		{"MAX_LOSS_PER_TRADE", &cfg.Risk.MaxLossPerTrade},
		{"MAX_DAILY_LOSS", &cfg.Risk.MaxDailyLoss},
		{"TARGET_RR", &cfg.Risk.TargetRR},
		{"INITIAL_SL_PCT", &cfg.Risk.InitialSLPct},
		{"TRAIL_SL_PCT", &cfg.Risk.TrailSLPct},
	}
	for _, o := range floats {
		v := os.Getenv(o.env)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("env %s=%q: %w", o.env, v, domain.ErrConfig)
		}
		*o.dst = f
	}
	return nil
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Trading.PollIntervalSeconds < 5 {
		cfg.Trading.PollIntervalSeconds = 5
	}
	if cfg.Trading.StatusIntervalSeconds <= 0 {
		cfg.Trading.StatusIntervalSeconds = 30
	}
	if cfg.Trading.Lots <= 0 {
		cfg.Trading.Lots = 1
	}
	if cfg.Trading.CandidateCap <= 0 {
		cfg.Trading.CandidateCap = 20
	}
	if cfg.Trading.EntryAfter == "" {
		cfg.Trading.EntryAfter = "10:15"
	}
	if cfg.Trading.ExitBy == "" {
		cfg.Trading.ExitBy = "15:20"
	}
	if cfg.Trading.DailyReset == "" {
		cfg.Trading.DailyReset = "09:15"
	}
	if cfg.Trading.Timezone == "" {
		cfg.Trading.Timezone = "Asia/Kolkata"
	}
	if cfg.Trading.OptionPrice == "" {
		cfg.Trading.OptionPrice = "ltp"
	}

	if cfg.Risk.MaxLossPerTrade <= 0 {
		cfg.Risk.MaxLossPerTrade = 500
	}
	if cfg.Risk.MaxDailyLoss <= 0 {
		cfg.Risk.MaxDailyLoss = 1500
	}
	if cfg.Risk.MaxConsecutiveLosses <= 0 {
		cfg.Risk.MaxConsecutiveLosses = 3
	}
	if cfg.Risk.TargetRR <= 0 {
		cfg.Risk.TargetRR = 2.0
	}
	if cfg.Risk.InitialSLPct <= 0 {
		cfg.Risk.InitialSLPct = 0.25
	}
	if cfg.Risk.TrailSLPct <= 0 {
		cfg.Risk.TrailSLPct = 0.2
	}

	if cfg.Tokens.MinGapSeconds <= 0 {
		cfg.Tokens.MinGapSeconds = 5
	}

	if len(cfg.Underlyings) == 0 {
		cfg.Underlyings = []UnderlyingConfig{
			{Symbol: "NSE_NIFTY", Name: "NIFTY", Exchange: "NSE", LotSize: 1, Expiry: "weekly"},
			{Symbol: "NSE_BANKNIFTY", Name: "BANKNIFTY", Exchange: "NSE", LotSize: 1, Expiry: "monthly"},
		}
	}
	for i := range cfg.Underlyings {
		u := &cfg.Underlyings[i]
		if u.Exchange == "" {
			u.Exchange = "NSE"
		}
		if u.LotSize <= 0 {
			u.LotSize = 1
		}
		if u.Expiry == "" {
			u.Expiry = "weekly"
		}
	}

	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = "https://api.groww.in"
	}
	if cfg.API.TimeoutSeconds <= 0 {
		cfg.API.TimeoutSeconds = 10
	}
	if cfg.API.RatePerSecond <= 0 {
		cfg.API.RatePerSecond = 5
	}
	if cfg.API.Burst <= 0 {
		cfg.API.Burst = 2
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "csv"
	}
	if cfg.Storage.TradeLogDir == "" {
		cfg.Storage.TradeLogDir = "trade_logs"
	}
	if cfg.Storage.PortfolioPath == "" {
		cfg.Storage.PortfolioPath = "portfolio.csv"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "papertrader.db"
	}

	if cfg.Dashboard.PushSeconds <= 0 {
		cfg.Dashboard.PushSeconds = 2
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
