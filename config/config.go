package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/polytrader/internal/adapters/polymarket"
	"github.com/alejandrodnm/polytrader/internal/application/engine"
	"github.com/alejandrodnm/polytrader/internal/application/execution"
	"github.com/alejandrodnm/polytrader/internal/application/lifecycle"
	"github.com/alejandrodnm/polytrader/internal/application/risk"
	"github.com/alejandrodnm/polytrader/internal/application/sizing"
	"github.com/alejandrodnm/polytrader/internal/domain"
)

// Config es la configuración completa del trader.
type Config struct {
	Trader     TraderConfig     `yaml:"trader"`
	Risk       RiskConfig       `yaml:"risk"`
	Drawdown   DrawdownConfig   `yaml:"drawdown"`
	Portfolio  PortfolioConfig  `yaml:"portfolio"`
	Sizing     SizingConfig     `yaml:"sizing"`
	Execution  ExecutionConfig  `yaml:"execution"`
	Lifecycle  LifecycleConfig  `yaml:"lifecycle"`
	Polymarket PolymarketConfig `yaml:"polymarket"`
	Forecast   ForecastConfig   `yaml:"forecast"`
	Storage    StorageConfig    `yaml:"storage"`
	Redis      RedisConfig      `yaml:"redis"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
}

// TraderConfig controla el scheduler.
type TraderConfig struct {
	Bankroll               float64 `yaml:"bankroll"`
	DryRun                 bool    `yaml:"dry_run"`
	KillSwitch             bool    `yaml:"kill_switch"`
	CycleIntervalSeconds   int     `yaml:"cycle_interval_seconds"`
	Cron                   string  `yaml:"cron"` // si está, reemplaza al intervalo
	HistorySize            int     `yaml:"history_size"`
	AlertAfterFailures     int     `yaml:"alert_after_failures"`
	MaxCandidates          int     `yaml:"max_candidates"` // 0 = sin límite
	FeePct                 float64 `yaml:"fee_pct"`
	GasCostUSD             float64 `yaml:"gas_cost_usd"`
	MaxConvictionBoost     float64 `yaml:"max_conviction_boost"`
	ResearchTimeoutSeconds int     `yaml:"research_timeout_seconds"`
}

// RiskConfig son los umbrales del risk gate.
type RiskConfig struct {
	MinEdge               float64  `yaml:"min_edge"`
	MaxDailyLoss          float64  `yaml:"max_daily_loss"`
	MaxOpenPositions      int      `yaml:"max_open_positions"`
	MinLiquidity          float64  `yaml:"min_liquidity"`
	MaxSpread             float64  `yaml:"max_spread"`
	MinEvidenceQuality    float64  `yaml:"min_evidence_quality"`
	MinConfidence         string   `yaml:"min_confidence"`
	MinImpliedProbability float64  `yaml:"min_implied_probability"`
	AllowedMarketTypes    []string `yaml:"allowed_market_types"`
	DeniedMarketTypes     []string `yaml:"denied_market_types"`
	EndgameWarningHours   float64  `yaml:"endgame_warning_hours"`
}

// DrawdownConfig son los niveles de heat y sus multiplicadores de Kelly.
type DrawdownConfig struct {
	WarningPct         float64 `yaml:"warning_pct"`
	CriticalPct        float64 `yaml:"critical_pct"`
	MaxPct             float64 `yaml:"max_pct"`
	KillPct            float64 `yaml:"kill_pct"`
	WarningMultiplier  float64 `yaml:"warning_multiplier"`
	CriticalMultiplier float64 `yaml:"critical_multiplier"`
	MaxMultiplier      float64 `yaml:"max_multiplier"`
}

// PortfolioConfig son los límites de concentración, como fracción del bankroll.
type PortfolioConfig struct {
	MaxTotalExposure       float64 `yaml:"max_total_exposure"`
	MaxCategoryExposure    float64 `yaml:"max_category_exposure"`
	MaxEventExposure       float64 `yaml:"max_event_exposure"`
	MaxSinglePosition      float64 `yaml:"max_single_position"`
	MaxCorrelatedPositions int     `yaml:"max_correlated_positions"`
}

// SizingConfig controla el Kelly fraccional.
type SizingConfig struct {
	KellyFraction       float64            `yaml:"kelly_fraction"`
	MaxStakePerMarket   float64            `yaml:"max_stake_per_market"`
	MaxBankrollFraction float64            `yaml:"max_bankroll_fraction"`
	CategoryMultipliers map[string]float64 `yaml:"category_multipliers"`
	RegimeMultiplier    float64            `yaml:"regime_multiplier"`
	VolatilityStart     float64            `yaml:"volatility_start"`
	VolatilityFull      float64            `yaml:"volatility_full"`
	VolatilityFloor     float64            `yaml:"volatility_floor"`
}

// ExecutionConfig agrupa la selección de estrategia y la política de envío.
type ExecutionConfig struct {
	SimpleMaxStake         float64 `yaml:"simple_max_stake"`
	IcebergVisibleFraction float64 `yaml:"iceberg_visible_fraction"`
	TWAPDepthFraction      float64 `yaml:"twap_depth_fraction"`
	TWAPSlices             int     `yaml:"twap_slices"`
	TWAPIntervalSeconds    int     `yaml:"twap_interval_seconds"`
	SlippageTolerance      float64 `yaml:"slippage_tolerance"`
	OrderTTLSeconds        int     `yaml:"order_ttl_seconds"`
	MaxRetries             int     `yaml:"max_retries"`
	RetryBackoffMillis     int     `yaml:"retry_backoff_millis"`
	AttemptTimeoutSeconds  int     `yaml:"attempt_timeout_seconds"`
	QualityLookbackHours   int     `yaml:"quality_lookback_hours"`
}

// LifecycleConfig controla stops, trailing y salidas.
type LifecycleConfig struct {
	StopLossPct           float64 `yaml:"stop_loss_pct"`
	ReferenceEdge         float64 `yaml:"reference_edge"`
	TrailingActivation    float64 `yaml:"trailing_activation"`
	TrailingDistance      float64 `yaml:"trailing_distance"`
	TimeExitHours         float64 `yaml:"time_exit_hours"`
	PartialExitThreshold  float64 `yaml:"partial_exit_threshold"`
	PartialExitFraction   float64 `yaml:"partial_exit_fraction"`
	EdgeReversalTolerance float64 `yaml:"edge_reversal_tolerance"`
}

// PolymarketConfig contiene los base URLs y credenciales del exchange.
type PolymarketConfig struct {
	CLOBBase       string           `yaml:"clob_base"`
	GammaBases     []string         `yaml:"gamma_bases"`
	DataBase       string           `yaml:"data_base"`
	TimeoutSeconds int              `yaml:"timeout_seconds"`
	PageSize       int              `yaml:"page_size"`
	MaxPages       int              `yaml:"max_pages"`
	MinVolume24h   float64          `yaml:"min_volume_24h"`
	RPCURL         string           `yaml:"rpc_url"`
	PrivateKey     string           `yaml:"-"` // solo desde POLY_PRIVATE_KEY
	Conviction     ConvictionConfig `yaml:"conviction"`
}

// ConvictionConfig controla la señal de whales del Data API.
type ConvictionConfig struct {
	Enabled         bool    `yaml:"enabled"`
	MinTradeUSD     float64 `yaml:"min_trade_usd"`
	MinTotalUSD     float64 `yaml:"min_total_usd"`
	LookbackMinutes int     `yaml:"lookback_minutes"`
	MinWallets      int     `yaml:"min_wallets"`
	MaxStrength     float64 `yaml:"max_strength"`
}

// ForecastConfig apunta al archivo de probabilidades del operador.
type ForecastConfig struct {
	Path string `yaml:"path"`
}

// StorageConfig controla dónde se persiste el estado.
type StorageConfig struct {
	Driver string `yaml:"driver"` // sqlite | postgres
	DSN    string `yaml:"dsn"`    // ruta SQLite (o ":memory:") o URL de Postgres
}

// RedisConfig habilita el publisher de estado. Sin Addr queda apagado.
type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	Key        string `yaml:"key"`
	Channel    string `yaml:"channel"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// AlertsConfig controla el destino de las alertas.
type AlertsConfig struct {
	DiscordWebhookURL string `yaml:"discord_webhook_url"`
	MinLevel          string `yaml:"min_level"` // info | warning | critical
}

// MetricsConfig controla el endpoint /metrics. Sin Addr queda apagado.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración: .env, YAML, variables de entorno, defaults y
// validación, en ese orden. Los campos ausentes del YAML toman el default de
// cada componente.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return cfg, nil
}

// Default devuelve la configuración con los defaults de cada componente.
func Default() *Config {
	gate := risk.DefaultGateConfig()
	dd := risk.DefaultDrawdownConfig()
	pf := risk.DefaultPortfolioConfig()
	sz := sizing.DefaultConfig()
	b := execution.DefaultBuilderConfig()
	r := execution.DefaultRouterConfig()
	lc := lifecycle.DefaultConfig()
	cv := polymarket.DefaultConvictionConfig()

	return &Config{
		Trader: TraderConfig{
			Bankroll:               1000,
			DryRun:                 r.DryRun,
			CycleIntervalSeconds:   900,
			HistorySize:            50,
			AlertAfterFailures:     3,
			FeePct:                 0.02,
			MaxConvictionBoost:     0.05,
			ResearchTimeoutSeconds: 60,
		},
		Risk: RiskConfig{
			MinEdge:               gate.MinEdge,
			MaxDailyLoss:          gate.MaxDailyLoss,
			MaxOpenPositions:      gate.MaxOpenPositions,
			MinLiquidity:          gate.MinLiquidity,
			MaxSpread:             gate.MaxSpread,
			MinEvidenceQuality:    gate.MinEvidenceQuality,
			MinConfidence:         string(gate.MinConfidence),
			MinImpliedProbability: gate.MinImpliedProbability,
			EndgameWarningHours:   gate.EndgameWarningHours,
		},
		Drawdown: DrawdownConfig{
			WarningPct:         dd.WarningPct,
			CriticalPct:        dd.CriticalPct,
			MaxPct:             dd.MaxPct,
			KillPct:            dd.KillPct,
			WarningMultiplier:  dd.WarningMultiplier,
			CriticalMultiplier: dd.CriticalMultiplier,
			MaxMultiplier:      dd.MaxMultiplier,
		},
		Portfolio: PortfolioConfig{
			MaxTotalExposure:       pf.MaxTotalExposure,
			MaxCategoryExposure:    pf.MaxCategoryExposure,
			MaxEventExposure:       pf.MaxEventExposure,
			MaxSinglePosition:      pf.MaxSinglePosition,
			MaxCorrelatedPositions: pf.MaxCorrelatedPositions,
		},
		Sizing: SizingConfig{
			KellyFraction:       sz.KellyFraction,
			MaxStakePerMarket:   sz.MaxStakePerMarket,
			MaxBankrollFraction: sz.MaxBankrollFraction,
			RegimeMultiplier:    sz.RegimeMultiplier,
			VolatilityStart:     sz.VolatilityStart,
			VolatilityFull:      sz.VolatilityFull,
			VolatilityFloor:     sz.VolatilityFloor,
		},
		Execution: ExecutionConfig{
			SimpleMaxStake:         b.SimpleMaxStake,
			IcebergVisibleFraction: b.IcebergVisibleFraction,
			TWAPDepthFraction:      b.TWAPDepthFraction,
			TWAPSlices:             b.TWAPSlices,
			TWAPIntervalSeconds:    int(b.TWAPInterval / time.Second),
			SlippageTolerance:      b.SlippageTolerance,
			OrderTTLSeconds:        int(b.OrderTTL / time.Second),
			MaxRetries:             r.MaxRetries,
			RetryBackoffMillis:     int(r.RetryBackoff / time.Millisecond),
			AttemptTimeoutSeconds:  int(r.AttemptTimeout / time.Second),
			QualityLookbackHours:   7 * 24,
		},
		Lifecycle: LifecycleConfig{
			StopLossPct:           lc.StopLossPct,
			ReferenceEdge:         lc.ReferenceEdge,
			TrailingActivation:    lc.TrailingActivation,
			TrailingDistance:      lc.TrailingDistance,
			TimeExitHours:         lc.TimeExitHours,
			PartialExitThreshold:  lc.PartialExitThreshold,
			PartialExitFraction:   lc.PartialExitFraction,
			EdgeReversalTolerance: lc.EdgeReversalTolerance,
		},
		Polymarket: PolymarketConfig{
			Conviction: ConvictionConfig{
				MinTradeUSD:     cv.MinTradeUSD,
				MinTotalUSD:     cv.MinTotalUSD,
				LookbackMinutes: int(cv.Lookback / time.Minute),
				MinWallets:      cv.MinWallets,
				MaxStrength:     cv.MaxStrength,
			},
		},
		Alerts: AlertsConfig{MinLevel: string(domain.AlertWarning)},
	}
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("KILL_SWITCH"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("KILL_SWITCH=%q: %w", v, err)
		}
		cfg.Trader.KillSwitch = b
	}
	if v := os.Getenv("DRY_RUN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DRY_RUN=%q: %w", v, err)
		}
		cfg.Trader.DryRun = b
	}
	if v := os.Getenv("POLY_PRIVATE_KEY"); v != "" {
		cfg.Polymarket.PrivateKey = v
	}
	if v := os.Getenv("POLYGON_RPC_URL"); v != "" {
		cfg.Polymarket.RPCURL = v
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.DiscordWebhookURL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.Driver = "postgres"
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	return nil
}

// setDefaults completa los valores donde cero no tiene sentido.
func setDefaults(cfg *Config) {
	if cfg.Trader.CycleIntervalSeconds <= 0 {
		cfg.Trader.CycleIntervalSeconds = 900
	}
	if cfg.Execution.QualityLookbackHours <= 0 {
		cfg.Execution.QualityLookbackHours = 7 * 24
	}
	if cfg.Polymarket.CLOBBase == "" {
		cfg.Polymarket.CLOBBase = "https://clob.polymarket.com"
	}
	if len(cfg.Polymarket.GammaBases) == 0 {
		cfg.Polymarket.GammaBases = []string{"https://gamma-api.polymarket.com"}
	}
	if cfg.Polymarket.DataBase == "" {
		cfg.Polymarket.DataBase = "https://data-api.polymarket.com"
	}
	if cfg.Polymarket.TimeoutSeconds <= 0 {
		cfg.Polymarket.TimeoutSeconds = 10
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DSN == "" && cfg.Storage.Driver == "sqlite" {
		cfg.Storage.DSN = "polytrader.db"
	}
	if cfg.Forecast.Path == "" {
		cfg.Forecast.Path = "config/forecasts.yaml"
	}
	if cfg.Alerts.MinLevel == "" {
		cfg.Alerts.MinLevel = string(domain.AlertWarning)
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// Validate rechaza configuraciones que el trader no puede ejecutar.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Trader.Bankroll <= 0 {
		add("trader.bankroll must be > 0, got %.2f", c.Trader.Bankroll)
	}
	if c.Trader.FeePct < 0 || c.Trader.FeePct >= 1 {
		add("trader.fee_pct must be in [0,1), got %.4f", c.Trader.FeePct)
	}
	if c.Risk.MinEdge < 0 {
		add("risk.min_edge must be >= 0, got %.4f", c.Risk.MinEdge)
	}
	if _, err := domain.ParseConfidence(c.Risk.MinConfidence); err != nil {
		add("risk.min_confidence: %w", err)
	}
	if err := c.DrawdownConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Sizing.KellyFraction <= 0 || c.Sizing.KellyFraction > 1 {
		add("sizing.kelly_fraction must be in (0,1], got %.4f", c.Sizing.KellyFraction)
	}
	if c.Sizing.MaxBankrollFraction <= 0 || c.Sizing.MaxBankrollFraction > 1 {
		add("sizing.max_bankroll_fraction must be in (0,1], got %.4f", c.Sizing.MaxBankrollFraction)
	}
	if c.Execution.MaxRetries < 1 {
		add("execution.max_retries must be >= 1, got %d", c.Execution.MaxRetries)
	}
	if c.Execution.TWAPSlices < 1 {
		add("execution.twap_slices must be >= 1, got %d", c.Execution.TWAPSlices)
	}
	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		add("storage.driver must be sqlite or postgres, got %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" {
		add("storage.dsn is required for postgres")
	}
	switch domain.AlertLevel(c.Alerts.MinLevel) {
	case domain.AlertInfo, domain.AlertWarning, domain.AlertCritical:
	default:
		add("alerts.min_level must be info, warning or critical, got %q", c.Alerts.MinLevel)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		add("log.format must be text or json, got %q", c.Log.Format)
	}
	return errors.Join(errs...)
}

// EngineConfig mapea la sección trader al scheduler.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		Bankroll:           c.Trader.Bankroll,
		DryRun:             c.Trader.DryRun,
		KillSwitch:         c.Trader.KillSwitch,
		CycleInterval:      seconds(c.Trader.CycleIntervalSeconds),
		CronSpec:           c.Trader.Cron,
		HistorySize:        c.Trader.HistorySize,
		AlertAfterFailures: c.Trader.AlertAfterFailures,
		MaxCandidates:      c.Trader.MaxCandidates,
		FeePct:             c.Trader.FeePct,
		GasCostUSD:         c.Trader.GasCostUSD,
		MaxConvictionBoost: c.Trader.MaxConvictionBoost,
		ResearchTimeout:    seconds(c.Trader.ResearchTimeoutSeconds),
	}
}

// GateConfig mapea la sección risk al gate.
func (c *Config) GateConfig() risk.GateConfig {
	return risk.GateConfig{
		KillSwitch:            c.Trader.KillSwitch,
		MinEdge:               c.Risk.MinEdge,
		MaxDailyLoss:          c.Risk.MaxDailyLoss,
		MaxOpenPositions:      c.Risk.MaxOpenPositions,
		MinLiquidity:          c.Risk.MinLiquidity,
		MaxSpread:             c.Risk.MaxSpread,
		MinEvidenceQuality:    c.Risk.MinEvidenceQuality,
		MinConfidence:         domain.Confidence(strings.ToUpper(c.Risk.MinConfidence)),
		MinImpliedProbability: c.Risk.MinImpliedProbability,
		AllowedMarketTypes:    c.Risk.AllowedMarketTypes,
		DeniedMarketTypes:     c.Risk.DeniedMarketTypes,
		EndgameWarningHours:   c.Risk.EndgameWarningHours,
	}
}

// DrawdownConfig mapea la sección drawdown.
func (c *Config) DrawdownConfig() risk.DrawdownConfig {
	return risk.DrawdownConfig{
		WarningPct:         c.Drawdown.WarningPct,
		CriticalPct:        c.Drawdown.CriticalPct,
		MaxPct:             c.Drawdown.MaxPct,
		KillPct:            c.Drawdown.KillPct,
		WarningMultiplier:  c.Drawdown.WarningMultiplier,
		CriticalMultiplier: c.Drawdown.CriticalMultiplier,
		MaxMultiplier:      c.Drawdown.MaxMultiplier,
	}
}

// PortfolioConfig mapea la sección portfolio.
func (c *Config) PortfolioConfig() risk.PortfolioConfig {
	return risk.PortfolioConfig{
		MaxTotalExposure:       c.Portfolio.MaxTotalExposure,
		MaxCategoryExposure:    c.Portfolio.MaxCategoryExposure,
		MaxEventExposure:       c.Portfolio.MaxEventExposure,
		MaxSinglePosition:      c.Portfolio.MaxSinglePosition,
		MaxCorrelatedPositions: c.Portfolio.MaxCorrelatedPositions,
	}
}

// SizingConfig mapea la sección sizing.
func (c *Config) SizingConfig() sizing.Config {
	return sizing.Config{
		KellyFraction:       c.Sizing.KellyFraction,
		MaxStakePerMarket:   c.Sizing.MaxStakePerMarket,
		MaxBankrollFraction: c.Sizing.MaxBankrollFraction,
		CategoryMultipliers: c.Sizing.CategoryMultipliers,
		RegimeMultiplier:    c.Sizing.RegimeMultiplier,
		VolatilityStart:     c.Sizing.VolatilityStart,
		VolatilityFull:      c.Sizing.VolatilityFull,
		VolatilityFloor:     c.Sizing.VolatilityFloor,
	}
}

// BuilderConfig mapea la selección de estrategia.
func (c *Config) BuilderConfig() execution.BuilderConfig {
	return execution.BuilderConfig{
		SimpleMaxStake:         c.Execution.SimpleMaxStake,
		IcebergVisibleFraction: c.Execution.IcebergVisibleFraction,
		TWAPDepthFraction:      c.Execution.TWAPDepthFraction,
		TWAPSlices:             c.Execution.TWAPSlices,
		TWAPInterval:           seconds(c.Execution.TWAPIntervalSeconds),
		SlippageTolerance:      c.Execution.SlippageTolerance,
		OrderTTL:               seconds(c.Execution.OrderTTLSeconds),
	}
}

// RouterConfig mapea la política de envío.
func (c *Config) RouterConfig() execution.RouterConfig {
	return execution.RouterConfig{
		DryRun:         c.Trader.DryRun,
		MaxRetries:     c.Execution.MaxRetries,
		RetryBackoff:   time.Duration(c.Execution.RetryBackoffMillis) * time.Millisecond,
		AttemptTimeout: seconds(c.Execution.AttemptTimeoutSeconds),
	}
}

// LifecycleConfig mapea la política de salidas.
func (c *Config) LifecycleConfig() lifecycle.Config {
	return lifecycle.Config{
		StopLossPct:           c.Lifecycle.StopLossPct,
		ReferenceEdge:         c.Lifecycle.ReferenceEdge,
		TrailingActivation:    c.Lifecycle.TrailingActivation,
		TrailingDistance:      c.Lifecycle.TrailingDistance,
		TimeExitHours:         c.Lifecycle.TimeExitHours,
		PartialExitThreshold:  c.Lifecycle.PartialExitThreshold,
		PartialExitFraction:   c.Lifecycle.PartialExitFraction,
		EdgeReversalTolerance: c.Lifecycle.EdgeReversalTolerance,
	}
}

// ClientConfig mapea la sección polymarket al HTTP client.
func (c *Config) ClientConfig() polymarket.Config {
	return polymarket.Config{
		CLOBBase:     c.Polymarket.CLOBBase,
		GammaBases:   c.Polymarket.GammaBases,
		DataBase:     c.Polymarket.DataBase,
		Timeout:      seconds(c.Polymarket.TimeoutSeconds),
		PageSize:     c.Polymarket.PageSize,
		MaxPages:     c.Polymarket.MaxPages,
		MinVolume24h: c.Polymarket.MinVolume24h,
	}
}

// ConvictionConfig mapea la señal de whales.
func (c *Config) ConvictionConfig() polymarket.ConvictionConfig {
	cv := c.Polymarket.Conviction
	return polymarket.ConvictionConfig{
		MinTradeUSD: cv.MinTradeUSD,
		MinTotalUSD: cv.MinTotalUSD,
		Lookback:    time.Duration(cv.LookbackMinutes) * time.Minute,
		MinWallets:  cv.MinWallets,
		MaxStrength: cv.MaxStrength,
	}
}

// QualityLookback es la ventana del reporte de calidad de fills.
func (c *Config) QualityLookback() time.Duration {
	return time.Duration(c.Execution.QualityLookbackHours) * time.Hour
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
