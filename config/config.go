package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/goaltrader/internal/application/execution"
	"github.com/alejandrodnm/goaltrader/internal/application/settlement"
	"github.com/alejandrodnm/goaltrader/internal/application/trader"
	"github.com/alejandrodnm/goaltrader/internal/domain"
)

// Config es la configuración completa del goaltrader.
type Config struct {
	Trader     TraderConfig     `yaml:"trader"`
	Execution  ExecutionConfig  `yaml:"execution"`
	Settlement SettlementConfig `yaml:"settlement"`
	API        APIConfig        `yaml:"api"`
	HTTP       HTTPConfig       `yaml:"http"`
	Stream     StreamConfig     `yaml:"stream"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Storage    StorageConfig    `yaml:"storage"`
	Log        LogConfig        `yaml:"log"`

	// Secrets nunca se leen del YAML, solo del entorno.
	Secrets Secrets `yaml:"-"`
}

// CategoryConfig es el filtro de entrada de una categoría de deporte.
type CategoryConfig struct {
	MinDelta          int     `yaml:"min_delta"`
	RequireLeadChange bool    `yaml:"require_lead_change"`
	MoveScale         float64 `yaml:"move_scale"`
}

// TraderConfig controla la política de trading. Un cero mantiene el default;
// un valor negativo en take_profit/stop_loss/quiet desactiva ese trigger.
type TraderConfig struct {
	Enabled             bool    `yaml:"enabled"`
	ExchangeSource      string  `yaml:"exchange_source"`
	DebounceMs          int     `yaml:"debounce_ms"`
	DisableArbitration  bool    `yaml:"disable_arbitration"`
	ArbitrationWindowMs int     `yaml:"arbitration_window_ms"`
	FastestSource       string  `yaml:"fastest_source"` // vacío = aprendido
	FastestMinSamples   int     `yaml:"fastest_min_samples"`
	TradeExtending      bool    `yaml:"trade_extending"`
	MinPrice            float64 `yaml:"min_price"`
	MaxPrice            float64 `yaml:"max_price"`

	Sports        map[string]string         `yaml:"sports"`     // deporte → categoría
	Categories    map[string]CategoryConfig `yaml:"categories"` // categoría → filtro
	Sizes         map[string]float64        `yaml:"sizes"`      // tipo de gol → USDC
	ExpectedMoves map[string]float64        `yaml:"expected_moves"`

	TakeProfitFraction float64 `yaml:"take_profit_fraction"`
	StopLossFraction   float64 `yaml:"stop_loss_fraction"`

	HoldSeconds            int       `yaml:"hold_seconds"`
	QuietSeconds           int       `yaml:"quiet_seconds"`
	MinHoldSeconds         int       `yaml:"min_hold_seconds"`
	SellRetrySeconds       int       `yaml:"sell_retry_seconds"`
	LadderOffsets          []float64 `yaml:"ladder_offsets"`
	DumpPrice              float64   `yaml:"dump_price"`
	SettlementDelaySeconds int       `yaml:"settlement_delay_seconds"`
	HistoryLimit           int       `yaml:"history_limit"`
	ActivityLimit          int       `yaml:"activity_limit"`
}

// ExecutionConfig controla los límites de seguridad del executor.
type ExecutionConfig struct {
	Armed            bool    `yaml:"armed"` // false = fills simulados
	MinNotional      float64 `yaml:"min_notional"`
	MaxNotional      float64 `yaml:"max_notional"`
	MaxOpenPositions int     `yaml:"max_open_positions"`
	RaceWidth        int     `yaml:"race_width"`
	SubmitTimeoutMs  int     `yaml:"submit_timeout_ms"`
}

// SettlementConfig controla el loop de redención.
type SettlementConfig struct {
	IntervalSeconds int     `yaml:"interval_seconds"`
	DustPrice       float64 `yaml:"dust_price"`
	MaxSellFailures int     `yaml:"max_sell_failures"`
	SellDiscount    float64 `yaml:"sell_discount"`
	UseRelay        bool    `yaml:"use_relay"`
	UseProxy        bool    `yaml:"use_proxy"`
}

// APIConfig contiene los base URLs de las APIs.
type APIConfig struct {
	CLOBBase  string `yaml:"clob_base"`
	DataBase  string `yaml:"data_base"`
	RelayBase string `yaml:"relay_base"`
}

// HTTPConfig controla la API de control.
type HTTPConfig struct {
	Addr string `yaml:"addr"` // vacío = deshabilitada
}

// StreamConfig controla el websocket de precios del exchange.
type StreamConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// KafkaConfig controla los topics. Los brokers vienen de KAFKA_BROKERS.
type KafkaConfig struct {
	UpdatesTopic string `yaml:"updates_topic"`
	JournalTopic string `yaml:"journal_topic"`
	GroupID      string `yaml:"group_id"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Secrets son las credenciales, leídas del entorno (.env incluido).
type Secrets struct {
	PrivateKey    string `env:"PRIVATE_KEY"`
	Funder        string `env:"FUNDER"` // proxy wallet; vacío = la EOA
	SignatureType int    `env:"SIGNATURE_TYPE"`
	APIKey        string `env:"CLOB_API_KEY"`
	APISecret     string `env:"CLOB_API_SECRET"`
	APIPassphrase string `env:"CLOB_API_PASSPHRASE"`

	RPCURL            string `env:"RPC_URL" envDefault:"https://polygon-rpc.com"`
	RelayerAPIKey     string `env:"RELAYER_API_KEY"`
	RelayerSecret     string `env:"RELAYER_SECRET"`
	RelayerPassphrase string `env:"RELAYER_PASSPHRASE"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	APIToken     string   `env:"API_TOKEN"`
}

// CanTrade indica si hay credenciales para firmar órdenes.
func (s Secrets) CanTrade() bool {
	return s.PrivateKey != ""
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

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	if err := env.Parse(&cfg.Secrets); err != nil {
		return nil, fmt.Errorf("config.Load: parse env: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("TRADER_ARMED"); v != "" {
		cfg.Execution.Armed = v == "1" || strings.EqualFold(v, "true")
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Execution.MinNotional <= 0 {
		cfg.Execution.MinNotional = 1
	}
	if cfg.Execution.MaxNotional <= 0 {
		cfg.Execution.MaxNotional = 50
	}
	if cfg.Execution.MaxOpenPositions <= 0 {
		cfg.Execution.MaxOpenPositions = 5
	}
	if cfg.Settlement.IntervalSeconds <= 0 {
		cfg.Settlement.IntervalSeconds = 60
	}
	if cfg.Kafka.UpdatesTopic == "" {
		cfg.Kafka.UpdatesTopic = "goaltrader.updates"
	}
	if cfg.Kafka.JournalTopic == "" {
		cfg.Kafka.JournalTopic = "goaltrader.journal"
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "goaltrader"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "goaltrader.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func (c *Config) validate() error {
	t := c.Trader
	if t.MinPrice < 0 || t.MaxPrice > 1 || (t.MaxPrice > 0 && t.MinPrice > t.MaxPrice) {
		return fmt.Errorf("trader price band [%.2f, %.2f] out of range", t.MinPrice, t.MaxPrice)
	}
	for sport, cat := range t.Sports {
		switch trader.SportCategory(cat) {
		case trader.CategoryLowScoring, trader.CategoryHighScoring, trader.CategorySetBased, trader.CategoryRoundBased:
		default:
			return fmt.Errorf("sport %q: unknown category %q", sport, cat)
		}
	}
	if c.Execution.Armed && !c.Secrets.CanTrade() {
		return fmt.Errorf("execution.armed requires PRIVATE_KEY")
	}
	return nil
}

// TraderPolicy mapea la sección trader sobre trader.DefaultConfig().
func (c *Config) TraderPolicy() trader.Config {
	t := c.Trader
	out := trader.DefaultConfig()

	out.Enabled = t.Enabled
	out.TradeExtending = t.TradeExtending
	out.Arbitration = !t.DisableArbitration
	out.FastestSource = t.FastestSource
	if t.ExchangeSource != "" {
		out.ExchangeSource = t.ExchangeSource
	}
	setDuration(&out.Debounce, t.DebounceMs, time.Millisecond)
	setDuration(&out.ArbitrationWindow, t.ArbitrationWindowMs, time.Millisecond)
	if t.FastestMinSamples > 0 {
		out.FastestMinSamples = t.FastestMinSamples
	}
	if t.MinPrice > 0 {
		out.MinPrice = t.MinPrice
	}
	if t.MaxPrice > 0 {
		out.MaxPrice = t.MaxPrice
	}

	for sport, cat := range t.Sports {
		out.Sports[strings.ToLower(sport)] = trader.SportCategory(cat)
	}
	for cat, p := range t.Categories {
		out.Categories[trader.SportCategory(cat)] = trader.CategoryPolicy{
			MinDelta:          p.MinDelta,
			RequireLeadChange: p.RequireLeadChange,
			MoveScale:         p.MoveScale,
		}
	}
	for kind, size := range t.Sizes {
		out.Sizes[domain.GoalKind(kind)] = size
	}
	for kind, move := range t.ExpectedMoves {
		out.ExpectedMoves[domain.GoalKind(kind)] = move
	}

	setFraction(&out.TakeProfitFraction, t.TakeProfitFraction)
	setFraction(&out.StopLossFraction, t.StopLossFraction)

	setDuration(&out.HoldTime, t.HoldSeconds, time.Second)
	setDuration(&out.QuietThreshold, t.QuietSeconds, time.Second)
	setDuration(&out.MinHold, t.MinHoldSeconds, time.Second)
	setDuration(&out.SellRetryDelay, t.SellRetrySeconds, time.Second)
	setDuration(&out.SettlementDelay, t.SettlementDelaySeconds, time.Second)
	if len(t.LadderOffsets) > 0 {
		out.LadderOffsets = append([]float64(nil), t.LadderOffsets...)
	}
	if t.DumpPrice > 0 {
		out.DumpPrice = t.DumpPrice
	}
	if t.HistoryLimit > 0 {
		out.HistoryLimit = t.HistoryLimit
	}
	if t.ActivityLimit > 0 {
		out.ActivityLimit = t.ActivityLimit
	}
	return out
}

// ExecutionPolicy mapea la sección execution a execution.Config.
func (c *Config) ExecutionPolicy() execution.Config {
	e := c.Execution
	out := execution.DefaultConfig()
	out.Armed = e.Armed
	out.MinNotional = e.MinNotional
	out.MaxNotional = e.MaxNotional
	out.MaxOpenPositions = e.MaxOpenPositions
	if e.RaceWidth > 0 {
		out.RaceWidth = e.RaceWidth
	}
	setDuration(&out.SubmitTimeout, e.SubmitTimeoutMs, time.Millisecond)
	return out
}

// SettlementPolicy mapea la sección settlement a settlement.Config.
func (c *Config) SettlementPolicy() settlement.Config {
	s := c.Settlement
	out := settlement.DefaultConfig()
	out.Interval = time.Duration(s.IntervalSeconds) * time.Second
	if s.DustPrice > 0 {
		out.DustPrice = s.DustPrice
	}
	if s.MaxSellFailures > 0 {
		out.MaxSellFailures = s.MaxSellFailures
	}
	if s.SellDiscount > 0 {
		out.SellDiscount = s.SellDiscount
	}
	return out
}

// setDuration: 0 mantiene el default, negativo desactiva (0).
func setDuration(dst *time.Duration, v int, unit time.Duration) {
	switch {
	case v > 0:
		*dst = time.Duration(v) * unit
	case v < 0:
		*dst = 0
	}
}

func setFraction(dst *float64, v float64) {
	switch {
	case v > 0:
		*dst = v
	case v < 0:
		*dst = 0
	}
}
