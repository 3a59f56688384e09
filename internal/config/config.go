package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Catalog      CatalogConfig      `yaml:"catalog" mapstructure:"catalog"`
	Embed        EmbedConfig        `yaml:"embed" mapstructure:"embed"`
	Match        MatchConfig        `yaml:"match" mapstructure:"match"`
	Gate         GateConfig         `yaml:"gate" mapstructure:"gate"`
	Retry        RetryConfig        `yaml:"retry" mapstructure:"retry"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"`
	Sink         SinkConfig         `yaml:"sink" mapstructure:"sink"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Monitoring   MonitoringConfig   `yaml:"monitoring" mapstructure:"monitoring"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the run-history database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // sqlite | postgres
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// CatalogConfig configures the catalog index adapter.
type CatalogConfig struct {
	Path             string  `yaml:"path" mapstructure:"path"` // sqlite file path
	QueriesPerSecond float64 `yaml:"queries_per_second" mapstructure:"queries_per_second"`
	Burst            int     `yaml:"burst" mapstructure:"burst"`
}

// EmbedConfig configures the embeddings provider used by the vector strategy.
type EmbedConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"` // local | jina
	Key      string `yaml:"key" mapstructure:"key"`
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
	Model    string `yaml:"model" mapstructure:"model"`
	Dim      int    `yaml:"dim" mapstructure:"dim"`
}

// MatchConfig configures search and aggregation behavior.
type MatchConfig struct {
	TopK            int                `yaml:"top_k" mapstructure:"top_k"`
	MaxAlternatives int                `yaml:"max_alternatives" mapstructure:"max_alternatives"`
	Weights         map[string]float64 `yaml:"weights" mapstructure:"weights"`
	BroadenFactor   float64            `yaml:"broaden_factor" mapstructure:"broaden_factor"`
}

// GateConfig configures stage thresholds and urgency-driven reductions.
// Reductions are fractions in [0,1): critical urgency lowers stage
// thresholds by up to ReductionCritical, high urgency by ReductionHigh.
// Standard and low urgency leave the defaults untouched.
type GateConfig struct {
	ExtractionThreshold float64  `yaml:"extraction_threshold" mapstructure:"extraction_threshold"`
	SearchThreshold     float64  `yaml:"search_threshold" mapstructure:"search_threshold"`
	MatchThreshold      float64  `yaml:"match_threshold" mapstructure:"match_threshold"`
	ReductionCritical   float64  `yaml:"reduction_critical" mapstructure:"reduction_critical"`
	ReductionHigh       float64  `yaml:"reduction_high" mapstructure:"reduction_high"`
	WarnMargin          float64  `yaml:"warn_margin" mapstructure:"warn_margin"`
	EmergencyTerms      []string `yaml:"emergency_terms" mapstructure:"emergency_terms"`
	ProductionDownTerms []string `yaml:"production_down_terms" mapstructure:"production_down_terms"`
	RegulatedIndustries []string `yaml:"regulated_industries" mapstructure:"regulated_industries"`
}

// RetryConfig configures the retry/escalation planner.
type RetryConfig struct {
	MaxAttempts          int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	ProbabilityThreshold float64 `yaml:"probability_threshold" mapstructure:"probability_threshold"`
	RelaxStep            float64 `yaml:"relax_step" mapstructure:"relax_step"` // extra reduction per relax_thresholds retry
}

// OrchestratorConfig configures order fan-out and timeouts.
type OrchestratorConfig struct {
	Concurrency         int `yaml:"concurrency" mapstructure:"concurrency"`
	StrategyTimeoutSecs int `yaml:"strategy_timeout_secs" mapstructure:"strategy_timeout_secs"`
	ItemTimeoutSecs     int `yaml:"item_timeout_secs" mapstructure:"item_timeout_secs"`
	OrderTimeoutSecs    int `yaml:"order_timeout_secs" mapstructure:"order_timeout_secs"`
}

// SinkConfig configures progress/result event delivery.
type SinkConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// ServerConfig configures the order-intake HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures the background health checker.
type MonitoringConfig struct {
	CheckIntervalSecs        int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours      int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	EscalationRateThreshold  float64 `yaml:"escalation_rate_threshold" mapstructure:"escalation_rate_threshold"`
	WarningRateThreshold     float64 `yaml:"warning_rate_threshold" mapstructure:"warning_rate_threshold"`
	ReviewBacklogThreshold   int     `yaml:"review_backlog_threshold" mapstructure:"review_backlog_threshold"`
	AlertWebhookURL          string  `yaml:"alert_webhook_url" mapstructure:"alert_webhook_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PARTMATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "partmatch.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)

	v.SetDefault("catalog.path", "catalog.db")
	v.SetDefault("catalog.queries_per_second", 50.0)
	v.SetDefault("catalog.burst", 20)

	v.SetDefault("embed.provider", "local")
	v.SetDefault("embed.base_url", "https://api.jina.ai/v1")
	v.SetDefault("embed.model", "jina-embeddings-v3")
	v.SetDefault("embed.dim", 256)

	v.SetDefault("match.top_k", 15)
	v.SetDefault("match.max_alternatives", 5)
	v.SetDefault("match.broaden_factor", 2.0)
	v.SetDefault("match.weights", map[string]float64{
		"exact_key": 0.35,
		"attribute": 0.30,
		"vector":    0.25,
		"lexical":   0.10,
	})

	v.SetDefault("gate.extraction_threshold", 0.60)
	v.SetDefault("gate.search_threshold", 0.50)
	v.SetDefault("gate.match_threshold", 0.70)
	v.SetDefault("gate.reduction_critical", 0.46)
	v.SetDefault("gate.reduction_high", 0.32)
	v.SetDefault("gate.warn_margin", 0.05)
	v.SetDefault("gate.emergency_terms", []string{
		"emergency", "urgent", "asap", "rush", "expedite", "immediately", "same day",
	})
	v.SetDefault("gate.production_down_terms", []string{
		"production down", "line down", "plant down", "machine down", "stopped production",
	})
	v.SetDefault("gate.regulated_industries", []string{
		"aerospace", "medical", "defense", "nuclear", "pharmaceutical",
	})

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.probability_threshold", 0.5)
	v.SetDefault("retry.relax_step", 0.10)

	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.escalation_rate_threshold", 0.25)
	v.SetDefault("monitoring.warning_rate_threshold", 0.40)
	v.SetDefault("monitoring.review_backlog_threshold", 50)

	v.SetDefault("orchestrator.concurrency", 5)
	v.SetDefault("orchestrator.strategy_timeout_secs", 3)
	v.SetDefault("orchestrator.item_timeout_secs", 10)
	v.SetDefault("orchestrator.order_timeout_secs", 120)
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
