package bot

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/disgoorg/snowflake/v2"
	"github.com/joho/godotenv"
)

// Config holds the bot configuration loaded from environment variables.
type Config struct {
	DiscordToken string `env:"DISCORD_TOKEN,notEmpty"`
	// ApplicationID is resolved from the bot user when unset.
	ApplicationID snowflake.ID `env:"APPLICATION_ID"`

	OperatorIDs []snowflake.ID `env:"OPERATOR_IDS" envSeparator:","`
	TestGuildID snowflake.ID   `env:"TEST_GUILD_ID"`
	Maintenance bool           `env:"MAINTENANCE" envDefault:"false"`

	DefaultCooldown       time.Duration `env:"DEFAULT_COOLDOWN" envDefault:"3s"`
	CooldownCapacity      int           `env:"COOLDOWN_CAPACITY" envDefault:"10000"`
	CooldownSweepInterval time.Duration `env:"COOLDOWN_SWEEP_INTERVAL" envDefault:"1m"`

	CacheCapacity      int           `env:"CACHE_CAPACITY" envDefault:"1000"`
	CacheTTL           time.Duration `env:"CACHE_TTL" envDefault:"10m"`
	CacheSweepInterval time.Duration `env:"CACHE_SWEEP_INTERVAL" envDefault:"1m"`

	SyncOnStart         bool     `env:"SYNC_ON_START" envDefault:"true"`
	SyncRate            float64  `env:"SYNC_RATE" envDefault:"5"`
	ExcludedDefinitions []string `env:"EXCLUDED_DEFINITIONS" envSeparator:","`

	ErrorChannelID      snowflake.ID  `env:"ERROR_CHANNEL_ID"`
	ErrorReportCeiling  int           `env:"ERROR_REPORT_CEILING" envDefault:"5"`
	ErrorReportWindow   time.Duration `env:"ERROR_REPORT_WINDOW" envDefault:"1m"`
	MemoryThresholdMB   float64       `env:"MEMORY_THRESHOLD_MB" envDefault:"1024"`
	CPUThresholdPercent float64       `env:"CPU_THRESHOLD_PERCENT" envDefault:"90"`

	MetricsAddr string `env:"METRICS_ADDR"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`
}

var parsers = map[reflect.Type]env.ParserFunc{
	reflect.TypeOf(snowflake.ID(0)): func(v string) (any, error) {
		return snowflake.Parse(v)
	},
}

// LoadConfig loads configuration from environment variables.
// Variables from the given dotenv files are applied first without
// overriding the environment; missing files are ignored.
// Returns an error if required fields are missing.
func LoadConfig(dotenv ...string) (*Config, error) {
	for _, file := range dotenv {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
	}

	cfg := &Config{}

	if err := env.ParseWithOptions(cfg, env.Options{FuncMap: parsers}); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks value ranges env tags cannot express.
func (c *Config) Validate() error {
	var errs []error
	if c.CooldownCapacity < 0 {
		errs = append(errs, fmt.Errorf("COOLDOWN_CAPACITY must not be negative: %d", c.CooldownCapacity))
	}
	if c.CacheCapacity < 0 {
		errs = append(errs, fmt.Errorf("CACHE_CAPACITY must not be negative: %d", c.CacheCapacity))
	}
	if c.SyncRate <= 0 {
		errs = append(errs, fmt.Errorf("SYNC_RATE must be positive: %v", c.SyncRate))
	}
	if c.ErrorReportCeiling <= 0 {
		errs = append(errs, fmt.Errorf("ERROR_REPORT_CEILING must be positive: %d", c.ErrorReportCeiling))
	}
	if c.ErrorReportWindow <= 0 {
		errs = append(errs, fmt.Errorf("ERROR_REPORT_WINDOW must be positive: %v", c.ErrorReportWindow))
	}
	return errors.Join(errs...)
}
