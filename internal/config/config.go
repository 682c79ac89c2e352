package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/market-forecast/internal/timeaxis"
)

// Config holds the full application configuration.
type Config struct {
	Warehouse WarehouseConfig `yaml:"warehouse" mapstructure:"warehouse"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Forecast  ForecastConfig  `yaml:"forecast" mapstructure:"forecast"`
	Market    MarketConfig    `yaml:"market" mapstructure:"market"`
	Report    ReportConfig    `yaml:"report" mapstructure:"report"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// WarehouseConfig configures the analytics warehouse connection.
type WarehouseConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// StoreConfig configures the run history backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ForecastConfig configures the adoption forecast.
type ForecastConfig struct {
	HorizonStart   string          `yaml:"horizon_start" mapstructure:"horizon_start"`
	HorizonEnd     string          `yaml:"horizon_end" mapstructure:"horizon_end"`
	Granularity    string          `yaml:"granularity" mapstructure:"granularity"`
	Regions        []string        `yaml:"regions" mapstructure:"regions"`
	SkipRegions    []string        `yaml:"skip_regions" mapstructure:"skip_regions"`
	Ceilings       []CeilingConfig `yaml:"ceilings" mapstructure:"ceilings"`
	CeilingsFile   string          `yaml:"ceilings_file" mapstructure:"ceilings_file"`
	CeilingsSheet  string          `yaml:"ceilings_sheet" mapstructure:"ceilings_sheet"`
	PrimaryService string          `yaml:"primary_service" mapstructure:"primary_service"`
	Services       []string        `yaml:"services" mapstructure:"services"`
	Jitter         float64         `yaml:"jitter" mapstructure:"jitter"`
	InitialK       float64         `yaml:"initial_k" mapstructure:"initial_k"`
	InitialX0      float64         `yaml:"initial_x0" mapstructure:"initial_x0"`
	MaxIterations  int             `yaml:"max_iterations" mapstructure:"max_iterations"`
	Concurrency    int             `yaml:"concurrency" mapstructure:"concurrency"`
}

// CeilingConfig is one region's carrying capacity. A list is used rather
// than a map because viper lower-cases map keys.
type CeilingConfig struct {
	Region  string  `yaml:"region" mapstructure:"region"`
	Ceiling float64 `yaml:"ceiling" mapstructure:"ceiling"`
}

// CeilingMap returns the configured ceilings keyed by region.
func (f ForecastConfig) CeilingMap() map[string]float64 {
	m := make(map[string]float64, len(f.Ceilings))
	for _, c := range f.Ceilings {
		m[c.Region] = c.Ceiling
	}
	return m
}

// MarketConfig configures the market share and indexed metric extracts.
type MarketConfig struct {
	BusinessLine string   `yaml:"business_line" mapstructure:"business_line"`
	RateType     string   `yaml:"rate_type" mapstructure:"rate_type"`
	Territories  []string `yaml:"territories" mapstructure:"territories"`
	MasterFile   string   `yaml:"master_file" mapstructure:"master_file"`
	MasterSheet  string   `yaml:"master_sheet" mapstructure:"master_sheet"`
}

// ReportConfig configures output files.
type ReportConfig struct {
	Workbooks []string `yaml:"workbooks" mapstructure:"workbooks"`
	CSVDir    string   `yaml:"csv_dir" mapstructure:"csv_dir"`
	ChartDir  string   `yaml:"chart_dir" mapstructure:"chart_dir"`
	TabColor  string   `yaml:"tab_color" mapstructure:"tab_color"`
	FitReport string   `yaml:"fit_report" mapstructure:"fit_report"`
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
	v.SetEnvPrefix("FORECAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("warehouse.max_conns", 5)
	v.SetDefault("warehouse.min_conns", 1)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "forecast.db")
	v.SetDefault("forecast.granularity", "quarter")
	v.SetDefault("forecast.ceilings_sheet", "ceilings")
	v.SetDefault("forecast.primary_service", "service_1")
	v.SetDefault("forecast.services", []string{"service_1", "service_2", "service_3", "service_4", "service_5", "other_services"})
	v.SetDefault("forecast.jitter", 1e-6)
	v.SetDefault("forecast.initial_k", 1.0)
	v.SetDefault("forecast.initial_x0", 0.01)
	v.SetDefault("forecast.max_iterations", 600)
	v.SetDefault("forecast.concurrency", 4)
	v.SetDefault("market.business_line", "Telecom")
	v.SetDefault("market.rate_type", "average")
	v.SetDefault("market.master_sheet", "master")
	v.SetDefault("report.csv_dir", "out")
	v.SetDefault("report.chart_dir", "out/charts")
	v.SetDefault("report.tab_color", "1F4E78")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the settings a command needs. mode is the command name:
// forecast, metrics, sync, runs or migrate.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "forecast":
		errs = append(errs, c.requireWarehouse()...)
		errs = append(errs, c.validateForecast()...)
		errs = append(errs, c.validateStore()...)
	case "metrics":
		errs = append(errs, c.requireWarehouse()...)
		if len(c.Market.Territories) == 0 {
			errs = append(errs, "market.territories is required")
		}
		errs = append(errs, c.validateStore()...)
	case "sync":
		errs = append(errs, c.requireWarehouse()...)
		errs = append(errs, c.validateForecast()...)
		if len(c.Report.Workbooks) == 0 {
			errs = append(errs, "report.workbooks is required")
		}
		errs = append(errs, c.validateStore()...)
	case "migrate":
		errs = append(errs, c.requireWarehouse()...)
		errs = append(errs, c.validateStore()...)
	case "runs":
		errs = append(errs, c.validateStore()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) requireWarehouse() []string {
	var errs []string
	if c.Warehouse.DatabaseURL == "" {
		errs = append(errs, "warehouse.database_url is required")
	}
	if c.Warehouse.MaxConns < 0 || c.Warehouse.MinConns < 0 {
		errs = append(errs, "warehouse connection limits must be >= 0")
	}
	return errs
}

func (c *Config) validateStore() []string {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return []string{fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver)}
	}
	if c.Store.DatabaseURL == "" {
		return []string{"store.database_url is required"}
	}
	return nil
}

func (c *Config) validateForecast() []string {
	f := c.Forecast
	var errs []string

	g, err := timeaxis.ParseGranularity(f.Granularity)
	if err != nil {
		errs = append(errs, fmt.Sprintf("forecast.granularity %q is not quarter or month", f.Granularity))
	}

	switch {
	case f.HorizonStart == "" || f.HorizonEnd == "":
		errs = append(errs, "forecast.horizon_start and forecast.horizon_end are required")
	case err == nil:
		if _, herr := timeaxis.NewHorizon(f.HorizonStart, f.HorizonEnd, g); herr != nil {
			errs = append(errs, "forecast horizon: "+herr.Error())
		}
	}

	if len(f.Ceilings) == 0 && f.CeilingsFile == "" {
		errs = append(errs, "forecast.ceilings or forecast.ceilings_file is required")
	}
	seen := make(map[string]bool, len(f.Ceilings))
	for _, c := range f.Ceilings {
		switch {
		case c.Region == "":
			errs = append(errs, "forecast.ceilings entries need a region")
		case seen[c.Region]:
			errs = append(errs, fmt.Sprintf("forecast.ceilings has region %s twice", c.Region))
		case !(c.Ceiling > 0) || math.IsInf(c.Ceiling, 0):
			errs = append(errs, fmt.Sprintf("forecast.ceilings.%s must be > 0", c.Region))
		}
		seen[c.Region] = true
	}

	if f.PrimaryService == "" {
		errs = append(errs, "forecast.primary_service is required")
	}
	if f.Jitter < 0 {
		errs = append(errs, "forecast.jitter must be >= 0")
	}
	if f.Concurrency < 1 || f.Concurrency > 64 {
		errs = append(errs, "forecast.concurrency must be between 1 and 64")
	}
	return errs
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
