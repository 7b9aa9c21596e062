// Package config загружает конфигурацию сценария из YAML-файла и переменных окружения SATKIN_*.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/art-injener/satkin/internal/catalog"
)

// EnvPrefix — префикс переменных окружения: SATKIN_SIM_TICK и т.п.
const EnvPrefix = "SATKIN"

// Значения по умолчанию.
const (
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultTick            = time.Second
	DefaultTimeCompression = 1
	DefaultWorkers         = 1
	DefaultMetricsAddr     = ":9090"
	DefaultServiceName     = "satkin"
	DefaultSampleRatio     = 1.0
	DefaultCatalogMaxAge   = 7 * 24 * time.Hour
	DefaultRateLimit       = 2 * time.Second
)

var (
	ErrNoSource      = errors.New("object has no orbit source")
	ErrManySources   = errors.New("object has more than one orbit source")
	ErrInvalidConfig = errors.New("invalid config")
)

type Config struct {
	Log     LogConfig      `mapstructure:"log"`
	Sim     SimConfig      `mapstructure:"sim"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
	Tracing TracingConfig  `mapstructure:"tracing"`
	Catalog CatalogConfig  `mapstructure:"catalog"`
	Objects []ObjectConfig `mapstructure:"objects"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text или json
}

// SimConfig — параметры сценарного времени.
type SimConfig struct {
	// Start — начало сценария в RFC3339. Пусто или "now" — текущее время.
	Start           string        `mapstructure:"start"`
	Tick            time.Duration `mapstructure:"tick"`
	Steps           int           `mapstructure:"steps"` // 0 — до остановки процесса
	TimeCompression int           `mapstructure:"time_compression"`
	Workers         int           `mapstructure:"workers"`
	Pace            time.Duration `mapstructure:"pace"` // пауза реального времени между шагами
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
	Pretty      bool    `mapstructure:"pretty"`
}

// CatalogConfig — источники каталога TLE.
type CatalogConfig struct {
	Files     []string      `mapstructure:"files"`
	Groups    []string      `mapstructure:"groups"` // группы Celestrak
	BaseURL   string        `mapstructure:"base_url"`
	RateLimit time.Duration `mapstructure:"rate_limit"`
	MaxAge    time.Duration `mapstructure:"max_age"`
	Refresh   time.Duration `mapstructure:"refresh"` // 0 — без планового обновления
}

// ObjectConfig — один объект сценария. Источник орбиты задаётся ровно одним
// из полей TLE, TLEFile, Catalog, Keplerian. Anchor допускается отдельно или вместе с ним.
type ObjectConfig struct {
	Name      string           `mapstructure:"name"`
	TLE       []string         `mapstructure:"tle"`
	TLEFile   string           `mapstructure:"tle_file"`
	TLEName   string           `mapstructure:"tle_name"`
	Catalog   *CatalogRef      `mapstructure:"catalog"`
	Keplerian *KeplerianConfig `mapstructure:"keplerian"`
	Anchor    *AnchorConfig    `mapstructure:"anchor"`
}

type CatalogRef struct {
	NoradID int    `mapstructure:"norad_id"`
	Name    string `mapstructure:"name"`
}

// KeplerianConfig — элементы двухтельной эфемериды. Углы в градусах.
type KeplerianConfig struct {
	Period         float64 `mapstructure:"period"`
	ApogeeKm       int64   `mapstructure:"apogee_km"`
	PerigeeKm      int64   `mapstructure:"perigee_km"`
	InclinationDeg float64 `mapstructure:"inclination_deg"`
	RAANDeg        float64 `mapstructure:"raan_deg"`
	ArgPerigeeDeg  float64 `mapstructure:"arg_perigee_deg"`
	MeanAnomalyDeg float64 `mapstructure:"mean_anomaly_deg"`
}

type AnchorConfig struct {
	Lat  float64 `mapstructure:"lat"`
	Lon  float64 `mapstructure:"lon"`
	AltM float64 `mapstructure:"alt_m"`
}

// Source — вид источника орбиты объекта.
type Source int

const (
	SourceNone Source = iota
	SourceTLE
	SourceTLEFile
	SourceCatalog
	SourceKeplerian
)

func (s Source) String() string {
	switch s {
	case SourceTLE:
		return "tle"
	case SourceTLEFile:
		return "tle_file"
	case SourceCatalog:
		return "catalog"
	case SourceKeplerian:
		return "keplerian"
	default:
		return "none"
	}
}

// Source определяет источник орбиты. Объект только с привязкой даёт SourceNone без ошибки.
func (o ObjectConfig) Source() (Source, error) {
	var found []Source
	if len(o.TLE) > 0 {
		found = append(found, SourceTLE)
	}
	if o.TLEFile != "" {
		found = append(found, SourceTLEFile)
	}
	if o.Catalog != nil {
		found = append(found, SourceCatalog)
	}
	if o.Keplerian != nil {
		found = append(found, SourceKeplerian)
	}

	switch len(found) {
	case 0:
		if o.Anchor != nil {
			return SourceNone, nil
		}
		return SourceNone, fmt.Errorf("%w: %q", ErrNoSource, o.Name)
	case 1:
		return found[0], nil
	default:
		return SourceNone, fmt.Errorf("%w: %q has %v", ErrManySources, o.Name, found)
	}
}

// Load читает конфигурацию из path (может быть пустым) и окружения.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)
	v.SetDefault("sim.start", "")
	v.SetDefault("sim.tick", DefaultTick)
	v.SetDefault("sim.steps", 0)
	v.SetDefault("sim.time_compression", DefaultTimeCompression)
	v.SetDefault("sim.workers", DefaultWorkers)
	v.SetDefault("sim.pace", time.Duration(0))
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", DefaultMetricsAddr)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", DefaultServiceName)
	v.SetDefault("tracing.sample_ratio", DefaultSampleRatio)
	v.SetDefault("tracing.pretty", false)
	v.SetDefault("catalog.rate_limit", DefaultRateLimit)
	v.SetDefault("catalog.max_age", DefaultCatalogMaxAge)
	v.SetDefault("catalog.refresh", time.Duration(0))
}

// Validate проверяет конфигурацию и подставляет значения по умолчанию
// вместо пустых или недопустимых.
func (c *Config) Validate() error {
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
	if c.Sim.Tick <= 0 {
		c.Sim.Tick = DefaultTick
	}
	if c.Sim.TimeCompression < 1 {
		c.Sim.TimeCompression = DefaultTimeCompression
	}
	if c.Sim.Workers < 1 {
		c.Sim.Workers = DefaultWorkers
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = DefaultMetricsAddr
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = DefaultServiceName
	}
	if c.Tracing.SampleRatio <= 0 || c.Tracing.SampleRatio > 1 {
		c.Tracing.SampleRatio = DefaultSampleRatio
	}
	if c.Catalog.MaxAge <= 0 {
		c.Catalog.MaxAge = DefaultCatalogMaxAge
	}
	if c.Catalog.RateLimit <= 0 {
		c.Catalog.RateLimit = DefaultRateLimit
	}

	var errs []error

	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	if _, err := c.StartTime(); err != nil {
		errs = append(errs, err)
	}

	if c.Catalog.Refresh < 0 {
		errs = append(errs, fmt.Errorf("catalog.refresh must not be negative, got %s", c.Catalog.Refresh))
	}

	var unknown []string
	for _, g := range c.Catalog.Groups {
		if !catalog.IsValidGroup(g) {
			unknown = append(unknown, g)
		}
	}
	if len(unknown) > 0 {
		errs = append(errs, fmt.Errorf("unknown catalog groups: %s (available: %s)",
			strings.Join(unknown, ", "), strings.Join(catalog.Groups(), ", ")))
	}

	names := make(map[string]struct{}, len(c.Objects))
	for i, o := range c.Objects {
		if o.Name == "" {
			errs = append(errs, fmt.Errorf("objects[%d]: name is required", i))
			continue
		}
		if _, dup := names[o.Name]; dup {
			errs = append(errs, fmt.Errorf("objects[%d]: duplicate name %q", i, o.Name))
		}
		names[o.Name] = struct{}{}

		if _, err := o.Source(); err != nil {
			errs = append(errs, fmt.Errorf("objects[%d]: %w", i, err))
		}
		if o.Catalog != nil && o.Catalog.NoradID <= 0 && strings.TrimSpace(o.Catalog.Name) == "" {
			errs = append(errs, fmt.Errorf("objects[%d]: catalog reference needs norad_id or name", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}

	return nil
}

// LogLevel возвращает уровень журнала.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}

// StartTime возвращает начало сценария в UTC.
func (c *Config) StartTime() (time.Time, error) {
	switch s := strings.TrimSpace(c.Sim.Start); s {
	case "", "now":
		return time.Now().UTC(), nil
	default:
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("sim.start: %w", err)
		}
		return t.UTC(), nil
	}
}
