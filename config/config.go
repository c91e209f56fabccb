package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
)

// BaseConfig contains the server's core configuration needs.
// Applications can embed this in their own config structs to inherit its settings.
type BaseConfig struct {
	HTTPPort    int            `toml:"http_port" env:"HTTP_PORT"`
	HealthPort  int            `toml:"health_port" env:"HEALTH_PORT"`
	MetricsPort int            `toml:"metrics_port" env:"METRICS_PORT"`
	LogLevel    string         `toml:"log_level" env:"LOG_LEVEL"`
	Environment string         `toml:"environment" env:"ENVIRONMENT"`
	Pipeline    PipelineConfig `toml:"pipeline"`
}

// PipelineConfig configures the middleware the server puts in front of
// every route.
type PipelineConfig struct {
	// JWTSecret enables RequireAuth on routes marked Protected.
	JWTSecret string `toml:"jwt_secret" env:"JWT_SECRET"`

	RequestIDHeader string        `toml:"request_id_header" env:"REQUEST_ID_HEADER"`
	RequestTimeout  time.Duration `toml:"request_timeout" env:"REQUEST_TIMEOUT"`
	AccessLog       bool          `toml:"access_log" env:"ACCESS_LOG"`

	// MetricsEnabled instruments every route and serves /metrics on MetricsPort.
	MetricsEnabled   bool   `toml:"metrics_enabled" env:"METRICS_ENABLED"`
	MetricsNamespace string `toml:"metrics_namespace" env:"METRICS_NAMESPACE"`

	CORSAllowedOrigins []string `toml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// Defaults returns a BaseConfig with the values the server falls back to.
// Load into it to override them from the file and environment.
func Defaults() BaseConfig {
	return BaseConfig{
		HTTPPort:    8080,
		HealthPort:  9090,
		MetricsPort: 9100,
		LogLevel:    "info",
		Environment: "development",
		Pipeline: PipelineConfig{
			RequestIDHeader:  "X-Request-ID",
			RequestTimeout:   30 * time.Second,
			AccessLog:        true,
			MetricsNamespace: "pipeline",
		},
	}
}

// GetHTTPPort returns the HTTP port to use, checking Nomad dynamic port allocation first.
// If NOMAD_PORT_http is set and valid, it returns that value.
// Otherwise, it falls back to the configured HTTPPort value.
func (b *BaseConfig) GetHTTPPort() int {
	return resolvePort("http", b.HTTPPort)
}

// GetHealthPort returns the health port to use, checking Nomad dynamic port allocation first.
func (b *BaseConfig) GetHealthPort() int {
	return resolvePort("health", b.HealthPort)
}

// GetMetricsPort returns the metrics port to use, checking Nomad dynamic port allocation first.
func (b *BaseConfig) GetMetricsPort() int {
	return resolvePort("metrics", b.MetricsPort)
}

// resolvePort checks for Nomad dynamic port allocation and falls back to configured value.
func resolvePort(label string, fallback int) int {
	envVar := "NOMAD_PORT_" + label
	nomadPort := os.Getenv(envVar)

	if nomadPort == "" {
		return fallback
	}

	port, err := strconv.Atoi(nomadPort)
	if err != nil {
		log.Warn().
			Str("env", envVar).
			Str("value", nomadPort).
			Int("fallback", fallback).
			Msg("Invalid Nomad port, using configured port")
		return fallback
	}

	log.Info().Str("label", label).Int("port", port).Msg("Using Nomad-assigned port")
	return port
}

// Loader handles loading configuration from TOML files and environment variables.
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader for the specified TOML file path.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the TOML configuration file and unmarshals it into the provided config struct.
// It then applies environment variable overrides for any fields with an `env` tag.
// The config parameter must be a pointer to a struct. A missing file is not
// an error; the struct keeps whatever values it already had.
func (l *Loader) Load(config interface{}) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	rv := reflect.ValueOf(config)
	if rv.Kind() != reflect.Ptr {
		return fmt.Errorf("config must be a pointer to a struct, got %T", config)
	}
	if rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("config must be a pointer to a struct, got pointer to %v", rv.Elem().Kind())
	}

	if _, err := toml.DecodeFile(l.configPath, config); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to decode TOML file %s: %w", l.configPath, err)
	}

	if err := applyEnvOverrides(rv.Elem()); err != nil {
		return fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	return nil
}

// applyEnvOverrides recursively walks through struct fields and applies env overrides.
func applyEnvOverrides(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := applyEnvOverrides(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}

		if err := setFieldFromString(field, envValue, fieldType.Name); err != nil {
			return fmt.Errorf("failed to set field %s from env %s: %w", fieldType.Name, envTag, err)
		}
	}

	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldFromString sets a struct field value from a string based on the field's type.
// Durations use time.ParseDuration syntax and string slices are comma separated.
func setFieldFromString(field reflect.Value, value string, fieldName string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("cannot parse %q as duration for field %s: %w", value, fieldName, err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
		return nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intVal, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("cannot parse %q as int for field %s: %w", value, fieldName, err)
		}
		field.SetInt(intVal)
		return nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		uintVal, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("cannot parse %q as uint for field %s: %w", value, fieldName, err)
		}
		field.SetUint(uintVal)
		return nil

	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("cannot parse %q as bool for field %s: %w", value, fieldName, err)
		}
		field.SetBool(boolVal)
		return nil

	case reflect.Float32, reflect.Float64:
		floatVal, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("cannot parse %q as float for field %s: %w", value, fieldName, err)
		}
		field.SetFloat(floatVal)
		return nil

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %v for field %s", field.Type(), fieldName)
		}
		parts := strings.Split(value, ",")
		items := reflect.MakeSlice(field.Type(), 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				items = reflect.Append(items, reflect.ValueOf(p).Convert(field.Type().Elem()))
			}
		}
		field.Set(items)
		return nil

	default:
		return fmt.Errorf("unsupported field type %v for field %s", field.Kind(), fieldName)
	}
}
