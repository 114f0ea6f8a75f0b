package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix prefixes every environment override, e.g. REVEAL_NATS_URL.
const DefaultEnvPrefix = "REVEAL"

// legacyEnv maps the unprefixed variable names used by earlier deployments
// onto their prefixed keys (without the prefix). The prefixed form wins.
var legacyEnv = map[string]string{
	"SERVER_LISTEN_ADDR":      "LISTEN_ADDR",
	"SERVER_WORKER_POOL_SIZE": "WORKER_POOL_SIZE",
	"SERVER_MAX_CONNECTIONS":  "MAX_CONNECTIONS",
	"SERVER_READ_TIMEOUT":     "READ_TIMEOUT",
	"SERVER_WRITE_TIMEOUT":    "WRITE_TIMEOUT",
	"SERVER_NAME":             "SERVER_NAME",
	"NATS_URL":                "NATS_URL",
	"REDIS_ADDR":              "REDIS_ADDR",
	"DATABASE_DSN":            "DATABASE_URL",
}

// Loader reads a Config from defaults, a YAML file and the environment.
type Loader struct {
	path       string
	prefix     string
	validators []func(*Config) error
}

// NewLoader creates a Loader with the default prefix and no file.
func NewLoader() *Loader {
	return &Loader{prefix: DefaultEnvPrefix}
}

// WithConfigPath sets the YAML file. A missing file is not an error.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.path = path
	return l
}

// WithEnvPrefix replaces the environment prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.prefix = prefix
	return l
}

// WithValidator adds a check run after Validate.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load builds the Config.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.path != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, err
		}
	}
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config: invalid: %w", err)
		}
	}
	return cfg, nil
}

// Load is shorthand for NewLoader().WithConfigPath(path).Load().
func Load(path string) (*Config, error) {
	return NewLoader().WithConfigPath(path).Load()
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", l.path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", l.path, err)
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), "")
}

// setFieldsFromEnv walks v and sets every field carrying an env tag. Nested
// structs extend the key with their own tag.
func (l *Loader) setFieldsFromEnv(v reflect.Value, path string) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := v.Field(i)
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || !field.CanSet() {
			continue
		}
		key := tag
		if path != "" {
			key = path + "_" + tag
		}

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, key); err != nil {
				return err
			}
			continue
		}

		value, ok := l.lookup(key)
		if !ok {
			continue
		}
		if err := setFieldValue(field, value); err != nil {
			return fmt.Errorf("config: env %s: %w", l.envName(key), err)
		}
	}
	return nil
}

func (l *Loader) lookup(key string) (string, bool) {
	if v, ok := os.LookupEnv(l.envName(key)); ok {
		return v, true
	}
	if legacy, ok := legacyEnv[key]; ok {
		return os.LookupEnv(legacy)
	}
	return "", false
}

func (l *Loader) envName(key string) string {
	if l.prefix == "" {
		return key
	}
	return l.prefix + "_" + key
}

var durationType = reflect.TypeOf(time.Duration(0))

func setFieldValue(field reflect.Value, value string) error {
	value = strings.TrimSpace(value)

	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		var parts []string
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		field.Set(reflect.ValueOf(parts))
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}
