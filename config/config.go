// Package config loads and validates the pipeline configuration: a JSON
// base file, optional override layers deep-merged on top, environment
// variable overrides, and validation before anything connects anywhere.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode"
)

// Config is the complete configuration of one pipeline process.
type Config struct {
	Version   string          `json:"version,omitempty"`
	NATS      NATSConfig      `json:"nats"`
	Metrics   MetricsConfig   `json:"metrics,omitempty"`
	Collector CollectorConfig `json:"collector,omitempty"`
	Parser    ParserConfig    `json:"parser,omitempty"`
	Filter    FilterConfig    `json:"filter,omitempty"`
}

// NATSConfig defines bus connection settings.
type NATSConfig struct {
	URLs          []string      `json:"urls,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
	CredsFile     string        `json:"creds_file,omitempty"`
}

// MetricsConfig defines the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Port    int    `json:"port,omitempty"`
	Path    string `json:"path,omitempty"`
}

// CollectorConfig configures the collector binary.
type CollectorConfig struct {
	// FeedsFile is the YAML feed descriptor table.
	FeedsFile string `json:"feeds_file,omitempty"`
	// Sources restricts the run to the named feeds; empty means all.
	Sources []string `json:"sources,omitempty"`
}

// ParserConfig configures the parser binary.
type ParserConfig struct {
	// SchemasFile is the YAML schema table.
	SchemasFile string `json:"schemas_file,omitempty"`
}

// FilterConfig configures the filter binary.
type FilterConfig struct {
	// CriteriaRefresh bounds criteria snapshot staleness.
	CriteriaRefresh time.Duration `json:"criteria_refresh,omitempty"`
}

// Validate checks the configuration is internally consistent.
func (c *Config) Validate() error {
	if len(c.NATS.URLs) == 0 {
		return errors.New("nats.urls is required")
	}
	for _, url := range c.NATS.URLs {
		if !strings.HasPrefix(url, "nats://") && !strings.HasPrefix(url, "tls://") {
			return fmt.Errorf("nats url %q must use nats:// or tls:// scheme", url)
		}
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port %d out of range", c.Metrics.Port)
	}
	for _, source := range c.Collector.Sources {
		if !isValidSubjectPart(source) {
			return fmt.Errorf("collector source %q is not valid for bus subjects", source)
		}
	}
	return nil
}

// isValidSubjectPart checks a string is usable inside a bus subject:
// letters, digits, dots, dashes, underscores.
func isValidSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}

// Loader loads configuration layers: defaults, then each added file
// deep-merged in order, then environment overrides.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a configuration loader.
func NewLoader() *Loader {
	return &Loader{envPrefix: "N6"}
}

// AddLayer adds a configuration file layer. Later layers win.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables validation of the merged result.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// Load merges all layers and returns the effective configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := defaults()

	for _, path := range l.layers {
		layer, err := loadRawJSON(path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		merged, err := mergeLayer(cfg, layer)
		if err != nil {
			return nil, fmt.Errorf("merge %s: %w", path, err)
		}
		cfg = merged
	}

	l.applyEnvOverrides(cfg)

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Metrics: MetricsConfig{
			Port: 9090,
			Path: "/metrics",
		},
		Filter: FilterConfig{
			CriteriaRefresh: 10 * time.Minute,
		},
	}
}

// loadRawJSON reads one layer as a map, expanding ${ENV_VAR} references
// and converting duration strings.
func loadRawJSON(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := expandEnv(string(data))

	var raw map[string]any
	if err := json.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// expandEnv substitutes ${VAR} references from the environment. Unset
// variables expand to the empty string; a literal dollar stays put.
func expandEnv(s string) string {
	return os.Expand(s, func(name string) string {
		return os.Getenv(name)
	})
}

// mergeLayer deep-merges an override map onto the base config through
// their map forms, so only keys present in the layer override.
func mergeLayer(base *Config, layer map[string]any) (*Config, error) {
	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMerge(baseMap, layer))
	if err != nil {
		return nil, err
	}

	var merged Config
	if err := unmarshalWithDurations(mergedJSON, &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// deepMerge merges override into base recursively; non-map values in the
// override replace the base value wholesale.
func deepMerge(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		if overrideMap, ok := v.(map[string]any); ok {
			if baseMap, ok := out[k].(map[string]any); ok {
				out[k] = deepMerge(baseMap, overrideMap)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// durationFields lists dotted JSON paths holding human-readable durations.
var durationFields = map[string]bool{
	"nats.reconnect_wait":     true,
	"filter.criteria_refresh": true,
}

// unmarshalWithDurations decodes cfg JSON, first rewriting duration
// strings like "10m" into nanosecond integers where the schema expects
// time.Duration.
func unmarshalWithDurations(data []byte, cfg *Config) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	convertDurations(raw, "")

	converted, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(converted, cfg)
}

func convertDurations(node map[string]any, prefix string) {
	for k, v := range node {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			convertDurations(val, path)
		case string:
			if durationFields[path] {
				if d, err := time.ParseDuration(val); err == nil {
					node[k] = int64(d)
				}
			}
		}
	}
}

// applyEnvOverrides applies the highest-priority layer: flat environment
// variables for the settings operators override most often.
func (l *Loader) applyEnvOverrides(cfg *Config) {
	if val := os.Getenv(l.envPrefix + "_NATS_URLS"); val != "" {
		cfg.NATS.URLs = strings.Split(val, ",")
	}
	if val := os.Getenv(l.envPrefix + "_NATS_USERNAME"); val != "" {
		cfg.NATS.Username = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_PASSWORD"); val != "" {
		cfg.NATS.Password = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_TOKEN"); val != "" {
		cfg.NATS.Token = val
	}
	if val := os.Getenv(l.envPrefix + "_METRICS_PORT"); val != "" {
		var port int
		if _, err := fmt.Sscanf(val, "%d", &port); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
