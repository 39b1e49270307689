package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	loader := NewLoader()
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"nats://localhost:4222"}, cfg.NATS.URLs)
	assert.Equal(t, -1, cfg.NATS.MaxReconnects)
	assert.Equal(t, 2*time.Second, cfg.NATS.ReconnectWait)
	assert.Equal(t, 9090, cfg.Metrics.Port)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, 10*time.Minute, cfg.Filter.CriteriaRefresh)
}

func TestLoadSingleLayer(t *testing.T) {
	path := writeConfigFile(t, "base.json", `{
		"nats": {"urls": ["nats://bus-1:4222", "nats://bus-2:4222"]},
		"collector": {"feeds_file": "/etc/n6/feeds.yaml"}
	}`)

	loader := NewLoader()
	loader.AddLayer(path)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"nats://bus-1:4222", "nats://bus-2:4222"}, cfg.NATS.URLs)
	assert.Equal(t, "/etc/n6/feeds.yaml", cfg.Collector.FeedsFile)
	// Untouched sections keep their defaults.
	assert.Equal(t, 9090, cfg.Metrics.Port)
}

func TestLoadLayersMergeDeep(t *testing.T) {
	base := writeConfigFile(t, "base.json", `{
		"nats": {"urls": ["nats://bus:4222"], "username": "collector"},
		"metrics": {"enabled": true, "port": 9101}
	}`)
	override := writeConfigFile(t, "override.json", `{
		"nats": {"username": "parser"}
	}`)

	loader := NewLoader()
	loader.AddLayer(base)
	loader.AddLayer(override)
	cfg, err := loader.Load()
	require.NoError(t, err)

	// The override layer replaces only the keys it names.
	assert.Equal(t, "parser", cfg.NATS.Username)
	assert.Equal(t, []string{"nats://bus:4222"}, cfg.NATS.URLs)
	assert.Equal(t, 9101, cfg.Metrics.Port)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadParsesDurationStrings(t *testing.T) {
	path := writeConfigFile(t, "base.json", `{
		"nats": {"reconnect_wait": "5s"},
		"filter": {"criteria_refresh": "30m"}
	}`)

	loader := NewLoader()
	loader.AddLayer(path)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.NATS.ReconnectWait)
	assert.Equal(t, 30*time.Minute, cfg.Filter.CriteriaRefresh)
}

func TestLoadExpandsEnvReferences(t *testing.T) {
	t.Setenv("N6_TEST_BUS_HOST", "bus.internal")
	path := writeConfigFile(t, "base.json", `{
		"nats": {"urls": ["nats://${N6_TEST_BUS_HOST}:4222"]}
	}`)

	loader := NewLoader()
	loader.AddLayer(path)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"nats://bus.internal:4222"}, cfg.NATS.URLs)
}

func TestEnvOverridesWinOverFiles(t *testing.T) {
	t.Setenv("N6_NATS_URLS", "nats://a:4222,nats://b:4222")
	t.Setenv("N6_NATS_TOKEN", "secret")
	t.Setenv("N6_METRICS_PORT", "9200")
	path := writeConfigFile(t, "base.json", `{
		"nats": {"urls": ["nats://file:4222"]},
		"metrics": {"port": 9100}
	}`)

	loader := NewLoader()
	loader.AddLayer(path)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.NATS.URLs)
	assert.Equal(t, "secret", cfg.NATS.Token)
	assert.Equal(t, 9200, cfg.Metrics.Port)
}

func TestLoadMissingFile(t *testing.T) {
	loader := NewLoader()
	loader.AddLayer("/nonexistent/config.json")
	_, err := loader.Load()
	assert.Error(t, err)
}

func TestLoadMalformedJSON(t *testing.T) {
	path := writeConfigFile(t, "bad.json", `{"nats": `)

	loader := NewLoader()
	loader.AddLayer(path)
	_, err := loader.Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing urls",
			mutate:  func(c *Config) { c.NATS.URLs = nil },
			wantErr: "nats.urls is required",
		},
		{
			name:    "bad scheme",
			mutate:  func(c *Config) { c.NATS.URLs = []string{"http://bus:4222"} },
			wantErr: "must use nats:// or tls:// scheme",
		},
		{
			name: "metrics port out of range",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Port = 70000
			},
			wantErr: "out of range",
		},
		{
			name:    "source with subject wildcard",
			mutate:  func(c *Config) { c.Collector.Sources = []string{"abuse-ch.*"} },
			wantErr: "not valid for bus subjects",
		},
		{
			name:   "dotted source is fine",
			mutate: func(c *Config) { c.Collector.Sources = []string{"abuse-ch.feodotracker"} },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidationEnabledOnLoader(t *testing.T) {
	path := writeConfigFile(t, "bad.json", `{"nats": {"urls": []}}`)

	loader := NewLoader()
	loader.AddLayer(path)
	loader.EnableValidation(true)
	_, err := loader.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nats.urls")
}
