package config

import (
	"errors"
	"flag"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilhg/changeverify/pkg/errmodel"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "mongodb://localhost:27017/", cfg.Target)
	assert.Equal(t, "test_db", cfg.Database)
	assert.Equal(t, "test_collection", cfg.Collection)
	assert.Equal(t, 5, cfg.Iterations)
	assert.Equal(t, 5*time.Second, cfg.DisconnectDuration())
	assert.Equal(t, 10*time.Second, cfg.EventTimeout)
	assert.Zero(t, cfg.Retention)
	assert.Equal(t, LogFormatJSON, cfg.LogFormat)
	assert.False(t, cfg.JSON)
}

func TestLoadEnvThenFlags(t *testing.T) {
	t.Setenv("CHANGEVERIFY_TARGET", "memory:")
	t.Setenv("CHANGEVERIFY_ITERATIONS", "7")
	t.Setenv("CHANGEVERIFY_RETENTION", "30s")
	t.Setenv("CHANGEVERIFY_JSON", "true")

	cfg, err := Load([]string{"-iterations=3", "-disconnect=0", "-log-format=text"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "memory:", cfg.Target)
	assert.Equal(t, 3, cfg.Iterations, "flag overrides env")
	assert.Zero(t, cfg.DisconnectDuration())
	assert.Equal(t, 30*time.Second, cfg.Retention)
	assert.Equal(t, LogFormatText, cfg.LogFormat)
	assert.True(t, cfg.JSON)
}

func TestLoadBadEnv(t *testing.T) {
	t.Setenv("CHANGEVERIFY_ITERATIONS", "many")
	_, err := Load(nil, io.Discard)
	require.Error(t, err)
	assert.True(t, errmodel.IsCategory(err, errmodel.CategoryValidation))
}

func TestLoadHelp(t *testing.T) {
	_, err := Load([]string{"-h"}, io.Discard)
	assert.True(t, errors.Is(err, flag.ErrHelp))
}

func TestLoadVersionSkipsValidation(t *testing.T) {
	cfg, err := Load([]string{"-version", "-iterations=0"}, io.Discard)
	require.NoError(t, err)
	assert.True(t, cfg.ShowVersion)
}

func TestValidate(t *testing.T) {
	base := Config{Target: "memory:", Iterations: 1, EventTimeout: time.Second, LogFormat: LogFormatJSON}
	require.NoError(t, base.Validate())

	cases := map[string]func(*Config){
		"bad_target":        func(c *Config) { c.Target = " " },
		"bad_iterations":    func(c *Config) { c.Iterations = 0 },
		"bad_disconnect":    func(c *Config) { c.DisconnectSeconds = -1 },
		"bad_event_timeout": func(c *Config) { c.EventTimeout = 0 },
		"bad_retention":     func(c *Config) { c.Retention = -time.Second },
		"bad_log_format":    func(c *Config) { c.LogFormat = "xml" },
	}
	for code, mutate := range cases {
		t.Run(code, func(t *testing.T) {
			c := base
			mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Equal(t, code, errmodel.From(err).Code)
		})
	}
}

func TestLoadRejectsPositionalArgs(t *testing.T) {
	_, err := Load([]string{"extra"}, io.Discard)
	require.Error(t, err)
	assert.Equal(t, "unexpected_args", errmodel.From(err).Code)
}
