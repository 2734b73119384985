// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, BackendLocal, cfg.Backend)
	assert.Equal(t, 384, cfg.EmbedDimension)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, time.Second, cfg.RetryBaseDelay)
	assert.Equal(t, 300*time.Second, cfg.RetryMaxDelay)
	assert.Equal(t, 4, cfg.JobConcurrency)
	assert.Equal(t, 10*time.Minute, cfg.JobTimeout)
	assert.Equal(t, 0.5, cfg.HybridKeywordWeight)
	assert.Equal(t, 0.5, cfg.HybridSemanticWeight)

	require.NoError(t, cfg.Validate())
}

func TestParseHelpers(t *testing.T) {
	t.Setenv("MS_TEST_STR", "hello")
	t.Setenv("MS_TEST_INT", "42")
	t.Setenv("MS_TEST_BAD_INT", "nope")
	t.Setenv("MS_TEST_BOOL", "true")
	t.Setenv("MS_TEST_DUR", "90s")
	t.Setenv("MS_TEST_FLOAT", "0.75")

	assert.Equal(t, "hello", ParseString("MS_TEST_STR", "x"))
	assert.Equal(t, "x", ParseString("MS_TEST_MISSING", "x"))
	assert.Equal(t, 42, ParseInt("MS_TEST_INT", 1))
	assert.Equal(t, 1, ParseInt("MS_TEST_BAD_INT", 1))
	assert.True(t, ParseBool("MS_TEST_BOOL", false))
	assert.Equal(t, 90*time.Second, ParseDuration("MS_TEST_DUR", time.Second))
	assert.Equal(t, 0.75, ParseFloat("MS_TEST_FLOAT", 0.5))
}

func TestValidateRejectsBrokenConfigs(t *testing.T) {
	base := FromEnv()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Backend = "cloud" }},
		{"production without db", func(c *Config) { c.Backend = BackendProduction; c.DatabaseURL = "" }},
		{"zero dimension", func(c *Config) { c.EmbedDimension = 0 }},
		{"zero attempts", func(c *Config) { c.MaxAttempts = 0 }},
		{"zero concurrency", func(c *Config) { c.JobConcurrency = 0 }},
		{"max below base delay", func(c *Config) { c.RetryMaxDelay = c.RetryBaseDelay / 2 }},
		{"negative weight", func(c *Config) { c.HybridKeywordWeight = -1 }},
		{"empty bucket", func(c *Config) { c.WatchBucket = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
