package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsAndRequiredKey(t *testing.T) {
	t.Setenv("OUTAGEWATCH_HUB_SENSOR_API_KEY", "secret")

	cfg, err := Load("/tmp/outagewatch_test_data")
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.SensorAPIKey)
	assert.Equal(t, 8081, cfg.APIPort)
	assert.Equal(t, 0.5, cfg.ThresholdUp)
	assert.Equal(t, 0.4, cfg.ThresholdDown)
	assert.Equal(t, "/tmp/outagewatch_test_data/sensors.yml", cfg.SensorsConfigPath)
}

func TestLoadMissingAPIKeyIsFatal(t *testing.T) {
	t.Setenv("OUTAGEWATCH_HUB_SENSOR_API_KEY", "")
	t.Setenv("SENSOR_API_KEY", "")

	_, err := Load("/tmp/outagewatch_test_data")
	require.Error(t, err)
}

func TestGetEnvPrefixFallback(t *testing.T) {
	t.Setenv("SOME_KEY", "unprefixed")
	v, ok := GetEnv("SOME_KEY")
	assert.True(t, ok)
	assert.Equal(t, "unprefixed", v)

	t.Setenv("OUTAGEWATCH_HUB_SOME_KEY", "prefixed")
	v, ok = GetEnv("SOME_KEY")
	assert.True(t, ok)
	assert.Equal(t, "prefixed", v)
}

func TestIsAdmin(t *testing.T) {
	t.Setenv("OUTAGEWATCH_HUB_SENSOR_API_KEY", "secret")
	t.Setenv("OUTAGEWATCH_HUB_ADMIN_IDS", "111, 222")

	cfg, err := Load("/tmp/outagewatch_test_data")
	require.NoError(t, err)

	assert.True(t, cfg.IsAdmin("111"))
	assert.True(t, cfg.IsAdmin("222"))
	assert.False(t, cfg.IsAdmin("333"))
}
