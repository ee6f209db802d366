package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CALLGUARD_CONFIG_FILE", "testdata/does-not-exist.yaml")

	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, s.Gateway.HeartbeatInterval)
	assert.Equal(t, 1800*time.Second, s.Dispatcher.JobTimeLimit)
	assert.Equal(t, 200, s.Dispatcher.MaxTasksPerWorker)
	assert.Equal(t, 5, s.Stability.WindowSize)
	assert.Equal(t, time.Hour, s.Stability.TTL)
	assert.Equal(t, 30, s.Retention.Days)
	assert.Equal(t, "fraud_alerts", s.Gateway.AlertChannel)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CALLGUARD_CONFIG_FILE", "testdata/does-not-exist.yaml")
	t.Setenv("CALLGUARD_REDIS__URL", "redis://cache:6379/0")
	t.Setenv("CALLGUARD_GATEWAY__HEARTBEAT_INTERVAL", "5s")
	t.Setenv("CALLGUARD_DISPATCHER__NUM_WORKERS", "3")
	t.Setenv("CALLGUARD_LOG_LEVEL", "debug")

	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis://cache:6379/0", s.Redis.URL)
	assert.Equal(t, 5*time.Second, s.Gateway.HeartbeatInterval)
	assert.Equal(t, 3, s.Dispatcher.NumWorkers)
	assert.Equal(t, "debug", s.LogLevel)
}

func TestValidate(t *testing.T) {
	s := Defaults()
	require.NoError(t, s.Validate())

	s.Gateway.SessionPolicy = "queue"
	assert.Error(t, s.Validate())

	s = Defaults()
	s.Stability.SafeThreshold = 3
	assert.Error(t, s.Validate())

	s = Defaults()
	s.Dispatcher.NumWorkers = 0
	assert.ErrorContains(t, s.Validate(), "NumWorkers")

	s = Defaults()
	s.Gateway.HeartbeatInterval = 0
	assert.Error(t, s.Validate())
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "gateway.heartbeat_interval", envKey("CALLGUARD_GATEWAY__HEARTBEAT_INTERVAL"))
	assert.Equal(t, "log_level", envKey("CALLGUARD_LOG_LEVEL"))
}
