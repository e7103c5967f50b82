package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/arena/pkg/core"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0644))
	return dir
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"logLevel": "debug",
		"battle": { "numRounds": 3, "turnTimeout": "50ms" },
		"db": { "host": "10.0.0.1", "port": "5433" }
	}`)

	err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	assert.Equal(t, 3, viper.GetInt("battle.numRounds"))
	assert.Equal(t, "10.0.0.1", viper.GetString("db.host"))
	assert.Equal(t, "5433", viper.GetString("db.port"))

	rules := GetBattleRules()
	assert.Equal(t, 3, rules.NumRounds)
	assert.Equal(t, 50*time.Millisecond, rules.TurnTimeout)
	assert.Equal(t, core.DefaultBattlefieldWidth, rules.BattlefieldWidth)
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load(writeConfig(t, `{}`))
	require.NoError(t, err)

	assert.Equal(t, "info", viper.GetString("logLevel"))
	assert.Equal(t, "./arenalogs", viper.GetString("logsDir"))
	assert.Equal(t, "localhost", viper.GetString("db.host"))
	assert.Equal(t, "5432", viper.GetString("db.port"))
	assert.Equal(t, "arena", viper.GetString("db.database"))
	assert.Equal(t, false, viper.GetBool("graylog.enabled"))
	assert.Equal(t, "localhost:12201", viper.GetString("graylog.address"))
	assert.Equal(t, "memory", viper.GetString("storage.type"))
	assert.Equal(t, "3m", viper.GetString("storage.sqlite.dumpInterval"))
	assert.Equal(t, "arena", viper.GetString("otel.serviceName"))
	assert.Equal(t, "", viper.GetString("results.url"))

	assert.Equal(t, core.DefaultRules(), GetBattleRules())
	assert.Equal(t, "./robotdata", GetDataDir())
}

func TestLoad_MissingFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load("/nonexistent/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestLoad_InvalidJSON(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load(writeConfig(t, `{"logLevel": `))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestGetString(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testKey", "testValue")
	assert.Equal(t, "testValue", GetString("testKey"))
}

func TestGetInt(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testInt", 42)
	assert.Equal(t, 42, GetInt("testInt"))
}

func TestGetBool(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("testBool", true)
	assert.True(t, GetBool("testBool"))
}

func TestGetStorageConfig(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"storage": {
			"type": "sqlite",
			"sqlite": { "dumpInterval": "30s", "dumpPath": "/tmp/a.db" }
		},
		"db": { "database": "battles" }
	}`)
	require.NoError(t, Load(dir))

	cfg := GetStorageConfig()
	assert.Equal(t, "sqlite", cfg.Type)
	assert.Equal(t, 30*time.Second, cfg.SQLite.DumpInterval)
	assert.Equal(t, "/tmp/a.db", cfg.SQLite.DumpPath)
	assert.Equal(t, "./recordings", cfg.Memory.OutputDir)
	assert.True(t, cfg.Memory.CompressOutput)
	assert.Equal(t, "battles", cfg.DB.Database)
	assert.Equal(t, "postgres", cfg.DB.Username)
}

func TestTypedGetters_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)
	SetDefaults()

	assert.Equal(t, OTelConfig{
		ServiceName:  "arena",
		BatchTimeout: 5 * time.Second,
		Insecure:     true,
	}, GetOTelConfig())
	assert.Equal(t, RecordingConfig{Enabled: true, Dir: "./recordings"}, GetRecordingConfig())
	assert.Equal(t, MonitorConfig{Interval: time.Second}, GetMonitorConfig())
	assert.Equal(t, StreamConfig{}, GetStreamConfig())
	assert.Equal(t, ResultsConfig{}, GetResultsConfig())

	influx := GetInfluxConfig()
	assert.False(t, influx.Enabled)
	assert.Equal(t, "arena", influx.Bucket)
	assert.Equal(t, "8086", influx.Port)
}

func TestTypedGetters_Override(t *testing.T) {
	t.Cleanup(viper.Reset)
	SetDefaults()
	viper.Set("otel.enabled", true)
	viper.Set("otel.endpoint", "collector:4318")
	viper.Set("stream.url", "ws://localhost:5000/ws")
	viper.Set("results.apiKey", "k")
	viper.Set("monitor.interval", "250ms")

	assert.True(t, GetOTelConfig().Enabled)
	assert.Equal(t, "collector:4318", GetOTelConfig().Endpoint)
	assert.Equal(t, "ws://localhost:5000/ws", GetStreamConfig().URL)
	assert.Equal(t, "k", GetResultsConfig().APIKey)
	assert.Equal(t, 250*time.Millisecond, GetMonitorConfig().Interval)
}
