package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/OCAP2/arena/pkg/core"
)

// FileName is the config file looked up in the config directory.
const FileName = "arena.cfg.json"

// MemoryConfig holds in-memory/JSON storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds the in-memory sqlite backend settings.
type SQLiteConfig struct {
	DumpInterval time.Duration
	DumpPath     string
}

// DBConfig holds postgres connection settings.
type DBConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// StorageConfig selects and configures the recording backend.
type StorageConfig struct {
	Type   string
	Memory MemoryConfig
	SQLite SQLiteConfig
	DB     DBConfig
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

// RecordingConfig controls the turn journal.
type RecordingConfig struct {
	Enabled bool
	Dir     string
}

// InfluxConfig holds InfluxDB settings.
type InfluxConfig struct {
	Enabled    bool
	Host       string
	Port       string
	Protocol   string
	Token      string
	Org        string
	Bucket     string
	BackupPath string
}

// StreamConfig holds the live websocket stream settings. An empty URL
// disables streaming.
type StreamConfig struct {
	URL    string
	Secret string
}

// MonitorConfig holds the status monitor settings.
type MonitorConfig struct {
	Interval time.Duration
}

// ResultsConfig holds the results server settings. An empty URL disables
// uploads.
type ResultsConfig struct {
	URL    string
	APIKey string
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

// SetDefaults registers every default value.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./arenalogs")

	viper.SetDefault("battle.width", core.DefaultBattlefieldWidth)
	viper.SetDefault("battle.height", core.DefaultBattlefieldHeight)
	viper.SetDefault("battle.numRounds", core.DefaultNumRounds)
	viper.SetDefault("battle.gunCoolingRate", core.DefaultGunCoolingRate)
	viper.SetDefault("battle.inactivityTime", core.DefaultInactivityTime)
	viper.SetDefault("battle.maxTurns", core.DefaultMaxTurns)
	viper.SetDefault("battle.fileQuota", core.DefaultFileQuota)
	viper.SetDefault("battle.turnTimeout", core.DefaultTurnTimeout.String())
	viper.SetDefault("battle.maxSkippedTurns", core.DefaultMaxSkippedTurns)
	viper.SetDefault("battle.seed", 0)
	viper.SetDefault("battle.initialPositions", "")
	viper.SetDefault("battle.sentryBorderSize", core.DefaultSentryBorderSize)
	viper.SetDefault("battle.dataDir", "./robotdata")

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.outputDir", "./recordings")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.sqlite.dumpPath", "./recordings/arena.db")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "arena")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "arena-metrics")
	viper.SetDefault("influx.bucket", "arena")
	viper.SetDefault("influx.backupPath", "./arenalogs/influx_backup.log.gzip")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "arena")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("recording.enabled", true)
	viper.SetDefault("recording.dir", "./recordings")

	viper.SetDefault("stream.url", "")
	viper.SetDefault("stream.secret", "")

	viper.SetDefault("monitor.interval", "1s")

	viper.SetDefault("results.url", "")
	viper.SetDefault("results.apiKey", "")
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetBattleRules builds the default battle rules. A battle file may still
// override them.
func GetBattleRules() core.BattleRules {
	return core.BattleRules{
		BattlefieldWidth:  viper.GetInt("battle.width"),
		BattlefieldHeight: viper.GetInt("battle.height"),
		NumRounds:         viper.GetInt("battle.numRounds"),
		GunCoolingRate:    viper.GetFloat64("battle.gunCoolingRate"),
		InactivityTime:    viper.GetInt("battle.inactivityTime"),
		MaxTurns:          viper.GetInt("battle.maxTurns"),
		FileQuota:         viper.GetInt64("battle.fileQuota"),
		TurnTimeout:       viper.GetDuration("battle.turnTimeout"),
		MaxSkippedTurns:   viper.GetInt("battle.maxSkippedTurns"),
		Seed:              viper.GetInt64("battle.seed"),
		InitialPositions:  viper.GetString("battle.initialPositions"),
		SentryBorderSize:  viper.GetInt("battle.sentryBorderSize"),
	}
}

// GetDataDir returns the root of the robots' private storage.
func GetDataDir() string {
	return viper.GetString("battle.dataDir")
}

// GetStorageConfig returns the recording backend configuration.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
			DumpPath:     viper.GetString("storage.sqlite.dumpPath"),
		},
		DB: DBConfig{
			Host:     viper.GetString("db.host"),
			Port:     viper.GetString("db.port"),
			Username: viper.GetString("db.username"),
			Password: viper.GetString("db.password"),
			Database: viper.GetString("db.database"),
		},
	}
}

// GetOTelConfig returns the OpenTelemetry configuration.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetRecordingConfig returns the journal configuration.
func GetRecordingConfig() RecordingConfig {
	return RecordingConfig{
		Enabled: viper.GetBool("recording.enabled"),
		Dir:     viper.GetString("recording.dir"),
	}
}

// GetInfluxConfig returns the InfluxDB configuration.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:    viper.GetBool("influx.enabled"),
		Host:       viper.GetString("influx.host"),
		Port:       viper.GetString("influx.port"),
		Protocol:   viper.GetString("influx.protocol"),
		Token:      viper.GetString("influx.token"),
		Org:        viper.GetString("influx.org"),
		Bucket:     viper.GetString("influx.bucket"),
		BackupPath: viper.GetString("influx.backupPath"),
	}
}

// GetStreamConfig returns the live stream configuration.
func GetStreamConfig() StreamConfig {
	return StreamConfig{
		URL:    viper.GetString("stream.url"),
		Secret: viper.GetString("stream.secret"),
	}
}

// GetMonitorConfig returns the status monitor configuration.
func GetMonitorConfig() MonitorConfig {
	return MonitorConfig{Interval: viper.GetDuration("monitor.interval")}
}

// GetResultsConfig returns the results server configuration.
func GetResultsConfig() ResultsConfig {
	return ResultsConfig{
		URL:    viper.GetString("results.url"),
		APIKey: viper.GetString("results.apiKey"),
	}
}
