// Package config loads and validates VoiceCI's YAML configuration: queue
// tuning, the machine pool, adapter defaults, probe thresholds, and the
// callback sink's shared secret.
package config

import "time"

// Config is the root VoiceCI configuration document.
type Config struct {
	LogLevel string `yaml:"log_level"`

	Database DatabaseConfig `yaml:"database"`
	Queue    QueueConfig    `yaml:"queue"`
	Machine  MachinePool    `yaml:"machine_pool"`
	Callback CallbackConfig `yaml:"callback"`

	Thresholds Thresholds `yaml:"thresholds"`

	// Adapters holds named adapter defaults. They are validated at load
	// time only; no run_suite or TestSpec field references them by name.
	Adapters map[string]AdapterDefaults `yaml:"adapters"`

	// APIKeys maps a bearer token to the (tenant, key id) pair it
	// authenticates (C8's auth filter). VoiceCI has no separate
	// key-management service in scope, so keys are config-resident.
	APIKeys map[string]APIKeyConfig `yaml:"api_keys"`
}

// APIKeyConfig is the (tenant, key id) pair a bearer token resolves to.
type APIKeyConfig struct {
	TenantID string `yaml:"tenant_id" validate:"required"`
	KeyID    string `yaml:"key_id" validate:"required"`
}

// DatabaseConfig configures the Postgres connection pool.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" validate:"required"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	MigrationsPath  string        `yaml:"migrations_path"`
}

// MachinePool configures the machine driver (C10): the pool of worker
// machines used for sandboxed/isolated test execution and dependency-image
// builds.
type MachinePool struct {
	Driver            string        `yaml:"driver"` // "in_process" or "remote"
	MaxMachines       int           `yaml:"max_machines"`
	ProvisionTimeout  time.Duration `yaml:"provision_timeout"`
	IdleReapInterval  time.Duration `yaml:"idle_reap_interval"`
	IdleMachineTTL    time.Duration `yaml:"idle_machine_ttl"`
	ImageBuildTimeout time.Duration `yaml:"image_build_timeout"`
}

// CallbackConfig configures the callback sink (C11).
type CallbackConfig struct {
	SharedSecretEnv string        `yaml:"shared_secret_env" validate:"required"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

// Thresholds holds the default numeric thresholds used by probes and the
// conversation engine's adaptive silence detector (C5, C6).
type Thresholds struct {
	SilenceBaseMs      int     `yaml:"silence_base_ms"`
	SilenceMinMs       int     `yaml:"silence_min_ms"`
	SilenceMaxMs       int     `yaml:"silence_max_ms"`
	TTFBWarnMs         int     `yaml:"ttfb_warn_ms"`
	TTFBFailMs         int     `yaml:"ttfb_fail_ms"`
	BargeInLatencyMs   int     `yaml:"barge_in_latency_ms"`
	NoiseFloorDBFS     float64 `yaml:"noise_floor_dbfs"`
	MinTurnCompleteness float64 `yaml:"min_turn_completeness"`
}

// AdapterDefaults is a named set of adapter settings. Its fields and
// transport names are its own (e.g. "websocket", not pkg/store's
// "ws-voice"); nothing converts it to a store.AdapterConfig.
type AdapterDefaults struct {
	Transport   string            `yaml:"transport" validate:"required,oneof=websocket webrtc sip vapi retell elevenlabs bland tool_call"`
	Endpoint    string            `yaml:"endpoint"`
	AuthEnv     string            `yaml:"auth_env"`
	SampleRate  int               `yaml:"sample_rate"`
	Codec       string            `yaml:"codec"`
	Extra       map[string]string `yaml:"extra"`
}
