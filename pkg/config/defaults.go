package config

import "time"

// Defaults returns the built-in default Config. User YAML is merged on top
// of this with mergo, the same layering the teacher's config package uses.
func Defaults() *Config {
	return &Config{
		LogLevel: "info",
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 10 * time.Minute,
			MigrationsPath:  "migrations",
		},
		Queue: *DefaultQueueConfig(),
		Machine: MachinePool{
			Driver:            "in_process",
			MaxMachines:       10,
			ProvisionTimeout:  2 * time.Minute,
			IdleReapInterval:  time.Minute,
			IdleMachineTTL:    5 * time.Minute,
			ImageBuildTimeout: 10 * time.Minute,
		},
		Callback: CallbackConfig{
			SharedSecretEnv: "VOICECI_CALLBACK_SECRET",
			MaxBodyBytes:    1 << 20,
			RequestTimeout:  10 * time.Second,
		},
		Thresholds: Thresholds{
			SilenceBaseMs:       700,
			SilenceMinMs:        300,
			SilenceMaxMs:        2500,
			TTFBWarnMs:          800,
			TTFBFailMs:          2000,
			BargeInLatencyMs:    500,
			NoiseFloorDBFS:      -50,
			MinTurnCompleteness: 0.8,
		},
		Adapters: map[string]AdapterDefaults{},
	}
}
