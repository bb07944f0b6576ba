package config

import "time"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BaseDir:  DefaultBaseDir(),
		LogLevel: "info",

		Remote: RemoteConfig{
			RateLimit: 10,
		},

		Sync: SyncConfig{
			RequestTimeout: 30 * time.Second,
			MaxRetries:     8,
			BackoffBase:    2 * time.Second,
			BackoffMax:     5 * time.Minute,
		},

		Connectivity: ConnectivityConfig{
			ProbeInterval: 15 * time.Second,
			Debounce:      2 * time.Second,
		},

		Events: EventsConfig{
			Addr: "127.0.0.1:8787",
		},

		Telemetry: TelemetryConfig{
			Enabled: true,
		},
	}
}
