package config

import "time"

// MachineConfig identifies which machine's rows a process owns and how it
// reaches the shared database and PLC. Shared by all three terminals.
type MachineConfig struct {
	MachineID  string
	DatabaseDSN string

	PLCType string // "real" or "simulation"
	PLCHost string
	PLCPort int

	LogLevel  string
	LogFormat string

	HealthPort int
	LockDir    string

	RedisURL string
}

// LoadMachineConfig reads the fields shared across sampler/executor/writer.
func LoadMachineConfig() (MachineConfig, error) {
	e := NewEnv()
	cfg := MachineConfig{
		MachineID:   e.GetString("MACHINE_ID", ""),
		DatabaseDSN: e.GetString("DATABASE_URL", ""),
		PLCType:     e.GetString("PLC_TYPE", "simulation"),
		PLCHost:     e.GetString("PLC_HOST", "127.0.0.1"),
		PLCPort:     e.GetInt("PLC_PORT", 502),
		LogLevel:    e.GetString("LOG_LEVEL", "info"),
		LogFormat:   e.GetString("LOG_FORMAT", "json"),
		HealthPort:  e.GetInt("HEALTH_PORT", 8081),
		LockDir:     e.GetString("LOCK_DIR", "/var/run/ald-control-plane"),
		RedisURL:    e.GetString("REDIS_URL", ""),
	}

	v := &Validator{}
	v.RequireString("MACHINE_ID", cfg.MachineID)
	v.RequireString("DATABASE_URL", cfg.DatabaseDSN)
	v.RequireOneOf("PLC_TYPE", cfg.PLCType, "real", "simulation")
	if !v.IsValid() {
		return cfg, errString(v.Error())
	}
	return cfg, nil
}

// SamplerConfig carries T1's tuning knobs.
type SamplerConfig struct {
	TickInterval     time.Duration
	TimingViolation  time.Duration
	DeadLetterDir    string
	InsertRetryBases []time.Duration
}

// LoadSamplerConfig reads T1-specific tuning, defaulting per SPEC_FULL §6.
func LoadSamplerConfig() SamplerConfig {
	e := NewEnv()
	return SamplerConfig{
		TickInterval:     e.GetDuration("T1_TICK_INTERVAL", time.Second),
		TimingViolation:  e.GetDuration("T1_TIMING_THRESHOLD", 1100*time.Millisecond),
		DeadLetterDir:    e.GetString("DEADLETTER_DIR", "/var/lib/ald-control-plane/deadletter"),
		InsertRetryBases: []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second},
	}
}

// ExecutorConfig carries T2's tuning knobs.
type ExecutorConfig struct {
	PollInterval time.Duration
}

// LoadExecutorConfig reads T2-specific tuning.
func LoadExecutorConfig() ExecutorConfig {
	e := NewEnv()
	return ExecutorConfig{
		PollInterval: e.GetDuration("RECIPE_POLL_INTERVAL", 5*time.Second),
	}
}

// WriterConfig carries T3's tuning knobs.
type WriterConfig struct {
	RealtimeWatchdog  time.Duration
	PollDegraded      time.Duration
	PollHealthy       time.Duration
	SafetySweep       time.Duration
	ReconnectWait     time.Duration
	RetryBackoffs     []time.Duration
	MaxRetryAttempts  int
	VerifyWrites      bool
	VerifyTolerance   float64
}

// LoadWriterConfig reads T3-specific tuning.
func LoadWriterConfig() WriterConfig {
	e := NewEnv()
	return WriterConfig{
		RealtimeWatchdog: e.GetDuration("T3_REALTIME_WATCHDOG", 10*time.Second),
		PollDegraded:     e.GetDuration("T3_POLL_DEGRADED", time.Second),
		PollHealthy:      e.GetDuration("T3_POLL_HEALTHY", 10*time.Second),
		SafetySweep:      e.GetDuration("T3_SAFETY_SWEEP", 60*time.Second),
		ReconnectWait:    e.GetDuration("T3_RECONNECT_WAIT", 30*time.Second),
		RetryBackoffs:    []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second},
		MaxRetryAttempts: e.GetInt("T3_MAX_RETRY_ATTEMPTS", 3),
		VerifyWrites:     e.GetBool("VERIFY_WRITES", true),
		VerifyTolerance:  e.GetFloat("VERIFY_TOLERANCE", 0.01),
	}
}

type configError string

func (e configError) Error() string { return string(e) }

func errString(s string) error { return configError(s) }
