package config

import "time"

// Config holds server configuration values.
type Config struct {
	ListenAddr      string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	OpsAddr         string        `mapstructure:"ops_addr" yaml:"ops_addr"`
	DatabasePath    string        `mapstructure:"database_path" yaml:"database_path"`
	LogLevel        string        `mapstructure:"log_level" yaml:"log_level"`
	TickPeriod      time.Duration `mapstructure:"tick_period" yaml:"tick_period"`
	LightDuration   time.Duration `mapstructure:"light_duration" yaml:"light_duration"`
	RoomCapacity    int           `mapstructure:"room_capacity" yaml:"room_capacity"`
	AuthAttempts    int           `mapstructure:"auth_attempts" yaml:"auth_attempts"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		ListenAddr:      ":5000",
		OpsAddr:         ":8080",
		DatabasePath:    "redgreen.db",
		LogLevel:        "info",
		TickPeriod:      50 * time.Millisecond,
		LightDuration:   5 * time.Second,
		RoomCapacity:    2,
		AuthAttempts:    3,
		ShutdownTimeout: 5 * time.Second,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.ListenAddr != "" {
		c.ListenAddr = other.ListenAddr
	}
	if other.OpsAddr != "" {
		c.OpsAddr = other.OpsAddr
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.TickPeriod != 0 {
		c.TickPeriod = other.TickPeriod
	}
	if other.LightDuration != 0 {
		c.LightDuration = other.LightDuration
	}
	if other.RoomCapacity != 0 {
		c.RoomCapacity = other.RoomCapacity
	}
	if other.AuthAttempts != 0 {
		c.AuthAttempts = other.AuthAttempts
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
}
