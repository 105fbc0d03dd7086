package config

import "time"

type Config struct {
	Service  *ServiceConfig
	Redis    *RedisConfig
	Postgres *PostgresConfig
	Channels *ChannelConfig
	WS       *WSConfig
	Audit    *AuditConfig
	Logger   *LoggerConfig
	Tracer   *TracerConfig
}

type ServiceConfig struct {
	Name            string
	Env             string
	Addr            string
	ShutdownTimeout time.Duration
}

type RedisConfig struct {
	URL          string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
	PingTimeout  time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// ChannelConfig names the upstream bus channels. They must match what
// the backend workers publish on.
type ChannelConfig struct {
	ScreenCall  string
	ProblemDone string
	JobUpdate   string
}

type WSConfig struct {
	ReadBufferSize    int
	WriteBufferSize   int
	ReadLimit         int64
	WriteTimeout      time.Duration
	SendBuffer        int
	HeartbeatInterval time.Duration
	// AllowedOrigins is an allowlist for the upgrade origin check.
	// Empty means any origin is accepted.
	AllowedOrigins []string
}

// AuditConfig controls the delivery audit trail. Disabled means the
// relay runs without Postgres entirely.
type AuditConfig struct {
	Enabled       bool
	Retention     time.Duration
	PurgeInterval time.Duration
}

type LoggerConfig struct {
	Level  string
	Format string
}

type TracerConfig struct {
	// Address of the OTLP gRPC collector. Empty disables tracing.
	Address string
}
