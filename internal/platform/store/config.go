package store

import "time"

// Config aggregates per backend configuration
type Config struct {
	AppName string

	PG PGConfig
	CH CHConfig
}

// PGConfig configures postgres connectivity and tracing
type PGConfig struct {
	Enabled     bool
	URL         string
	MaxConns    int32
	LogSQL      bool
	SlowQueryMs int

	// ConnectRetries bounds the boot ping loop; <=0 -> 20
	ConnectRetries int
	// PingTimeout bounds a single ping; <=0 -> 3s
	PingTimeout time.Duration
}

// CHConfig configures clickhouse connectivity
type CHConfig struct {
	Enabled bool
	URL     string
	LogSQL  bool

	// ClientName and ClientTag are reported to the server in the client info
	ClientName string
	ClientTag  string

	MaxOpenConns int
	DialTimeout  time.Duration
}
