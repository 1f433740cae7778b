package config

import "time"

// ServerConfig controls the MCP surface.
type ServerConfig struct {
	// Transport selects how tool calls reach the server.
	Transport string `mapstructure:"transport" validate:"oneof=stdio http"`

	// ListenAddr is used only by the http transport.
	ListenAddr string `mapstructure:"listen_addr"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`

	// CallerOverride fixes the caller identity for every session. When
	// empty the client name from the MCP handshake is used.
	CallerOverride string `mapstructure:"caller_override"`
}
