package config

// Default values for configuration.
const (
	// Archive defaults
	DefaultOutputDir   = "backup"
	DefaultSessionFile = "tg.session"

	// Traversal defaults
	DefaultPageSize   = 100
	DefaultMaxRetries = 5

	// Media defaults
	DefaultMediaFilter  = "all"
	DefaultMediaWorkers = 2

	// Logging defaults
	DefaultLogLevel = "info"
)
