package config

import "time"

// Config holds gateway configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	// Auth token verification (HS256). Tokens are minted by an external
	// service sharing the same secret.
	JWTSecret   string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string `mapstructure:"jwt_audience" yaml:"jwt_audience"`

	// AuthDeadline bounds how long a fresh connection may stay
	// unauthenticated before it is closed.
	AuthDeadline time.Duration `mapstructure:"auth_deadline" yaml:"auth_deadline"`

	// DatabasePath is the SQLite file backing the message store.
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	// RedisAddr enables the cross-process device mirror when non-empty.
	RedisAddr     string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" yaml:"redis_db"`

	// NATSURL enables push-notification publishing when non-empty.
	NATSURL string `mapstructure:"nats_url" yaml:"nats_url"`

	// GatewayID identifies this instance in the shared device mirror.
	GatewayID string `mapstructure:"gateway_id" yaml:"gateway_id"`

	TypingExpiry time.Duration `mapstructure:"typing_expiry" yaml:"typing_expiry"`
	CallTimeout  time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
	// CallDebounce suppresses repeated call:initiate to the same target
	// within the window. Zero disables suppression; this is policy, not a
	// protocol guarantee.
	CallDebounce time.Duration `mapstructure:"call_debounce" yaml:"call_debounce"`
	// DeviceTTL is the expiry on advisory device registrations in Redis.
	DeviceTTL time.Duration `mapstructure:"device_ttl" yaml:"device_ttl"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		LogLevel:          "info",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		JWTIssuer:         "lumachat",
		JWTAudience:       "lumachat-gateway",
		AuthDeadline:      10 * time.Second,
		DatabasePath:      "gateway.db",
		GatewayID:         "gw-1",
		TypingExpiry:      3 * time.Second,
		CallTimeout:       30 * time.Second,
		CallDebounce:      2 * time.Second,
		DeviceTTL:         2 * time.Minute,
	}
}
