package config

import "time"

type Config struct {
	App           AppConfig           `mapstructure:"app"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	OCPP          OCPPConfig          `mapstructure:"ocpp"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Queue         QueueConfig         `mapstructure:"queue"`
	Charging      ChargingConfig      `mapstructure:"charging"`
	Reconciler    ReconcilerConfig    `mapstructure:"reconciler"`
	Payment       PaymentConfig       `mapstructure:"payment"`
	Vault         VaultConfig         `mapstructure:"vault"`
	OpenTelemetry OpenTelemetryConfig `mapstructure:"opentelemetry"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

type HTTPConfig struct {
	Port           int           `mapstructure:"port"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

type OCPPConfig struct {
	Port                 int           `mapstructure:"port"`
	HeartbeatInterval    int           `mapstructure:"heartbeat_interval"` // seconds, sent to stations in BootNotification
	BootAccept           bool          `mapstructure:"boot_accept"`
	CallTimeout          time.Duration `mapstructure:"call_timeout"`
	MaxSocketsPerProcess int           `mapstructure:"max_sockets_per_process"`
	InboxSize            int           `mapstructure:"inbox_size"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	URL        string `mapstructure:"url"`
	MaxRetries int    `mapstructure:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size"`
}

type QueueConfig struct {
	Kind    string `mapstructure:"kind"` // nats or rabbitmq
	NATSURL string `mapstructure:"nats_url"`
	AMQPURL string `mapstructure:"amqp_url"`
}

type ChargingConfig struct {
	DefaultPricePerKWh  int64  `mapstructure:"default_tariff_price_per_kwh"` // minor units
	DefaultCurrency     string `mapstructure:"default_currency"`
	UnlimitedReserveCap int64  `mapstructure:"unlimited_reserve_cap"` // minor units
	UnlimitedReserveMin int64  `mapstructure:"unlimited_reserve_min"`
}

type ReconcilerConfig struct {
	HungSessionCheckInterval time.Duration `mapstructure:"hung_session_check_interval"`
	HungSessionNoTxGrace     time.Duration `mapstructure:"hung_session_no_tx_grace"`
	HungSessionMaxActive     time.Duration `mapstructure:"hung_session_max_active"`
	InvoiceCheckInterval     time.Duration `mapstructure:"invoice_check_interval"`
	SweepDeadline            time.Duration `mapstructure:"sweep_deadline"`
}

type PaymentConfig struct {
	ProviderKind  string        `mapstructure:"provider_kind"` // odengi or obank
	Secret        string        `mapstructure:"secret"`
	BaseURL       string        `mapstructure:"base_url"`
	MerchantID    string        `mapstructure:"merchant_id"`
	InvoiceExpiry time.Duration `mapstructure:"invoice_expiry"`
}

type VaultConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Address    string `mapstructure:"address"`
	Token      string `mapstructure:"token"`
	SecretPath string `mapstructure:"secret_path"`
}

type OpenTelemetryConfig struct {
	Enabled     bool         `mapstructure:"enabled"`
	ServiceName string       `mapstructure:"service_name"`
	Jaeger      JaegerConfig `mapstructure:"jaeger"`
}

type JaegerConfig struct {
	Endpoint     string  `mapstructure:"endpoint"`
	SamplerParam float64 `mapstructure:"sampler_param"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// HeartbeatIntervalDuration returns the boot-handshake interval as a Duration,
// falling back to the protocol default of 300s.
func (c OCPPConfig) HeartbeatIntervalDuration() time.Duration {
	if c.HeartbeatInterval <= 0 {
		return 300 * time.Second
	}
	return time.Duration(c.HeartbeatInterval) * time.Second
}
