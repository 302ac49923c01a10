package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/app/configs")

	viper.SetEnvPrefix("APP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Allow common env vars without APP_ prefix for Docker/VM deploys
	viper.BindEnv("http.port", "HTTP_PORT", "APP_HTTP_PORT")
	viper.BindEnv("ocpp.port", "OCPP_PORT", "APP_OCPP_PORT")
	viper.BindEnv("database.url", "DATABASE_URL", "APP_DATABASE_URL")
	viper.BindEnv("redis.url", "REDIS_URL", "APP_REDIS_URL")
	viper.BindEnv("queue.nats_url", "NATS_URL", "APP_QUEUE_NATS_URL")
	viper.BindEnv("queue.amqp_url", "AMQP_URL", "APP_QUEUE_AMQP_URL")
	viper.BindEnv("payment.secret", "PAYMENT_SECRET", "APP_PAYMENT_SECRET")
	viper.BindEnv("vault.token", "VAULT_TOKEN", "APP_VAULT_TOKEN")
	viper.BindEnv("app.environment", "APP_ENVIRONMENT")
	viper.BindEnv("logging.level", "LOG_LEVEL")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// no config file: env vars and defaults only
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("app.name", "csms")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("http.port", 8080)
	viper.SetDefault("http.request_timeout", 60*time.Second)
	viper.SetDefault("http.read_timeout", 15*time.Second)
	// must outlast request_timeout so the 504 can still be written
	viper.SetDefault("http.write_timeout", 75*time.Second)
	viper.SetDefault("ocpp.port", 9000)
	viper.SetDefault("ocpp.heartbeat_interval", 300)
	viper.SetDefault("ocpp.boot_accept", true)
	viper.SetDefault("ocpp.call_timeout", 30*time.Second)
	viper.SetDefault("ocpp.max_sockets_per_process", 2000)
	viper.SetDefault("ocpp.inbox_size", 64)
	viper.SetDefault("queue.kind", "nats")
	viper.SetDefault("charging.default_currency", "KGS")
	viper.SetDefault("charging.unlimited_reserve_cap", 20000)
	viper.SetDefault("charging.unlimited_reserve_min", 1000)
	viper.SetDefault("reconciler.hung_session_check_interval", 30*time.Minute)
	viper.SetDefault("reconciler.hung_session_no_tx_grace", 10*time.Minute)
	viper.SetDefault("reconciler.hung_session_max_active", 12*time.Hour)
	viper.SetDefault("reconciler.invoice_check_interval", time.Hour)
	viper.SetDefault("reconciler.sweep_deadline", 5*time.Minute)
	viper.SetDefault("payment.provider_kind", "odengi")
	viper.SetDefault("payment.invoice_expiry", 5*time.Minute)
	viper.SetDefault("logging.level", "info")
}
