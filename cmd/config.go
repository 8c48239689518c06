package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"procodus.dev/sadrn/pkg/logger"
	"procodus.dev/sadrn/pkg/metrics"
	"procodus.dev/sadrn/pkg/mq"
	"procodus.dev/sadrn/pkg/tracing"
)

// InitConfig initializes Viper configuration.
// It supports reading from config files (config.yaml) and environment variables.
func InitConfig(cfgFile string) error {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in current directory and /etc/sadrn/
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/sadrn/")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// Environment variables, e.g. SADRN_RABBITMQ_URL
	viper.SetEnvPrefix("SADRN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		var configNotFoundErr viper.ConfigFileNotFoundError
		if errors.As(err, &configNotFoundErr) {
			// Config file not found; rely on env vars and defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// GetLogger creates a slog.Logger based on configuration.
func GetLogger(service string) *slog.Logger {
	return logger.New(&logger.Config{
		Level:   logger.ParseLevel(viper.GetString("log.level")),
		Format:  logger.ParseFormat(viper.GetString("log.format")),
		Service: service,
	})
}

// initTracing installs the tracer provider configured under tracing.*.
func initTracing(ctx context.Context, service string, log *slog.Logger) (tracing.ShutdownFunc, error) {
	return tracing.Init(ctx, tracing.Config{
		Enabled:     viper.GetBool("tracing.enabled"),
		ServiceName: service,
		Exporter:    viper.GetString("tracing.exporter"),
		Endpoint:    viper.GetString("tracing.endpoint"),
		SampleRatio: viper.GetFloat64("tracing.sample_ratio"),
	}, log)
}

// newQueue connects to the configured RabbitMQ queue. The client keeps
// reconnecting in the background.
func newQueue(log *slog.Logger) (*mq.Client, error) {
	return mq.New(mq.Config{
		URL:       viper.GetString("rabbitmq.url"),
		QueueName: viper.GetString("rabbitmq.queue_name"),
		Durable:   true,
		Logger:    logger.Component(log, "mq"),
		Metrics:   metrics.NewStreamMetrics(metrics.Namespace, nil),
	})
}
