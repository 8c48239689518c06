package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/sadrn/internal/archiver"
	"procodus.dev/sadrn/pkg/logger"
	"procodus.dev/sadrn/pkg/metrics"
	"procodus.dev/sadrn/pkg/tracing"
)

var archiverCmd = &cobra.Command{
	Use:   "archiver",
	Short: "Run the stream archiver",
	Long: `Run the archiver that:
- Consumes control plane events and packets from RabbitMQ
- Persists them to PostgreSQL
- Serves archive queries and gRPC health checks`,
	RunE: runArchiver,
}

func init() {
	rootCmd.AddCommand(archiverCmd)

	// Archiver-specific flags
	archiverCmd.Flags().String("db-host", "localhost", "PostgreSQL host")
	archiverCmd.Flags().Int("db-port", 5432, "PostgreSQL port")
	archiverCmd.Flags().String("db-user", "postgres", "PostgreSQL user")
	archiverCmd.Flags().String("db-password", "", "PostgreSQL password")
	archiverCmd.Flags().String("db-name", "sadrn", "PostgreSQL database name")
	archiverCmd.Flags().String("db-sslmode", "disable", "PostgreSQL SSL mode")
	archiverCmd.Flags().Int("grpc-port", 9090, "gRPC server port")
	archiverCmd.Flags().Int("metrics-port", 0, "Prometheus metrics port (0 disables)")

	// Bind flags to viper
	_ = viper.BindPFlag("archiver.db.host", archiverCmd.Flags().Lookup("db-host"))
	_ = viper.BindPFlag("archiver.db.port", archiverCmd.Flags().Lookup("db-port"))
	_ = viper.BindPFlag("archiver.db.user", archiverCmd.Flags().Lookup("db-user"))
	_ = viper.BindPFlag("archiver.db.password", archiverCmd.Flags().Lookup("db-password"))
	_ = viper.BindPFlag("archiver.db.name", archiverCmd.Flags().Lookup("db-name"))
	_ = viper.BindPFlag("archiver.db.sslmode", archiverCmd.Flags().Lookup("db-sslmode"))
	_ = viper.BindPFlag("archiver.grpc.port", archiverCmd.Flags().Lookup("grpc-port"))
	_ = viper.BindPFlag("archiver.metrics.port", archiverCmd.Flags().Lookup("metrics-port"))
}

func runArchiver(_ *cobra.Command, _ []string) error {
	log := GetLogger("archiver")
	log.Info("starting archiver service")

	ctx := context.Background()
	shutdownTracing, err := initTracing(ctx, "sadrn-archiver", log)
	if err != nil {
		log.Error("failed to initialize tracing", "error", err)
		return err
	}
	defer tracing.ShutdownWithTimeout(shutdownTracing, log)

	queue, err := newQueue(log)
	if err != nil {
		log.Error("failed to create queue client", "error", err)
		return err
	}

	config := &archiver.ServerConfig{
		Logger: logger.Component(log, "archiver"),
		DB: &archiver.DBConfig{
			Host:     viper.GetString("archiver.db.host"),
			Port:     viper.GetInt("archiver.db.port"),
			User:     viper.GetString("archiver.db.user"),
			Password: viper.GetString("archiver.db.password"),
			DBName:   viper.GetString("archiver.db.name"),
			SSLMode:  viper.GetString("archiver.db.sslmode"),
		},
		Queue:       queue,
		GRPCPort:    viper.GetInt("archiver.grpc.port"),
		MetricsPort: viper.GetInt("archiver.metrics.port"),
		Metrics:     metrics.NewArchiverMetrics(metrics.Namespace, nil),
	}

	// Create and run server
	server, err := archiver.NewServer(config)
	if err != nil {
		log.Error("failed to create archiver server", "error", err)
		_ = queue.Close()
		return err
	}

	log.Info("archiver server configuration",
		"db_host", config.DB.Host,
		"db_port", config.DB.Port,
		"db_name", config.DB.DBName,
		"queue", queue.QueueName(),
		"grpc_port", config.GRPCPort,
		"metrics_port", config.MetricsPort,
	)

	if err := server.Run(ctx); err != nil {
		log.Error("archiver server error", "error", err)
		return err
	}

	log.Info("archiver server stopped")
	return nil
}
