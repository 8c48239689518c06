package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/sadrn/internal/producer"
	"procodus.dev/sadrn/pkg/metrics"
)

var sensorsCmd = &cobra.Command{
	Use:   "sensors",
	Short: "Run remote field sensors",
	Long: `Run simulated field sensors that:
- Discover their sensors from the controller topology
- Generate readings with occasional emergency spikes
- Push every reading to the controller HTTP API`,
	RunE: runSensors,
}

func init() {
	rootCmd.AddCommand(sensorsCmd)

	// Sensor-specific flags
	sensorsCmd.Flags().String("controller-url", "http://localhost:5000", "controller HTTP API base URL")
	sensorsCmd.Flags().Duration("interval", 3*time.Second, "interval between readings of one sensor")
	sensorsCmd.Flags().Float64("spike-probability", 0.15, "chance of a reading in the emergency band")
	sensorsCmd.Flags().Uint64("seed", 0, "random seed (0 picks one)")
	sensorsCmd.Flags().StringSlice("sensor", nil, "sensor ids to run (default all)")
	sensorsCmd.Flags().Int("metrics-port", 0, "Prometheus metrics port (0 disables)")

	// Bind flags to viper
	_ = viper.BindPFlag("sensors.controller_url", sensorsCmd.Flags().Lookup("controller-url"))
	_ = viper.BindPFlag("sensors.interval", sensorsCmd.Flags().Lookup("interval"))
	_ = viper.BindPFlag("sensors.spike_probability", sensorsCmd.Flags().Lookup("spike-probability"))
	_ = viper.BindPFlag("sensors.seed", sensorsCmd.Flags().Lookup("seed"))
	_ = viper.BindPFlag("sensors.ids", sensorsCmd.Flags().Lookup("sensor"))
	_ = viper.BindPFlag("sensors.metrics.port", sensorsCmd.Flags().Lookup("metrics-port"))
}

func runSensors(_ *cobra.Command, _ []string) error {
	log := GetLogger("sensors")
	log.Info("starting sensor producers")

	client, err := producer.NewClient(viper.GetString("sensors.controller_url"))
	if err != nil {
		log.Error("invalid controller URL", "error", err)
		return err
	}

	config := &producer.ServerConfig{
		Logger:           log,
		Client:           client,
		Interval:         viper.GetDuration("sensors.interval"),
		SpikeProbability: viper.GetFloat64("sensors.spike_probability"),
		Seed:             viper.GetUint64("sensors.seed"),
		Sensors:          viper.GetStringSlice("sensors.ids"),
		Metrics:          metrics.NewProducerMetrics(metrics.Namespace, nil),
	}

	server, err := producer.NewServer(config)
	if err != nil {
		log.Error("failed to create producer server", "error", err)
		return err
	}

	log.Info("producer server configuration",
		"controller_url", viper.GetString("sensors.controller_url"),
		"interval", config.Interval,
		"spike_probability", config.SpikeProbability,
		"sensors", config.Sensors,
	)

	if port := viper.GetInt("sensors.metrics.port"); port > 0 {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", metrics.Handler())
		metricsServer := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server error", "error", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(ctx)
		}()
	}

	if err := server.Run(context.Background()); err != nil {
		log.Error("producer server error", "error", err)
		return err
	}

	log.Info("producer server stopped")
	return nil
}
