package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/sadrn/internal/api"
	"procodus.dev/sadrn/internal/controller"
	"procodus.dev/sadrn/internal/intent"
	"procodus.dev/sadrn/internal/topology"
	"procodus.dev/sadrn/pkg/logger"
	"procodus.dev/sadrn/pkg/metrics"
	"procodus.dev/sadrn/pkg/mq"
	"procodus.dev/sadrn/pkg/tracing"
)

var controllerCmd = &cobra.Command{
	Use:   "controller",
	Short: "Run the control plane",
	Long: `Run the SDN control plane that:
- Holds the network topology, routing intent and route table
- Simulates switch and link failures with uplink failover
- Generates packets, drains batteries and feeds sensor readings
- Serves the dashboard HTTP/JSON API
- Streams events and packets to RabbitMQ`,
	RunE: runController,
}

func init() {
	rootCmd.AddCommand(controllerCmd)

	// Controller-specific flags
	controllerCmd.Flags().Int("http-port", 5000, "HTTP server port")
	controllerCmd.Flags().String("template-file", "", "YAML topology template (default is the built-in deployment)")
	controllerCmd.Flags().Bool("stream", true, "publish events and packets to RabbitMQ")
	controllerCmd.Flags().Int("outbox-size", controller.DefaultOutboxSize, "stream messages buffered before dropping")
	controllerCmd.Flags().Int("event-capacity", 50, "events kept in the event log")
	controllerCmd.Flags().Int("packet-window", 50, "packet descriptors kept for inspection")
	controllerCmd.Flags().Duration("packet-interval", 2500*time.Millisecond, "interval between generated packets")
	controllerCmd.Flags().Bool("auto-packets", true, "generate packets automatically on start")
	controllerCmd.Flags().Uint64("seed", 0, "random seed for packets and sensor feed (0 picks one)")
	controllerCmd.Flags().Bool("reset-zero-packet-stats", true, "zero packet counters on reset")
	controllerCmd.Flags().Duration("battery-drain-interval", 30*time.Second, "interval between battery drains (0 disables)")
	controllerCmd.Flags().Float64("battery-drain-base", 0.5, "battery percent drained per switch")
	controllerCmd.Flags().Float64("battery-drain-per-route", 0.3, "extra battery percent drained per route through a switch")
	controllerCmd.Flags().Duration("feed-interval", 0, "interval between synthetic sensor readings (0 disables)")
	controllerCmd.Flags().Float64("feed-spike-probability", 0.15, "chance of a reading spiking to emergency level")

	// Bind flags to viper
	_ = viper.BindPFlag("controller.http.port", controllerCmd.Flags().Lookup("http-port"))
	_ = viper.BindPFlag("topology.template_file", controllerCmd.Flags().Lookup("template-file"))
	_ = viper.BindPFlag("stream.enabled", controllerCmd.Flags().Lookup("stream"))
	_ = viper.BindPFlag("stream.outbox_size", controllerCmd.Flags().Lookup("outbox-size"))
	_ = viper.BindPFlag("events.capacity", controllerCmd.Flags().Lookup("event-capacity"))
	_ = viper.BindPFlag("packets.window", controllerCmd.Flags().Lookup("packet-window"))
	_ = viper.BindPFlag("packets.interval", controllerCmd.Flags().Lookup("packet-interval"))
	_ = viper.BindPFlag("packets.auto", controllerCmd.Flags().Lookup("auto-packets"))
	_ = viper.BindPFlag("packets.seed", controllerCmd.Flags().Lookup("seed"))
	_ = viper.BindPFlag("reset.zero_packet_stats", controllerCmd.Flags().Lookup("reset-zero-packet-stats"))
	_ = viper.BindPFlag("battery.drain_interval", controllerCmd.Flags().Lookup("battery-drain-interval"))
	_ = viper.BindPFlag("battery.drain_base", controllerCmd.Flags().Lookup("battery-drain-base"))
	_ = viper.BindPFlag("battery.drain_per_route", controllerCmd.Flags().Lookup("battery-drain-per-route"))
	_ = viper.BindPFlag("feed.interval", controllerCmd.Flags().Lookup("feed-interval"))
	_ = viper.BindPFlag("feed.spike_probability", controllerCmd.Flags().Lookup("feed-spike-probability"))
}

func runController(_ *cobra.Command, _ []string) error {
	log := GetLogger("controller")
	log.Info("starting controller service")

	ctx := context.Background()
	shutdownTracing, err := initTracing(ctx, "sadrn-controller", log)
	if err != nil {
		log.Error("failed to initialize tracing", "error", err)
		return err
	}
	defer tracing.ShutdownWithTimeout(shutdownTracing, log)

	tpl, err := loadTemplate()
	if err != nil {
		log.Error("failed to load topology template", "error", err)
		return err
	}

	weights, err := loadWeights()
	if err != nil {
		log.Error("invalid routing weights", "error", err)
		return err
	}

	var publisher mq.Publisher
	if viper.GetBool("stream.enabled") {
		queue, err := newQueue(log)
		if err != nil {
			log.Error("failed to create queue client", "error", err)
			return err
		}
		defer closeQueue(queue, log)
		publisher = queue
	}

	seed := viper.GetUint64("packets.seed")
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	cp, err := controller.New(controller.Config{
		Logger:           logger.Component(log, "controlplane"),
		Template:         tpl,
		Weights:          weights,
		EventCapacity:    viper.GetInt("events.capacity"),
		PacketWindow:     viper.GetInt("packets.window"),
		PacketInterval:   viper.GetDuration("packets.interval"),
		AutoPackets:      viper.GetBool("packets.auto"),
		Seed:             seed,
		ZeroStatsOnReset: viper.GetBool("reset.zero_packet_stats"),
		Battery: controller.BatteryConfig{
			Interval: viper.GetDuration("battery.drain_interval"),
			Base:     viper.GetFloat64("battery.drain_base"),
			PerRoute: viper.GetFloat64("battery.drain_per_route"),
		},
		Feed: controller.FeedConfig{
			Interval:         viper.GetDuration("feed.interval"),
			SpikeProbability: viper.GetFloat64("feed.spike_probability"),
			Seed:             seed,
		},
		Publisher:  publisher,
		OutboxSize: viper.GetInt("stream.outbox_size"),
		Metrics:    metrics.NewControlPlaneMetrics(metrics.Namespace, nil),
	})
	if err != nil {
		log.Error("failed to create control plane", "error", err)
		return err
	}

	config := &api.ServerConfig{
		Logger:       logger.Component(log, "api"),
		ControlPlane: cp,
		HTTPPort:     viper.GetInt("controller.http.port"),
		Metrics:      metrics.NewHTTPMetrics(metrics.Namespace, nil),
	}

	server, err := api.NewServer(config)
	if err != nil {
		log.Error("failed to create controller server", "error", err)
		return err
	}

	log.Info("controller server configuration",
		"http_port", config.HTTPPort,
		"stream", publisher != nil,
		"queue", viper.GetString("rabbitmq.queue_name"),
		"packet_interval", viper.GetDuration("packets.interval"),
		"battery_drain_interval", viper.GetDuration("battery.drain_interval"),
		"feed_interval", viper.GetDuration("feed.interval"),
		"seed", seed,
	)

	if err := server.Run(ctx); err != nil {
		log.Error("controller server error", "error", err)
		return err
	}

	log.Info("controller server stopped")
	return nil
}

func loadTemplate() (*topology.Template, error) {
	path := viper.GetString("topology.template_file")
	if path == "" {
		return topology.DefaultTemplate(), nil
	}
	return topology.LoadTemplate(path)
}

// loadWeights reads routing.weights, keeping the defaults for intents the
// configuration leaves out.
func loadWeights() (intent.WeightTable, error) {
	weights := intent.DefaultWeights()
	if viper.IsSet("routing.weights") {
		var overrides intent.WeightTable
		if err := viper.UnmarshalKey("routing.weights", &overrides); err != nil {
			return nil, fmt.Errorf("decode routing.weights: %w", err)
		}
		for in, w := range overrides {
			if _, err := intent.Parse(string(in)); err != nil {
				return nil, err
			}
			weights[in] = w
		}
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	return weights, nil
}

func closeQueue(queue *mq.Client, log *slog.Logger) {
	if err := queue.Close(); err != nil {
		log.Error("failed to close queue client", "error", err)
	}
}
