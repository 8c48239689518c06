package controller

import (
	"context"
	"sync"
	"time"
)

// Run drives the background work until ctx is done: packet simulation,
// battery drain, the sensor feed and the stream publisher.
func (cp *ControlPlane) Run(ctx context.Context) {
	var wg sync.WaitGroup

	if cp.outbox != nil {
		cp.outbox.Start(ctx)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		cp.simulator.Run(ctx)
	}()

	if cp.cfg.Battery.Interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cp.every(ctx, "battery drain", cp.cfg.Battery.Interval, cp.DrainBatteries)
		}()
	}

	if cp.cfg.Feed.Interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cp.every(ctx, "sensor feed", cp.cfg.Feed.Interval, cp.FeedSensors)
		}()
	}

	cp.logger.Info("control plane started",
		"packet_interval", cp.cfg.PacketInterval,
		"battery_interval", cp.cfg.Battery.Interval,
		"feed_interval", cp.cfg.Feed.Interval,
		"streaming", cp.outbox != nil,
	)

	wg.Wait()
	if cp.outbox != nil {
		cp.outbox.Wait()
	}
	cp.logger.Info("control plane stopped")
}

func (cp *ControlPlane) every(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger := cp.logger.With("task", name)
	logger.Info("task started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			logger.Info("task shutting down")
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				// Continue on error - the next round retries
				logger.Error("task failed", "error", err)
			}
		}
	}
}
