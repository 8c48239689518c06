package archiver

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/sadrn/pkg/mq"
	"procodus.dev/sadrn/pkg/wire"
)

func publish(ctx context.Context, env wire.Envelope) {
	body, err := wire.Marshal(env)
	Expect(err).NotTo(HaveOccurred())
	Expect(publisher.Publish(ctx, mq.Message{ID: env.ID(), Kind: string(env.Kind), Body: body})).To(Succeed())
}

func eventIDs(ctx context.Context) []any {
	events, err := queryClient.RecentEvents(ctx, 0)
	if err != nil {
		return nil
	}
	ids := make([]any, len(events))
	for i, ev := range events {
		ids[i] = ev["id"]
	}
	return ids
}

var _ = Describe("Archiver Consumer E2E", func() {
	var ctx context.Context

	BeforeEach(func() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 45*time.Second)
		DeferCleanup(cancel)
	})

	It("should archive events published on the stream", func() {
		publish(ctx, wire.NewEventEnvelope(wire.Event{
			ID:        "evt_consumer_1",
			Type:      "BATTERY",
			Message:   "S2 CRITICAL (18.5%)",
			Severity:  "CRITICAL",
			Timestamp: time.Now().UTC(),
		}))

		Eventually(func() []any { return eventIDs(ctx) }, 30*time.Second, 250*time.Millisecond).
			Should(ContainElement("evt_consumer_1"))
	})

	It("should archive packets with their path", func() {
		publish(ctx, wire.NewPacketEnvelope(wire.Packet{
			ID:         "pkt_consumer_1",
			Gateway:    "gw_b",
			Sensor:     "seismic_b1",
			SensorKind: "earthquake",
			Value:      12,
			Unit:       "Hz",
			Path:       []string{"gw_b", "s5", "s2", "display"},
			Cost:       18.4,
			Priority:   "NORMAL",
			Timestamp:  time.Now().UTC(),
		}))

		var packets []map[string]any
		Eventually(func() int {
			var err error
			packets, err = queryClient.RecentPackets(ctx, "gw_b", 10)
			if err != nil {
				return 0
			}
			return len(packets)
		}, 30*time.Second, 250*time.Millisecond).Should(BeNumerically(">=", 1))

		Expect(packets[0]).To(HaveKeyWithValue("id", "pkt_consumer_1"))
		Expect(packets[0]).To(HaveKeyWithValue("path", []any{"gw_b", "s5", "s2", "display"}))
		Expect(packets[0]).To(HaveKeyWithValue("cost", 18.4))
	})

	It("should skip undecodable messages and keep consuming", func() {
		Expect(publisher.Publish(ctx, mq.Message{ID: "garbage", Kind: "event", Body: []byte{0xff, 0xfe}})).To(Succeed())
		publish(ctx, wire.NewEventEnvelope(wire.Event{
			ID:        "evt_after_garbage",
			Type:      "SYSTEM",
			Message:   "Simulation reset",
			Severity:  "INFO",
			Timestamp: time.Now().UTC(),
		}))

		Eventually(func() []any { return eventIDs(ctx) }, 30*time.Second, 250*time.Millisecond).
			Should(ContainElement("evt_after_garbage"))
		Expect(eventIDs(ctx)).NotTo(ContainElement("garbage"))
	})

	It("should store a redelivered event once", func() {
		ev := wire.NewEventEnvelope(wire.Event{
			ID:        "evt_duplicate",
			Type:      "INTENT",
			Message:   "Manual intent: low_latency",
			Severity:  "WARNING",
			Timestamp: time.Now().UTC(),
		})
		publish(ctx, ev)
		publish(ctx, ev)
		publish(ctx, wire.NewEventEnvelope(wire.Event{
			ID:        "evt_duplicate_marker",
			Type:      "SYSTEM",
			Message:   "marker",
			Severity:  "INFO",
			Timestamp: time.Now().UTC(),
		}))

		Eventually(func() []any { return eventIDs(ctx) }, 30*time.Second, 250*time.Millisecond).
			Should(ContainElement("evt_duplicate_marker"))

		count := 0
		for _, id := range eventIDs(ctx) {
			if id == "evt_duplicate" {
				count++
			}
		}
		Expect(count).To(Equal(1))
	})
})
