package wire_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"procodus.dev/sadrn/pkg/wire"
)

var _ = Describe("Envelope", func() {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 500, time.UTC)

	It("should carry a packet with its path", func() {
		in := wire.NewPacketEnvelope(wire.Packet{
			ID:         "pkt_7",
			Gateway:    "gw_a",
			Sensor:     "water_a1",
			SensorKind: "flood",
			Value:      81.5,
			Unit:       "cm",
			Path:       []string{"gw_a", "s4", "s1", "display"},
			Cost:       1.6,
			Priority:   "EMERGENCY",
			Timestamp:  ts,
		})

		data, err := wire.Marshal(in)
		Expect(err).NotTo(HaveOccurred())

		out, err := wire.Unmarshal(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(in))
		Expect(out.ID()).To(Equal("pkt_7"))
	})

	It("should expose the kind to generic consumers", func() {
		data, err := wire.Marshal(wire.NewEventEnvelope(wire.Event{ID: "e1", Type: "SYSTEM", Severity: "INFO", Timestamp: ts}))
		Expect(err).NotTo(HaveOccurred())

		var s structpb.Struct
		Expect(proto.Unmarshal(data, &s)).To(Succeed())
		Expect(s.GetFields()["kind"].GetStringValue()).To(Equal("event"))
	})

	It("should reject envelopes without a payload", func() {
		_, err := wire.Marshal(wire.Envelope{Kind: wire.KindPacket})
		Expect(err).To(HaveOccurred())
	})

	It("should reject unknown kinds", func() {
		s, _ := structpb.NewStruct(map[string]any{"kind": "heartbeat"})
		data, _ := proto.Marshal(s)
		_, err := wire.Unmarshal(data)
		Expect(err).To(MatchError(ContainSubstring("unknown envelope kind")))
	})

	It("should reject garbage", func() {
		_, err := wire.Unmarshal([]byte{0xff, 0xff, 0xff})
		Expect(err).To(HaveOccurred())
	})
})
