package packets_test

import (
	"context"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/sadrn/internal/failover"
	"procodus.dev/sadrn/internal/intent"
	"procodus.dev/sadrn/internal/packets"
	"procodus.dev/sadrn/internal/routing"
	"procodus.dev/sadrn/internal/topology"
)

// scriptedRand replays fixed choices.
type scriptedRand struct {
	mu    sync.Mutex
	picks []int
}

func (r *scriptedRand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.picks) == 0 {
		return 0
	}
	v := r.picks[0]
	r.picks = r.picks[1:]
	return v % n
}

type recorder struct {
	mu        sync.Mutex
	forwarded []packets.Descriptor
	dropped   []string
}

func (r *recorder) PacketForwarded(d packets.Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forwarded = append(r.forwarded, d)
}

func (r *recorder) PacketDropped(gatewayID, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped = append(r.dropped, gatewayID)
}

func sourceFor(store *topology.Store) packets.Source {
	engine := routing.NewEngine(nil)
	return func() (*topology.Graph, routing.Table) {
		g := store.Snapshot()
		return g, engine.Compute(g, intent.Balanced)
	}
}

var _ = Describe("Simulator", func() {
	var (
		store *topology.Store
		rnd   *scriptedRand
		obs   *recorder
		sim   *packets.Simulator
	)

	BeforeEach(func() {
		store = topology.NewStore(nil)
		rnd = &scriptedRand{}
		obs = &recorder{}
		sim = packets.New(packets.Config{
			Source:   sourceFor(store),
			Rand:     rnd,
			Observer: obs,
			Window:   3,
		})
	})

	Describe("Tick", func() {
		It("should forward over a live route", func() {
			_, err := store.SetSensorValue("rain_a2", 75)
			Expect(err).NotTo(HaveOccurred())
			rnd.picks = []int{0, 1} // gw_a, rain_a2

			attempted, forwarded := sim.Tick()
			Expect(attempted).To(BeTrue())
			Expect(forwarded).To(BeTrue())
			Expect(sim.Stats()).To(Equal(packets.Stats{Forwarded: 1, Total: 1}))

			d := sim.Recent(0)[0]
			Expect(d.ID).To(Equal("pkt_1"))
			Expect(d.Gateway).To(Equal("gw_a"))
			Expect(d.Sensor).To(Equal("rain_a2"))
			Expect(d.Priority).To(Equal(topology.PriorityEmergency))
			Expect(d.Path).To(Equal([]string{"gw_a", "s4", "s1", "display"}))
			Expect(d.Unit).To(Equal("mm/hr"))
			Expect(obs.forwarded).To(HaveLen(1))
		})

		It("should drop when the gateway is cut off", func() {
			sim2 := failover.NewSimulator(store)
			_, err := sim2.FailLink("l5")
			Expect(err).NotTo(HaveOccurred())
			_, err = sim2.FailLink("l6")
			Expect(err).NotTo(HaveOccurred())
			rnd.picks = []int{1, 0} // gw_b

			attempted, forwarded := sim.Tick()
			Expect(attempted).To(BeTrue())
			Expect(forwarded).To(BeFalse())
			Expect(sim.Stats()).To(Equal(packets.Stats{Dropped: 1, Total: 1}))
			Expect(sim.Recent(0)).To(BeEmpty())
			Expect(obs.dropped).To(Equal([]string{"gw_b"}))
		})

		It("should skip gateways without sensors", func() {
			tpl, err := topology.LoadTemplate("../topology/testdata/diamond.yaml")
			Expect(err).NotTo(HaveOccurred())
			diamond := topology.NewStore(tpl)
			sim = packets.New(packets.Config{Source: sourceFor(diamond), Rand: gofakeit.New(1)})

			for range 20 {
				sim.Tick()
			}
			for _, d := range sim.Recent(0) {
				Expect(d.Gateway).To(Equal("g1"))
			}
		})
	})

	Describe("window", func() {
		It("should keep the newest descriptors only", func() {
			for range 5 {
				sim.Tick()
			}
			recent := sim.Recent(0)
			Expect(recent).To(HaveLen(3))
			Expect(recent[0].ID).To(Equal("pkt_5"))
			Expect(recent[2].ID).To(Equal("pkt_3"))
			Expect(sim.Recent(1)).To(HaveLen(1))
		})

		It("should expose the latest readings for the display", func() {
			for range 5 {
				sim.Tick()
			}
			Expect(sim.DisplayData()).To(HaveLen(3))
		})
	})

	Describe("Reset", func() {
		It("should clear the window and keep ids increasing", func() {
			sim.Tick()
			sim.Tick()
			sim.Reset(true)
			Expect(sim.Recent(0)).To(BeEmpty())
			Expect(sim.Stats()).To(Equal(packets.Stats{}))

			sim.Tick()
			Expect(sim.Recent(0)[0].ID).To(Equal("pkt_3"))
		})

		It("should not count a packet read before a concurrent reset", func() {
			inner := sourceFor(store)
			var once sync.Once
			sim = packets.New(packets.Config{
				Source: func() (*topology.Graph, routing.Table) {
					g, table := inner()
					once.Do(func() { sim.Reset(true) })
					return g, table
				},
				Rand:     rnd,
				Observer: obs,
			})

			attempted, _ := sim.Tick()
			Expect(attempted).To(BeFalse())
			Expect(sim.Stats()).To(Equal(packets.Stats{}))
			Expect(sim.Recent(0)).To(BeEmpty())
			Expect(obs.forwarded).To(BeEmpty())

			attempted, forwarded := sim.Tick()
			Expect(attempted).To(BeTrue())
			Expect(forwarded).To(BeTrue())
			Expect(sim.Stats()).To(Equal(packets.Stats{Forwarded: 1, Total: 1}))
		})

		It("should keep counters when asked", func() {
			sim.Tick()
			sim.Reset(false)
			Expect(sim.Stats().Total).To(Equal(uint64(1)))
			Expect(sim.Recent(0)).To(BeEmpty())
		})
	})

	Describe("Run", func() {
		It("should tick only while enabled and keep counters across pauses", func() {
			sim = packets.New(packets.Config{
				Source:   sourceFor(store),
				Rand:     gofakeit.New(5),
				Interval: 5 * time.Millisecond,
				Enabled:  true,
			})
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go sim.Run(ctx)

			Eventually(func() uint64 { return sim.Stats().Total }).Should(BeNumerically(">=", 3))

			Expect(sim.Toggle()).To(BeFalse())
			time.Sleep(20 * time.Millisecond)
			paused := sim.Stats()
			Consistently(sim.Stats, 50*time.Millisecond).Should(Equal(paused))

			sim.SetEnabled(true)
			Eventually(func() uint64 { return sim.Stats().Total }).Should(BeNumerically(">", paused.Total))
		})

		It("should return immediately without an interval", func() {
			done := make(chan struct{})
			go func() {
				sim.Run(context.Background())
				close(done)
			}()
			Eventually(done).Should(BeClosed())
		})
	})
})
