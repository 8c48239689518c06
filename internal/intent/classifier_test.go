package intent_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/sadrn/internal/intent"
	"procodus.dev/sadrn/internal/topology"
)

func boolPtr(b bool) *bool { return &b }

var _ = Describe("Intent", func() {
	Describe("Parse", func() {
		It("should accept known intents", func() {
			in, err := intent.Parse("low_latency")
			Expect(err).NotTo(HaveOccurred())
			Expect(in).To(Equal(intent.LowLatency))
		})

		It("should reject unknown intents", func() {
			_, err := intent.Parse("fastest")
			Expect(errors.Is(err, intent.ErrUnknownIntent)).To(BeTrue())
		})
	})

	DescribeTable("FromPriority",
		func(p topology.Priority, want intent.Intent) {
			Expect(intent.FromPriority(p)).To(Equal(want))
		},
		Entry("normal", topology.PriorityNormal, intent.Balanced),
		Entry("warning", topology.PriorityWarning, intent.LowLatency),
		Entry("emergency", topology.PriorityEmergency, intent.HighPriority),
	)

	Describe("WeightTable", func() {
		It("should validate the defaults", func() {
			Expect(intent.DefaultWeights().Validate()).To(Succeed())
		})

		It("should require high_priority to favour latency", func() {
			w := intent.DefaultWeights()
			w[intent.HighPriority] = intent.Weights{Latency: 0.1, Battery: 0.9}
			Expect(w.Validate()).To(HaveOccurred())
		})

		It("should require every intent", func() {
			w := intent.DefaultWeights()
			delete(w, intent.LowLatency)
			Expect(w.Validate()).To(MatchError(ContainSubstring("low_latency")))
		})

		It("should fall back to balanced for unknown intents", func() {
			Expect(intent.DefaultWeights().For("other")).To(Equal(intent.Weights{Latency: 0.4, Battery: 0.6}))
		})
	})

	Describe("Classifier", func() {
		var (
			store      *topology.Store
			classifier *intent.Classifier
		)

		BeforeEach(func() {
			store = topology.NewStore(nil)
			classifier = intent.NewClassifier()
		})

		It("should start in auto mode with balanced", func() {
			Expect(classifier.State()).To(Equal(intent.State{Intent: intent.Balanced, Auto: true}))
		})

		Context("in auto mode", func() {
			It("should follow the most severe gateway", func() {
				g, err := store.SetSensorValue("seismic_b1", 65)
				Expect(err).NotTo(HaveOccurred())

				state, changed := classifier.Reevaluate(g)
				Expect(changed).To(BeTrue())
				Expect(state.Intent).To(Equal(intent.HighPriority))

				_, changed = classifier.Reevaluate(g)
				Expect(changed).To(BeFalse())
			})

			It("should return to balanced when readings drop", func() {
				g, _ := store.SetSensorValue("rain_a2", 45)
				state, _ := classifier.Reevaluate(g)
				Expect(state.Intent).To(Equal(intent.LowLatency))

				g, _ = store.SetSensorValue("rain_a2", 10)
				state, changed := classifier.Reevaluate(g)
				Expect(changed).To(BeTrue())
				Expect(state.Intent).To(Equal(intent.Balanced))
			})
		})

		Context("in manual mode", func() {
			It("should hold the operator intent until auto is re-enabled", func() {
				state, changed, err := classifier.Set("low_latency", boolPtr(false), store.Snapshot())
				Expect(err).NotTo(HaveOccurred())
				Expect(changed).To(BeTrue())
				Expect(state).To(Equal(intent.State{Intent: intent.LowLatency, Auto: false}))

				g, _ := store.SetSensorValue("water_a1", 90)
				state, changed = classifier.Reevaluate(g)
				Expect(changed).To(BeFalse())
				Expect(state.Intent).To(Equal(intent.LowLatency))

				state, changed, err = classifier.Set("", boolPtr(true), g)
				Expect(err).NotTo(HaveOccurred())
				Expect(changed).To(BeTrue())
				Expect(state).To(Equal(intent.State{Intent: intent.HighPriority, Auto: true}))
			})

			It("should treat an omitted auto flag with an intent as manual", func() {
				state, _, err := classifier.Set("high_priority", nil, store.Snapshot())
				Expect(err).NotTo(HaveOccurred())
				Expect(state.Auto).To(BeFalse())
				Expect(state.Intent).To(Equal(intent.HighPriority))
			})

			It("should ignore the explicit intent when auto is requested", func() {
				state, _, err := classifier.Set("high_priority", boolPtr(true), store.Snapshot())
				Expect(err).NotTo(HaveOccurred())
				Expect(state).To(Equal(intent.State{Intent: intent.Balanced, Auto: true}))
			})

			It("should change nothing for an empty request", func() {
				state, changed, err := classifier.Set("", nil, store.Snapshot())
				Expect(err).NotTo(HaveOccurred())
				Expect(changed).To(BeFalse())
				Expect(state.Auto).To(BeTrue())
			})
		})

		It("should leave state untouched on an unknown intent", func() {
			_, _, err := classifier.Set("warp", boolPtr(false), store.Snapshot())
			Expect(errors.Is(err, intent.ErrUnknownIntent)).To(BeTrue())
			Expect(classifier.State()).To(Equal(intent.State{Intent: intent.Balanced, Auto: true}))
		})

		It("should reset to auto balanced", func() {
			_, _, _ = classifier.Set("high_priority", boolPtr(false), store.Snapshot())
			classifier.Reset()
			Expect(classifier.State()).To(Equal(intent.State{Intent: intent.Balanced, Auto: true}))
		})
	})
})
