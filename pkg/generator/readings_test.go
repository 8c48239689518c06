package generator_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/sadrn/pkg/generator"
)

var _ = Describe("ReadingGenerator", func() {
	profile := generator.Profile{SensorID: "water_a1", Warning: 50, Emergency: 80}

	It("should stay in the normal band without spikes", func() {
		g := generator.NewReadingGenerator(42, 0)
		v := 25.0
		for range 500 {
			r := g.Next(profile, v)
			Expect(r.Spike).To(BeFalse())
			Expect(r.Value).To(BeNumerically(">=", 0))
			Expect(r.Value).To(BeNumerically("<", profile.Warning))
			v = r.Value
		}
	})

	It("should always spike into the emergency band at probability one", func() {
		g := generator.NewReadingGenerator(7, 1)
		for range 100 {
			r := g.Next(profile, 10)
			Expect(r.Spike).To(BeTrue())
			Expect(r.Value).To(BeNumerically(">=", profile.Emergency))
			Expect(r.Value).To(BeNumerically("<=", 100))
		}
	})

	It("should be deterministic for a fixed seed", func() {
		a := generator.NewReadingGenerator(99, generator.DefaultSpikeProbability)
		b := generator.NewReadingGenerator(99, generator.DefaultSpikeProbability)
		for range 50 {
			Expect(a.Next(profile, 20)).To(Equal(b.Next(profile, 20)))
		}
	})

	It("should bring an out-of-band value back into range", func() {
		g := generator.NewReadingGenerator(3, 0)
		r := g.Next(profile, 95)
		Expect(r.Value).To(BeNumerically("<", profile.Warning))
	})
})
