package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/sadrn/pkg/logger"
)

var _ = Describe("Logger", func() {
	var buf *bytes.Buffer

	BeforeEach(func() {
		buf = &bytes.Buffer{}
	})

	decode := func() map[string]any {
		var entry map[string]any
		Expect(json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry)).To(Succeed())
		return entry
	}

	Describe("New", func() {
		It("should fall back to defaults for a nil config", func() {
			Expect(logger.New(nil)).NotTo(BeNil())
		})

		It("should write JSON records with the service attribute", func() {
			l := logger.New(&logger.Config{Output: buf, Service: "controller"})
			l.Info("route recomputed", "gateway", "gw_a")

			entry := decode()
			Expect(entry).To(HaveKeyWithValue("msg", "route recomputed"))
			Expect(entry).To(HaveKeyWithValue("level", "INFO"))
			Expect(entry).To(HaveKeyWithValue("service", "controller"))
			Expect(entry).To(HaveKeyWithValue("gateway", "gw_a"))
			Expect(entry).To(HaveKey("time"))
		})

		It("should write text records when asked", func() {
			l := logger.New(&logger.Config{Output: buf, Format: logger.FormatText})
			l.Info("hello")
			Expect(buf.String()).To(ContainSubstring("msg=hello"))
		})

		It("should honour the level", func() {
			l := logger.New(&logger.Config{Output: buf, Level: slog.LevelWarn})
			l.Info("quiet")
			Expect(buf.Len()).To(BeZero())
			l.Warn("loud")
			Expect(buf.String()).To(ContainSubstring("loud"))
		})

		It("should include the source when enabled", func() {
			l := logger.New(&logger.Config{Output: buf, AddSource: true})
			l.Info("with source")
			Expect(decode()).To(HaveKey("source"))
		})
	})

	DescribeTable("ParseLevel",
		func(in string, want slog.Level) {
			Expect(logger.ParseLevel(in)).To(Equal(want))
		},
		Entry("debug", "debug", slog.LevelDebug),
		Entry("upper case", "DEBUG", slog.LevelDebug),
		Entry("info", "info", slog.LevelInfo),
		Entry("warn", "warn", slog.LevelWarn),
		Entry("warning", "warning", slog.LevelWarn),
		Entry("error", "error", slog.LevelError),
		Entry("unknown", "verbose", slog.LevelInfo),
	)

	DescribeTable("ParseFormat",
		func(in string, want logger.Format) {
			Expect(logger.ParseFormat(in)).To(Equal(want))
		},
		Entry("text", "text", logger.FormatText),
		Entry("mixed case", " Text ", logger.FormatText),
		Entry("json", "json", logger.FormatJSON),
		Entry("empty", "", logger.FormatJSON),
	)

	Describe("Component", func() {
		It("should tag records", func() {
			l := logger.Component(logger.New(&logger.Config{Output: buf}), "failover")
			l.Info("switch failed")
			Expect(decode()).To(HaveKeyWithValue("component", "failover"))
		})
	})

	Describe("WithContext", func() {
		It("should add context fields to every message", func() {
			l := logger.WithContext(logger.New(&logger.Config{Output: buf}),
				slog.String("gateway", "gw_b"),
				slog.Int("hops", 3),
			)
			l.Info("first")
			l.Info("second")

			lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
			Expect(lines).To(HaveLen(2))
			for _, line := range lines {
				Expect(line).To(ContainSubstring(`"gateway":"gw_b"`))
				Expect(line).To(ContainSubstring(`"hops":3`))
			}
		})
	})

	It("should discard output", func() {
		Expect(logger.Discard().Enabled(context.Background(), slog.LevelError)).To(BeTrue())
	})
})
