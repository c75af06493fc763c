package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/macho715/marine-weather-dashboard/pkg/logger"
)

var _ = Describe("Logger", func() {
	ctx := context.Background()

	Describe("New", func() {
		It("should default to info for an invalid level", func() {
			log := logger.New("invalid", "", false, "dev")
			Expect(log.Enabled(ctx, slog.LevelInfo)).To(BeTrue())
			Expect(log.Enabled(ctx, slog.LevelDebug)).To(BeFalse())
		})

		DescribeTable("levels",
			func(level string, enabled, disabled slog.Level) {
				log := logger.New(level, "", false, "dev")
				Expect(log.Enabled(ctx, enabled)).To(BeTrue())
				Expect(log.Enabled(ctx, disabled)).To(BeFalse())
			},
			Entry("debug", "debug", slog.LevelDebug, slog.LevelDebug-1),
			Entry("info", "INFO", slog.LevelInfo, slog.LevelDebug),
			Entry("warn", "warn", slog.LevelWarn, slog.LevelInfo),
			Entry("error", "error", slog.LevelError, slog.LevelWarn),
		)
	})

	Describe("NewWithWriter", func() {
		var buf *bytes.Buffer

		BeforeEach(func() {
			buf = &bytes.Buffer{}
		})

		It("should write JSON in prod with service and environment attributes", func() {
			log := logger.NewWithWriter(buf, "info", "", false, "prod")
			log.Info("Circuit opened", "key", "open-meteo:AEJEA")

			var line map[string]any
			Expect(json.Unmarshal(buf.Bytes(), &line)).To(Succeed())
			Expect(line).To(HaveKeyWithValue("service", "marine-weather-dashboard"))
			Expect(line).To(HaveKeyWithValue("environment", "prod"))
			Expect(line).To(HaveKeyWithValue("key", "open-meteo:AEJEA"))
		})

		It("should write text in dev", func() {
			log := logger.NewWithWriter(buf, "info", "", false, "dev")
			log.Info("hello")
			Expect(buf.String()).To(ContainSubstring("msg=hello"))
			Expect(buf.String()).To(ContainSubstring("environment=dev"))
		})

		It("should honour an explicit format", func() {
			log := logger.NewWithWriter(buf, "info", logger.FormatJSON, false, "dev")
			log.Info("hello")
			Expect(json.Valid(bytes.TrimSpace(buf.Bytes()))).To(BeTrue())
		})
	})

	Describe("Discard", func() {
		It("should drop every level", func() {
			Expect(logger.Discard().Enabled(ctx, slog.LevelError)).To(BeFalse())
		})
	})
})
