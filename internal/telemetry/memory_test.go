package telemetry_test

import (
	"context"

	"adventure.app/engine/internal/telemetry"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("MemorySink", func() {
	It("records events with their attrs intact", func() {
		sink := telemetry.NewMemorySink()
		ctx := context.Background()

		err := sink.Emit(ctx, telemetry.Event{
			Type:        telemetry.EventChapterViewed,
			AdventureID: "adv-1",
			Environment: "test",
			Attrs: map[string]any{
				"chapter_number": 3,
				"chapter_type":   "LESSON",
				"duration_ms":    1200,
			},
		})
		Expect(err).NotTo(HaveOccurred())

		events := sink.Events()
		Expect(events).To(HaveLen(1))
		Expect(events[0].Type).To(Equal(telemetry.EventChapterViewed))
		Expect(events[0].Attrs["chapter_number"]).To(Equal(3))
	})

	It("accumulates events in emission order", func() {
		sink := telemetry.NewMemorySink()
		ctx := context.Background()

		_ = sink.Emit(ctx, telemetry.Event{Type: telemetry.EventAdventureStarted, AdventureID: "adv-1"})
		_ = sink.Emit(ctx, telemetry.Event{Type: telemetry.EventPlannerWarning, AdventureID: "adv-1"})

		events := sink.Events()
		Expect(events).To(HaveLen(2))
		Expect(events[0].Type).To(Equal(telemetry.EventAdventureStarted))
		Expect(events[1].Type).To(Equal(telemetry.EventPlannerWarning))
	})
})
