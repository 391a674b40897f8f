package store_test

import (
	"context"

	"adventure.app/engine/internal/model"
	"adventure.app/engine/internal/store"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("MemoryStore", func() {
	ctx := context.Background()

	It("round-trips a state by id", func() {
		s := store.NewMemoryStore()
		state := model.NewAdventureState("client-1", "", "enchanted_forest", "Human Body", 10, "a curious explorer")

		Expect(s.Upsert(ctx, state)).To(Succeed())
		Expect(state.AdventureID).NotTo(BeEmpty())

		got, err := s.Fetch(ctx, state.AdventureID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ClientUUID).To(Equal("client-1"))
		Expect(got.StoryCategory).To(Equal("enchanted_forest"))
	})

	It("returns ErrNotFound for an unknown id", func() {
		s := store.NewMemoryStore()
		_, err := s.Fetch(ctx, "missing")
		Expect(err).To(MatchError(store.ErrNotFound))
	})

	Describe("FindActive", func() {
		It("matches by client_uuid when user_id is empty", func() {
			s := store.NewMemoryStore()
			state := model.NewAdventureState("client-1", "", "enchanted_forest", "Human Body", 10, "protagonist")
			Expect(s.Upsert(ctx, state)).To(Succeed())

			got, err := s.FindActive(ctx, "", "client-1", "enchanted_forest", "Human Body")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.AdventureID).To(Equal(state.AdventureID))
		})

		It("ignores completed adventures", func() {
			s := store.NewMemoryStore()
			state := model.NewAdventureState("client-1", "", "enchanted_forest", "Human Body", 1, "protagonist")
			state.Chapters = append(state.Chapters, model.Chapter{ChapterType: model.ChapterTypeConclusion})
			Expect(s.Upsert(ctx, state)).To(Succeed())

			_, err := s.FindActive(ctx, "", "client-1", "enchanted_forest", "Human Body")
			Expect(err).To(MatchError(store.ErrNotFound))
		})

		It("prefers user_id over client_uuid when both are present", func() {
			s := store.NewMemoryStore()
			state := model.NewAdventureState("client-1", "user-9", "enchanted_forest", "Human Body", 10, "protagonist")
			Expect(s.Upsert(ctx, state)).To(Succeed())

			got, err := s.FindActive(ctx, "user-9", "different-client", "enchanted_forest", "Human Body")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.AdventureID).To(Equal(state.AdventureID))
		})
	})
})
