package prompt_test

import (
	"adventure.app/engine/internal/model"
	"adventure.app/engine/internal/prompt"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ComposeChapter", func() {
	var state *model.AdventureState

	BeforeEach(func() {
		state = model.NewAdventureState("client-1", "", "enchanted_forest", "Human Body", 10, "a curious traveler")
		state.PlannedChapterTypes = []model.ChapterType{
			model.ChapterTypeStory, model.ChapterTypeLesson, model.ChapterTypeReflect, model.ChapterTypeStory,
			model.ChapterTypeStory, model.ChapterTypeLesson, model.ChapterTypeStory, model.ChapterTypeStory,
			model.ChapterTypeStory, model.ChapterTypeConclusion,
		}
	})

	It("includes the exact question text for a LESSON chapter", func() {
		q := &model.Question{Text: "Which organ pumps blood through the body?", Answers: []string{"Heart", "Liver"}, CorrectIdx: 0}
		p := prompt.ComposeChapter(state, 1, q, nil)
		Expect(p.User).To(ContainSubstring(q.Text))
		Expect(p.User).NotTo(ContainSubstring("[[CHOICE:"))
	})

	It("requests three choice markers for a later STORY chapter", func() {
		p := prompt.ComposeChapter(state, 3, nil, nil)
		Expect(p.User).To(ContainSubstring("[[CHOICE:"))
	})

	It("omits choice instructions for CONCLUSION", func() {
		p := prompt.ComposeChapter(state, 9, nil, nil)
		Expect(p.User).NotTo(ContainSubstring("[[CHOICE:"))
	})

	It("injects the agency catalog as Chapter 1's fixed choices", func() {
		p := prompt.ComposeChapter(state, 0, nil, model.DefaultAgencyCatalog)
		Expect(p.User).To(ContainSubstring("[[CHOICE:"))
		Expect(p.User).To(ContainSubstring("Do not invent, reword, reorder"))
	})

	It("includes the prior chapter's chosen option", func() {
		state.Chapters = append(state.Chapters, model.Chapter{
			ChapterNumber: 1,
			ChapterType:   model.ChapterTypeStory,
			Content:       "The forest loomed ahead.",
			Response:      &model.Response{ChosenPath: "a", ChoiceText: "Step into the mist"},
		})
		p := prompt.ComposeChapter(state, 1, nil, nil)
		Expect(p.User).To(ContainSubstring("Step into the mist"))
	})
})

var _ = Describe("ComposeImageSynthesis", func() {
	It("includes agency visual details when set", func() {
		agency := &model.Agency{Name: "Element Bender", VisualDetails: "a swirling figure with sparking hands"}
		p := prompt.ComposeImageSynthesis("a clash at the bridge", "a curious traveler", agency, nil, "cold tension")
		Expect(p.User).To(ContainSubstring("Element Bender"))
		Expect(p.User).To(ContainSubstring("a swirling figure with sparking hands"))
	})
})
