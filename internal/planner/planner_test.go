package planner_test

import (
	"adventure.app/engine/internal/model"
	"adventure.app/engine/internal/planner"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Planner", func() {
	var p planner.Planner

	BeforeEach(func() {
		p = planner.New()
	})

	Describe("Plan", func() {
		Context("story_length below the minimum", func() {
			It("fails with InvalidConfiguration", func() {
				_, err := p.Plan(3, 10)
				Expect(err).To(HaveOccurred())

				var engErr *model.EngineError
				Expect(err).To(BeAssignableToTypeOf(engErr))
			})
		})

		DescribeTable("universal invariants hold for story_length >= 4",
			func(storyLength, availableQuestions int) {
				result, err := p.Plan(storyLength, availableQuestions)
				Expect(err).NotTo(HaveOccurred())

				types := result.ChapterTypes
				Expect(types).To(HaveLen(storyLength))
				Expect(types[0]).To(Equal(model.ChapterTypeStory))
				Expect(types[storyLength-2]).To(Equal(model.ChapterTypeStory))
				Expect(types[storyLength-1]).To(Equal(model.ChapterTypeConclusion))

				lessonCount := 0
				for i, t := range types {
					if t == model.ChapterTypeLesson {
						lessonCount++
						if i > 0 {
							Expect(types[i-1]).NotTo(Equal(model.ChapterTypeLesson))
						}
					}
					if t == model.ChapterTypeReflect {
						Expect(i).To(BeNumerically(">", 0))
						Expect(types[i-1]).To(Equal(model.ChapterTypeLesson))
						if i+1 < len(types) {
							Expect(types[i+1]).To(Equal(model.ChapterTypeStory))
						}
					}
				}

				if lessonCount >= 2 && len(result.Warnings) == 0 {
					reflectCount := 0
					for _, t := range types {
						if t == model.ChapterTypeReflect {
							reflectCount++
						}
					}
					Expect(reflectCount).To(BeNumerically(">=", 1))
				}
			},
			Entry("length 10, ample questions", 10, 20),
			Entry("length 10, exactly enough questions", 10, 4),
			Entry("length 4, minimum length", 4, 20),
			Entry("length 5", 5, 20),
			Entry("length 20, ample questions", 20, 50),
		)

		Context("lesson question exhaustion", func() {
			It("caps LESSON count at available questions and warns", func() {
				result, err := p.Plan(10, 2)
				Expect(err).NotTo(HaveOccurred())

				lessonCount := 0
				for _, t := range result.ChapterTypes {
					if t == model.ChapterTypeLesson {
						lessonCount++
					}
				}
				Expect(lessonCount).To(BeNumerically("<=", 2))
				Expect(result.Warnings).NotTo(BeEmpty())
			})
		})

		Context("zero available questions", func() {
			It("falls back to an all-STORY/CONCLUSION middle with no LESSON chapters", func() {
				result, err := p.Plan(10, 0)
				Expect(err).NotTo(HaveOccurred())

				for i, t := range result.ChapterTypes {
					if i == len(result.ChapterTypes)-1 {
						Expect(t).To(Equal(model.ChapterTypeConclusion))
						continue
					}
					Expect(t).To(Equal(model.ChapterTypeStory))
				}
			})
		})
	})
})
