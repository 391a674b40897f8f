package question_test

import (
	"context"

	"adventure.app/engine/internal/model"
	"adventure.app/engine/internal/question"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("MemorySource", func() {
	var src question.Source
	ctx := context.Background()

	BeforeEach(func() {
		src = question.NewMemorySource(map[string][]model.Question{
			"Human Body": {
				{Text: "Which organ pumps blood?", Answers: []string{"Heart", "Liver"}, CorrectIdx: 0},
				{Text: "How many bones in an adult body?", Answers: []string{"206", "150"}, CorrectIdx: 0},
			},
		})
	})

	It("samples a question not in the exclude set", func() {
		q, err := src.Sample(ctx, "Human Body", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(q).NotTo(BeNil())
	})

	It("never returns an excluded question", func() {
		exclude := map[string]struct{}{"Which organ pumps blood?": {}}
		for i := 0; i < 10; i++ {
			q, err := src.Sample(ctx, "Human Body", exclude)
			Expect(err).NotTo(HaveOccurred())
			Expect(q.Text).NotTo(Equal("Which organ pumps blood?"))
		}
	})

	It("reports ErrExhausted once every question is excluded", func() {
		exclude := map[string]struct{}{
			"Which organ pumps blood?":          {},
			"How many bones in an adult body?": {},
		}
		_, err := src.Sample(ctx, "Human Body", exclude)
		Expect(err).To(MatchError(question.ErrExhausted))
	})

	It("reports the correct available count", func() {
		count, err := src.AvailableCount(ctx, "Human Body", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(2))
	})
})
