package session_test

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"adventure.app/engine/internal/model"
	"adventure.app/engine/internal/planner"
	"adventure.app/engine/internal/prompt"
	"adventure.app/engine/internal/question"
	"adventure.app/engine/internal/session"
	"adventure.app/engine/internal/store"
	"adventure.app/engine/internal/telemetry"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// fakeTextGen scripts StreamChapter/CompleteJSON output by inspecting the
// composed prompt, and records concurrent CompleteJSON calls so the
// streaming-priority regression guard (spec.md §8 scenario 5) can assert
// zero overlap with an active stream.
type fakeTextGen struct {
	inStream               int32
	concurrentDuringStream int32
}

func (f *fakeTextGen) StreamChapter(ctx context.Context, p prompt.Prompt) (<-chan string, <-chan string, error) {
	atomic.AddInt32(&f.inStream, 1)
	defer atomic.AddInt32(&f.inStream, -1)

	var text string
	switch {
	case strings.Contains(p.User, "final chapter"):
		text = "The journey ends peacefully."
	case strings.Contains(p.User, "Weave the following question"):
		text = "A lesson moment unfolds, testing your knowledge."
	default:
		text = "Something happens in the clearing.\n\n[[CHOICE: a | Go north]] [[CHOICE: b | Go south]] [[CHOICE: c | Go east]]"
	}

	chunks := make(chan string, 1)
	chunks <- text
	close(chunks)
	final := make(chan string, 1)
	final <- text
	close(final)

	// Give any concurrently-running deferred/background goroutine a chance
	// to (incorrectly) invoke CompleteJSON while this stream is active.
	time.Sleep(5 * time.Millisecond)

	return chunks, final, nil
}

func (f *fakeTextGen) CompleteJSON(ctx context.Context, p prompt.Prompt) (string, error) {
	if atomic.LoadInt32(&f.inStream) > 0 {
		atomic.AddInt32(&f.concurrentDuringStream, 1)
	}

	switch {
	case strings.Contains(p.System, "summarize story chapters"):
		return `{"title":"A Step Forward","summary":"Our hero pressed on."}`, nil
	case strings.Contains(p.System, "track visual descriptions"):
		return `{}`, nil
	case strings.Contains(p.System, "visually striking moment"):
		return `{"scene":"a duel at dusk","mood":"tense"}`, nil
	case strings.Contains(p.System, "image-generation prompt"):
		return `{"prompt":"an illustrated duel at dusk"}`, nil
	default:
		return `{}`, nil
	}
}

type fakeImageGen struct{}

func (fakeImageGen) Generate(ctx context.Context, prompt string) ([]byte, error) {
	return []byte("image-bytes"), nil
}

func newDeps(textgenFake *fakeTextGen) (session.Deps, *telemetry.MemorySink) {
	questions := question.NewMemorySource(map[string][]model.Question{
		"Human Body": {
			{Text: "How many bones?", Answers: []string{"206", "150"}, CorrectIdx: 0},
			{Text: "What pumps blood?", Answers: []string{"Heart", "Lungs"}, CorrectIdx: 0},
			{Text: "What organ filters blood?", Answers: []string{"Kidney", "Liver"}, CorrectIdx: 0},
		},
	})

	sink := telemetry.NewMemorySink()

	return session.Deps{
		Planner:       planner.New(),
		TextGen:       textgenFake,
		ImageGen:      fakeImageGen{},
		Questions:     questions,
		Store:         store.NewMemoryStore(),
		Telemetry:     sink,
		AgencyCatalog: model.DefaultAgencyCatalog,
		Environment:   "test",
	}, sink
}

func drainFrames(out <-chan session.Frame, timeout time.Duration) []session.Frame {
	var frames []session.Frame
	deadline := time.After(timeout)
	for {
		select {
		case f, ok := <-out:
			if !ok {
				return frames
			}
			frames = append(frames, f)
		case <-deadline:
			return frames
		case <-time.After(20 * time.Millisecond):
			return frames
		}
	}
}

var _ = Describe("Engine", func() {
	It("drives a short adventure from start to summary_ready", func() {
		ctx := context.Background()
		fake := &fakeTextGen{}
		deps, _ := newDeps(fake)
		storyState := model.NewAdventureState("client-1", "", "enchanted_forest", "Human Body", 4, "a curious explorer")

		eng := session.New(ctx, deps, storyState)

		Expect(eng.HandleInbound(ctx, []byte(`{"choice":"start"}`))).To(Succeed())
		frames := drainFrames(eng.Outbound(), 200*time.Millisecond)
		Expect(len(frames)).To(BeNumerically(">", 0))

		for i := 0; i < 3; i++ {
			err := eng.HandleInbound(ctx, []byte(`{"choice":{"chosen_path":"a","choice_text":"Go north"}}`))
			Expect(err).NotTo(HaveOccurred())
			drainFrames(eng.Outbound(), 100*time.Millisecond)
		}

		Expect(eng.HandleInbound(ctx, []byte(`{"choice":"reveal_summary"}`))).To(Succeed())
		drainFrames(eng.Outbound(), 200*time.Millisecond)

		Expect(atomic.LoadInt32(&fake.concurrentDuringStream)).To(Equal(int32(0)))
	})

	It("accepts the same choice frame a second time without error", func() {
		ctx := context.Background()
		fake := &fakeTextGen{}
		deps, _ := newDeps(fake)
		storyState := model.NewAdventureState("client-1", "", "enchanted_forest", "Human Body", 4, "a curious explorer")
		eng := session.New(ctx, deps, storyState)

		Expect(eng.HandleInbound(ctx, []byte(`{"choice":"start"}`))).To(Succeed())
		drainFrames(eng.Outbound(), 100*time.Millisecond)

		err1 := eng.HandleInbound(ctx, []byte(`{"choice":{"chosen_path":"a","choice_text":"Go north"}}`))
		Expect(err1).NotTo(HaveOccurred())
		drainFrames(eng.Outbound(), 100*time.Millisecond)

		err2 := eng.HandleInbound(ctx, []byte(`{"choice":{"chosen_path":"a","choice_text":"Go north"}}`))
		Expect(err2).NotTo(HaveOccurred())
	})
})
