package textgen_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"adventure.app/engine/common/llm"
	"adventure.app/engine/internal/prompt"
	"adventure.app/engine/internal/textgen"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// fakeAgentClient is a test double recording concurrency and letting each
// test script its own responses.
type fakeAgentClient struct {
	chatFn   func(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error)
	streamFn func(ctx context.Context, req llm.AgentRequest) (<-chan llm.StreamChunk, error)

	inFlight  int32
	maxInFlight int32
}

func (f *fakeAgentClient) ChatWithTools(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		cur := atomic.LoadInt32(&f.maxInFlight)
		if n <= cur || atomic.CompareAndSwapInt32(&f.maxInFlight, cur, n) {
			break
		}
	}
	return f.chatFn(ctx, req)
}

func (f *fakeAgentClient) StreamChat(ctx context.Context, req llm.AgentRequest) (<-chan llm.StreamChunk, error) {
	return f.streamFn(ctx, req)
}

func (f *fakeAgentClient) Model() string { return "fake-model" }

func chunkChannel(pieces []string) <-chan llm.StreamChunk {
	ch := make(chan llm.StreamChunk, len(pieces)+1)
	for _, p := range pieces {
		ch <- llm.StreamChunk{Delta: p}
	}
	ch <- llm.StreamChunk{Done: true}
	close(ch)
	return ch
}

var _ = Describe("TextGenerator", func() {
	ctx := context.Background()

	Describe("StreamChapter", func() {
		It("forwards chunks immediately and sends a final text after close", func() {
			client := &fakeAgentClient{
				streamFn: func(ctx context.Context, req llm.AgentRequest) (<-chan llm.StreamChunk, error) {
					return chunkChannel([]string{"Once ", "upon ", "a time."}), nil
				},
			}
			gen := textgen.New(client, 1000)

			chunks, final, err := gen.StreamChapter(ctx, prompt.Prompt{System: "sys", User: "usr"})
			Expect(err).NotTo(HaveOccurred())

			var got strings.Builder
			for c := range chunks {
				got.WriteString(c)
			}
			Expect(got.String()).To(Equal("Once upon a time."))

			finalText, ok := <-final
			Expect(ok).To(BeTrue())
			Expect(finalText).To(Equal("Once upon a time."))
		})

		It("does not block chunk delivery on the quality-gate analysis", func() {
			longText := strings.Repeat("word ", 100) // > 150 bytes, no paragraph breaks
			client := &fakeAgentClient{
				streamFn: func(ctx context.Context, req llm.AgentRequest) (<-chan llm.StreamChunk, error) {
					return chunkChannel([]string{longText}), nil
				},
				chatFn: func(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
					return &llm.AgentResponse{Content: "Reformatted.\n\nWith breaks.\n\nAnd more.\n\nStill more."}, nil
				},
			}
			gen := textgen.New(client, 1000)

			chunks, final, err := gen.StreamChapter(ctx, prompt.Prompt{System: "sys", User: "usr"})
			Expect(err).NotTo(HaveOccurred())

			received := ""
			for c := range chunks {
				received += c
			}
			Expect(received).To(Equal(longText))

			finalText := <-final
			Expect(finalText).To(ContainSubstring("Reformatted."))
		})
	})

	Describe("CompleteJSON", func() {
		It("retries transient errors and succeeds", func() {
			attempts := 0
			client := &fakeAgentClient{
				chatFn: func(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
					attempts++
					if attempts < 2 {
						return nil, errors.New("503 Service Unavailable")
					}
					return &llm.AgentResponse{Content: `{"ok":true}`}, nil
				},
			}
			gen := textgen.New(client, 1000)

			out, err := gen.CompleteJSON(ctx, prompt.Prompt{System: "sys", User: "usr"})
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(`{"ok":true}`))
			Expect(attempts).To(Equal(2))
		})

		It("surfaces TextGenerationFailed after persistent non-retryable errors", func() {
			client := &fakeAgentClient{
				chatFn: func(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
					return nil, errors.New("401 invalid api key")
				},
			}
			gen := textgen.New(client, 1000)

			_, err := gen.CompleteJSON(ctx, prompt.Prompt{System: "sys", User: "usr"})
			Expect(err).To(HaveOccurred())
		})
	})
})
