package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"adventure.app/engine/internal/gateway"
	"adventure.app/engine/internal/model"
	"adventure.app/engine/internal/planner"
	"adventure.app/engine/internal/prompt"
	"adventure.app/engine/internal/question"
	"adventure.app/engine/internal/session"
	"adventure.app/engine/internal/store"
	"adventure.app/engine/internal/telemetry"
	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// fakeTextGen streams a single narrative chapter and answers every
// CompleteJSON call with an empty object, enough to drive a connection
// through its first chapter without exercising textgen internals.
type fakeTextGen struct{}

func (fakeTextGen) StreamChapter(ctx context.Context, p prompt.Prompt) (<-chan string, <-chan string, error) {
	text := "Something happens in the clearing.\n\n[[CHOICE: a | Go north]] [[CHOICE: b | Go south]]"
	chunks := make(chan string, 1)
	chunks <- text
	close(chunks)
	final := make(chan string, 1)
	final <- text
	close(final)
	return chunks, final, nil
}

func (fakeTextGen) CompleteJSON(ctx context.Context, p prompt.Prompt) (string, error) {
	return `{}`, nil
}

type fakeImageGen struct{}

func (fakeImageGen) Generate(ctx context.Context, p string) ([]byte, error) {
	return []byte("bytes"), nil
}

type fakeVerifier struct {
	ok bool
}

func (f fakeVerifier) Verify(ctx context.Context, token string) (string, bool, error) {
	if token == "" {
		return "", true, nil
	}
	return "user-1", f.ok, nil
}

func newTestServer(verifier gateway.TokenVerifier) *httptest.Server {
	questions := question.NewMemorySource(map[string][]model.Question{
		"human-body": {{Text: "How many bones?", Answers: []string{"206", "150"}, CorrectIdx: 0}},
	})
	st := store.NewMemoryStore()

	gw := gateway.New(gateway.Config{
		Verifier: verifier,
		Store:    st,
		NewDeps: func() session.Deps {
			return session.Deps{
				Planner:       planner.New(),
				TextGen:       fakeTextGen{},
				ImageGen:      fakeImageGen{},
				Questions:     questions,
				Store:         st,
				Telemetry:     telemetry.NewMemorySink(),
				AgencyCatalog: model.DefaultAgencyCatalog,
				Environment:   "test",
			}
		},
		StoryLengthDefault: 4,
		WriteTimeout:       2 * time.Second,
	})

	router := gin.New()
	gw.RegisterRoutes(router)
	return httptest.NewServer(router)
}

func dial(server *httptest.Server, path, token string) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(server.URL, "http") + path
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	opts := &websocket.DialOptions{}
	if token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + token}}
	}
	return websocket.Dial(ctx, url, opts)
}

var _ = Describe("Gateway", func() {
	It("accepts a connection and streams the first chapter", func() {
		server := newTestServer(fakeVerifier{ok: true})
		defer server.Close()

		conn, _, err := dial(server, "/ws/enchanted_forest/human-body", "")
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		Expect(conn.Write(ctx, websocket.MessageText, []byte(`{"choice":"start"}`))).To(Succeed())

		sawChapterUpdate := false
		for i := 0; i < 10; i++ {
			readCtx, readCancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
			_, data, err := conn.Read(readCtx)
			readCancel()
			if err != nil {
				break
			}
			var msg map[string]any
			if json.Unmarshal(data, &msg) == nil && msg["type"] == "chapter_update" {
				sawChapterUpdate = true
				break
			}
		}
		Expect(sawChapterUpdate).To(BeTrue())
	})

	It("closes with a policy violation when the token is rejected", func() {
		server := newTestServer(fakeVerifier{ok: false})
		defer server.Close()

		conn, _, err := dial(server, "/ws/enchanted_forest/human-body", "bad-token")
		Expect(err).NotTo(HaveOccurred())

		readCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _, readErr := conn.Read(readCtx)
		Expect(readErr).To(HaveOccurred())
		Expect(websocket.CloseStatus(readErr)).To(Equal(websocket.StatusPolicyViolation))
	})
})
