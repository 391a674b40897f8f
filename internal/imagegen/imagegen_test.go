package imagegen

import (
	"context"
	"errors"

	"adventure.app/engine/internal/model"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type fakeProvider struct {
	attempts int
	fn       func(attempt int) ([]byte, error)
}

func (f *fakeProvider) generateImage(ctx context.Context, prompt string) ([]byte, error) {
	f.attempts++
	return f.fn(f.attempts)
}

var _ = Describe("ImageGenerator", func() {
	ctx := context.Background()

	It("returns bytes on first success", func() {
		p := &fakeProvider{fn: func(attempt int) ([]byte, error) {
			return []byte("image-bytes"), nil
		}}
		gen := newWithProvider(p)

		out, err := gen.Generate(ctx, "a scene")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal([]byte("image-bytes")))
		Expect(p.attempts).To(Equal(1))
	})

	It("retries transient failures and succeeds", func() {
		p := &fakeProvider{fn: func(attempt int) ([]byte, error) {
			if attempt < 3 {
				return nil, errors.New("503 upstream unavailable")
			}
			return []byte("ok"), nil
		}}
		gen := newWithProvider(p)

		out, err := gen.Generate(ctx, "a scene")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal([]byte("ok")))
		Expect(p.attempts).To(Equal(3))
	})

	It("surfaces ImageUnavailable after exhausting retries", func() {
		p := &fakeProvider{fn: func(attempt int) ([]byte, error) {
			return nil, errors.New("persistent failure")
		}}
		gen := newWithProvider(p)

		_, err := gen.Generate(ctx, "a scene")
		Expect(err).To(HaveOccurred())

		var engineErr *model.EngineError
		Expect(errors.As(err, &engineErr)).To(BeTrue())
		Expect(engineErr.Kind).To(Equal(model.ErrImageUnavailable))
		Expect(p.attempts).To(Equal(maxAttempts))
	})

	It("stops retrying when the context is cancelled during backoff", func() {
		cancelCtx, cancel := context.WithCancel(ctx)
		p := &fakeProvider{fn: func(attempt int) ([]byte, error) {
			if attempt == 1 {
				cancel()
			}
			return nil, errors.New("fails")
		}}
		gen := newWithProvider(p)

		_, err := gen.Generate(cancelCtx, "a scene")
		Expect(err).To(HaveOccurred())
		Expect(p.attempts).To(Equal(1))
	})
})
