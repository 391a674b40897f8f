package scheduler_test

import (
	"context"
	"sync/atomic"
	"time"

	"adventure.app/engine/internal/scheduler"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Scheduler", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("never overlaps a deferred task with an active streaming run", func() {
		s := scheduler.New(ctx)
		defer s.Cancel()

		var concurrent int32
		var maxConcurrent int32

		streamStarted := make(chan struct{})
		streamDone := make(chan struct{})

		go func() {
			_ = s.RunStreaming(ctx, func(ctx context.Context) error {
				n := atomic.AddInt32(&concurrent, 1)
				bump(&maxConcurrent, n)
				close(streamStarted)
				time.Sleep(50 * time.Millisecond)
				atomic.AddInt32(&concurrent, -1)
				return nil
			})
			close(streamDone)
		}()

		<-streamStarted
		s.EnqueueDeferred(scheduler.KindSummarization, func(ctx context.Context) error {
			n := atomic.AddInt32(&concurrent, 1)
			bump(&maxConcurrent, n)
			atomic.AddInt32(&concurrent, -1)
			return nil
		})

		<-streamDone
		s.Wait()

		Expect(atomic.LoadInt32(&maxConcurrent)).To(Equal(int32(1)))
	})

	It("runs deferred tasks FIFO", func() {
		s := scheduler.New(ctx)
		defer s.Cancel()

		var order []int
		done := make(chan struct{})

		for i := 0; i < 3; i++ {
			i := i
			s.EnqueueDeferred(scheduler.KindVisualUpdate, func(ctx context.Context) error {
				order = append(order, i)
				if i == 2 {
					close(done)
				}
				return nil
			})
		}

		<-done
		s.Wait()
		Expect(order).To(Equal([]int{0, 1, 2}))
	})

	It("allows RunConcurrent to proceed during an active stream", func() {
		s := scheduler.New(ctx)
		defer s.Cancel()

		streamStarted := make(chan struct{})
		release := make(chan struct{})

		go func() {
			_ = s.RunStreaming(ctx, func(ctx context.Context) error {
				close(streamStarted)
				<-release
				return nil
			})
		}()

		<-streamStarted

		concurrentRan := make(chan struct{})
		err := s.RunConcurrent(ctx, scheduler.KindImagePipeline, func(ctx context.Context) error {
			close(concurrentRan)
			return nil
		})
		Expect(err).NotTo(HaveOccurred())

		Eventually(concurrentRan).Should(BeClosed())
		close(release)
	})
})

func bump(max *int32, n int32) {
	for {
		cur := atomic.LoadInt32(max)
		if n <= cur || atomic.CompareAndSwapInt32(max, cur, n) {
			return
		}
	}
}
