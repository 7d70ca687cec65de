package orchestrator

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/khenson99/ralph-loop-orchestrator-sub000/pkg/webhook"
)

func TestOrchestrator(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Orchestrator Suite")
}

var _ = Describe("Queue", func() {
	It("enqueues and delivers envelopes in FIFO order", func() {
		q := NewQueue(2)

		Expect(q.Enqueue(webhook.Envelope{EventID: "e1"})).To(Succeed())
		Expect(q.Enqueue(webhook.Envelope{EventID: "e2"})).To(Succeed())

		Expect((<-q.Chan()).EventID).To(Equal("e1"))
		Expect((<-q.Chan()).EventID).To(Equal("e2"))
	})

	It("returns ErrQueueFull once the buffer is saturated", func() {
		q := NewQueue(1)

		Expect(q.Enqueue(webhook.Envelope{EventID: "e1"})).To(Succeed())
		err := q.Enqueue(webhook.Envelope{EventID: "e2"})

		Expect(err).To(MatchError(ErrQueueFull))
	})
})
