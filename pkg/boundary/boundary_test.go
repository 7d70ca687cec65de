package boundary

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/khenson99/ralph-loop-orchestrator-sub000/pkg/metrics"
)

func TestBoundary(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Boundary Wrapper Suite")
}

var _ = Describe("With", func() {
	var w *Wrapper

	BeforeEach(func() {
		w = New(otel.Tracer("ralph-test"), zap.NewNop())
	})

	It("returns the value and records a success metric", func() {
		before := testutil.ToFloat64(metrics.OrchestrationBoundaryCallsTotal.WithLabelValues("hosting.get-issue", "success"))

		value, err := With(context.Background(), w, "hosting.get-issue", Attrs{RunID: "run-1"}, func(ctx context.Context) (string, error) {
			return "issue-context", nil
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(value).To(Equal("issue-context"))
		after := testutil.ToFloat64(metrics.OrchestrationBoundaryCallsTotal.WithLabelValues("hosting.get-issue", "success"))
		Expect(after).To(Equal(before + 1.0))
	})

	It("re-raises the error and records an error metric, observing duration either way", func() {
		boom := errors.New("boom")
		beforeErr := testutil.ToFloat64(metrics.OrchestrationBoundaryCallsTotal.WithLabelValues("hosting.get-issue-fail", "error"))
		beforeHist := testutil.CollectAndCount(metrics.OrchestrationBoundaryDurationMs)

		_, err := With(context.Background(), w, "hosting.get-issue-fail", Attrs{}, func(ctx context.Context) (string, error) {
			return "", boom
		})

		Expect(err).To(HaveOccurred())
		afterErr := testutil.ToFloat64(metrics.OrchestrationBoundaryCallsTotal.WithLabelValues("hosting.get-issue-fail", "error"))
		Expect(afterErr).To(Equal(beforeErr + 1.0))

		afterHist := testutil.CollectAndCount(metrics.OrchestrationBoundaryDurationMs)
		Expect(afterHist).To(BeNumerically(">", beforeHist-1))
	})
})
