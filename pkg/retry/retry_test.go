package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/khenson99/ralph-loop-orchestrator-sub000/internal/errors"
)

func TestRetry(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Retry Engine Suite")
}

func fastOptions() Options {
	return Options{Retries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

var _ = Describe("With", func() {
	ctx := context.Background()

	It("returns the value on first-attempt success without retrying", func() {
		calls := 0
		result, err := With(ctx, "op", fastOptions(), func(attempt int) (string, error) {
			calls++
			return "ok", nil
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(result.Value).To(Equal("ok"))
		Expect(calls).To(Equal(1))
	})

	It("retries a transient error until it succeeds within budget", func() {
		calls := 0
		result, err := With(ctx, "op", fastOptions(), func(attempt int) (string, error) {
			calls++
			if attempt < 3 {
				return "", apperrors.New(apperrors.ErrorTypeNetwork, "connection reset")
			}
			return "recovered", nil
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(result.Value).To(Equal("recovered"))
		Expect(calls).To(Equal(3))
	})

	It("raises Exhausted once the retry budget runs out", func() {
		calls := 0
		_, err := With(ctx, "op", fastOptions(), func(attempt int) (string, error) {
			calls++
			return "", apperrors.New(apperrors.ErrorTypeNetwork, "still failing")
		})

		Expect(err).To(HaveOccurred())
		var exhausted *Exhausted
		Expect(errors.As(err, &exhausted)).To(BeTrue())
		Expect(exhausted.Attempts).To(Equal(3)) // 1 + Retries(2)
		Expect(exhausted.LastError).To(HaveOccurred())
	})

	It("short-circuits immediately on a deterministic error", func() {
		calls := 0
		_, err := With(ctx, "op", fastOptions(), func(attempt int) (string, error) {
			calls++
			return "", apperrors.NewValidationError("malformed payload")
		})

		Expect(err).To(HaveOccurred())
		var exhausted *Exhausted
		Expect(errors.As(err, &exhausted)).To(BeTrue())
		Expect(exhausted.Attempts).To(Equal(1))
		Expect(calls).To(Equal(1))
	})

	It("honors a custom classifier", func() {
		classify := func(err error) apperrors.RetryClass { return apperrors.RetryPermanent }
		calls := 0
		_, err := With(ctx, "op", Options{Retries: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Classify: classify},
			func(attempt int) (string, error) {
				calls++
				return "", errors.New("boom")
			})

		Expect(err).To(HaveOccurred())
		Expect(calls).To(Equal(1))
	})

	It("stops retrying when the context is canceled", func() {
		cctx, cancel := context.WithCancel(ctx)
		calls := 0
		cancel()
		_, err := With(cctx, "op", fastOptions(), func(attempt int) (string, error) {
			calls++
			return "", apperrors.New(apperrors.ErrorTypeNetwork, "down")
		})

		Expect(err).To(HaveOccurred())
		Expect(calls).To(BeNumerically("<=", 1))
	})
})
