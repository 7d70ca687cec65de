package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("DedupeCache", func() {
	var (
		mr     *miniredis.Miniredis
		client *redis.Client
		cache  *DedupeCache
		ctx    context.Context
	)

	BeforeEach(func() {
		var err error
		mr, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		cache = NewDedupeCache(client, time.Minute)
		ctx = context.Background()
	})

	AfterEach(func() {
		client.Close()
		mr.Close()
	})

	It("reports not-seen for a delivery id it has never observed", func() {
		Expect(cache.SeenRecently(ctx, "D1")).To(BeFalse())
	})

	It("reports seen after MarkSeen", func() {
		cache.MarkSeen(ctx, "D1")
		Expect(cache.SeenRecently(ctx, "D1")).To(BeTrue())
	})

	It("expires the mark after the TTL elapses", func() {
		cache.MarkSeen(ctx, "D1")
		mr.FastForward(2 * time.Minute)
		Expect(cache.SeenRecently(ctx, "D1")).To(BeFalse())
	})

	It("degrades to not-seen, not an error, once the client is closed", func() {
		client.Close()
		Expect(cache.SeenRecently(ctx, "D1")).To(BeFalse())
	})

	It("treats a nil cache as always not-seen", func() {
		var nilCache *DedupeCache
		Expect(nilCache.SeenRecently(ctx, "D1")).To(BeFalse())
		nilCache.MarkSeen(ctx, "D1") // must not panic
	})
})
