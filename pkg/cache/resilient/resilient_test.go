package resilient

import (
	"context"
	"fmt"
	"strings"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/dgraft/factengine/pkg/cache"
	"github.com/dgraft/factengine/pkg/cache/circuitbreaker"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("word%d", i)
	}
	return strings.Join(parts, " ")
}

func newBreaker() *circuitbreaker.Breaker {
	return circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold:     3,
		SuccessThreshold:     1,
		TimeoutSeconds:       60,
		RollingWindowSeconds: 60,
		RecoveryFactor:       1.0,
	}, nil)
}

var _ = Describe("Cache", func() {
	var (
		mgr *cache.Manager
		ctx context.Context
	)

	BeforeEach(func() {
		var err error
		mgr, err = cache.New(cache.Config{MinTokens: 0, MaxSizeBytes: 1 << 20, TTLSeconds: 3600}, nil)
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()
	})

	Describe("local-only operation (no remote configured)", func() {
		It("serves a local hit without a remote backend", func() {
			rc := New(mgr, newBreaker(), nil, Config{}, nil)
			defer rc.Shutdown()

			hash := rc.GenerateHash("q1")
			_, err := rc.Store(ctx, hash, words(10))
			Expect(err).NotTo(HaveOccurred())

			entry, ok := rc.Get(ctx, hash)
			Expect(ok).To(BeTrue())
			Expect(entry.Content).To(Equal(words(10)))
		})

		It("reports a miss for an unknown hash", func() {
			rc := New(mgr, newBreaker(), nil, Config{}, nil)
			defer rc.Shutdown()

			_, ok := rc.Get(ctx, rc.GenerateHash("never stored"))
			Expect(ok).To(BeFalse())
		})
	})

	Describe("remote overflow tier", func() {
		var (
			mr     *miniredis.Miniredis
			client *redis.Client
		)

		BeforeEach(func() {
			var err error
			mr, err = miniredis.Run()
			Expect(err).NotTo(HaveOccurred())
			client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		})

		AfterEach(func() {
			_ = client.Close()
			mr.Close()
		})

		It("promotes a remote-only entry into the local tier on read", func() {
			rc := New(mgr, newBreaker(), client, Config{RemoteKeyPrefix: "fact:test"}, nil)
			defer rc.Shutdown()

			hash := rc.GenerateHash("remote query")
			_, err := rc.Store(ctx, hash, words(10))
			Expect(err).NotTo(HaveOccurred())

			// A fresh local manager simulates the local entry having been
			// evicted, leaving only the remote copy.
			freshMgr, err := cache.New(cache.Config{MinTokens: 0, MaxSizeBytes: 1 << 20, TTLSeconds: 3600}, nil)
			Expect(err).NotTo(HaveOccurred())
			rc2 := New(freshMgr, newBreaker(), client, Config{RemoteKeyPrefix: "fact:test"}, nil)
			defer rc2.Shutdown()

			entry, ok := rc2.Get(ctx, hash)
			Expect(ok).To(BeTrue())
			Expect(entry.Content).To(Equal(words(10)))

			// Now resident locally without a second remote round-trip.
			local, ok := freshMgr.Get(hash)
			Expect(ok).To(BeTrue())
			Expect(local.Content).To(Equal(words(10)))
		})

		It("treats a remote miss as a plain miss", func() {
			rc := New(mgr, newBreaker(), client, Config{RemoteKeyPrefix: "fact:test"}, nil)
			defer rc.Shutdown()

			_, ok := rc.Get(ctx, rc.GenerateHash("nowhere"))
			Expect(ok).To(BeFalse())
		})
	})

	Describe("circuit breaker shielding", func() {
		It("treats an open circuit as a miss without panicking", func() {
			breaker := circuitbreaker.New(circuitbreaker.Config{
				FailureThreshold:     1,
				SuccessThreshold:     1,
				TimeoutSeconds:       60,
				RollingWindowSeconds: 60,
				RecoveryFactor:       1.0,
			}, nil)

			mr, err := miniredis.Run()
			Expect(err).NotTo(HaveOccurred())
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			mr.Close() // backend now unreachable

			rc := New(mgr, breaker, client, Config{RemoteKeyPrefix: "fact:test"}, nil)
			defer rc.Shutdown()
			defer client.Close()

			hash := rc.GenerateHash("whatever")
			_, ok := rc.Get(ctx, hash)
			Expect(ok).To(BeFalse())
			Expect(breaker.State()).To(Equal(circuitbreaker.StateOpen))

			// Further calls short-circuit without touching Redis again.
			_, ok = rc.Get(ctx, hash)
			Expect(ok).To(BeFalse())
		})
	})
})
