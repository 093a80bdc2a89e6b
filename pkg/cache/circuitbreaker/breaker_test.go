package circuitbreaker

import (
	"errors"
	"math/rand"
	"time"

	facterrors "github.com/dgraft/factengine/pkg/shared/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var errBoom = errors.New("boom")

func fails() (interface{}, error) { return nil, errBoom }
func succeeds() (interface{}, error) { return "ok", nil }

var _ = Describe("Breaker", func() {
	Describe("boundary: failure_threshold = 1", func() {
		It("opens immediately on the first failure", func() {
			b := New(Config{
				FailureThreshold:     1,
				SuccessThreshold:     1,
				TimeoutSeconds:       60,
				RollingWindowSeconds: 60,
				RecoveryFactor:       1.0,
			}, nil)

			_, err := b.Call(fails)
			Expect(err).To(Equal(errBoom))
			Expect(b.State()).To(Equal(StateOpen))
		})
	})

	Describe("Open state", func() {
		It("fails fast with CircuitOpen without invoking the operation", func() {
			b := New(Config{
				FailureThreshold:     1,
				SuccessThreshold:     1,
				TimeoutSeconds:       60,
				RollingWindowSeconds: 60,
				RecoveryFactor:       1.0,
			}, nil)
			_, _ = b.Call(fails)
			Expect(b.State()).To(Equal(StateOpen))

			calls := 0
			_, err := b.Call(func() (interface{}, error) {
				calls++
				return "unreachable", nil
			})
			Expect(err).To(Equal(facterrors.ErrCacheCircuitOpen))
			Expect(calls).To(Equal(0))
		})
	})

	Describe("HalfOpen recovery", func() {
		It("closes again after success_threshold consecutive admitted successes", func() {
			b := New(Config{
				FailureThreshold:     1,
				SuccessThreshold:     2,
				TimeoutSeconds:       1,
				RollingWindowSeconds: 60,
				RecoveryFactor:       1.0,
			}, nil)
			_, _ = b.Call(fails)
			Expect(b.State()).To(Equal(StateOpen))

			time.Sleep(1100 * time.Millisecond)
			Expect(b.State()).To(Equal(StateHalfOpen))

			_, err := b.Call(succeeds)
			Expect(err).NotTo(HaveOccurred())

			_, err = b.Call(succeeds)
			Expect(err).NotTo(HaveOccurred())

			Expect(b.State()).To(Equal(StateClosed))
		})

		It("reopens on any half-open failure", func() {
			b := New(Config{
				FailureThreshold:     1,
				SuccessThreshold:     2,
				TimeoutSeconds:       1,
				RollingWindowSeconds: 60,
				RecoveryFactor:       1.0,
			}, nil)
			_, _ = b.Call(fails)
			time.Sleep(1100 * time.Millisecond)
			Expect(b.State()).To(Equal(StateHalfOpen))

			_, err := b.Call(fails)
			Expect(err).To(Equal(errBoom))
			Expect(b.State()).To(Equal(StateOpen))
		})

		It("rejects every admission attempt when recovery_factor is 0", func() {
			b := New(Config{
				FailureThreshold:     1,
				SuccessThreshold:     1,
				TimeoutSeconds:       1,
				RollingWindowSeconds: 60,
				RecoveryFactor:       0.0,
			}, nil)
			_, _ = b.Call(fails)
			time.Sleep(1100 * time.Millisecond)
			Expect(b.State()).To(Equal(StateHalfOpen))

			calls := 0
			_, err := b.Call(func() (interface{}, error) {
				calls++
				return "unreachable", nil
			})
			Expect(err).To(Equal(facterrors.ErrCacheCircuitOpen))
			Expect(calls).To(Equal(0))

			metrics := b.GetMetrics()
			Expect(metrics.RecoveryRejected).To(BeNumerically(">", 0))
		})

		It("admits a fractional recovery_factor according to an injected deterministic RNG", func() {
			b := New(Config{
				FailureThreshold:     1,
				SuccessThreshold:     1000, // stays half-open for the whole sample below
				TimeoutSeconds:       1,
				RollingWindowSeconds: 60,
				RecoveryFactor:       0.5,
				RNG:                  rand.New(rand.NewSource(42)),
			}, nil)
			_, _ = b.Call(fails)
			time.Sleep(1100 * time.Millisecond)
			Expect(b.State()).To(Equal(StateHalfOpen))

			admitted, rejected := 0, 0
			for i := 0; i < 200; i++ {
				_, err := b.Call(succeeds)
				if err == facterrors.ErrCacheCircuitOpen {
					rejected++
				} else {
					admitted++
				}
			}
			// With RecoveryFactor 0.5 over 200 samples, both outcomes are
			// overwhelmingly likely to appear regardless of seed.
			Expect(admitted).To(BeNumerically(">", 0))
			Expect(rejected).To(BeNumerically(">", 0))
		})
	})

	Describe("GetMetrics", func() {
		It("reports a rolling FailureRate over recent outcomes", func() {
			b := New(Config{
				FailureThreshold:     100,
				SuccessThreshold:     1,
				TimeoutSeconds:       60,
				RollingWindowSeconds: 60,
				RecoveryFactor:       1.0,
			}, nil)

			_, _ = b.Call(succeeds)
			_, _ = b.Call(succeeds)
			_, _ = b.Call(succeeds)
			_, _ = b.Call(fails)

			metrics := b.GetMetrics()
			Expect(metrics.FailureRate).To(BeNumerically("~", 0.25, 0.001))
		})
	})
})
