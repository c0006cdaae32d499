//go:build property

package build

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestOrchestratorProperties validates the serialization and counter
// invariants under arbitrary trigger interleavings.
func TestOrchestratorProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(4242)
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("counter equals trigger calls and bundler never overlaps", prop.ForAll(
		func(triggers int, failEvery int) bool {
			if triggers < 1 || triggers > 16 || failEvery < 1 || failEvery > 5 {
				return true
			}

			bundler := &fakeBundler{}
			if failEvery == 1 {
				bundler.result = BundleResult{Errors: []Message{{Text: "boom"}}}
			}
			o := newTestOrchestrator(t, testConfig(t), bundler)

			var wg sync.WaitGroup
			for i := 0; i < triggers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_ = o.Trigger(context.Background())
				}()
			}
			wg.Wait()

			if o.Counter() != uint64(triggers) {
				return false
			}
			if atomic.LoadInt32(&bundler.maxActive) > 1 {
				return false
			}
			// At least one build observed every trigger.
			return bundler.callCount() >= 1 && bundler.callCount() <= triggers
		},
		gen.IntRange(1, 16),
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}
