package plugin

import (
	"context"
	"testing"

	"pgregory.net/rapid"
)

// Any sequence of lifecycle calls leaves the plugin in the state set by the
// last transition, and Execute runs work exactly when that state is enabled.
func TestLifecycleSequences(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		b := NewBase("prop")
		want := StateDisabled
		runs, wantRuns := 0, 0
		work := func(context.Context, []Value) error {
			runs++
			return nil
		}

		ops := rapid.SliceOf(rapid.SampledFrom([]string{"activate", "deactivate", "execute", "init"})).Draw(t, "ops")
		for _, op := range ops {
			switch op {
			case "activate":
				if ok, _ := b.Activate(ctx); !ok {
					t.Fatalf("activate returned false")
				}
				want = StateEnabled
			case "deactivate":
				if ok, _ := b.Deactivate(ctx); !ok {
					t.Fatalf("deactivate returned false")
				}
				want = StateDisabled
			case "init":
				_, _ = b.Init(ctx, "k=v")
			case "execute":
				ok, err := b.Run(ctx, nil, work)
				if err != nil {
					t.Fatalf("run: %v", err)
				}
				if ok != (want == StateEnabled) {
					t.Fatalf("run returned %v in state %s", ok, want)
				}
				if ok {
					wantRuns++
				}
			}
			if got := b.State(); got != want {
				t.Fatalf("after %s: state %s want %s", op, got, want)
			}
		}
		if runs != wantRuns {
			t.Fatalf("work ran %d times, want %d", runs, wantRuns)
		}
	})
}

func TestRepeatedActivationMatchesSingle(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		n := rapid.IntRange(1, 8).Draw(t, "n")
		b := NewBase("repeat")
		if rapid.Bool().Draw(t, "zero") {
			b = &Base{name: "zero"}
		}
		for i := 0; i < n; i++ {
			_, _ = b.Activate(ctx)
		}
		if b.State() != StateEnabled {
			t.Fatalf("state %s after %d activations", b.State(), n)
		}
	})
}
