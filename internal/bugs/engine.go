package bugs

import (
	"math/rand/v2"
	"slices"
	"strings"
	"sync"

	"github.com/golang/glog"
	"github.com/shobu13/kindly-kappa/internal/edit"
)

// Outcome of one bug injection round
type Result struct {
	Strategies []string
	Mutated    string
	Ops        []edit.Replacement
}

// Engine picks strategies and turns their output into replace ops.
// Safe for concurrent use.
type Engine struct {
	mu         sync.Mutex
	rng        *rand.Rand
	strategies []Strategy
}

// Creates an engine over the given strategies, or the full registry if none
// are given. The source makes every round reproducible.
func NewEngine(src rand.Source, strategies ...Strategy) *Engine {
	if len(strategies) == 0 {
		strategies = Registry()
	}
	return &Engine{
		rng:        rand.New(src),
		strategies: strategies,
	}
}

func (e *Engine) Strategies() []Strategy {
	return e.strategies
}

// Inject applies difficulty distinct strategies to code and returns the ops
// reproducing the result. The code itself is never modified.
func (e *Engine) Inject(code string, difficulty int) Result {
	original := SplitLines(code)
	working, applied := e.mutate(original, difficulty)

	// Diff touches no engine state and runs unlocked
	ops := Diff(original, working)
	glog.V(2).Infof("[bugs] difficulty=%d strategies=%v ops=%d", difficulty, applied, len(ops))

	return Result{
		Strategies: applied,
		Mutated:    strings.Join(working, ""),
		Ops:        ops,
	}
}

// Applies the sampled strategies in turn. Each one picks its targets from the
// unmodified lines and edits the working copy.
func (e *Engine) mutate(original []string, difficulty int) ([]string, []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	working := slices.Clone(original)
	var applied []string
	for _, idx := range sample(e.rng, len(e.strategies), difficulty) {
		strategy := e.strategies[idx]
		out := strategy.Apply(original, slices.Clone(working), difficulty, e.rng)
		if len(out) != len(original) {
			glog.Errorf("[bugs] strategy %s changed the line count (%d -> %d), skipped", strategy.Name(), len(original), len(out))
			continue
		}
		working = out
		applied = append(applied, strategy.Name())
	}
	return working, applied
}
