// Package removal applies a trained policy to a row pool in repeated passes,
// removing the rows it selects each pass until a pass selects nothing. Each
// pass scores every remaining row independently; the environment's
// sequential step semantics play no part here.
package removal

import (
	"fmt"
	"log"
	"math/rand"

	"github.com/evgrid/stationselect/internal/dataset"
)

// #region types

// Policy yields the selection probability for one feature vector. The
// network satisfies this with its evaluation-mode forward pass; tests
// substitute fixed policies.
type Policy interface {
	Prob(x []float64) (float64, error)
}

// PassRecord describes one removal pass. SelectedIndices are relative to
// the pool as it stood at the start of that pass, not to the original
// dataset; callers needing original indices must track removals themselves.
type PassRecord struct {
	Pass            int
	SelectedIndices []int
	SelectedCount   int
	PositiveCount   int
}

// #endregion types

// #region run

// Run executes removal passes over pool until a pass selects no rows, and
// returns the ordered per-pass records. The pool is mutated in place; rng
// drives the Bernoulli sampling. The policy must already be in evaluation
// mode (Policy implementations built on the network guarantee this).
// Terminates in at most pool.Size()+1 passes since every recorded pass
// removes at least one row.
func Run(pool *dataset.Pool, pol Policy, rng *rand.Rand) ([]PassRecord, error) {
	var report []PassRecord
	for pass := 1; ; pass++ {
		var selected []int
		positives := 0
		for i := 0; i < pool.Size(); i++ {
			p, err := pol.Prob(pool.Row(i))
			if err != nil {
				return report, fmt.Errorf("pass %d row %d: %w", pass, i, err)
			}
			if rng.Float64() < p {
				selected = append(selected, i)
				positives += pool.Label(i)
			}
		}

		if len(selected) == 0 {
			log.Printf("[REMOVE] Iteration %d: no instances selected, stopping.", pass)
			return report, nil
		}

		log.Printf("[REMOVE] Iteration %d: Selected %d instances, of which %d are positive.",
			pass, len(selected), positives)
		report = append(report, PassRecord{
			Pass:            pass,
			SelectedIndices: selected,
			SelectedCount:   len(selected),
			PositiveCount:   positives,
		})
		if err := pool.Remove(selected); err != nil {
			return report, fmt.Errorf("pass %d: %w", pass, err)
		}
	}
}

// #endregion run
