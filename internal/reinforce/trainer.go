// Package reinforce trains the selection policy with REINFORCE plus an
// entropy bonus: episodes are rolled out against the sequential selection
// environment, discounted returns are normalized, and one optimizer step is
// applied per episode.
package reinforce

import (
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat"

	"github.com/evgrid/stationselect/internal/policy"
	"github.com/evgrid/stationselect/internal/selection"
)

// #region errors

// ErrTrainingDiverged is returned when an episode's loss is not finite.
// Training aborts rather than silently continuing on a divergent policy.
var ErrTrainingDiverged = errors.New("reinforce: non-finite policy loss")

// #endregion errors

// #region config

// probFloor keeps log probabilities and entropy finite when the network
// output saturates toward 0 or 1.
const probFloor = 1e-9

// Config holds the training hyperparameters.
type Config struct {
	Gamma       float64 // discount factor
	Episodes    int
	Epsilon     float64 // probability of a uniform-random action
	EntropyCoef float64
	LogEvery    int // progress line interval, in episodes
}

// DefaultConfig mirrors the reference hyperparameters.
func DefaultConfig() Config {
	return Config{
		Gamma:       0.99,
		Episodes:    1000,
		Epsilon:     0.1,
		EntropyCoef: 0.01,
		LogEvery:    50,
	}
}

// #endregion config

// #region trainer

// Trainer drives the environment with actions sampled from the policy
// network and is the sole mutator of its parameters.
type Trainer struct {
	env *selection.Env
	net *policy.Network
	opt *policy.AdamW
	cfg Config
	rng *rand.Rand

	// OnEpisode, when set, observes every finished episode. Used by the CLI
	// to persist losses; never affects training.
	OnEpisode func(episode int, loss, totalReward float64)
}

// New creates a trainer. rng drives both exploration and Bernoulli sampling.
func New(env *selection.Env, net *policy.Network, opt *policy.AdamW, cfg Config, rng *rand.Rand) *Trainer {
	return &Trainer{env: env, net: net, opt: opt, cfg: cfg, rng: rng}
}

// Run trains for the configured number of episodes, mutating the network in
// place. Returns ErrTrainingDiverged (with the episode number) on a
// non-finite loss.
func (t *Trainer) Run() error {
	for ep := 1; ep <= t.cfg.Episodes; ep++ {
		loss, totalReward, err := t.episode()
		if err != nil {
			return fmt.Errorf("episode %d: %w", ep, err)
		}
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return fmt.Errorf("%w at episode %d (loss %v)", ErrTrainingDiverged, ep, loss)
		}
		if t.OnEpisode != nil {
			t.OnEpisode(ep, loss, totalReward)
		}
		if t.cfg.LogEvery > 0 && ep%t.cfg.LogEvery == 0 {
			log.Printf("[TRAIN] Episode %d, Policy Loss: %.4f", ep, loss)
		}
	}
	return nil
}

// episode rolls out one full pass over the dataset and applies a single
// policy-gradient update.
func (t *Trainer) episode() (loss, totalReward float64, err error) {
	obs, err := t.env.Reset()
	if err != nil {
		return 0, 0, err
	}

	g := policy.NewGraph(true)
	var (
		outputs    []*policy.Mat // 1x1 probability nodes, one per step
		actions    []int
		rewards    []float64
		entropySum float64
	)

	for !t.env.Terminated() {
		out, ferr := t.net.Forward(g, policy.NewColumn(obs), policy.ModeTrain)
		if ferr != nil {
			return 0, 0, ferr
		}
		p := out.W[0]

		var action int
		if t.rng.Float64() < t.cfg.Epsilon {
			action = t.rng.Intn(2)
		} else if t.rng.Float64() < p {
			action = selection.ActionSelect
		} else {
			action = selection.ActionSkip
		}

		entropySum += binaryEntropy(p)
		outputs = append(outputs, out)
		actions = append(actions, action)

		next, reward, done, serr := t.env.Step(action)
		if serr != nil {
			return 0, 0, serr
		}
		rewards = append(rewards, reward)
		totalReward += reward
		if done {
			break
		}
		obs = next
	}

	returns := DiscountedReturns(rewards, t.cfg.Gamma)
	NormalizeReturns(returns)

	steps := float64(len(rewards))
	loss = -t.cfg.EntropyCoef * entropySum / steps
	for i, out := range outputs {
		p := out.W[0] // 1x1 node
		logProb := math.Log(p + probFloor)
		dLogProb := 1.0 / (p + probFloor)
		if actions[i] == selection.ActionSkip {
			logProb = math.Log(1.0 - p + probFloor)
			dLogProb = -1.0 / (1.0 - p + probFloor)
		}
		loss += -logProb * returns[i]
		// Seed dLoss/dp: the policy-gradient term plus the entropy bonus.
		out.Dw[0] = -returns[i]*dLogProb - t.cfg.EntropyCoef*binaryEntropyDeriv(p)/steps
	}

	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		// Surface the bad loss to Run without touching the parameters.
		return loss, totalReward, nil
	}

	// Zero grad, backward, step: the documented atomic update sequence.
	t.net.ZeroGrads()
	g.Backward()
	t.opt.Step(t.net.Params())

	return loss, totalReward, nil
}

// #endregion trainer

// #region returns

// DiscountedReturns computes G_t = r_t + gamma*G_{t+1} right to left.
func DiscountedReturns(rewards []float64, gamma float64) []float64 {
	returns := make([]float64, len(rewards))
	g := 0.0
	for i := len(rewards) - 1; i >= 0; i-- {
		g = rewards[i] + gamma*g
		returns[i] = g
	}
	return returns
}

// NormalizeReturns shifts and scales returns to zero mean and unit standard
// deviation in place. The 1e-9 floor keeps constant-reward and single-step
// episodes finite: their numerators are zero, so they normalize to zero.
func NormalizeReturns(returns []float64) {
	if len(returns) == 0 {
		return
	}
	mean := stat.Mean(returns, nil)
	std := stat.StdDev(returns, nil)
	if math.IsNaN(std) { // single observation
		std = 0
	}
	for i := range returns {
		returns[i] = (returns[i] - mean) / (std + 1e-9)
	}
}

// #endregion returns

// #region entropy

// binaryEntropy is -p*log(p) - (1-p)*log(1-p) with the probability floor,
// maximal (ln 2) at p = 0.5.
func binaryEntropy(p float64) float64 {
	return -p*math.Log(p+probFloor) - (1.0-p)*math.Log(1.0-p+probFloor)
}

// binaryEntropyDeriv is dH/dp for the floored binary entropy.
func binaryEntropyDeriv(p float64) float64 {
	return -math.Log(p+probFloor) - p/(p+probFloor) +
		math.Log(1.0-p+probFloor) + (1.0-p)/(1.0-p+probFloor)
}

// #endregion entropy
