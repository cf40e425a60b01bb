package main

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/drover-io/drover/pkg/node"
	"github.com/drover-io/drover/pkg/pipeline"
	"github.com/drover-io/drover/pkg/protocol"
)

// Built-in reference task used when the node runs without external
// algorithm code. A point chases a random target on a 2d plane and
// the policy is a linear map from the 4d observation to a velocity.

const (
	simObsSize = 4
	simActSize = 2
)

type simStateDict struct {
	Weights []float64 `json:"weights"`
}

type simEnvironment struct {
	rand   *rand.Rand
	pos    [2]float64
	target [2]float64
}

func newSimEnvironment() *simEnvironment {
	return &simEnvironment{
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (e *simEnvironment) Reset() ([]float32, error) {
	e.pos = [2]float64{}
	e.target = [2]float64{
		e.rand.Float64()*2 - 1,
		e.rand.Float64()*2 - 1,
	}
	return e.observe(), nil
}

func (e *simEnvironment) Step(action []float32) ([]float32, float64, bool, error) {
	if len(action) != simActSize {
		return nil, 0, false, fmt.Errorf("expected %d action values, got %d", simActSize, len(action))
	}

	for i := range e.pos {
		e.pos[i] += clip(float64(action[i]), -0.1, 0.1)
	}

	dist := math.Hypot(e.target[0]-e.pos[0], e.target[1]-e.pos[1])
	done := dist < 0.05

	reward := -dist
	if done {
		reward += 1
	}

	return e.observe(), reward, done, nil
}

func (e *simEnvironment) observe() []float32 {
	return []float32{
		float32(e.pos[0]), float32(e.pos[1]),
		float32(e.target[0]), float32(e.target[1]),
	}
}

// linearAgent applies a weight matrix to the observation, with a
// little exploration noise.
type linearAgent struct {
	rand    *rand.Rand
	weights []float64
	noise   float64
}

func newLinearAgent() *linearAgent {
	return &linearAgent{
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
		weights: make([]float64, simActSize*simObsSize),
		noise:   0.05,
	}
}

func (a *linearAgent) Load(stateDict []byte) error {
	var dict simStateDict
	if err := json.Unmarshal(stateDict, &dict); err != nil {
		return err
	}
	if len(dict.Weights) != simActSize*simObsSize {
		return fmt.Errorf("expected %d weights, got %d", simActSize*simObsSize, len(dict.Weights))
	}

	a.weights = dict.Weights
	return nil
}

func (a *linearAgent) Act(obs []float32) ([]float32, error) {
	if len(obs) != simObsSize {
		return nil, fmt.Errorf("expected %d observation values, got %d", simObsSize, len(obs))
	}

	action := make([]float32, simActSize)
	for row := 0; row < simActSize; row++ {
		sum := a.rand.NormFloat64() * a.noise
		for col := 0; col < simObsSize; col++ {
			sum += a.weights[row*simObsSize+col] * float64(obs[col])
		}
		action[row] = float32(sum)
	}

	return action, nil
}

// simTrainStep nudges the weight matrix along a reward weighted
// regression of the recorded actions.
type simTrainStep struct {
	iteration    int64
	weights      []float64
	learningRate float64
}

func newSimTrainStep() *simTrainStep {
	return &simTrainStep{
		weights:      make([]float64, simActSize*simObsSize),
		learningRate: 0.01,
	}
}

func (s *simTrainStep) Step(batch *pipeline.Batch) (*node.StepResult, error) {
	transitions := make([]node.Transition, 0, len(batch.Records))
	for _, record := range batch.Records {
		t, err := node.TransitionFromRecord(record)
		if err != nil {
			return nil, err
		}
		transitions = append(transitions, *t)
	}

	// Mean reward across the batch is the advantage baseline.
	var rewardSum float64
	count := len(transitions)
	for _, t := range transitions {
		rewardSum += t.Reward
	}
	if count == 0 {
		return nil, fmt.Errorf("no transitions in batch %d", batch.Seq)
	}
	baseline := rewardSum / float64(count)

	grad := make([]float64, len(s.weights))
	var advSum float64

	for _, t := range transitions {
		if len(t.Obs) != simObsSize || len(t.Action) != simActSize {
			return nil, fmt.Errorf("transition shape mismatch: obs %d, action %d", len(t.Obs), len(t.Action))
		}

		adv := t.Reward - baseline
		advSum += math.Abs(adv)

		for row := 0; row < simActSize; row++ {
			for col := 0; col < simObsSize; col++ {
				grad[row*simObsSize+col] += adv * float64(t.Action[row]) * float64(t.Obs[col])
			}
		}
	}

	var gradNorm float64
	for i := range grad {
		grad[i] /= float64(count)
		gradNorm += grad[i] * grad[i]
		s.weights[i] += s.learningRate * grad[i]
	}
	gradNorm = math.Sqrt(gradNorm)

	stateDict, err := json.Marshal(&simStateDict{Weights: s.weights})
	if err != nil {
		return nil, err
	}

	s.iteration++

	return &node.StepResult{
		Stats: protocol.TrainStats{
			Iteration: s.iteration,
			Loss:      -baseline,
			GradNorm:  gradNorm,
			Samples:   count,
		},
		Priority:    advSum / float64(count),
		StateDict:   stateDict,
		Hyperparams: map[string]float64{"learning_rate": s.learningRate},
	}, nil
}

func clip(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
