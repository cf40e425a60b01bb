package node

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/middleware"
	"github.com/drover-io/drover/pkg/protocol"
	"github.com/drover-io/drover/pkg/utils"
)

// The collector role. Owns the environment interaction: collect
// tasks roll the current policy out against the environment and
// publish the recorded transitions as step data.
type collector struct {
	config *Config
	store  middleware.Middleware
	env    Environment
	agent  Agent

	mu            sync.Mutex
	started       bool
	policyVersion int64
	obs           []float32
	totalReward   float64
	totalSteps    int
}

func NewCollector(config *Config, store middleware.Middleware, env Environment, agent Agent) Role {
	return &collector{
		config: config,
		store:  store,
		env:    env,
		agent:  agent,
	}
}

func (c *collector) Start(config *protocol.StartConfig) (*protocol.StartInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A start after a lost link re-delivers the same answer without
	// resetting the episode in progress.
	if !c.started {
		c.started = true

		if config.Policy != nil {
			if err := c.load(config.Policy); err != nil {
				return nil, err
			}
		}

		obs, err := c.env.Reset()
		if err != nil {
			return nil, fmt.Errorf("env reset: %w", err)
		}
		c.obs = obs
	}

	return &protocol.StartInfo{
		Instance: c.config.Instance,
		Role:     protocol.RoleCollector,
		Platform: LoadPlatform(),
	}, nil
}

func (c *collector) Handle(task *protocol.TaskRequest) (*protocol.TaskResult, error) {
	if task.Kind != protocol.TaskCollect || task.Collect == nil {
		return nil, utils.ErrBadRequest
	}
	return c.collect(task.Collect)
}

// collect runs one rollout. At most one collect task is in flight
// at a time, so the environment and agent need no locking; only the
// totals shared with Close do.
func (c *collector) collect(directive *protocol.CollectDirective) (*protocol.TaskResult, error) {
	if directive.Policy != nil && directive.Policy.Version > c.policyVersion {
		if err := c.load(directive.Policy); err != nil {
			return nil, err
		}
	}

	length := directive.RolloutLength
	if length <= 0 {
		return nil, utils.ErrBadRequest
	}

	began := time.Now()
	transitions := make([]Transition, 0, length)
	episode := protocol.EpisodeResult{}

	for len(transitions) < length {
		action, err := c.agent.Act(c.obs)
		if err != nil {
			return nil, fmt.Errorf("act: %w", err)
		}

		obs, reward, done, err := c.env.Step(action)
		if err != nil {
			return nil, fmt.Errorf("env step: %w", err)
		}

		transitions = append(transitions, Transition{
			Obs:    c.obs,
			Action: action,
			Reward: reward,
			Done:   done,
		})

		episode.Reward += reward
		c.obs = obs

		if done {
			episode.Episodes++
			if c.obs, err = c.env.Reset(); err != nil {
				return nil, fmt.Errorf("env reset: %w", err)
			}
		}
	}

	episode.Steps = len(transitions)
	episode.Duration = time.Since(began)
	if episode.Duration > 0 {
		episode.EnvStepsPerS = float64(episode.Steps) / episode.Duration.Seconds()
	}

	c.mu.Lock()
	c.totalReward += episode.Reward
	c.totalSteps += episode.Steps
	c.mu.Unlock()

	meta, err := c.publish(transitions, episode.Reward)
	if err != nil {
		return nil, err
	}

	return &protocol.TaskResult{
		Collect: &protocol.CollectResult{
			Data:    *meta,
			Episode: episode,
		},
	}, nil
}

// publish stores the recorded transitions as a step data payload.
// Fresh data gets the mean absolute reward as its initial sampling
// priority so surprising rollouts are learned from first.
func (c *collector) publish(transitions []Transition, reward float64) (*protocol.DataMeta, error) {
	payload, err := json.Marshal(transitions)
	if err != nil {
		return nil, fmt.Errorf("encode step data: %w", err)
	}

	stored, err := c.store.Publish(protocol.PayloadStepData, payload)
	if err != nil {
		return nil, fmt.Errorf("publish step data: %w", err)
	}

	return &protocol.DataMeta{
		Handle:    stored.Handle,
		Priority:  math.Abs(reward) / float64(len(transitions)),
		Length:    len(transitions),
		Size:      stored.Size,
		Collector: c.config.Instance,
		CreatedAt: time.Now(),
	}, nil
}

// load fetches a policy snapshot and hands it to the agent.
func (c *collector) load(policy *protocol.PolicyMeta) error {
	stateDict, err := c.store.Fetch(policy.Handle)
	if err != nil {
		return fmt.Errorf("fetch policy %s: %w", policy.Handle, err)
	}

	if err := c.agent.Load(stateDict); err != nil {
		return fmt.Errorf("load policy: %w", err)
	}

	c.policyVersion = policy.Version
	log.Debugf("policy updated to v%d", policy.Version)
	return nil
}

func (c *collector) Close() (*protocol.CloseInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return &protocol.CloseInfo{
		TotalReward: c.totalReward,
		TotalSteps:  c.totalSteps,
	}, nil
}
