package coordinator

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/protocol"
	"github.com/drover-io/drover/pkg/utils"
)

// instanceLoop dispatches a connection to the loop of its role.
func (c *coordinator) instanceLoop(conn *connection, wg *sync.WaitGroup) {
	switch conn.role {
	case protocol.RoleLearner:
		c.learnLoop(conn, wg)
	case protocol.RoleCollector:
		c.collectLoop(conn, wg)
	default:
		wg.Done()
	}
}

// The learn loop for one learner instance:
// start, then repeat {data demand, learn} until the run stops,
// then close. Strictly one request in flight at a time; a failure
// removes this instance without disturbing the others.
func (c *coordinator) learnLoop(conn *connection, wg *sync.WaitGroup) {
	defer wg.Done()

	start := &protocol.TaskRequest{
		Kind: protocol.TaskStart,
		Start: &protocol.StartConfig{
			PolicyConfig: c.config.PolicyConfig,
		},
	}
	if _, err := c.execute(conn, start, c.config.TaskTimeout, c.stop); err != nil {
		c.abortInstance(conn, err)
		return
	}

	for !c.stopped() {
		demand, err := c.demandData(conn)
		if err != nil {
			c.abortInstance(conn, err)
			return
		}
		if demand == nil {
			break
		}

		metas, err := c.registry.Take(c.stop, demand.Count, demand.MinLength)
		if err != nil {
			break
		}

		learn := &protocol.TaskRequest{
			Kind:  protocol.TaskLearn,
			Learn: &protocol.LearnDirective{Data: metas},
		}
		result, err := c.execute(conn, learn, c.config.TaskTimeout, c.stop)
		if err != nil {
			c.registry.Requeue(metas, nil)
			c.abortInstance(conn, err)
			return
		}
		if result.Learn == nil {
			c.registry.Requeue(metas, nil)
			c.failInstance(conn, fmt.Errorf("malformed learn result"))
			return
		}

		c.registry.Requeue(metas, result.Learn.Priorities)
		c.publishPolicy(result.Learn)

		log.Debugf("end - learn - iteration: %d, loss: %f, samples: %d - instance: %s",
			result.Learn.Stats.Iteration, result.Learn.Stats.Loss, result.Learn.Stats.Samples, conn.instance)

		iteration := atomic.AddInt64(&c.numIterations, 1)
		if c.config.MaxIterations > 0 && iteration >= c.config.MaxIterations {
			log.Infof("run - iteration budget spent: %d - id: %s", iteration, c.config.RunId)
			c.initiateStop(nil)
			break
		}
	}

	c.closeInstance(conn)
}

// demandData asks the learner how much data it wants next.
// Returns nil, nil when the run stopped while asking.
func (c *coordinator) demandData(conn *connection) (*protocol.DataDemand, error) {
	request := &protocol.TaskRequest{Kind: protocol.TaskDataDemand}
	result, err := c.execute(conn, request, c.config.TaskTimeout, c.stop)
	if err == utils.ErrTerminalRun {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if result.Demand == nil || result.Demand.Count <= 0 {
		return nil, fmt.Errorf("malformed data demand")
	}
	return result.Demand, nil
}

// publishPolicy records a new policy snapshot and fans it out to
// the collect loops.
func (c *coordinator) publishPolicy(learn *protocol.LearnResult) {
	policy := learn.Policy
	atomic.StoreInt64(&c.policyVersion, policy.Version)
	c.policies.Send(&policy)
}

// The collect loop for one collector instance:
// start, then repeat collect rollouts with the freshest policy until
// the run stops, then close.
func (c *coordinator) collectLoop(conn *connection, wg *sync.WaitGroup) {
	defer wg.Done()

	consumer := c.policies.NewConsumer()
	defer consumer.Close()

	start := &protocol.TaskRequest{
		Kind: protocol.TaskStart,
		Start: &protocol.StartConfig{
			PolicyConfig:  c.config.PolicyConfig,
			EnvConfig:     c.config.EnvConfig,
			RolloutLength: c.config.RolloutLength,
		},
	}
	if _, err := c.execute(conn, start, c.config.TaskTimeout, c.stop); err != nil {
		c.abortInstance(conn, err)
		return
	}

	var policy *protocol.PolicyMeta

	for !c.stopped() {
		policy = latestPolicy(consumer, policy)

		collect := &protocol.TaskRequest{
			Kind: protocol.TaskCollect,
			Collect: &protocol.CollectDirective{
				Policy:        policy,
				RolloutLength: c.config.RolloutLength,
			},
		}
		result, err := c.execute(conn, collect, c.config.TaskTimeout, c.stop)
		if err == utils.ErrTerminalRun {
			break
		}
		if err != nil {
			c.abortInstance(conn, err)
			return
		}
		if result.Collect == nil {
			c.failInstance(conn, fmt.Errorf("malformed collect result"))
			return
		}

		c.registry.Add(result.Collect.Data)
		atomic.AddInt64(&c.numEpisodes, int64(result.Collect.Episode.Episodes))
		atomic.AddInt64(&c.numEnvSteps, int64(result.Collect.Episode.Steps))

		log.Debugf("end - collect - steps: %d, reward: %f - instance: %s",
			result.Collect.Episode.Steps, result.Collect.Episode.Reward, conn.instance)
	}

	c.closeInstance(conn)
}

// latestPolicy drains the broadcast channel down to the freshest
// snapshot without blocking.
func latestPolicy(consumer *utils.BroadcastConsumer[*protocol.PolicyMeta], current *protocol.PolicyMeta) *protocol.PolicyMeta {
	for {
		select {
		case policy, ok := <-consumer.Chan:
			if !ok {
				return current
			}
			current = policy
		default:
			return current
		}
	}
}

// abortInstance distinguishes a run shutdown from an instance
// failure: the former still deserves an orderly close task.
func (c *coordinator) abortInstance(conn *connection, err error) {
	if err == utils.ErrTerminalRun {
		c.closeInstance(conn)
		return
	}
	c.failInstance(conn, err)
}

// closeInstance delivers the close task and tears the connection
// down. Deliverable even while other work is outstanding.
func (c *coordinator) closeInstance(conn *connection) {
	request := &protocol.TaskRequest{Kind: protocol.TaskClose}
	result, err := c.execute(conn, request, c.config.CloseTimeout, nil)

	switch {
	case err != nil:
		log.Warnf("nok - close - %v - instance: %s", err, conn.instance)
	case result.Close == nil:
		log.Warnf("nok - close - empty close info - instance: %s", conn.instance)
	case conn.role == protocol.RoleLearner && result.Close.FinalPolicy != nil:
		log.Infof("end - instance - final policy: %s (v%d) - instance: %s",
			result.Close.FinalPolicy.Handle, result.Close.FinalPolicy.Version, conn.instance)
	default:
		log.Infof("end - instance - reward: %f, steps: %d - instance: %s",
			result.Close.TotalReward, result.Close.TotalSteps, conn.instance)
	}

	conn.Close()
}
