package coordinator

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/drover-io/drover/pkg/protocol"
	"github.com/drover-io/drover/pkg/utils"
)

type fakeOperator struct {
	roster *protocol.Roster
	calls  int32
	errs   int32
}

func (o *fakeOperator) Register(ctx context.Context, in *protocol.RegisterRequest, opts ...grpc.CallOption) (*protocol.Roster, error) {
	atomic.AddInt32(&o.calls, 1)
	if atomic.AddInt32(&o.errs, -1) >= 0 {
		return nil, fmt.Errorf("operator not ready")
	}
	return o.roster, nil
}

func testRoster(learners, collectors int) *protocol.Roster {
	roster := &protocol.Roster{RunId: "test-run"}
	for i := 0; i < learners; i++ {
		roster.Instances = append(roster.Instances, protocol.InstanceInfo{
			Role:     protocol.RoleLearner,
			Instance: fmt.Sprintf("learner-%d", i),
		})
	}
	for i := 0; i < collectors; i++ {
		roster.Instances = append(roster.Instances, protocol.InstanceInfo{
			Role:     protocol.RoleCollector,
			Instance: fmt.Sprintf("collector-%d", i),
		})
	}
	return roster
}

func testConfig() *Config {
	return &Config{
		RunId:           "test-run",
		ConnectTimeout:  time.Second,
		ConnectAttempts: 3,
		AttachTimeout:   5 * time.Second,
		TaskTimeout:     time.Second,
		CloseTimeout:    time.Second,
		MaxIterations:   3,
		RolloutLength:   8,
	}
}

// attach dials the coordinator from a fake node, retrying until the
// run has entered the connecting state. Returns nil on timeout so it
// is safe to call from spawned goroutines.
func attach(t *testing.T, coord Coordinator, role protocol.Role, instance string) Connection {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := coord.Attach(role, instance, map[string]string{"node.os": "linux"})
		if err == nil {
			return conn
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Errorf("instance %s could not attach", instance)
	return nil
}

// spawnNode runs a fake node for one rostered instance.
func spawnNode(t *testing.T, coord Coordinator, info protocol.InstanceInfo, handle func(*protocol.TaskRequest) *protocol.TaskResult) {
	go func() {
		conn := attach(t, coord, info.Role, info.Instance)
		if conn == nil {
			return
		}
		serveNode(conn, handle)
	}()
}

func defaultBehavior(role protocol.Role) func(*protocol.TaskRequest) *protocol.TaskResult {
	if role == protocol.RoleLearner {
		return learnerBehavior()
	}
	return collectorBehavior()
}

// serveNode answers task requests the way a well behaved node would,
// until a close task or teardown.
func serveNode(conn Connection, handle func(*protocol.TaskRequest) *protocol.TaskResult) {
	for {
		select {
		case task := <-conn.Tasks():
			if task == nil {
				return
			}
			result := handle(task)
			if result != nil {
				result.TaskId = task.TaskId
				result.Kind = task.Kind
				result.Instance = task.Instance
				conn.PostResult(result)
			}
			if task.Kind == protocol.TaskClose {
				conn.Close()
				return
			}
		case <-conn.Done():
			return
		}
	}
}

func learnerBehavior() func(*protocol.TaskRequest) *protocol.TaskResult {
	var version int64

	return func(task *protocol.TaskRequest) *protocol.TaskResult {
		switch task.Kind {
		case protocol.TaskStart:
			return &protocol.TaskResult{Start: &protocol.StartInfo{}}

		case protocol.TaskDataDemand:
			return &protocol.TaskResult{Demand: &protocol.DataDemand{Count: 1, MinLength: 1}}

		case protocol.TaskLearn:
			version++
			priorities := map[string]float64{}
			for _, meta := range task.Learn.Data {
				priorities[meta.Handle] = 0.5
			}
			return &protocol.TaskResult{Learn: &protocol.LearnResult{
				Policy:     protocol.PolicyMeta{Handle: fmt.Sprintf("policy/%d", version), Version: version},
				Stats:      protocol.TrainStats{Iteration: version, Loss: 0.1},
				Priorities: priorities,
			}}

		case protocol.TaskClose:
			return &protocol.TaskResult{Close: &protocol.CloseInfo{
				FinalPolicy: &protocol.PolicyMeta{Handle: "policy/final", Version: version},
			}}
		}
		return &protocol.TaskResult{Error: "unexpected task"}
	}
}

func collectorBehavior() func(*protocol.TaskRequest) *protocol.TaskResult {
	return func(task *protocol.TaskRequest) *protocol.TaskResult {
		switch task.Kind {
		case protocol.TaskStart:
			return &protocol.TaskResult{Start: &protocol.StartInfo{}}

		case protocol.TaskCollect:
			return &protocol.TaskResult{Collect: &protocol.CollectResult{
				Data: protocol.DataMeta{
					Handle:    "stepdata/" + uuid.NewString(),
					Priority:  1.0,
					Length:    task.Collect.RolloutLength,
					CreatedAt: time.Now(),
				},
				Episode: protocol.EpisodeResult{Episodes: 1, Steps: task.Collect.RolloutLength, Reward: 1.5},
			}}

		case protocol.TaskClose:
			return &protocol.TaskResult{Close: &protocol.CloseInfo{TotalReward: 10, TotalSteps: 100}}
		}
		return &protocol.TaskResult{Error: "unexpected task"}
	}
}

func TestCoordinatorRun(t *testing.T) {
	operator := &fakeOperator{roster: testRoster(1, 2)}
	coord := NewCoordinator(testConfig(), operator)

	for _, info := range operator.roster.Instances {
		spawnNode(t, coord, info, defaultBehavior(info.Role))
	}

	err := coord.Run(context.Background())
	require.NoError(t, err)

	stats := coord.Statistics()
	assert.Equal(t, StateClosed, stats.State)
	assert.GreaterOrEqual(t, stats.LearnIterations, int64(3))
	assert.Greater(t, stats.Episodes, int64(0))
	assert.Equal(t, int64(0), stats.FailedInstances)
	assert.Equal(t, int64(0), stats.Connections)
}

func TestCoordinatorRetriesOperator(t *testing.T) {
	operator := &fakeOperator{roster: testRoster(1, 1), errs: 2}
	coord := NewCoordinator(testConfig(), operator)

	for _, info := range operator.roster.Instances {
		spawnNode(t, coord, info, defaultBehavior(info.Role))
	}

	err := coord.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&operator.calls))
}

func TestCoordinatorOperatorUnreachable(t *testing.T) {
	operator := &fakeOperator{roster: testRoster(1, 1), errs: 100}
	config := testConfig()
	config.ConnectAttempts = 2

	coord := NewCoordinator(config, operator)
	err := coord.Run(context.Background())

	require.Error(t, err)
	assert.Equal(t, StateClosed, coord.State())
}

func TestCoordinatorAttachRejectsStrangers(t *testing.T) {
	operator := &fakeOperator{roster: testRoster(1, 1)}
	config := testConfig()
	config.MaxIterations = 1

	coord := NewCoordinator(config, operator)

	for _, info := range operator.roster.Instances {
		spawnNode(t, coord, info, defaultBehavior(info.Role))
	}

	done := make(chan error, 1)
	go func() { done <- coord.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return coord.Statistics().Connections == 2
	}, 5*time.Second, 10*time.Millisecond)

	// Unknown instance and duplicate attach are both refused.
	_, err := coord.Attach(protocol.RoleCollector, "intruder", nil)
	assert.ErrorIs(t, err, utils.ErrNotFound)

	_, err = coord.Attach(protocol.RoleLearner, "learner-0", nil)
	assert.ErrorIs(t, err, utils.ErrBadRequest)

	require.NoError(t, <-done)
}

// Killing one collector mid-run must not halt the learner or the
// surviving collector.
func TestCoordinatorIsolatesFailedCollector(t *testing.T) {
	operator := &fakeOperator{roster: testRoster(1, 2)}
	config := testConfig()
	config.TaskTimeout = 300 * time.Millisecond
	config.MaxIterations = 5

	coord := NewCoordinator(config, operator)

	spawnNode(t, coord, protocol.InstanceInfo{Role: protocol.RoleLearner, Instance: "learner-0"}, learnerBehavior())
	spawnNode(t, coord, protocol.InstanceInfo{Role: protocol.RoleCollector, Instance: "collector-0"}, collectorBehavior())

	// This collector answers start, then goes silent.
	spawnNode(t, coord, protocol.InstanceInfo{Role: protocol.RoleCollector, Instance: "collector-1"},
		func(task *protocol.TaskRequest) *protocol.TaskResult {
			if task.Kind == protocol.TaskStart {
				return &protocol.TaskResult{Start: &protocol.StartInfo{}}
			}
			return nil
		})

	err := coord.Run(context.Background())
	require.NoError(t, err)

	stats := coord.Statistics()
	assert.GreaterOrEqual(t, stats.LearnIterations, int64(5))
	assert.Equal(t, int64(1), stats.FailedInstances)
}

// A collector whose link drops mid-run re-enlists and gets its loop
// back, without the run counting it failed.
func TestCoordinatorReadmitsLostCollector(t *testing.T) {
	operator := &fakeOperator{roster: testRoster(1, 2)}
	config := testConfig()
	config.MaxIterations = 0

	coord := NewCoordinator(config, operator)

	spawnNode(t, coord, protocol.InstanceInfo{Role: protocol.RoleLearner, Instance: "learner-0"}, learnerBehavior())
	spawnNode(t, coord, protocol.InstanceInfo{Role: protocol.RoleCollector, Instance: "collector-0"}, collectorBehavior())

	readmitted := make(chan struct{})
	go func() {
		conn := attach(t, coord, protocol.RoleCollector, "collector-1")
		if conn == nil {
			return
		}

		// Answer the start task and one collect, then drop the link.
		behavior := collectorBehavior()
		for i := 0; i < 2; i++ {
			task := <-conn.Tasks()
			result := behavior(task)
			result.TaskId = task.TaskId
			conn.PostResult(result)
		}
		conn.Close()

		// Re-enlist the way a node with a broken stream would.
		conn = attach(t, coord, protocol.RoleCollector, "collector-1")
		if conn == nil {
			return
		}
		close(readmitted)
		serveNode(conn, behavior)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- coord.Run(ctx) }()

	select {
	case <-readmitted:
	case <-time.After(5 * time.Second):
		t.Fatal("collector was not re-admitted")
	}

	// The fresh session serves tasks again and the failure count
	// settles back to zero.
	require.Eventually(t, func() bool {
		stats := coord.Statistics()
		return stats.FailedInstances == 0 && stats.Connections == 3
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, coord.State())
}

// Losing the last instance of a role is fatal for the run.
func TestCoordinatorFatalOnLastLearnerLost(t *testing.T) {
	operator := &fakeOperator{roster: testRoster(1, 1)}
	config := testConfig()
	config.TaskTimeout = 300 * time.Millisecond
	config.MaxIterations = 0

	coord := NewCoordinator(config, operator)

	// The learner never answers its start task.
	spawnNode(t, coord, protocol.InstanceInfo{Role: protocol.RoleLearner, Instance: "learner-0"},
		func(task *protocol.TaskRequest) *protocol.TaskResult {
			return nil
		})
	spawnNode(t, coord, protocol.InstanceInfo{Role: protocol.RoleCollector, Instance: "collector-0"}, collectorBehavior())

	err := coord.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateClosed, coord.State())
}

func TestCoordinatorCancelledContext(t *testing.T) {
	operator := &fakeOperator{roster: testRoster(1, 1)}
	config := testConfig()
	config.MaxIterations = 0

	coord := NewCoordinator(config, operator)

	for _, info := range operator.roster.Instances {
		spawnNode(t, coord, info, defaultBehavior(info.Role))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- coord.Run(ctx) }()

	// Let the run make some progress, then cancel.
	time.Sleep(300 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after context cancellation")
	}

	assert.Equal(t, StateClosed, coord.State())
}
