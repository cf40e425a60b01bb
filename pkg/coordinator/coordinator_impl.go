package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/protocol"
	"github.com/drover-io/drover/pkg/utils"
)

type coordinator struct {
	sync.RWMutex

	config   *Config
	operator protocol.OperatorClient

	state  State
	roster *protocol.Roster

	// Map of instance id to connection.
	connections map[string]*connection

	// Map of instance id to the error that failed it.
	failed map[string]error

	// Signalled when an instance attaches.
	attached chan struct{}

	// Connections admitted after the per-instance loops were spawned,
	// which only happens when a node re-enlists over a lost link.
	// Run's respawner picks them up and restarts their loop.
	reattached   chan *connection
	loopsStarted bool

	registry *replayRegistry
	policies *utils.Broadcast[*protocol.PolicyMeta]

	// Closed to stop the per-instance loops.
	stop     chan struct{}
	stopOnce sync.Once
	fatalErr error

	numConnections    int64
	numFailed         int64
	numIssuedTasks    int64
	numCompletedTasks int64
	numFailedTasks    int64
	numIterations     int64
	numEpisodes       int64
	numEnvSteps       int64
	policyVersion     int64
}

// NewCoordinator creates a coordinator for one training run. The
// operator client is consumed once, during the connecting state, to
// obtain the roster of expected instances.
func NewCoordinator(config *Config, operator protocol.OperatorClient) Coordinator {
	config.SetDefaults()

	return &coordinator{
		config:      config,
		operator:    operator,
		state:       StateInit,
		connections: map[string]*connection{},
		failed:      map[string]error{},
		attached:    make(chan struct{}, 1),
		reattached:  make(chan *connection, 16),
		registry:    newReplayRegistry(),
		policies:    utils.NewBroadcast[*protocol.PolicyMeta](),
		stop:        make(chan struct{}),
	}
}

func (c *coordinator) State() State {
	c.RLock()
	defer c.RUnlock()
	return c.state
}

func (c *coordinator) setState(state State) {
	c.Lock()
	c.state = state
	c.Unlock()
	log.Infof("run - state: %s - id: %s", state, c.config.RunId)
}

// Attach registers a node session, called from the gRPC service when
// a node enlists. Only instances present in the operator roster are
// admitted, and only while the run accepts connections.
func (c *coordinator) Attach(role protocol.Role, instance string, platform map[string]string) (Connection, error) {
	if !role.Valid() {
		return nil, utils.ErrNoSuchRole
	}

	c.Lock()
	defer c.Unlock()

	switch c.state {
	case StateConnecting, StateRunning:
	default:
		return nil, utils.ErrTerminalRun
	}

	if !c.rostered(role, instance) {
		log.Debugf("nok - attach - not in roster - instance: %s, role: %s", instance, role)
		return nil, utils.ErrNotFound
	}

	if _, ok := c.connections[instance]; ok {
		log.Debugf("nok - attach - already attached - instance: %s", instance)
		return nil, utils.ErrBadRequest
	}

	// An instance failed over a lost link may come back; any other
	// failure is final for it.
	if err, ok := c.failed[instance]; ok {
		if !errors.Is(err, utils.ErrConnectionLost) {
			log.Debugf("nok - attach - instance failed earlier: %v - instance: %s", err, instance)
			return nil, utils.ErrTerminalRun
		}
		delete(c.failed, instance)
		atomic.AddInt64(&c.numFailed, -1)
	}

	conn := newConnection(c, role, instance, platform)
	c.connections[instance] = conn
	atomic.AddInt64(&c.numConnections, 1)

	if c.loopsStarted {
		select {
		case c.reattached <- conn:
		default:
			// Respawner backlog full, let the node retry later.
			delete(c.connections, instance)
			atomic.AddInt64(&c.numConnections, -1)
			return nil, utils.ErrBadRequest
		}
	}

	log.Infof("new - connection - instance: %s, role: %s, session: %s", instance, role, conn.Id())

	select {
	case c.attached <- struct{}{}:
	default:
	}

	return conn, nil
}

func (c *coordinator) rostered(role protocol.Role, instance string) bool {
	if c.roster == nil {
		return false
	}
	for _, info := range c.roster.Instances {
		if info.Instance == instance && info.Role == role {
			return true
		}
	}
	return false
}

func (c *coordinator) removeConnection(conn *connection) {
	c.Lock()
	defer c.Unlock()

	if current, ok := c.connections[conn.instance]; ok && current == conn {
		delete(c.connections, conn.instance)
		atomic.AddInt64(&c.numConnections, -1)
		log.Infof("del - connection - instance: %s, session: %s", conn.instance, conn.Id())
	}
}

// Run drives the run state machine:
// init -> connecting -> running -> closing -> closed.
// The closing transition is guaranteed even when running exits with
// an error.
func (c *coordinator) Run(ctx context.Context) error {
	defer c.shutdown()

	c.setState(StateConnecting)

	roster, err := c.register(ctx)
	if err != nil {
		c.initiateStop(err)
		return err
	}

	c.Lock()
	c.roster = roster
	c.Unlock()

	if err := c.awaitAttachments(ctx); err != nil {
		c.initiateStop(err)
		return err
	}

	c.setState(StateRunning)

	// Stop the loops when the caller cancels.
	go func() {
		select {
		case <-ctx.Done():
			c.initiateStop(nil)
		case <-c.stop:
		}
	}()

	var wg sync.WaitGroup
	c.Lock()
	for _, conn := range c.connections {
		wg.Add(1)
		go c.instanceLoop(conn, &wg)
	}
	c.loopsStarted = true
	c.Unlock()

	// Loops for instances re-admitted after a lost link. The
	// respawner holds a wait group slot of its own, so adding loops
	// from here races neither with Wait below nor with itself.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case conn := <-c.reattached:
				wg.Add(1)
				go c.instanceLoop(conn, &wg)
			case <-c.stop:
				return
			}
		}
	}()

	wg.Wait()

	c.RLock()
	err = c.fatalErr
	c.RUnlock()
	return err
}

// register obtains the roster from the operator, retrying a bounded
// number of times.
func (c *coordinator) register(ctx context.Context) (*protocol.Roster, error) {
	var lastErr error

	for attempt := 1; attempt <= c.config.ConnectAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
		roster, err := c.operator.Register(callCtx, &protocol.RegisterRequest{RunId: c.config.RunId})
		cancel()

		if err == nil {
			if len(roster.Instances) == 0 {
				return nil, utils.ErrRosterEmpty
			}
			log.Infof("new - roster - instances: %d, learners: %d, collectors: %d",
				len(roster.Instances),
				roster.CountByRole(protocol.RoleLearner),
				roster.CountByRole(protocol.RoleCollector))
			return roster, nil
		}

		lastErr = err
		log.Warnf("nok - operator register attempt %d/%d: %v", attempt, c.config.ConnectAttempts, err)

		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("operator unreachable: %w", lastErr)
}

// awaitAttachments blocks until every rostered instance has attached.
func (c *coordinator) awaitAttachments(ctx context.Context) error {
	timeout := time.After(c.config.AttachTimeout)

	for {
		c.RLock()
		missing := len(c.roster.Instances) - len(c.connections)
		c.RUnlock()

		if missing == 0 {
			return nil
		}

		select {
		case <-c.attached:
		case <-timeout:
			return fmt.Errorf("%d instance(s) did not attach within %v", missing, c.config.AttachTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// initiateStop asks all loops to wind down. The first fatal error
// wins; a nil error is a regular stop.
func (c *coordinator) initiateStop(err error) {
	c.Lock()
	if err != nil && c.fatalErr == nil {
		c.fatalErr = err
	}
	c.Unlock()

	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *coordinator) shutdown() {
	c.setState(StateClosing)
	c.initiateStop(nil)

	c.Lock()
	connections := []*connection{}
	for _, conn := range c.connections {
		connections = append(connections, conn)
	}
	c.Unlock()

	for _, conn := range connections {
		conn.Close()
	}

	c.policies.Close()
	c.setState(StateClosed)
}

// execute issues one task and bookkeeps its outcome. A result
// carrying an error message is returned as an error here so the
// loops have one failure path.
func (c *coordinator) execute(conn *connection, request *protocol.TaskRequest, timeout time.Duration, cancel <-chan struct{}) (*protocol.TaskResult, error) {
	atomic.AddInt64(&c.numIssuedTasks, 1)
	log.Tracef("new - task - kind: %s, instance: %s, status: %s", request.Kind, conn.instance, protocol.TaskStatusIssued)

	result, err := conn.execute(request, timeout, cancel)
	status := taskStatus(result, err)
	log.Tracef("end - task - kind: %s, instance: %s, status: %s", request.Kind, conn.instance, status)

	if err != nil {
		if status.IsError() {
			atomic.AddInt64(&c.numFailedTasks, 1)
		}
		return nil, err
	}

	if !result.Ok() {
		atomic.AddInt64(&c.numFailedTasks, 1)
		return nil, fmt.Errorf("%s task rejected by %s: %s", request.Kind, conn.instance, result.Error)
	}

	atomic.AddInt64(&c.numCompletedTasks, 1)
	return result, nil
}

// taskStatus classifies the outcome of one task execution.
func taskStatus(result *protocol.TaskResult, err error) protocol.TaskStatus {
	switch {
	case err == utils.ErrTaskTimeout:
		return protocol.TaskStatusTimeout
	case err == utils.ErrTerminalRun:
		return protocol.TaskStatusCancelled
	case err != nil:
		return protocol.TaskStatusFailed
	case !result.Ok():
		return protocol.TaskStatusFailed
	default:
		return protocol.TaskStatusDone
	}
}

// failInstance removes an instance from scheduling without touching
// the others. Losing the last instance of a role is fatal for the
// whole run.
func (c *coordinator) failInstance(conn *connection, err error) {
	c.Lock()
	if current, ok := c.connections[conn.instance]; ok && current != conn {
		// The instance already re-enlisted over a fresh session.
		c.Unlock()
		conn.Close()
		return
	}
	c.failed[conn.instance] = err
	atomic.AddInt64(&c.numFailed, 1)
	c.Unlock()

	log.Errorf("err - instance failed: %v - instance: %s, role: %s", err, conn.instance, conn.role)

	conn.Close()

	if c.countByRole(conn.role) == 0 {
		c.initiateStop(fmt.Errorf("all %ss lost: %w", conn.role, err))
	}
}

func (c *coordinator) countByRole(role protocol.Role) int {
	c.RLock()
	defer c.RUnlock()

	count := 0
	for _, conn := range c.connections {
		if conn.role == role {
			count++
		}
	}
	return count
}

func (c *coordinator) stopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

func (c *coordinator) Statistics() *Statistics {
	return &Statistics{
		State:           c.State(),
		Connections:     atomic.LoadInt64(&c.numConnections),
		FailedInstances: atomic.LoadInt64(&c.numFailed),
		IssuedTasks:     atomic.LoadInt64(&c.numIssuedTasks),
		CompletedTasks:  atomic.LoadInt64(&c.numCompletedTasks),
		FailedTasks:     atomic.LoadInt64(&c.numFailedTasks),
		LearnIterations: atomic.LoadInt64(&c.numIterations),
		Episodes:        atomic.LoadInt64(&c.numEpisodes),
		EnvSteps:        atomic.LoadInt64(&c.numEnvSteps),
		ReplayEntries:   int64(c.registry.Len()),
		PolicyVersion:   atomic.LoadInt64(&c.policyVersion),
	}
}
