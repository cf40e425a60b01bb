package coordinator

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/protocol"
	"github.com/drover-io/drover/pkg/utils"
)

// A logical session between the coordinator and one node instance.
//
// The gRPC service owns the stream side: it forwards requests from
// Tasks() down the wire and delivers answers through PostResult.
// The coordinator's per-instance loop owns the scheduling side and
// never touches the stream directly.
type Connection interface {
	// UUID identity of the session.
	Id() string

	// Role of the instance.
	Role() protocol.Role

	// Instance identifier, unique within the run.
	Instance() string

	// A channel where task requests are posted by the coordinator.
	// The gRPC service forwards them to the node.
	Tasks() chan *protocol.TaskRequest

	// Deliver a task result received from the node.
	PostResult(result *protocol.TaskResult)

	// Channel closed when the session is being torn down.
	Done() <-chan struct{}

	// Tear the session down. Called from the gRPC service when the
	// stream ends, and by the coordinator when the run closes.
	Close()
}

type connection struct {
	id       uuid.UUID
	role     protocol.Role
	instance string
	platform map[string]string

	coord *coordinator

	// Capacity two so that a close task can be posted while a
	// regular task is already waiting for delivery.
	tasks chan *protocol.TaskRequest

	mu      sync.Mutex
	pending map[string]chan *protocol.TaskResult

	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(coord *coordinator, role protocol.Role, instance string, platform map[string]string) *connection {
	id, _ := uuid.NewRandom()
	return &connection{
		id:       id,
		role:     role,
		instance: instance,
		platform: platform,
		coord:    coord,
		tasks:    make(chan *protocol.TaskRequest, 2),
		pending:  map[string]chan *protocol.TaskResult{},
		done:     make(chan struct{}),
	}
}

func (c *connection) Id() string {
	return c.id.String()
}

func (c *connection) Role() protocol.Role {
	return c.role
}

func (c *connection) Instance() string {
	return c.instance
}

func (c *connection) Tasks() chan *protocol.TaskRequest {
	return c.tasks
}

func (c *connection) Done() <-chan struct{} {
	return c.done
}

func (c *connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	c.coord.removeConnection(c)
}

// PostResult routes a node's answer to the loop waiting for it.
// Results for unknown task ids, such as answers arriving after the
// deadline already expired, are dropped.
func (c *connection) PostResult(result *protocol.TaskResult) {
	c.mu.Lock()
	ch, ok := c.pending[result.TaskId]
	delete(c.pending, result.TaskId)
	c.mu.Unlock()

	if !ok {
		log.Debugf("late result dropped - instance: %s, task: %s", c.instance, result.TaskId)
		return
	}

	ch <- result
}

// execute posts one task request and waits for its result.
// The caller loop is the single source of truth for in-flight state:
// it never issues the next request before this returns. A close on
// the cancel channel abandons the wait so that a close task can be
// delivered without waiting for the outstanding work to finish.
func (c *connection) execute(request *protocol.TaskRequest, timeout time.Duration, cancel <-chan struct{}) (*protocol.TaskResult, error) {
	id, _ := uuid.NewRandom()
	request.TaskId = id.String()
	request.Instance = c.instance

	result := make(chan *protocol.TaskResult, 1)
	c.mu.Lock()
	c.pending[request.TaskId] = result
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, request.TaskId)
		c.mu.Unlock()
	}

	select {
	case c.tasks <- request:
	case <-c.done:
		forget()
		return nil, utils.ErrConnectionLost
	case <-cancel:
		forget()
		return nil, utils.ErrTerminalRun
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-result:
		return res, nil
	case <-timer.C:
		forget()
		return nil, utils.ErrTaskTimeout
	case <-c.done:
		forget()
		return nil, utils.ErrConnectionLost
	case <-cancel:
		forget()
		return nil, utils.ErrTerminalRun
	}
}
