package node

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/protocol"
	"github.com/drover-io/drover/pkg/utils"
)

type Node struct {
	client   protocol.CoordinatorClient
	config   *Config
	role     Role
	platform map[string]string
}

func NewNode(config *Config, client protocol.CoordinatorClient, role Role) *Node {
	config.SetDefaults()

	return &Node{
		client:   client,
		config:   config,
		role:     role,
		platform: LoadPlatform(),
	}
}

// Run attaches to the coordinator and serves tasks until a close
// task arrives or the context is cancelled. A lost link is redialed
// with exponential backoff.
func (n *Node) Run(ctx context.Context) {
	log.Info("Starting")

	backoff := n.config.ReconnectBackoff

	for {
		err := n.run(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			break
		}

		log.Debug("coordinator link lost:", err)
		log.Infof("reconnecting in %v", backoff)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			log.Info("Terminating")
			return
		}

		backoff *= 2
		if backoff > n.config.ReconnectBackoffMax {
			backoff = n.config.ReconnectBackoffMax
		}
	}

	log.Info("Terminating")
}

// run serves one attach stream. Returns nil on an orderly close and
// an error when the link should be re-established.
func (n *Node) run(ctx context.Context) error {
	stream, err := n.client.Attach(ctx)
	if err != nil {
		return err
	}
	defer stream.CloseSend()

	if err := n.enlist(stream); err != nil {
		return err
	}

	log.Debug("Attached to coordinator")

	requests := make(chan *protocol.TaskRequest)
	go func() {
		defer close(requests)
		for {
			request, err := stream.Recv()
			if err == io.EOF {
				return
			}
			if err != nil {
				log.Trace("coordinator read error:", err)
				return
			}

			requests <- request
		}
	}()

	// Regular tasks run on their own goroutine so that a close task
	// can be answered while one is still in flight.
	results := make(chan *protocol.TaskResult, 1)
	var inflight *protocol.TaskRequest

	for {
		select {
		case <-ctx.Done():
			n.farewell(stream)
			return nil

		case request := <-requests:
			if request == nil {
				return errors.New("read error")
			}

			log.Debugf("run - task - kind: %s, id: %s", request.Kind, request.TaskId)

			if request.Kind == protocol.TaskClose {
				result := n.close(request)
				if err := n.reply(stream, result); err != nil {
					return err
				}
				return nil
			}

			if inflight != nil {
				log.Warn("task received while another is in flight:", request.TaskId)
				if err := n.reply(stream, failure(request, protocol.TaskResult{}, utils.ErrTaskInFlight)); err != nil {
					return err
				}
				continue
			}

			inflight = request
			go func() {
				results <- n.dispatch(request)
			}()

		case result := <-results:
			inflight = nil
			if err := n.reply(stream, result); err != nil {
				return err
			}
		}
	}
}

func (n *Node) enlist(stream protocol.Coordinator_AttachClient) error {
	return stream.Send(&protocol.NodeUpdate{
		Status:   protocol.NodeEnlisting,
		Instance: n.config.Instance,
		Role:     n.config.Role,
		Platform: n.platform,
	})
}

func (n *Node) farewell(stream protocol.Coordinator_AttachClient) {
	update := &protocol.NodeUpdate{
		Status:   protocol.NodeClosing,
		Instance: n.config.Instance,
		Role:     n.config.Role,
	}
	if err := stream.Send(update); err != nil {
		log.Trace("coordinator write error:", err)
	}
}

func (n *Node) reply(stream protocol.Coordinator_AttachClient, result *protocol.TaskResult) error {
	return stream.Send(&protocol.NodeUpdate{
		Status:   protocol.NodeTaskResult,
		Instance: n.config.Instance,
		Role:     n.config.Role,
		Result:   result,
	})
}

// dispatch answers one regular task through the role.
func (n *Node) dispatch(request *protocol.TaskRequest) *protocol.TaskResult {
	var result *protocol.TaskResult
	var err error

	switch request.Kind {
	case protocol.TaskStart:
		var info *protocol.StartInfo
		if info, err = n.role.Start(request.Start); err == nil {
			result = &protocol.TaskResult{Start: info}
		}
	default:
		result, err = n.role.Handle(request)
	}

	if err != nil {
		log.Errorf("err - task - kind: %s, id: %s: %v", request.Kind, request.TaskId, err)
		return failure(request, protocol.TaskResult{}, err)
	}

	result.TaskId = request.TaskId
	result.Kind = request.Kind
	result.Instance = n.config.Instance
	return result
}

func (n *Node) close(request *protocol.TaskRequest) *protocol.TaskResult {
	info, err := n.role.Close()
	if err != nil {
		return failure(request, protocol.TaskResult{}, err)
	}

	result := &protocol.TaskResult{Close: info}
	result.TaskId = request.TaskId
	result.Kind = request.Kind
	result.Instance = n.config.Instance
	return result
}

func failure(request *protocol.TaskRequest, result protocol.TaskResult, err error) *protocol.TaskResult {
	result.TaskId = request.TaskId
	result.Kind = request.Kind
	result.Instance = request.Instance
	result.Error = err.Error()
	return &result
}
