package coordinator

import (
	"io"

	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/protocol"
	"github.com/drover-io/drover/pkg/utils"
)

type coordinatorService struct {
	coordinator Coordinator
}

func NewCoordinatorService(coordinator Coordinator) protocol.CoordinatorServer {
	return &coordinatorService{
		coordinator: coordinator,
	}
}

// Attach handles one node session. The first message on the stream
// must be an enlisting update announcing the instance; thereafter the
// service forwards task requests down and task results up until either
// side disconnects.
func (s *coordinatorService) Attach(stream protocol.Coordinator_AttachServer) error {
	update, err := stream.Recv()
	if err != nil {
		return utils.GrpcError(err)
	}

	if update.Status != protocol.NodeEnlisting {
		return utils.GrpcError(utils.ErrBadRequest)
	}

	conn, err := s.coordinator.Attach(update.Role, update.Instance, update.Platform)
	if err != nil {
		log.Debugf("nok - attach - %v - instance: %s", err, update.Instance)
		return utils.GrpcError(err)
	}
	defer conn.Close()

	updates := make(chan *protocol.NodeUpdate, 16)
	go func() {
		defer close(updates)

		for {
			update, err := stream.Recv()
			if err == io.EOF {
				return
			}
			if err != nil {
				log.Trace("node read error:", err)
				return
			}

			updates <- update
		}
	}()

	for {
		select {
		case <-conn.Done():
			log.Debug("connection closed - instance:", conn.Instance())
			return nil

		case task := <-conn.Tasks():
			if task == nil {
				return nil
			}

			if err := stream.Send(task); err != nil {
				log.Trace("node write error:", err)
				return utils.GrpcError(err)
			}

		case update := <-updates:
			if update == nil {
				log.Trace("node stream closed - instance:", conn.Instance())
				return nil
			}

			switch update.Status {
			case protocol.NodeTaskResult:
				if update.Result == nil {
					log.Warn("task result update without a result - instance:", conn.Instance())
					continue
				}
				conn.PostResult(update.Result)

			case protocol.NodeClosing:
				log.Debug("node closing - instance:", conn.Instance())
				return nil

			default:
				log.Warn("unrecognized update received from node:", update.Status)
			}
		}
	}
}
