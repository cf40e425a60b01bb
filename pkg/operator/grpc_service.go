package operator

import (
	"context"

	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/protocol"
	"github.com/drover-io/drover/pkg/utils"
)

type operatorService struct {
	operator *Operator
}

func NewOperatorService(operator *Operator) protocol.OperatorServer {
	return &operatorService{
		operator: operator,
	}
}

func (s *operatorService) Register(ctx context.Context, request *protocol.RegisterRequest) (*protocol.Roster, error) {
	roster, err := s.operator.Roster(request.RunId)
	if err != nil {
		return nil, utils.GrpcError(err)
	}

	log.Infof("new - register - run: %s, instances: %d", request.RunId, len(roster.Instances))
	return roster, nil
}
