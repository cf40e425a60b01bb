package node

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/drover-io/drover/pkg/protocol"
	"github.com/drover-io/drover/pkg/utils"
)

// NewCoordinatorClient dials the coordinator service with the JSON
// message codec.
func NewCoordinatorClient(config *Config) (protocol.CoordinatorClient, error) {
	dialOptions := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(protocol.CodecName)),
	}
	dialOptions = append(dialOptions, config.Grpc.ToDialOptions()...)

	grpcUri, err := utils.ParseGrpcUrl(config.CoordinatorGrpcUri)
	if err != nil {
		return nil, err
	}

	conn, err := grpc.Dial(grpcUri, dialOptions...)
	if err != nil {
		return nil, err
	}

	return protocol.NewCoordinatorClient(conn), nil
}
