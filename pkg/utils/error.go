package utils

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrBadRequest     = fmt.Errorf("Bad request")
	ErrNotFound       = fmt.Errorf("Not found")
	ErrNoSuchRole     = fmt.Errorf("No such role")
	ErrTerminalRun    = fmt.Errorf("Run is terminal")
	ErrTaskInFlight   = fmt.Errorf("A task is already in flight")
	ErrTaskTimeout    = fmt.Errorf("Task response deadline exceeded")
	ErrConnectionLost = fmt.Errorf("Connection lost")
	ErrRosterEmpty    = fmt.Errorf("Operator roster is empty")
	ErrQueueClosed    = fmt.Errorf("Queue is closed")
	ErrDeviceTransfer = fmt.Errorf("Device transfer failed")
)

// Convert errors to errors with grpc status codes
func GrpcError(err error) error {
	switch err {
	case ErrNotFound:
		return status.Error(codes.NotFound, err.Error())
	case ErrBadRequest, ErrNoSuchRole:
		return status.Error(codes.InvalidArgument, err.Error())
	case ErrTaskInFlight:
		return status.Error(codes.FailedPrecondition, err.Error())
	case ErrTerminalRun:
		return status.Error(codes.FailedPrecondition, err.Error())
	case ErrTaskTimeout:
		return status.Error(codes.DeadlineExceeded, err.Error())
	case ErrConnectionLost:
		return status.Error(codes.Unavailable, err.Error())
	case ErrRosterEmpty:
		return status.Error(codes.Unavailable, err.Error())
	}
	return err
}
