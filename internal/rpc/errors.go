package rpc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danielpatrickdp/optisat/internal/stopping"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorDomain is the errdetails.ErrorInfo domain of every optisat error.
const ErrorDomain = "optisat"

// ErrRunNotFound is returned for a run ID the server does not know.
var ErrRunNotFound = errors.New("run not found")

// Reasons carried in errdetails.ErrorInfo.
const (
	ReasonConfiguration   = "CONFIGURATION"
	ReasonMissingMetric   = "MISSING_METRIC"
	ReasonInvalidSnapshot = "INVALID_SNAPSHOT"
	ReasonState           = "STATE"
	ReasonRunNotFound     = "RUN_NOT_FOUND"
)

var reasonErrors = map[string]error{
	ReasonConfiguration:   stopping.ErrConfiguration,
	ReasonMissingMetric:   stopping.ErrMissingMetric,
	ReasonInvalidSnapshot: stopping.ErrInvalidSnapshot,
	ReasonState:           stopping.ErrState,
	ReasonRunNotFound:     ErrRunNotFound,
}

// #region to-status
// toStatus converts an engine or lookup error into a gRPC status error.
func toStatus(err error) error {
	code, reason := codes.Internal, ""
	meta := map[string]string{}

	var missing *stopping.MissingMetricError
	var stateErr *stopping.StateError
	switch {
	case errors.Is(err, ErrRunNotFound):
		code, reason = codes.NotFound, ReasonRunNotFound
	case errors.Is(err, stopping.ErrConfiguration):
		code, reason = codes.InvalidArgument, ReasonConfiguration
	case errors.As(err, &missing):
		code, reason = codes.InvalidArgument, ReasonMissingMetric
		meta["metrics"] = strings.Join(missing.Names, ",")
	case errors.Is(err, stopping.ErrInvalidSnapshot):
		code, reason = codes.InvalidArgument, ReasonInvalidSnapshot
	case errors.As(err, &stateErr):
		code, reason = codes.FailedPrecondition, ReasonState
		meta["stopped_at"] = fmt.Sprint(stateErr.StoppedAt.Index)
		meta["stop_reason"] = string(stateErr.StoppedAt.Reason)
	}

	st := status.New(code, err.Error())
	if reason == "" {
		return st.Err()
	}
	info := &errdetails.ErrorInfo{Reason: reason, Domain: ErrorDomain}
	if len(meta) > 0 {
		info.Metadata = meta
	}
	if withInfo, derr := st.WithDetails(info); derr == nil {
		st = withInfo
	}
	return st.Err()
}

// #endregion to-status

// #region from-status
// RemoteError is a server-side failure seen by the client. It unwraps to the
// matching sentinel, so errors.Is(err, stopping.ErrState) works across the wire.
type RemoteError struct {
	Code     codes.Code
	Reason   string
	Message  string
	Metadata map[string]string

	status *status.Status
	kind   error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RemoteError) Unwrap() error { return e.kind }

// GRPCStatus lets status.FromError and status.Code see through the wrapper.
func (e *RemoteError) GRPCStatus() *status.Status { return e.status }

// fromStatus turns a gRPC error into a RemoteError when it carries optisat
// error info, and returns it unchanged otherwise.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, d := range st.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok || info.GetDomain() != ErrorDomain {
			continue
		}
		return &RemoteError{
			Code:     st.Code(),
			Reason:   info.GetReason(),
			Message:  st.Message(),
			Metadata: info.GetMetadata(),
			status:   st,
			kind:     reasonErrors[info.GetReason()],
		}
	}
	return err
}

// #endregion from-status
