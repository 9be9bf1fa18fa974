package envelope

import (
	"context"
	stderrors "errors"

	"github.com/zeventbooks/eventangle-edge/internal/errors"
)

// INTERNAL messages the edge itself writes; they never carry backend text.
var safeInternal = map[string]bool{
	errors.ErrInternal.Message:           true,
	errors.ErrBackendTimeout.Message:     true,
	errors.ErrBackendUnavailable.Message: true,
}

// MapError places err in the taxonomy. Client-caused codes keep their message.
// In production INTERNAL messages are replaced with a generic one unless the
// edge wrote them, and details are dropped; elsewhere details are appended.
func MapError(err error, opts Options) *errors.EdgeError {
	var ee *errors.EdgeError
	switch {
	case err == nil:
		ee = errors.ErrInternal
	case stderrors.Is(err, context.DeadlineExceeded):
		ee = errors.ErrBackendTimeout
	default:
		if found, ok := errors.As(err); ok && found.Code.Valid() {
			ee = found
		} else {
			ee = errors.Wrap(err, errors.CodeInternal, errors.ErrInternal.Message).WithDetails(err.Error())
		}
	}

	out := errors.New(ee.Code, ee.Message)
	if out.Message == "" {
		out.Message = string(out.Code)
	}
	switch {
	case opts.Production:
		if out.Code == errors.CodeInternal && !safeInternal[out.Message] {
			out.Message = errors.ErrInternal.Message
		}
	case ee.Details != "" && (ee.Code == errors.CodeInternal || ee.Code == errors.CodeContract):
		out.Message += ": " + ee.Details
	}
	return out.WithCorrID(opts.CorrID)
}
