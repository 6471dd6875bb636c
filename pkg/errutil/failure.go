package errutil

import (
	"errors"
	"fmt"
)

// Reason is the machine readable cause recorded on runs, host results and
// notification log entries.
type Reason string

const (
	ReasonNoTargets             Reason = "NoTargets"
	ReasonHostDisabled          Reason = "HostDisabled"
	ReasonNoApplicableTemplate  Reason = "NoApplicableTemplate"
	ReasonUnresolvedVariable    Reason = "UnresolvedVariable"
	ReasonConnectionFailed      Reason = "ConnectionFailed"
	ReasonTimedOut              Reason = "TimedOut"
	ReasonNonZeroExit           Reason = "NonZeroExit"
	ReasonInvalidCronExpression Reason = "InvalidCronExpression"
	ReasonChannelUnavailable    Reason = "ChannelUnavailable"
	ReasonRenderError           Reason = "RenderError"
	ReasonCancelled             Reason = "Cancelled"
	ReasonInterrupted           Reason = "Interrupted"
	ReasonRunTimeout            Reason = "RunTimeout"
	ReasonInternal              Reason = "Internal"
)

// Category groups reasons into the error families surfaced to operators.
type Category string

const (
	CategoryTargetResolution  Category = "TargetResolutionError"
	CategoryTemplateSelection Category = "TemplateSelectionError"
	CategoryVariable          Category = "VariableError"
	CategoryExecution         Category = "ExecutionError"
	CategoryScheduling        Category = "SchedulingError"
	CategoryNotification      Category = "NotificationError"
	CategoryInternal          Category = "InternalError"
)

func (r Reason) Category() Category {
	switch r {
	case ReasonNoTargets, ReasonHostDisabled:
		return CategoryTargetResolution
	case ReasonNoApplicableTemplate:
		return CategoryTemplateSelection
	case ReasonUnresolvedVariable:
		return CategoryVariable
	case ReasonConnectionFailed, ReasonTimedOut, ReasonNonZeroExit, ReasonCancelled, ReasonRunTimeout:
		return CategoryExecution
	case ReasonInvalidCronExpression:
		return CategoryScheduling
	case ReasonChannelUnavailable, ReasonRenderError:
		return CategoryNotification
	default:
		return CategoryInternal
	}
}

// Transient reports whether a failure with this reason may succeed on retry.
func (r Reason) Transient() bool {
	return r == ReasonConnectionFailed || r == ReasonTimedOut
}

type Failure struct {
	Reason  Reason
	Message string
	Err     error
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("%s(%s)", f.Reason.Category(), f.Reason)
	if f.Message != "" {
		msg += ": " + f.Message
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func (f *Failure) Status() CoreStatus {
	switch f.Reason.Category() {
	case CategoryTargetResolution, CategoryTemplateSelection, CategoryVariable, CategoryScheduling:
		return StatusUnprocessableEntity
	case CategoryNotification:
		return StatusServiceUnavailable
	}
	if f.Reason == ReasonTimedOut || f.Reason == ReasonRunTimeout {
		return StatusTimeout
	}
	return StatusInternal
}

// Fail builds a Failure for reason. err may be nil.
func Fail(reason Reason, message string, err error) error {
	return &Failure{Reason: reason, Message: message, Err: err}
}

// ReasonOf extracts the Reason of the first Failure in err's chain.
func ReasonOf(err error) Reason {
	if err == nil {
		return ""
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason
	}
	return ReasonInternal
}
