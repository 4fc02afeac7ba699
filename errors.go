package framegrabber

import (
	"errors"
	"fmt"
	"strings"

	"github.com/e7canasta/orion-care-sensor/modules/frame-grabber/engine"
)

// Sentinel errors for errors.Is checks. Each typed error below matches its
// sentinel; MissingRequiredStageError also matches ErrConstruction.
var (
	ErrConstruction         = errors.New("frame-grabber: construction failed")
	ErrMissingRequiredStage = errors.New("frame-grabber: required stage missing")
	ErrUnknownStage         = errors.New("frame-grabber: unknown stage")
	ErrPropertyRejected     = errors.New("frame-grabber: property rejected")
	ErrStateTransition      = errors.New("frame-grabber: state transition failed")
	ErrDelivery             = errors.New("frame-grabber: delivery failed")
	ErrClosed               = errors.New("frame-grabber: grabber closed")
)

// ConstructionError reports an unusable pipeline description or a failed
// stage enumeration.
type ConstructionError struct {
	Description string
	Reason      string
	Err         error
}

func (e *ConstructionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("frame-grabber: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("frame-grabber: %s", e.Reason)
}

func (e *ConstructionError) Unwrap() error { return e.Err }

func (e *ConstructionError) Is(target error) bool { return target == ErrConstruction }

// MissingRequiredStageError reports that the sink stage the handoff attaches
// to does not exist (or cannot deliver samples).
type MissingRequiredStageError struct {
	Stage     string
	Available []string
}

func (e *MissingRequiredStageError) Error() string {
	return fmt.Sprintf("frame-grabber: unable to locate required sink stage %q (stages: %s)",
		e.Stage, strings.Join(e.Available, ", "))
}

func (e *MissingRequiredStageError) Is(target error) bool {
	return target == ErrMissingRequiredStage || target == ErrConstruction
}

// UnknownStageError reports a property write addressed to a stage name that
// is not in the registry.
type UnknownStageError struct {
	Stage string
}

func (e *UnknownStageError) Error() string {
	return fmt.Sprintf("frame-grabber: pipeline stage %q does not exist", e.Stage)
}

func (e *UnknownStageError) Is(target error) bool { return target == ErrUnknownStage }

// PropertyRejectedError reports a property write the engine refused.
type PropertyRejectedError struct {
	Stage    string
	Property string
	Value    any
	Err      error
}

func (e *PropertyRejectedError) Error() string {
	return fmt.Sprintf("frame-grabber: error setting %T property %s = %v for stage %s: %v",
		e.Value, e.Property, e.Value, e.Stage, e.Err)
}

func (e *PropertyRejectedError) Unwrap() error { return e.Err }

func (e *PropertyRejectedError) Is(target error) bool { return target == ErrPropertyRejected }

// StateTransitionError reports a lifecycle transition the engine did not
// complete. Current and Pending are whatever the engine reported last.
type StateTransitionError struct {
	Target   engine.State
	Result   engine.StateChange
	Current  engine.State
	Pending  engine.State
	Category string
	Err      error
}

func (e *StateTransitionError) Error() string {
	msg := fmt.Sprintf("frame-grabber: pipeline failed to change state to %s, details: %s, %s, %s",
		e.Target, e.Result, e.Current, e.Pending)
	if e.Category != "" {
		msg += " [" + e.Category + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StateTransitionError) Unwrap() error { return e.Err }

func (e *StateTransitionError) Is(target error) bool { return target == ErrStateTransition }

// DeliveryError describes a delivery that could not populate the frame slot.
// It is logged and counted by the Handoff, never returned from Grab.
type DeliveryError struct {
	Reason string
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("frame-grabber: delivery skipped: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("frame-grabber: delivery skipped: %s", e.Reason)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func (e *DeliveryError) Is(target error) bool { return target == ErrDelivery }
