package deployment

import (
	"context"
	"fmt"
	"time"
)

// State is a step of the deployment sequence. A deploy only moves forward.
type State int

const (
	StateUnvalidated State = iota
	StateValidated
	StateInfraApplied
	StateProxyUp
	StateSystemComponentsApplied
	StateApplicationApplied
	StateDone
)

func (s State) String() string {
	switch s {
	case StateUnvalidated:
		return "Unvalidated"
	case StateValidated:
		return "Validated"
	case StateInfraApplied:
		return "InfraApplied"
	case StateProxyUp:
		return "ProxyUp"
	case StateSystemComponentsApplied:
		return "SystemComponentsApplied"
	case StateApplicationApplied:
		return "ApplicationApplied"
	case StateDone:
		return "ProxyDown"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Phase names one apply (or the tunnel) in run history and errors.
type Phase string

const (
	PhaseInfrastructure   Phase = "infrastructure"
	PhaseProxy            Phase = "proxy"
	PhaseSystemComponents Phase = "system-components"
	PhaseApplication      Phase = "application"
)

// PhaseError is returned when a phase of the deploy fails. It unwraps to the
// collaborator's error unchanged.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// Run identifies one deploy for a Recorder.
type Run struct {
	ID        string
	Platform  string
	VarsFile  string
	StateFile string
	StartedAt time.Time
}

// Recorder receives the progress of a deploy. Recorder errors are logged and never
// change the outcome of the deploy.
type Recorder interface {
	StartRun(ctx context.Context, run Run) error
	StartPhase(ctx context.Context, runID string, phase Phase) error
	FinishPhase(ctx context.Context, runID string, phase Phase, err error) error
	FinishRun(ctx context.Context, runID string, err error) error
}

type nopRecorder struct{}

func (nopRecorder) StartRun(context.Context, Run) error                     { return nil }
func (nopRecorder) StartPhase(context.Context, string, Phase) error         { return nil }
func (nopRecorder) FinishPhase(context.Context, string, Phase, error) error { return nil }
func (nopRecorder) FinishRun(context.Context, string, error) error          { return nil }
