package envelope

import "fmt"

// Stage is a step in the life of one request.
type Stage int

const (
	Received Stage = iota
	BackendSelected
	BackendInvoked
	Succeeded
	Failed
	Emitted
)

func (s Stage) String() string {
	switch s {
	case Received:
		return "received"
	case BackendSelected:
		return "backend_selected"
	case BackendInvoked:
		return "backend_invoked"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Emitted:
		return "emitted"
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// next lists the legal successors of each stage. Requests rejected before a
// backend is chosen go straight from Received to Failed.
var next = map[Stage][]Stage{
	Received:        {BackendSelected, Failed},
	BackendSelected: {BackendInvoked, Failed},
	BackendInvoked:  {Succeeded, Failed},
	Succeeded:       {Emitted},
	Failed:          {Emitted},
}

// Lifecycle tracks one request's stage. It is not safe for concurrent use;
// a request owns its lifecycle.
type Lifecycle struct {
	stage   Stage
	history []Stage
}

// NewLifecycle starts in Received.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{stage: Received, history: []Stage{Received}}
}

// Stage returns the current stage.
func (l *Lifecycle) Stage() Stage {
	return l.stage
}

// History returns the stages visited so far.
func (l *Lifecycle) History() []Stage {
	return append([]Stage(nil), l.history...)
}

// Advance moves to s, rejecting skipped or repeated stages.
func (l *Lifecycle) Advance(s Stage) error {
	for _, allowed := range next[l.stage] {
		if allowed == s {
			l.stage = s
			l.history = append(l.history, s)
			return nil
		}
	}
	return fmt.Errorf("illegal lifecycle transition %s -> %s", l.stage, s)
}

// Done reports whether the response has been emitted.
func (l *Lifecycle) Done() bool {
	return l.stage == Emitted
}
