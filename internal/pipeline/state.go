package pipeline

// State is one stage of the Enforcement Pipeline's explicit state machine,
// replacing internal/api/proxy.go's ProxyRequest (where the same stages
// exist only as implicit control flow through early returns). Modeling the
// stages as a type makes the transition rules in spec.md §4.7 checkable
// independent of any one handler's code path, per spec.md §9's "exception
// control flow through middleware → explicit result-with-error" redesign
// note.
type State string

const (
	StateIdle         State = "Idle"
	StateResolving    State = "Resolving"
	StatePreChecking  State = "PreChecking"
	StateForwarding   State = "Forwarding"
	StatePostChecking State = "PostChecking"
	StateResponding   State = "Responding"
	StateTerminal     State = "Terminal"
)

// Outcome is the Terminal sub-state: how the request ended.
type Outcome string

const (
	OutcomeAllowed Outcome = "Allowed"
	OutcomeBlocked Outcome = "Blocked"
	OutcomeFailed  Outcome = "Failed"
)

// Phase names which payload a DAG/envelope evaluation ran against, carried
// into telemetry so pre-check and post-check violations are distinguishable
// for the same trace.
type Phase string

const (
	PhaseInput  Phase = "input"
	PhaseOutput Phase = "output"
)
