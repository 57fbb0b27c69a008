package orchestrator

// State is the orchestrator's position in the turn cycle.
type State int

const (
	// StateIdle means no turn is in progress.
	StateIdle State = iota
	// StateBuildingRequest means the outgoing request view is being
	// computed.
	StateBuildingRequest
	// StateStreaming means a completion stream is being consumed.
	StateStreaming
	// StateAwaitingTools means the model requested tool calls that have
	// not started executing yet.
	StateAwaitingTools
	// StateExecutingTools means tool calls are running sequentially.
	StateExecutingTools
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuildingRequest:
		return "building_request"
	case StateStreaming:
		return "streaming"
	case StateAwaitingTools:
		return "awaiting_tools"
	case StateExecutingTools:
		return "executing_tools"
	default:
		return "unknown"
	}
}
