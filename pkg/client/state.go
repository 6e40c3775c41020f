package client

// State is the WebSocket connection-lifecycle state. Modelling the
// lifecycle as an explicit machine, instead of ad hoc boolean flags, keeps
// every transition enumerable and testable.
//
//	Disconnected --Dial/Connect--> Connecting
//	Connecting   --open-->          Open
//	Connecting   --error-->         Disconnected (or back to Reconnecting)
//	Open         --unexpected close--> Reconnecting
//	Open         --Close()-->       Closing --closed--> Disconnected
//	Reconnecting --backoff-->       Connecting
//	Reconnecting --give up-->       Disconnected
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}
