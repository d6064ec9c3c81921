package transport

// State is the connection state of an Adapter.
type State int

const (
	Idle State = iota
	Connecting
	Connected
	Reconnecting
	Disconnected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Message is one MESSAGE frame delivered on a subscription.
type Message struct {
	Destination  string
	Subscription string
	Body         []byte
}

// Handler receives inbound messages. It is called from the session's read
// loop, one message at a time, in arrival order.
type Handler func(Message)
