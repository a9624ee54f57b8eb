package chat

// Sink delivers one line of text to exactly one connected client.
type Sink interface {
	WriteLine(line string) error
}

type SessionState int32

const (
	StateAwaitingNickname SessionState = iota
	StateRegistered
	StateRelaying
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateAwaitingNickname:
		return "awaiting_nickname"
	case StateRegistered:
		return "registered"
	case StateRelaying:
		return "relaying"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type EventType int

const (
	EventRegister EventType = iota
	EventUnregister
	EventBroadcast
	EventSnapshot
)

func (t EventType) String() string {
	switch t {
	case EventRegister:
		return "register"
	case EventUnregister:
		return "unregister"
	case EventBroadcast:
		return "broadcast"
	case EventSnapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

type Event struct {
	Type     EventType
	Nickname string
	Sink     Sink
	Ack      string // written to Sink on a successful register, before Text
	Text     string // broadcast after the membership change, if non-empty
	Reply    chan result
}

type result struct {
	delivered int
	names     []string
	err       error
}

var (
	ErrNicknameTaken   = errorString("nickname_taken")
	ErrNicknameInvalid = errorString("nickname_invalid")
	ErrRegistryClosed  = errorString("registry_closed")
	ErrSinkClosed      = errorString("sink_closed")
	ErrSinkFull        = errorString("sink_full")
	ErrServerRunning   = errorString("server_running")
	ErrServerStopped   = errorString("server_stopped")
)

type errorString string

func (e errorString) Error() string { return string(e) }
