package chat

import (
	"log/slog"
	"sort"
	"sync"
	"time"
	"unicode/utf8"
)

// Registry maps live nicknames to their sinks. All access goes through a
// single goroutine (Run), so register, unregister and broadcast are mutually
// exclusive and every broadcast sees a consistent recipient set.
type Registry struct {
	events   chan Event
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	minLen   int
	logger   *slog.Logger
}

func NewRegistry(buffer, minNicknameLength int, logger *slog.Logger) *Registry {
	if buffer <= 0 {
		buffer = defaultRegistryBuffer
	}
	if minNicknameLength < 1 {
		minNicknameLength = defaultMinNicknameLength
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		events: make(chan Event, buffer),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		minLen: minNicknameLength,
		logger: logger,
	}
}

// Stop signals the Run loop to exit. Safe to call more than once.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Wait blocks until the Run loop has completely finished.
func (r *Registry) Wait() {
	<-r.doneCh
}

// Done is closed when the Run loop has finished.
func (r *Registry) Done() <-chan struct{} {
	return r.doneCh
}

func (r *Registry) Run() {
	defer close(r.doneCh)
	// Single-writer ownership: this map is only accessed in this goroutine.
	clients := make(map[string]Sink)

	for {
		select {
		case ev := <-r.events:
			start := time.Now()
			var res result

			switch ev.Type {
			case EventRegister:
				res = r.handleRegister(clients, ev)
				ConnectedClients.Set(float64(len(clients)))
			case EventUnregister:
				res = r.handleUnregister(clients, ev)
				ConnectedClients.Set(float64(len(clients)))
			case EventBroadcast:
				MessagesTotal.WithLabelValues("broadcast").Inc()
				res.delivered = r.fanOut(clients, ev.Text)
			case EventSnapshot:
				res.names = snapshot(clients)
			}

			EventProcessingDuration.WithLabelValues(ev.Type.String()).Observe(time.Since(start).Seconds())
			if ev.Reply != nil {
				ev.Reply <- res
			}
		case <-r.stopCh:
			return
		}
	}
}

// Register adds nickname if it is long enough and not already present.
func (r *Registry) Register(nickname string, sink Sink) error {
	return r.Join(nickname, sink, "", "")
}

// Join registers nickname, writes ack to the new sink and then broadcasts
// notice to every registered sink, the new one included, as one atomic step.
// Empty ack or notice is skipped.
func (r *Registry) Join(nickname string, sink Sink, ack, notice string) error {
	res, err := r.do(Event{Type: EventRegister, Nickname: nickname, Sink: sink, Ack: ack, Text: notice})
	if err != nil {
		return err
	}
	return res.err
}

// Unregister removes nickname. Removing an absent nickname is a no-op.
func (r *Registry) Unregister(nickname string) error {
	return r.Leave(nickname, "")
}

// Leave removes nickname and broadcasts notice to the remaining sinks as one
// atomic step. Nothing is broadcast if nickname was not registered.
func (r *Registry) Leave(nickname, notice string) error {
	_, err := r.do(Event{Type: EventUnregister, Nickname: nickname, Text: notice})
	return err
}

// Broadcast writes message to every registered sink and reports how many
// accepted it. A failing sink is skipped.
func (r *Registry) Broadcast(message string) (int, error) {
	res, err := r.do(Event{Type: EventBroadcast, Text: message})
	return res.delivered, err
}

// Nicknames returns the registered nicknames in sorted order.
func (r *Registry) Nicknames() ([]string, error) {
	res, err := r.do(Event{Type: EventSnapshot})
	return res.names, err
}

func (r *Registry) Len() int {
	names, _ := r.Nicknames()
	return len(names)
}

func (r *Registry) do(ev Event) (result, error) {
	ev.Reply = make(chan result, 1)
	select {
	case r.events <- ev:
	case <-r.stopCh:
		return result{}, ErrRegistryClosed
	}
	select {
	case res := <-ev.Reply:
		return res, nil
	case <-r.doneCh:
		// Run may have answered right before exiting.
		select {
		case res := <-ev.Reply:
			return res, nil
		default:
			return result{}, ErrRegistryClosed
		}
	}
}

func (r *Registry) handleRegister(clients map[string]Sink, ev Event) result {
	nickname := ev.Nickname
	if utf8.RuneCountInString(nickname) < r.minLen {
		NicknameRejections.WithLabelValues("too_short").Inc()
		return result{err: ErrNicknameInvalid}
	}
	if _, exists := clients[nickname]; exists {
		NicknameRejections.WithLabelValues("taken").Inc()
		return result{err: ErrNicknameTaken}
	}

	clients[nickname] = ev.Sink
	r.logger.Info("user registered", "nickname", nickname, "clients", len(clients))

	if ev.Ack != "" {
		if err := ev.Sink.WriteLine(ev.Ack); err != nil {
			SinkFailures.Inc()
			r.logger.Warn("ack not delivered", "nickname", nickname, "error", err)
		}
	}
	if ev.Text != "" {
		MessagesTotal.WithLabelValues("join").Inc()
		r.fanOut(clients, ev.Text)
	}
	return result{}
}

func (r *Registry) handleUnregister(clients map[string]Sink, ev Event) result {
	if _, ok := clients[ev.Nickname]; !ok {
		return result{}
	}
	delete(clients, ev.Nickname)
	r.logger.Info("user left", "nickname", ev.Nickname, "clients", len(clients))

	if ev.Text != "" {
		MessagesTotal.WithLabelValues("leave").Inc()
		r.fanOut(clients, ev.Text)
	}
	return result{}
}

func (r *Registry) fanOut(clients map[string]Sink, line string) int {
	delivered := 0
	for nickname, sink := range clients {
		if err := sink.WriteLine(line); err != nil {
			// One broken recipient must not stop the rest.
			SinkFailures.Inc()
			r.logger.Warn("line not delivered", "nickname", nickname, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

func snapshot(clients map[string]Sink) []string {
	names := make([]string, 0, len(clients))
	for name := range clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
