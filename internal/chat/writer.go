package chat

import (
	"bufio"
	"io"
	"sync"
	"time"
)

// outbox is the Sink of a live session. Lines are queued and written in order
// by a dedicated goroutine. When the queue is full WriteLine waits up to
// sendTimeout for room; a peer that cannot keep up for that long is treated
// as dead and its connection is closed.
type outbox struct {
	out         chan string
	sendTimeout time.Duration
	w           io.Writer

	quit     chan struct{} // closed by Close
	dead     chan struct{} // closed on write failure or slow consumer
	quitOnce sync.Once
	deadOnce sync.Once
	done     chan struct{}
}

func newOutbox(w io.Writer, size int, sendTimeout time.Duration) *outbox {
	if size <= 0 {
		size = defaultOutboxSize
	}
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	o := &outbox{
		out:         make(chan string, size),
		sendTimeout: sendTimeout,
		w:           w,
		quit:        make(chan struct{}),
		dead:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go o.drain()
	return o
}

func (o *outbox) drain() {
	defer close(o.done)
	bw := bufio.NewWriter(o.w)
	for {
		select {
		case msg := <-o.out:
			if !o.write(bw, msg) {
				return
			}
		case <-o.quit:
			// Write whatever was queued before Close.
			for {
				select {
				case msg := <-o.out:
					if !o.write(bw, msg) {
						return
					}
				default:
					if err := bw.Flush(); err != nil {
						o.kill()
					}
					return
				}
			}
		case <-o.dead:
			return
		}
	}
}

func (o *outbox) write(bw *bufio.Writer, msg string) bool {
	if _, err := bw.WriteString(msg + "\n"); err != nil {
		o.kill()
		return false
	}
	// Flush once the queue is empty; keeps bursts in one write.
	if len(o.out) > 0 {
		return true
	}
	if err := bw.Flush(); err != nil {
		o.kill()
		return false
	}
	return true
}

func (o *outbox) kill() {
	o.deadOnce.Do(func() { close(o.dead) })
}

func (o *outbox) WriteLine(line string) error {
	select {
	case <-o.quit:
		return ErrSinkClosed
	case <-o.dead:
		return ErrSinkClosed
	default:
	}

	select {
	case o.out <- line:
		return nil
	default:
	}

	timer := time.NewTimer(o.sendTimeout)
	defer timer.Stop()
	select {
	case o.out <- line:
		return nil
	case <-o.quit:
		return ErrSinkClosed
	case <-o.dead:
		return ErrSinkClosed
	case <-timer.C:
		o.kill()
		if c, ok := o.w.(io.Closer); ok {
			_ = c.Close()
		}
		return ErrSinkFull
	}
}

// Close stops accepting lines. Lines already queued are still written.
func (o *outbox) Close() {
	o.quitOnce.Do(func() { close(o.quit) })
}

// Done is closed once the writer goroutine has exited.
func (o *outbox) Done() <-chan struct{} {
	return o.done
}
