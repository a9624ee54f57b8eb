package chat

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"
)

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestOutbox_WritesInOrderAndFlushesOnClose(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	o := newOutbox(server, 8, time.Second)
	for _, line := range []string{"one", "two", "three"} {
		if err := o.WriteLine(line); err != nil {
			t.Fatalf("WriteLine(%q): %v", line, err)
		}
	}
	o.Close()

	r := bufio.NewReader(client)
	for _, want := range []string{"one", "two", "three"} {
		_ = client.SetReadDeadline(time.Now().Add(time.Second))
		got, err := ReadLine(r)
		if err != nil || got != want {
			t.Fatalf("expected %q, got %q, %v", want, got, err)
		}
	}
	<-o.Done()

	if err := o.WriteLine("late"); err != ErrSinkClosed {
		t.Fatalf("expected ErrSinkClosed after Close, got %v", err)
	}
	o.Close()
}

func TestOutbox_FullQueueWaitsForReader(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	defer server.Close()

	o := newOutbox(server, 1, 2*time.Second)
	defer o.Close()

	const lines = 50
	got := make(chan string, lines)
	go func() {
		r := bufio.NewReader(client)
		for i := 0; i < lines; i++ {
			line, err := ReadLine(r)
			if err != nil {
				return
			}
			got <- line
		}
	}()

	for i := 0; i < lines; i++ {
		if err := o.WriteLine(fmt.Sprintf("line-%d", i)); err != nil {
			t.Fatalf("WriteLine %d: %v", i, err)
		}
	}
	for i := 0; i < lines; i++ {
		want := fmt.Sprintf("line-%d", i)
		select {
		case line := <-got:
			if line != want {
				t.Fatalf("expected %q, got %q", want, line)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for %q", want)
		}
	}
}

func TestOutbox_SlowConsumerIsDisconnected(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	// Nobody reads client, so the writer blocks on the first line and the
	// queue of one fills up.
	o := newOutbox(server, 1, 50*time.Millisecond)
	var err error
	for i := 0; i < 4 && err == nil; i++ {
		err = o.WriteLine("x")
	}
	if err != ErrSinkFull {
		t.Fatalf("expected ErrSinkFull once the send timeout passes, got %v", err)
	}
	select {
	case <-o.Done():
	case <-time.After(time.Second):
		t.Fatal("writer did not stop after the slow consumer was dropped")
	}
	if err := o.WriteLine("late"); err != ErrSinkClosed {
		t.Fatalf("expected ErrSinkClosed, got %v", err)
	}
	if _, err := client.Read(make([]byte, 1)); err == nil {
		t.Fatalf("expected the connection to be closed")
	}
}

func TestOutbox_WriteFailureMarksSinkClosed(t *testing.T) {
	o := newOutbox(failingWriter{}, 4, time.Second)
	if err := o.WriteLine("hello"); err != nil {
		t.Fatalf("first WriteLine: %v", err)
	}
	select {
	case <-o.Done():
	case <-time.After(time.Second):
		t.Fatal("writer did not stop after a write error")
	}
	if err := o.WriteLine("again"); err != ErrSinkClosed {
		t.Fatalf("expected ErrSinkClosed, got %v", err)
	}
}
