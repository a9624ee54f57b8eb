package main

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andy6609/relay-chat/internal/chat"
)

func TestPromptAddress_RetriesUntilValid(t *testing.T) {
	in := bufio.NewReader(strings.NewReader("localhost\n12345\n127.0.0.1\n99999\n127.0.0.1\n4000\n"))
	var out bytes.Buffer

	addr, err := promptAddress(in, &out, "", "")
	if err != nil {
		t.Fatalf("promptAddress: %v", err)
	}
	if addr != "127.0.0.1:4000" {
		t.Fatalf("unexpected addr %q", addr)
	}
	if n := strings.Count(out.String(), "Invalid IP address or port number"); n != 2 {
		t.Fatalf("expected 2 retries, got %d", n)
	}
}

func TestRun_NegotiatesAndSendsUntilEOF(t *testing.T) {
	cfg := chat.DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.MetricsAddr = ""
	srv := chat.NewServer(cfg, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })
	host, port, _ := net.SplitHostPort(srv.Addr().String())

	// "ab" is refused locally, then the client sends one chat line and
	// leaves on EOF.
	stdin := strings.NewReader("ab\nalice\nhello\n")
	var stdout syncBuffer

	if err := run(context.Background(), stdin, &stdout, host, port, ""); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(stdout.String(), "Nickname must be at least 5 characters long.") {
		t.Fatalf("missing local rejection message: %q", stdout.String())
	}

	deadline := time.Now().Add(2 * time.Second)
	for srv.Registry().Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client did not leave the registry")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestReadLines_StopsWhenDoneCloses(t *testing.T) {
	in := bufio.NewReader(strings.NewReader("one\ntwo\nthree\n"))
	done := make(chan struct{})
	lines := readLines(in, done)

	if got := <-lines; got != "one" {
		t.Fatalf("expected %q, got %q", "one", got)
	}
	close(done)

	// The forwarder must give up on the pending line and close the channel
	// instead of blocking forever.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-lines:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("line forwarder did not stop after done was closed")
		}
	}
}
