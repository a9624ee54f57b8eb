// Package client speaks the chat line protocol from the client side: dial,
// nickname negotiation, sending lines and receiving the relayed stream.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"unicode/utf8"

	"github.com/andy6609/relay-chat/internal/chat"
)

const minNicknameLength = 5

var (
	ErrInvalidAddress   = errors.New("invalid server address")
	ErrInvalidPort      = errors.New("invalid server port")
	ErrNicknameTooShort = fmt.Errorf("nickname must be at least %d characters", minNicknameLength)
	ErrUnexpectedReply  = errors.New("unexpected reply to nickname")
)

// ServerAddress validates a dotted IPv4 host and a port in 1-65535 and joins
// them.
func ServerAddress(host, port string) (string, error) {
	ip, err := netip.ParseAddr(host)
	if err != nil || !ip.Is4() {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, host)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPort, port)
	}
	return net.JoinHostPort(ip.String(), strconv.Itoa(n)), nil
}

type Client struct {
	conn net.Conn
	r    *bufio.Reader

	mu       sync.Mutex
	w        *bufio.Writer
	nickname string
}

func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return New(conn), nil
}

// New wraps an established connection.
func New(conn net.Conn) *Client {
	return &Client{
		conn: conn,
		r:    bufio.NewReader(conn),
		w:    bufio.NewWriter(conn),
	}
}

// Negotiate offers nickname and reports whether the server accepted it.
// Nicknames shorter than the server minimum are refused locally.
func (c *Client) Negotiate(nickname string) (bool, error) {
	if utf8.RuneCountInString(nickname) < minNicknameLength {
		return false, ErrNicknameTooShort
	}
	if err := c.Send(nickname); err != nil {
		return false, err
	}
	reply, err := chat.ReadLine(c.r)
	if err != nil {
		return false, err
	}
	switch reply {
	case chat.NicknameAccepted:
		c.mu.Lock()
		c.nickname = nickname
		c.mu.Unlock()
		return true, nil
	case chat.NicknameInvalid:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnexpectedReply, reply)
	}
}

func (c *Client) Nickname() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nickname
}

// Send writes one line to the server.
func (c *Client) Send(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if err := c.w.Flush(); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Listen calls handle for every line the server relays until the connection
// ends. A clean close by the server returns nil.
func (c *Client) Listen(handle func(line string)) error {
	for {
		line, err := chat.ReadLine(c.r)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		handle(line)
	}
}

// Disconnect announces the departure and closes the connection.
func (c *Client) Disconnect() error {
	sendErr := c.Send(chat.DisconnectToken)
	closeErr := c.conn.Close()
	if errors.Is(closeErr, net.ErrClosed) {
		closeErr = nil
	}
	return errors.Join(sendErr, closeErr)
}

func (c *Client) Close() error {
	return c.conn.Close()
}
