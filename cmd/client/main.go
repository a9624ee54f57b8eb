package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/andy6609/relay-chat/internal/chat"
	"github.com/andy6609/relay-chat/internal/client"
)

func main() {
	var host, port, nickname string

	rootCmd := &cobra.Command{
		Use:   "chat-client",
		Short: "Terminal client for the chat server",
		Long:  "Connects to a chat server, negotiates a nickname and relays lines typed on stdin. Missing values are prompted for.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), os.Stdin, os.Stdout, host, port, nickname)
		},
		SilenceUsage: true,
	}
	rootCmd.Flags().StringVar(&host, "host", "", "server IP address")
	rootCmd.Flags().StringVar(&port, "port", "", "server port")
	rootCmd.Flags().StringVar(&nickname, "nick", "", "nickname (at least 5 characters)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, stdin io.Reader, stdout io.Writer, host, port, nickname string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	in := bufio.NewReader(stdin)

	addr, err := promptAddress(in, stdout, host, port)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	c, err := client.Dial(dialCtx, addr)
	cancel()
	if err != nil {
		fmt.Fprintln(stdout, "Could not connect to the server.")
		return err
	}

	if err := negotiate(c, in, stdout, nickname); err != nil {
		_ = c.Close()
		return err
	}

	listenDone := make(chan error, 1)
	go func() {
		listenDone <- c.Listen(func(line string) {
			fmt.Fprintln(stdout, line)
		})
	}()

	done := make(chan struct{})
	defer close(done)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	lines := readLines(in, done)

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return c.Disconnect()
			}
			if err := c.Send(line); err != nil {
				return err
			}
			if line == chat.DisconnectToken {
				return c.Close()
			}
		case <-sigCh:
			return c.Disconnect()
		case <-ctx.Done():
			return c.Disconnect()
		case err := <-listenDone:
			fmt.Fprintln(stdout, "Disconnected from the server.")
			_ = c.Close()
			return err
		}
	}
}

// readLines forwards stdin lines until EOF or until done is closed.
func readLines(in *bufio.Reader, done <-chan struct{}) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		for {
			line, err := chat.ReadLine(in)
			if err != nil {
				return
			}
			select {
			case lines <- line:
			case <-done:
				return
			}
		}
	}()
	return lines
}

// promptAddress asks until host and port form a valid server address.
// Values passed as flags are tried first.
func promptAddress(in *bufio.Reader, out io.Writer, host, port string) (string, error) {
	for {
		if host == "" {
			v, err := prompt(in, out, "Enter Server IP Address: ")
			if err != nil {
				return "", err
			}
			host = strings.TrimSpace(v)
		}
		if port == "" {
			v, err := prompt(in, out, "Enter Server Port Number: ")
			if err != nil {
				return "", err
			}
			port = strings.TrimSpace(v)
		}
		addr, err := client.ServerAddress(host, port)
		if err == nil {
			return addr, nil
		}
		fmt.Fprintln(out, "Invalid IP address or port number. Please try again.")
		host, port = "", ""
	}
}

func negotiate(c *client.Client, in *bufio.Reader, out io.Writer, nickname string) error {
	for {
		if nickname == "" {
			v, err := prompt(in, out, "Enter Your Nickname (at least 5 characters): ")
			if err != nil {
				return err
			}
			nickname = v
		}
		ok, err := c.Negotiate(nickname)
		switch {
		case errors.Is(err, client.ErrNicknameTooShort):
			fmt.Fprintln(out, "Nickname must be at least 5 characters long.")
		case err != nil:
			return err
		case ok:
			return nil
		default:
			fmt.Fprintln(out, "Nickname is already taken or invalid. Please try again.")
		}
		nickname = ""
	}
}

func prompt(in *bufio.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	line, err := chat.ReadLine(in)
	if err != nil {
		return "", err
	}
	return line, nil
}
