package chat

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Wire tokens of the line protocol.
const (
	NicknameAccepted = "NICKNAME_ACCEPTED"
	NicknameInvalid  = "NICKNAME_INVALID"
	DisconnectToken  = "disconnect"
)

func ConnectNotice(nickname string) string {
	return nickname + " connected!"
}

func DisconnectNotice(nickname string) string {
	return nickname + " disconnected"
}

func ChatLine(nickname, text string) string {
	return nickname + ": " + text
}

// ReadLine reads one newline-delimited line and strips its terminator, a
// single "\n" or "\r\n". A final unterminated line is returned as-is; io.EOF
// is returned only once nothing is left.
func ReadLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err == nil {
		return trimTerminator(line), nil
	}
	if err == io.EOF && line != "" {
		// last line without newline
		return line, nil
	}
	if err == io.EOF {
		return "", io.EOF
	}
	return "", fmt.Errorf("read: %w", err)
}

func trimTerminator(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}
