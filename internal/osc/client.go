package osc

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultPort is the fixed control port of every relay node.
const DefaultPort = 53000

// ParseArgs turns command-line words into typed OSC arguments:
// integers become int32, other numbers float32, anything else a string.
func ParseArgs(words []string) []any {
	args := make([]any, 0, len(words))
	for _, w := range words {
		if i, err := strconv.ParseInt(w, 10, 32); err == nil {
			args = append(args, int32(i))
			continue
		}
		if f, err := strconv.ParseFloat(w, 32); err == nil {
			args = append(args, float32(f))
			continue
		}
		args = append(args, w)
	}
	return args
}

func splitHostPort(addr string) (string, int, error) {
	if !strings.Contains(addr, ":") {
		return addr, DefaultPort, nil
	}
	host, p, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("parse address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return "", 0, fmt.Errorf("parse port %q: %w", p, err)
	}
	return host, port, nil
}
