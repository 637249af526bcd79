// Package gate signals the physical access gate after an identification.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// Signal is the single-byte message understood by the gate controller.
type Signal string

const (
	// SignalKnownImage reports a match on an image that was already indexed.
	SignalKnownImage Signal = "0"
	// SignalNewExemplar reports a match whose image was just added to the index.
	SignalNewExemplar Signal = "1"
)

const (
	defaultTimeout = 3 * time.Second
	ackBufferSize  = 1024
)

// Notifier delivers gate signals.
type Notifier interface {
	Notify(ctx context.Context, signal Signal) error
}

// TCPNotifier sends each signal over a fresh TCP connection and waits for the
// controller's acknowledgement.
type TCPNotifier struct {
	addr    string
	timeout time.Duration
	log     *slog.Logger
}

// NewTCPNotifier creates a notifier for the controller at addr (host:port).
func NewTCPNotifier(addr string, timeout time.Duration, logger *slog.Logger) *TCPNotifier {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TCPNotifier{addr: addr, timeout: timeout, log: logger.With("module", "gate")}
}

// Notify connects, writes the signal and reads the acknowledgement.
func (n *TCPNotifier) Notify(ctx context.Context, signal Signal) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", n.addr)
	if err != nil {
		return fmt.Errorf("connecting to gate %s: %w", n.addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return fmt.Errorf("setting deadline: %w", err)
		}
	}

	if _, err := conn.Write([]byte(signal)); err != nil {
		return fmt.Errorf("sending signal: %w", err)
	}

	buf := make([]byte, ackBufferSize)
	nRead, err := conn.Read(buf)
	if err != nil {
		return fmt.Errorf("reading gate response: %w", err)
	}

	n.log.Debug("gate acknowledged signal", "signal", string(signal), "response", string(buf[:nRead]))
	return nil
}

// NopNotifier discards every signal. It is used when no gate is configured.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Signal) error { return nil }
