package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/MrWong99/echocrafter/pkg/provider/intent"
	"github.com/MrWong99/echocrafter/pkg/provider/stt"
)

var _ Dispatcher = (*Socket)(nil)

// Socket writes each event as one line of JSON to a controller listening on
// a unix stream socket. A connection is opened per event, so the controller
// may restart freely; a missing listener is reported as an error.
type Socket struct {
	path    string
	timeout time.Duration
}

// NewSocket returns a sink for the unix socket at path. timeout bounds dial
// and write; zero means 2s.
func NewSocket(path string, timeout time.Duration) (*Socket, error) {
	if path == "" {
		return nil, errors.New("dispatch: socket path must not be empty")
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Socket{path: path, timeout: timeout}, nil
}

// WakeWord implements [Dispatcher].
func (s *Socket) WakeWord(ctx context.Context, keyword int) error {
	return s.send(ctx, wakeEvent(keyword))
}

// Intent implements [Dispatcher].
func (s *Socket) Intent(ctx context.Context, in intent.Intent) error {
	return s.send(ctx, intentEvent(in))
}

// Transcript implements [Dispatcher].
func (s *Socket) Transcript(ctx context.Context, t stt.Transcript) error {
	return s.send(ctx, transcriptEvent(t))
}

func (s *Socket) send(ctx context.Context, ev Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("dispatch: socket: marshal %s: %w", ev.Type, err)
	}
	line = append(line, '\n')

	d := net.Dialer{Timeout: s.timeout}
	conn, err := d.DialContext(ctx, "unix", s.path)
	if err != nil {
		return fmt.Errorf("dispatch: socket: dial %q: %w", s.path, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("dispatch: socket: %w", err)
	}
	if _, err := conn.Write(line); err != nil {
		return fmt.Errorf("dispatch: socket: write %s: %w", ev.Type, err)
	}
	return nil
}
