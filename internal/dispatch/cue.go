package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/MrWong99/echocrafter/pkg/provider/intent"
	"github.com/MrWong99/echocrafter/pkg/provider/stt"
)

var _ Dispatcher = (*Cue)(nil)

// CuePlaceholder in a player command is replaced by the cue file. Without
// it the file is appended as the last argument.
const CuePlaceholder = "{file}"

// CueConfig names the sounds played for each outcome. Empty paths play
// nothing.
type CueConfig struct {
	// Player is the command line used to play a file, e.g. "aplay -q".
	Player string

	// Wake is played when the wake word is detected.
	Wake string

	// Success is played when an intent is understood.
	Success string

	// Transcript is played when a fallback transcript is ready.
	Transcript string
}

// Cue plays short sounds through an external player. Playback runs in the
// background; delivery returns once the player has started.
type Cue struct {
	argv []string
	cfg  CueConfig
	log  *slog.Logger

	wg sync.WaitGroup
}

// NewCue parses the player command.
func NewCue(cfg CueConfig, log *slog.Logger) (*Cue, error) {
	if cfg.Player == "" {
		cfg.Player = "aplay -q"
	}
	argv, err := shellwords.NewParser().Parse(cfg.Player)
	if err != nil {
		return nil, fmt.Errorf("dispatch: parse cue player %q: %w", cfg.Player, err)
	}
	if len(argv) == 0 {
		return nil, errors.New("dispatch: cue player command is empty")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Cue{argv: argv, cfg: cfg, log: log}, nil
}

// WakeWord implements [Dispatcher].
func (c *Cue) WakeWord(_ context.Context, _ int) error { return c.play(c.cfg.Wake) }

// Intent implements [Dispatcher].
func (c *Cue) Intent(_ context.Context, _ intent.Intent) error { return c.play(c.cfg.Success) }

// Transcript implements [Dispatcher].
func (c *Cue) Transcript(_ context.Context, _ stt.Transcript) error { return c.play(c.cfg.Transcript) }

// Command returns the argv that plays file.
func (c *Cue) Command(file string) []string {
	out := make([]string, 0, len(c.argv)+1)
	replaced := false
	for _, a := range c.argv {
		if strings.Contains(a, CuePlaceholder) {
			a = strings.ReplaceAll(a, CuePlaceholder, file)
			replaced = true
		}
		out = append(out, a)
	}
	if !replaced {
		out = append(out, file)
	}
	return out
}

func (c *Cue) play(file string) error {
	if file == "" {
		return nil
	}
	argv := c.Command(file)
	// Not tied to the delivery context: the cue outlives the dispatch call.
	cmd := exec.Command(argv[0], argv[1:]...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("dispatch: start cue player: %w", err)
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := cmd.Wait(); err != nil {
			c.log.Warn("dispatch: cue player failed", "file", file, "err", err)
		}
	}()
	return nil
}

// Wait blocks until every started player has exited.
func (c *Cue) Wait() { c.wg.Wait() }
