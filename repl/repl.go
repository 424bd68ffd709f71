// Package repl drives a board between its friendly REPL, raw REPL and
// running-program states, and ships interpreter snippets through the raw
// REPL execute protocol.
//
// The raw REPL envelope is: source bytes, then 0x04 to execute, then "OK"
// from the board, then stdout terminated by 0x04, then stderr terminated
// by a second 0x04. Entering raw mode performs a soft reset, announced by
// a locale-specific banner.
package repl

import (
	"fmt"
	"time"

	"github.com/ardnew/boardsh/link"
	"github.com/ardnew/boardsh/pkg"
)

// Control bytes the board's REPL understands.
const (
	ctrlA = 0x01 // enter raw REPL
	ctrlB = 0x02 // exit raw REPL to friendly
	ctrlC = 0x03 // interrupt running program
	ctrlD = 0x04 // execute / soft reset / end of transmission
)

// Prompts and acknowledgements.
var (
	promptFriendly = []byte(">>> ")
	promptRawReady = []byte("raw REPL; CTRL-B to exit\r\n>")
	promptRawIdle  = []byte("raw REPL; CTRL-B to exit\r\n")
	execAccepted   = []byte("OK")
)

// Default protocol timing.
const (
	DefaultChunkSize  = 64
	DefaultChunkWait  = 500 * time.Millisecond
	DefaultFollowWait = 20 * time.Second

	// wakeTimeout bounds each wake attempt's wait for the friendly prompt.
	wakeTimeout = 100 * time.Millisecond

	// bannerTimeout bounds the wait for the soft-reboot banner.
	bannerTimeout = 1 * time.Second
)

// State identifies where the board is in the REPL protocol.
type State uint8

// REPL protocol states.
const (
	StateUnknown State = iota
	StateFriendly
	StateRaw
	StateRunning
	StateDrainStdout
	StateDrainStderr
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateFriendly:
		return "friendly"
	case StateRaw:
		return "raw"
	case StateRunning:
		return "running"
	case StateDrainStdout:
		return "drain-stdout"
	case StateDrainStderr:
		return "drain-stderr"
	default:
		return "unknown"
	}
}

// Config holds the tunable protocol parameters.
type Config struct {
	Banner    []byte        // soft-reboot banner; nil selects the English banner
	ChunkSize int           // snippet upload chunk size in bytes
	ChunkWait time.Duration // pause between uploaded chunks
}

// Controller is the REPL protocol state machine over a single link.
// It is not safe for concurrent use; all I/O must come from the one
// foreground task that owns the session.
type Controller struct {
	link  *link.Link
	state State

	banner    []byte
	chunkSize int
	chunkWait time.Duration
}

// New creates a controller over an open link. Zero Config fields take
// their defaults.
func New(l *link.Link, cfg Config) *Controller {
	c := &Controller{
		link:      l,
		state:     StateUnknown,
		banner:    cfg.Banner,
		chunkSize: cfg.ChunkSize,
		chunkWait: cfg.ChunkWait,
	}
	if c.banner == nil {
		c.banner = Banner("")
	}
	if c.chunkSize <= 0 {
		c.chunkSize = DefaultChunkSize
	}
	if c.chunkWait < 0 {
		c.chunkWait = 0
	}
	return c
}

// State returns the current protocol state.
func (c *Controller) State() State {
	return c.state
}

// Link returns the link the controller drives.
func (c *Controller) Link() *link.Link {
	return c.link
}

// Wake interrupts whatever the board is doing and waits for a friendly
// prompt, retrying up to attempts times (at least two). Failure leaves the state
// unknown and reports [pkg.ErrReplNotReady].
func (c *Controller) Wake(attempts int) error {
	if attempts < 2 {
		attempts = 2
	}
	for i := 0; i < attempts; i++ {
		if _, err := c.link.Write([]byte{ctrlC, '\r'}); err != nil {
			c.state = StateUnknown
			return err
		}
		buf, err := c.link.ReadUntil(1, promptFriendly, wakeTimeout, nil)
		if err != nil {
			c.state = StateUnknown
			return err
		}
		if hasSuffix(buf, promptFriendly) {
			c.state = StateFriendly
			pkg.LogDebug(pkg.ComponentRepl, "friendly prompt", "attempts", i+1)
			return nil
		}
	}
	c.state = StateUnknown
	return fmt.Errorf("%w: no prompt after %d attempts", pkg.ErrReplNotReady, attempts)
}

// EnterRaw moves the board into the raw REPL. The sequence interrupts any
// running program, drains pending input, requests raw mode, soft-resets,
// and waits for the banner and the raw prompt. On success the board is
// idle in raw mode awaiting source.
func (c *Controller) EnterRaw() error {
	if c.state == StateRaw {
		return nil
	}

	// Double interrupt kills any running program without the board
	// interpreting buffered junk as a command.
	if _, err := c.link.Write([]byte{'\r', ctrlC, ctrlC}); err != nil {
		return c.fail(err)
	}
	if err := c.link.ResetInput(); err != nil {
		return c.fail(err)
	}

	if _, err := c.link.Write([]byte{'\r', ctrlA}); err != nil {
		return c.fail(err)
	}
	buf, err := c.link.ReadUntil(1, promptRawReady, 0, nil)
	if err != nil {
		return c.fail(err)
	}
	if !hasSuffix(buf, promptRawReady) {
		return c.fail(fmt.Errorf("%w: awaiting raw prompt, got %q", pkg.ErrTimeout, tail(buf)))
	}

	// Soft reset so shipped snippets always start from a clean
	// interpreter. The banner is locale-specific.
	if _, err := c.link.Write([]byte{ctrlD}); err != nil {
		return c.fail(err)
	}
	buf, err = c.link.ReadUntil(1, c.banner, bannerTimeout, nil)
	if err != nil {
		return c.fail(err)
	}
	if !hasSuffix(buf, c.banner) {
		return c.fail(fmt.Errorf("%w: awaiting soft-reboot banner, got %q", pkg.ErrTimeout, tail(buf)))
	}

	// Separate read so anything boot.py prints lands between the banner
	// and the prompt without confusing the match.
	buf, err = c.link.ReadUntil(1, promptRawIdle, 0, nil)
	if err != nil {
		return c.fail(err)
	}
	if !hasSuffix(buf, promptRawIdle) {
		return c.fail(fmt.Errorf("%w: awaiting raw REPL after reset, got %q", pkg.ErrTimeout, tail(buf)))
	}

	c.state = StateRaw
	pkg.LogDebug(pkg.ComponentRepl, "entered raw REPL")
	return nil
}

// ExitRaw returns the board to the friendly REPL. No acknowledgement is
// awaited.
func (c *Controller) ExitRaw() error {
	if _, err := c.link.Write([]byte{'\r', ctrlB}); err != nil {
		return c.fail(err)
	}
	c.state = StateFriendly
	pkg.LogDebug(pkg.ComponentRepl, "exited raw REPL")
	return nil
}

// fail records a protocol failure: the state drops to unknown and the
// error propagates.
func (c *Controller) fail(err error) error {
	c.state = StateUnknown
	return err
}

func hasSuffix(buf, suffix []byte) bool {
	if len(buf) < len(suffix) {
		return false
	}
	tail := buf[len(buf)-len(suffix):]
	for i := range suffix {
		if tail[i] != suffix[i] {
			return false
		}
	}
	return true
}

// tail returns the last few bytes of buf for error context.
func tail(buf []byte) []byte {
	const keep = 32
	if len(buf) <= keep {
		return buf
	}
	return buf[len(buf)-keep:]
}
