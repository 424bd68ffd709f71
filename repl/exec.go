package repl

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/ardnew/boardsh/pkg"
)

// XferFunc is invoked after a snippet has started executing but before
// its output is drained. The file-transfer hooks use this window to pour
// hex-encoded bytes through the board's stdin/stdout while the snippet is
// blocked on them.
type XferFunc func() error

// execAckTimeout bounds the wait for the two-byte "OK" acknowledging an
// execute request.
const execAckTimeout = 2 * time.Second

// Run ships src to the board in paced chunks and starts it executing.
// The board must already hold a raw prompt. On return the state is
// running; the caller must Follow to drain output before issuing anything
// else on the link.
func (c *Controller) Run(src []byte) error {
	if c.state != StateRaw {
		return fmt.Errorf("%w: state %s", pkg.ErrNotRaw, c.state)
	}

	// The board reprints its '>' prompt when ready for more source.
	buf, err := c.link.ReadUntil(1, []byte{'>'}, 0, nil)
	if err != nil {
		return c.fail(err)
	}
	if !hasSuffix(buf, []byte{'>'}) {
		return c.fail(fmt.Errorf("%w: awaiting raw prompt before exec", pkg.ErrTimeout))
	}

	// Paced upload: boards with small USB CDC buffers drop bytes when the
	// source arrives faster than the interpreter consumes it.
	for off := 0; off < len(src); off += c.chunkSize {
		end := off + c.chunkSize
		if end > len(src) {
			end = len(src)
		}
		if _, err := c.link.Write(src[off:end]); err != nil {
			return c.fail(err)
		}
		if end < len(src) {
			time.Sleep(c.chunkWait)
		}
	}
	if _, err := c.link.Write([]byte{ctrlD}); err != nil {
		return c.fail(err)
	}

	ok, err := c.link.ReadExact(2, execAckTimeout)
	if err != nil {
		return c.fail(err)
	}
	if !bytes.Equal(ok, execAccepted) {
		return c.fail(fmt.Errorf("%w: got %q", pkg.ErrExecRejected, ok))
	}

	c.state = StateRunning
	pkg.LogDebug(pkg.ComponentRepl, "exec started", "bytes", len(src))
	return nil
}

// Follow drains the running snippet's stdout until the first EOT marker,
// then its stderr until the second. Stdout bytes are also copied to sink
// when non-nil. The terminators are stripped from the returned buffers.
// On success the board holds a raw prompt again.
func (c *Controller) Follow(timeout time.Duration, sink io.Writer) (out, errOut []byte, err error) {
	if c.state != StateRunning {
		return nil, nil, fmt.Errorf("%w: state %s", pkg.ErrNotRaw, c.state)
	}
	if timeout <= 0 {
		timeout = DefaultFollowWait
	}

	c.state = StateDrainStdout
	out, err = c.link.ReadUntil(1, []byte{ctrlD}, timeout, sink)
	if err != nil {
		return nil, nil, c.fail(err)
	}
	if !hasSuffix(out, []byte{ctrlD}) {
		return nil, nil, c.fail(fmt.Errorf("%w: awaiting first EOT", pkg.ErrTimeout))
	}
	out = out[:len(out)-1]

	c.state = StateDrainStderr
	errOut, err = c.link.ReadUntil(1, []byte{ctrlD}, timeout, nil)
	if err != nil {
		return nil, nil, c.fail(err)
	}
	if !hasSuffix(errOut, []byte{ctrlD}) {
		return nil, nil, c.fail(fmt.Errorf("%w: awaiting second EOT", pkg.ErrTimeout))
	}
	errOut = errOut[:len(errOut)-1]

	c.state = StateRaw
	return out, errOut, nil
}

// Exec runs src through the full execute envelope: enter raw mode if
// needed, ship and start the snippet, invoke hook during the execution
// window, then drain both output streams. Stdout bytes stream to sink
// when non-nil.
func (c *Controller) Exec(src []byte, hook XferFunc, followTimeout time.Duration, sink io.Writer) (out, errOut []byte, err error) {
	if err := c.EnterRaw(); err != nil {
		return nil, nil, err
	}
	if err := c.Run(src); err != nil {
		return nil, nil, err
	}
	if hook != nil {
		if err := hook(); err != nil {
			// The transfer failed mid-snippet; the board may still be
			// blocked on its stdin. Leave the state unknown so the
			// session tears down rather than trusting the link.
			return nil, nil, c.fail(err)
		}
	}
	return c.Follow(followTimeout, sink)
}
