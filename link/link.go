// Package link owns the serial port connecting the host to a board.
//
// A [Link] wraps a [Port] with the timed read-until-sentinel primitive the
// REPL protocol is built on, and maps transport failures to
// [pkg.ErrLinkLost] so the session layer can tear down deterministically.
//
// Two Port implementations are provided: [Serial], backed by a real serial
// adapter via go.bug.st/serial, and [Pipe], an in-memory loopback used by
// tests and tooling to script a fake board.
package link

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/ardnew/boardsh/pkg"
)

// Timing constants.
const (
	// pollInterval is the slice in which ReadUntil polls for new bytes.
	pollInterval = 10 * time.Millisecond

	// openRetryInterval is the pause between open attempts while waiting
	// for a port to appear.
	openRetryInterval = 1 * time.Second

	// DefaultTimeout is the read-until idle timeout applied when the
	// caller does not override it.
	DefaultTimeout = 10 * time.Second
)

// Port is the byte transport beneath a Link.
//
// SetReadTimeout bounds how long a single Read blocks waiting for the
// first byte; a Read that times out returns (0, nil). ResetInputBuffer
// discards any unread input.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(d time.Duration) error
	ResetInputBuffer() error
}

// Link drives a serial port with the timing discipline the board protocol
// requires. All I/O originates from a single foreground task; Link itself
// performs no locking.
type Link struct {
	port    Port
	name    string
	timeout time.Duration
	closed  atomic.Bool
}

// New wraps an already-open port. The name is used for logging and as the
// session's default display name.
func New(port Port, name string) *Link {
	return &Link{port: port, name: name, timeout: DefaultTimeout}
}

// Open opens the named serial port at the given baud rate. If the port
// cannot be opened it retries once per second for up to wait seconds,
// then fails with [pkg.ErrPortUnavailable].
func Open(name string, baud int, wait int) (*Link, error) {
	port, err := openSerial(name, baud)
	for attempt := 0; err != nil && attempt < wait; attempt++ {
		pkg.LogDebug(pkg.ComponentLink, "waiting for port", "port", name, "attempt", attempt+1)
		time.Sleep(openRetryInterval)
		port, err = openSerial(name, baud)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", pkg.ErrPortUnavailable, name, err)
	}
	pkg.LogInfo(pkg.ComponentLink, "port open", "port", name, "baud", baud)
	return New(port, name), nil
}

// Name returns the port identifier the link was opened with.
func (l *Link) Name() string {
	return l.name
}

// Timeout returns the current read-until idle timeout.
func (l *Link) Timeout() time.Duration {
	return l.timeout
}

// SetTimeout sets the read-until idle timeout and returns the previous
// value, so callers that tighten it for a transfer can restore it.
func (l *Link) SetTimeout(d time.Duration) time.Duration {
	prev := l.timeout
	l.timeout = d
	return prev
}

// Closed reports whether the link has been closed or lost.
func (l *Link) Closed() bool {
	return l.closed.Load()
}

// Write sends p to the board. An underlying I/O error closes the link and
// fails with [pkg.ErrLinkLost].
func (l *Link) Write(p []byte) (int, error) {
	if l.closed.Load() {
		return 0, pkg.ErrLinkLost
	}
	n, err := l.port.Write(p)
	if err != nil {
		l.drop(err)
		return n, fmt.Errorf("%w: write %s: %v", pkg.ErrLinkLost, l.name, err)
	}
	return n, nil
}

// Read reads up to len(p) bytes, blocking no longer than the port's
// configured read timeout for the first byte. An underlying I/O error
// closes the link and fails with [pkg.ErrLinkLost].
func (l *Link) Read(p []byte) (int, error) {
	if l.closed.Load() {
		return 0, pkg.ErrLinkLost
	}
	n, err := l.port.Read(p)
	if err != nil {
		l.drop(err)
		return n, fmt.Errorf("%w: read %s: %v", pkg.ErrLinkLost, l.name, err)
	}
	return n, nil
}

// ReadExact reads exactly n bytes, waiting up to timeout for each read.
// It fails with [pkg.ErrTimeout] if the board stalls mid-count.
func (l *Link) ReadExact(n int, timeout time.Duration) ([]byte, error) {
	if err := l.port.SetReadTimeout(timeout); err != nil {
		l.drop(err)
		return nil, fmt.Errorf("%w: %v", pkg.ErrLinkLost, err)
	}
	buf := make([]byte, n)
	filled := 0
	for filled < n {
		m, err := l.Read(buf[filled:])
		if err != nil {
			return buf[:filled], err
		}
		if m == 0 {
			return buf[:filled], fmt.Errorf("%w: got %d of %d bytes", pkg.ErrTimeout, filled, n)
		}
		filled += m
	}
	return buf, nil
}

// ReadUntil accumulates bytes until the buffer ends with ending, reading
// at least min bytes before testing the sentinel. The port is polled in
// 10 ms slices; a slice that yields a byte resets the idle counter, and
// ReadUntil returns once accumulated idle time reaches timeout. The full
// buffer is returned in either case; the caller inspects whether it ends
// with the sentinel. Each byte is also copied to sink when non-nil.
//
// A timeout of zero or less applies the link's current timeout.
func (l *Link) ReadUntil(min int, ending []byte, timeout time.Duration, sink io.Writer) ([]byte, error) {
	if timeout <= 0 {
		timeout = l.timeout
	}
	if err := l.port.SetReadTimeout(pollInterval); err != nil {
		l.drop(err)
		return nil, fmt.Errorf("%w: %v", pkg.ErrLinkLost, err)
	}

	buf := make([]byte, 0, 64)
	one := make([]byte, 1)
	var idle time.Duration
	for {
		if len(buf) >= min && endsWith(buf, ending) {
			return buf, nil
		}
		n, err := l.Read(one)
		if err != nil {
			return buf, err
		}
		if n == 0 {
			idle += pollInterval
			if idle >= timeout {
				return buf, nil
			}
			continue
		}
		idle = 0
		buf = append(buf, one[0])
		if sink != nil {
			sink.Write(one[:1])
		}
	}
}

// ResetInput discards any unread input from the board.
func (l *Link) ResetInput() error {
	if l.closed.Load() {
		return pkg.ErrLinkLost
	}
	if err := l.port.ResetInputBuffer(); err != nil {
		l.drop(err)
		return fmt.Errorf("%w: %v", pkg.ErrLinkLost, err)
	}
	return nil
}

// SetReadTimeout bounds how long a single Read blocks for the first byte.
// Used by the passthrough reader and the transfer hooks, which bypass
// ReadUntil.
func (l *Link) SetReadTimeout(d time.Duration) error {
	if err := l.port.SetReadTimeout(d); err != nil {
		l.drop(err)
		return fmt.Errorf("%w: %v", pkg.ErrLinkLost, err)
	}
	return nil
}

// Close closes the underlying port. Further operations fail with
// [pkg.ErrLinkLost].
func (l *Link) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	pkg.LogInfo(pkg.ComponentLink, "port closed", "port", l.name)
	return l.port.Close()
}

// drop marks the link lost after an underlying I/O failure.
func (l *Link) drop(err error) {
	if l.closed.Swap(true) {
		return
	}
	pkg.LogWarn(pkg.ComponentLink, "link lost", "port", l.name, "error", err)
	l.port.Close()
}

func endsWith(buf, suffix []byte) bool {
	if len(suffix) == 0 || len(buf) < len(suffix) {
		return len(suffix) == 0
	}
	tail := buf[len(buf)-len(suffix):]
	for i := range suffix {
		if tail[i] != suffix[i] {
			return false
		}
	}
	return true
}
