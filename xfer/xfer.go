// Package xfer implements the host side of the hex-framed, ACK-paced
// file-transfer sub-protocols.
//
// Both directions run as transfer hooks of an executing snippet: the
// board-side helper has already been started through the raw REPL and is
// blocked on its stdin or stdout. Every raw file byte crosses the link as
// two ASCII hex characters, which keeps the board's stdio from mangling
// control bytes; flow control is a single ACK (0x06) per window. There is
// no chunk header and no checksum: the sender knows the total and the
// receiver counts the remainder down to zero.
package xfer

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ardnew/boardsh/link"
	"github.com/ardnew/boardsh/pkg"
)

// Ack is the flow-control byte exchanged once per transfer window.
const Ack = 0x06

// ackTimeout bounds the wait for each window's flow-control byte, and
// replaces the link timeout for the duration of a transfer.
const ackTimeout = 2 * time.Second

// Send pours size bytes from r into the board, matching the
// recv_file_from_host helper: wait for the board's ACK, then ship the
// next window of bufSize/2 source bytes hex-encoded so the on-wire window
// equals bufSize. A missing or wrong ACK fails with
// [pkg.ErrTransferDesync].
func Send(l *link.Link, r io.Reader, size int64, bufSize int) error {
	window := int64(bufSize / 2)
	if window < 1 {
		window = 1
	}
	prev := l.SetTimeout(ackTimeout)
	defer l.SetTimeout(prev)

	raw := make([]byte, window)
	enc := make([]byte, 2*window)
	remaining := size
	for remaining > 0 {
		ack, err := l.ReadExact(1, ackTimeout)
		if err != nil {
			return desync(err, "awaiting ACK")
		}
		if ack[0] != Ack {
			return fmt.Errorf("%w: got 0x%02x instead of ACK", pkg.ErrTransferDesync, ack[0])
		}

		n := window
		if remaining < n {
			n = remaining
		}
		if _, err := io.ReadFull(r, raw[:n]); err != nil {
			return fmt.Errorf("read source: %w", err)
		}
		hex.Encode(enc[:2*n], raw[:n])
		if _, err := l.Write(enc[:2*n]); err != nil {
			return err
		}
		remaining -= n
		pkg.LogDebug(pkg.ComponentXfer, "window sent", "bytes", n, "remaining", remaining)
	}
	return nil
}

// Recv drains size bytes from the board into w, matching the
// send_file_to_host helper: read exactly one hex-encoded window, decode
// and append it, then answer with a single ACK so the board releases the
// next window.
func Recv(l *link.Link, w io.Writer, size int64, bufSize int) error {
	window := int64(bufSize)
	if window < 2 {
		window = 2
	}
	prev := l.SetTimeout(ackTimeout)
	defer l.SetTimeout(prev)

	raw := make([]byte, window/2)
	remaining := 2 * size // hex doubles every byte on the wire
	for remaining > 0 {
		n := window
		if remaining < n {
			n = remaining
		}
		enc, err := l.ReadExact(int(n), ackTimeout)
		if err != nil {
			return desync(err, "awaiting window")
		}
		if _, err := hex.Decode(raw[:n/2], enc); err != nil {
			return fmt.Errorf("%w: bad hex window: %v", pkg.ErrTransferDesync, err)
		}
		if _, err := w.Write(raw[:n/2]); err != nil {
			return fmt.Errorf("write destination: %w", err)
		}
		if _, err := l.Write([]byte{Ack}); err != nil {
			return err
		}
		remaining -= n
		pkg.LogDebug(pkg.ComponentXfer, "window received", "bytes", n/2, "remaining", remaining/2)
	}
	return nil
}

// desync classifies a stalled window. Link loss keeps its identity so the
// session tears down; a silent board becomes a transfer desync.
func desync(err error, what string) error {
	if errors.Is(err, pkg.ErrLinkLost) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", pkg.ErrTransferDesync, what, err)
}
