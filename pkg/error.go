package pkg

import (
	"errors"
	"fmt"
)

// Link and REPL protocol errors.
var (
	// ErrPortUnavailable indicates the serial port could not be opened
	// within the configured wait window.
	ErrPortUnavailable = errors.New("serial port unavailable")

	// ErrLinkLost indicates a read or write on an open port failed.
	// The session holding the port must be torn down.
	ErrLinkLost = errors.New("serial link lost")

	// ErrTimeout indicates an awaited protocol sentinel was not observed
	// within its timeout.
	ErrTimeout = errors.New("protocol timeout")

	// ErrReplNotReady indicates repeated wake attempts did not produce a
	// friendly REPL prompt.
	ErrReplNotReady = errors.New("REPL not ready")

	// ErrExecRejected indicates the raw-mode execute handshake did not
	// return OK.
	ErrExecRejected = errors.New("execute rejected by board")

	// ErrTransferDesync indicates a file-transfer window did not observe
	// the expected ACK byte. Aborts the current transfer only.
	ErrTransferDesync = errors.New("file transfer out of sync")

	// ErrInvalidPath indicates the path router was given a malformed
	// pattern.
	ErrInvalidPath = errors.New("invalid path")

	// ErrNoDevice indicates a remote path was used while no device is
	// attached.
	ErrNoDevice = errors.New("no device attached")

	// ErrNotRaw indicates an operation that requires raw mode was invoked
	// while the board is in another state.
	ErrNotRaw = errors.New("board not in raw REPL")
)

// RemoteError is returned when a snippet ran to completion on the board but
// produced non-empty stderr (a device-side exception). It carries both
// output streams so the caller can present the traceback verbatim.
type RemoteError struct {
	Stdout []byte // board stdout up to the first EOT
	Stderr []byte // board stderr up to the second EOT
}

// Error returns the device-side traceback.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("board exception: %s", e.Stderr)
}

// Fatal reports whether err requires the session to be torn down: true
// for LinkLost, Timeout, ReplNotReady and ExecRejected. Every other
// error, including TransferDesync and remote exceptions, aborts only the
// current operation.
func Fatal(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrTransferDesync),
		errors.Is(err, ErrInvalidPath),
		errors.Is(err, ErrNoDevice):
		return false
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return false
	}
	return errors.Is(err, ErrLinkLost) || errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrReplNotReady) || errors.Is(err, ErrExecRejected)
}
