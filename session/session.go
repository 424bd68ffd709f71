// Package session ties one attached board to the engine: it owns the
// link, the REPL controller, the board's enumerated root directories and
// the process-wide current-device slot.
//
// A session is single-writer: every serial operation runs on the one
// foreground task that invoked it. The hot-plug supervisor is the
// exception: it attaches new sessions on its own goroutine and closes the
// current session when its adapter is removed.
package session

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ardnew/boardsh/config"
	"github.com/ardnew/boardsh/link"
	"github.com/ardnew/boardsh/pkg"
	"github.com/ardnew/boardsh/remote"
	"github.com/ardnew/boardsh/repl"
)

// wakeAttempts is how many interrupt-and-prompt cycles Attach tries
// before giving up on the board.
const wakeAttempts = 2

// Session is one attached board.
type Session struct {
	lnk  *link.Link
	ctrl *repl.Controller
	opts config.Options

	name     string   // display name; defaults to the port path
	namePath string   // "/<name>/"
	rootDirs []string // enumerated mount points, each "/NAME/"

	closed atomic.Bool
}

// Attach opens the port, negotiates a friendly REPL, enumerates the
// board's root directories, optionally synchronises the board clock, and
// publishes the session as the process-wide current device (closing any
// previous one).
func Attach(opts config.Options) (*Session, error) {
	lnk, err := link.Open(opts.Port, opts.Baud, opts.Wait)
	if err != nil {
		return nil, err
	}
	return New(lnk, opts)
}

// New runs the attach sequence over an already-open link. On any failure
// the link is closed.
func New(lnk *link.Link, opts config.Options) (*Session, error) {
	name := opts.Port
	if name == "" {
		name = lnk.Name()
	}
	s := &Session{
		lnk: lnk,
		ctrl: repl.New(lnk, repl.Config{
			Banner:    repl.Banner(opts.Locale),
			ChunkSize: opts.ChunkSize,
			ChunkWait: opts.ChunkWait.Std(),
		}),
		opts:     opts,
		name:     name,
		namePath: "/" + name + "/",
	}

	if err := s.ctrl.Wake(wakeAttempts); err != nil {
		lnk.Close()
		return nil, err
	}

	roots, err := s.InvokeEval(remote.Listdir, "/")
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("enumerate roots: %w", err)
	}
	names, ok := roots.([]any)
	if !ok {
		s.Close()
		return nil, fmt.Errorf("enumerate roots: unexpected %T", roots)
	}
	for _, n := range names {
		name, ok := n.(string)
		if !ok {
			continue
		}
		s.rootDirs = append(s.rootDirs, "/"+name+"/")
	}
	pkg.LogInfo(pkg.ComponentSession, "device attached",
		"port", opts.Port, "roots", strings.Join(s.rootDirs, " "))

	if opts.SyncTime {
		if _, err := s.Invoke(remote.SetTime, nil, remote.TimeTuple(time.Now())); err != nil {
			s.Close()
			return nil, fmt.Errorf("sync time: %w", err)
		}
	}

	SetCurrent(s)
	return s, nil
}

// Name returns the board's display name.
func (s *Session) Name() string {
	return s.name
}

// NamePath returns "/<name>/", the prefix the path router strips.
func (s *Session) NamePath() string {
	return s.namePath
}

// RootDirs returns the board's enumerated mount points, each with a
// trailing slash. The slice is immutable for the session's lifetime; do
// not modify.
func (s *Session) RootDirs() []string {
	return s.rootDirs
}

// IsRootPath reports whether filename lives under one of the board's
// root directories.
func (s *Session) IsRootPath(filename string) bool {
	test := filename + "/"
	for _, root := range s.rootDirs {
		if strings.HasPrefix(test, root) {
			return true
		}
	}
	return false
}

// Link returns the session's serial link, for the transfer hooks and the
// passthrough terminal.
func (s *Session) Link() *link.Link {
	return s.lnk
}

// Controller returns the session's REPL controller.
func (s *Session) Controller() *repl.Controller {
	return s.ctrl
}

// Options returns the configuration the session was attached with.
func (s *Session) Options() config.Options {
	return s.opts
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	return s.closed.Load() || s.lnk.Closed()
}

// Invoke ships one helper call to the board and returns its raw stdout.
// The xfer hook, when non-nil, runs while the snippet is executing. Any
// protocol or transport failure tears the session down after a
// best-effort return to the friendly REPL.
func (s *Session) Invoke(h *remote.Helper, xfer repl.XferFunc, args ...any) ([]byte, error) {
	if s.Closed() {
		return nil, fmt.Errorf("%w: %s", pkg.ErrNoDevice, s.name)
	}

	src := h.CallSource(args, nil)
	if bytes.Contains(src, []byte("BUFFER_SIZE")) {
		src = bytes.ReplaceAll(src, []byte("BUFFER_SIZE"),
			[]byte(strconv.Itoa(s.opts.BufferSize)))
	}
	pkg.LogDebug(pkg.ComponentRemote, "shipping helper",
		"name", h.Name, "bytes", len(src))

	out, errOut, err := s.ctrl.Exec(src, xfer, s.opts.Follow.Std(), nil)
	if err != nil {
		if !errors.Is(err, pkg.ErrLinkLost) {
			s.ctrl.ExitRaw()
		}
		s.Close()
		return nil, err
	}
	if err := s.ctrl.ExitRaw(); err != nil {
		s.Close()
		return nil, err
	}
	if len(errOut) > 0 {
		return out, &pkg.RemoteError{Stdout: out, Stderr: errOut}
	}
	return out, nil
}

// InvokeEval invokes the helper and parses the printed result back into
// a host value. Board output that is not a single literal is retried as
// its last line, so a helper that prints diagnostics before its result
// still evaluates.
func (s *Session) InvokeEval(h *remote.Helper, args ...any) (any, error) {
	out, err := s.Invoke(h, nil, args...)
	if err != nil {
		return nil, err
	}
	v, perr := remote.Parse(out)
	if perr == nil {
		return v, nil
	}
	if last := lastLine(out); last != nil {
		if v, err := remote.Parse(last); err == nil {
			return v, nil
		}
	}
	return nil, fmt.Errorf("eval %s output %q: %w", h.Name, out, perr)
}

// lastLine returns the final non-empty CRLF-separated line of out.
func lastLine(out []byte) []byte {
	lines := bytes.Split(bytes.TrimRight(out, "\r\n"), []byte("\n"))
	if len(lines) == 0 {
		return nil
	}
	return bytes.TrimRight(lines[len(lines)-1], "\r")
}

// Close tears the session down: the link is closed and the
// current-device slot is cleared if it still points here. Safe to call
// more than once.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	err := s.lnk.Close()
	clearCurrent(s)
	pkg.LogInfo(pkg.ComponentSession, "device detached", "port", s.name)
	return err
}

// Detach is Close under the name the shell uses.
func (s *Session) Detach() error {
	return s.Close()
}
