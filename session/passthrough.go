package session

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardnew/boardsh/pkg"
	"github.com/ardnew/boardsh/repl"
)

// QuitByte ends the passthrough terminal (Control-X).
const QuitByte = 0x18

// passthroughPoll is the reader's per-read timeout, which doubles as how
// often it checks the stop flag.
const passthroughPoll = 1 * time.Second

// Passthrough connects the operator's terminal directly to the board's
// friendly REPL. A dedicated reader task copies board output to out
// while the foreground forwards keystrokes from in; both stop when the
// operator types Control-X. The caller is responsible for putting its
// terminal into raw mode.
type Passthrough struct {
	// Initial, when non-empty, is written to the board as a command line
	// before any keystrokes are forwarded.
	Initial string

	// QuitWhenIdle ends the passthrough once the board has produced no
	// output for one full read-timeout period. Used when Initial carries
	// the whole interaction and no operator is typing.
	QuitWhenIdle bool
}

// Run drives the passthrough until the operator quits, the board goes
// away, or (with QuitWhenIdle) the board falls silent.
func (p *Passthrough) Run(s *Session, in io.Reader, out io.Writer) error {
	if s.Closed() {
		return pkg.ErrNoDevice
	}
	// The board may be parked in raw mode from a previous operation; the
	// passthrough is a friendly-REPL feature.
	if s.ctrl.State() == repl.StateRaw {
		if err := s.ctrl.ExitRaw(); err != nil {
			return err
		}
	}

	var stop atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.copyBoardOutput(s, out, &stop)
	}()

	err := p.forwardKeystrokes(s, in, &stop)

	// One space unblocks a reader still parked in its read before the
	// join; the board echoes it back.
	if !s.Closed() {
		s.lnk.Write([]byte{' '})
	}
	stop.Store(true)
	wg.Wait()

	if s.lnk.Closed() {
		// The reader saw the link drop.
		s.Close()
	}
	return err
}

// copyBoardOutput is the reader task: board bytes go to out until the
// stop flag is raised, the link fails, or the board goes idle with
// QuitWhenIdle set.
func (p *Passthrough) copyBoardOutput(s *Session, out io.Writer, stop *atomic.Bool) {
	if err := s.lnk.SetReadTimeout(passthroughPoll); err != nil {
		stop.Store(true)
		return
	}
	one := make([]byte, 1)
	for !stop.Load() {
		n, err := s.lnk.Read(one)
		if err != nil {
			stop.Store(true)
			return
		}
		if n == 0 {
			if p.QuitWhenIdle {
				stop.Store(true)
				return
			}
			continue
		}
		out.Write(one[:1])
	}
}

// forwardKeystrokes is the foreground side: wake the prompt, inject the
// initial line, then forward bytes until Control-X or stop.
func (p *Passthrough) forwardKeystrokes(s *Session, in io.Reader, stop *atomic.Bool) error {
	if _, err := s.lnk.Write([]byte{'\r'}); err != nil {
		return err
	}
	if p.Initial != "" {
		if _, err := s.lnk.Write(append([]byte(p.Initial), '\r')); err != nil {
			return err
		}
	}
	if p.QuitWhenIdle {
		// No operator input; the reader decides when the board is done.
		for !stop.Load() {
			time.Sleep(passthroughPoll / 10)
		}
		return nil
	}

	one := make([]byte, 1)
	for !stop.Load() {
		n, err := in.Read(one)
		if err != nil {
			return nil // terminal input ended; treat as quit
		}
		if n == 0 {
			continue
		}
		switch one[0] {
		case QuitByte:
			return nil
		case '\n':
			one[0] = '\r'
		}
		if _, err := s.lnk.Write(one[:1]); err != nil {
			return err
		}
	}
	return nil
}
