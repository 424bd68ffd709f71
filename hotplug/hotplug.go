// Package hotplug discovers serial adapters that look like boards and,
// optionally, watches the kernel's device events to attach and detach
// sessions as hardware comes and goes.
//
// The supervisor runs the attach for a new adapter on its own goroutine,
// including that attach's serial I/O, and closes the current session when
// its adapter is removed. It does not hand either step to the foreground
// task, and it does no other serial I/O.
package hotplug

import (
	"strings"
	"sync"
	"time"

	"go.bug.st/serial/enumerator"

	"github.com/ardnew/boardsh/config"
	"github.com/ardnew/boardsh/pkg"
	"github.com/ardnew/boardsh/session"
)

// Attach retry pacing: ports often report busy for a moment after the
// kernel announces them.
const (
	attachRetries = 8
	attachBackoff = 250 * time.Millisecond
)

// knownBoards are USB VID:PID prefixes of supported boards. The last
// digit of the f055 PID varies by interface configuration, so only the
// prefix is matched.
var knownBoards = []string{
	"f055:980",  // CircuitPython
	"2e8a:0005", // Raspberry Pi Pico
	"16c0:0483", // Teensy
	"0694:0010", // LEGO Technic Large Hub
}

// PortInfo describes one enumerated serial adapter.
type PortInfo struct {
	Device       string // e.g. /dev/ttyACM0
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

// IsBoard reports whether the adapter's USB identity matches a known
// board.
func (p PortInfo) IsBoard() bool {
	return isBoardID(p.VID, p.PID)
}

func isBoardID(vid, pid string) bool {
	id := strings.ToLower(vid) + ":" + strings.ToLower(pid)
	for _, known := range knownBoards {
		if strings.HasPrefix(id, known) {
			return true
		}
	}
	return false
}

// ListPorts enumerates serial adapters, with USB identity where the OS
// exposes it.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		info := PortInfo{Device: d.Name}
		if d.IsUSB {
			info.VID = d.VID
			info.PID = d.PID
			info.SerialNumber = d.SerialNumber
			info.Product = d.Product
		}
		ports = append(ports, info)
	}
	return ports, nil
}

// Autoscan attaches to the first enumerated adapter that looks like a
// board. It returns [pkg.ErrNoDevice] when nothing matches.
func Autoscan(opts config.Options) (*session.Session, error) {
	ports, err := ListPorts()
	if err != nil {
		return nil, err
	}
	for _, p := range ports {
		if !p.IsBoard() {
			continue
		}
		opts.Port = p.Device
		return session.Attach(opts)
	}
	return nil, pkg.ErrNoDevice
}

// Action is a device event kind.
type Action uint8

// Device event kinds.
const (
	ActionAdd Action = iota
	ActionRemove
)

// Event is one kernel device notification relevant to serial adapters.
type Event struct {
	Action Action
	Device string // device node, e.g. /dev/ttyACM0
}

// Supervisor auto-attaches boards as they appear and detaches the
// session when its adapter is removed.
type Supervisor struct {
	// Opts is the configuration new sessions attach with; Opts.Port is
	// replaced per event.
	Opts config.Options

	// Attach creates the session for a discovered port. Defaults to
	// session.Attach.
	Attach func(config.Options) (*session.Session, error)

	// Events overrides the platform watcher, for tests and custom
	// sources.
	Events <-chan Event

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	unwatch  func()
}

// Start begins watching for device events. On platforms with no kernel
// event interface the supervisor does nothing and Start reports false.
func (s *Supervisor) Start() bool {
	events := s.Events
	if events == nil {
		ch, stop, err := watchEvents()
		if err != nil {
			pkg.LogDebug(pkg.ComponentHotplug, "no event source", "error", err)
			return false
		}
		events = ch
		s.unwatch = stop
	}
	if s.Attach == nil {
		s.Attach = session.Attach
	}
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(events)
	pkg.LogInfo(pkg.ComponentHotplug, "autoconnect watching")
	return true
}

// Stop ends the watcher and waits for it to drain.
func (s *Supervisor) Stop() {
	if s.stop == nil {
		return
	}
	s.stopOnce.Do(func() {
		close(s.stop)
		if s.unwatch != nil {
			s.unwatch()
		}
	})
	s.wg.Wait()
}

func (s *Supervisor) run(events <-chan Event) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Action {
			case ActionAdd:
				s.onAdd(ev.Device)
			case ActionRemove:
				s.onRemove(ev.Device)
			}
		}
	}
}

// onAdd tries to attach the new adapter, retrying while the port settles.
func (s *Supervisor) onAdd(device string) {
	if s.Opts.Port != "" && s.Opts.Port != device {
		return
	}
	opts := s.Opts
	opts.Port = device
	for i := 0; i < attachRetries; i++ {
		select {
		case <-s.stop:
			return
		default:
		}
		if _, err := s.Attach(opts); err == nil {
			pkg.LogInfo(pkg.ComponentHotplug, "auto-attached", "port", device)
			return
		}
		time.Sleep(attachBackoff)
	}
	pkg.LogWarn(pkg.ComponentHotplug, "auto-attach failed", "port", device)
}

// onRemove closes the session whose adapter disappeared, which also
// empties the slot; the foreground discovers the loss on its next
// operation.
func (s *Supervisor) onRemove(device string) {
	cur := session.Current()
	if cur == nil || cur.Name() != device {
		return
	}
	pkg.LogInfo(pkg.ComponentHotplug, "adapter removed", "port", device)
	cur.Close()
}
