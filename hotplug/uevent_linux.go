//go:build linux

package hotplug

import (
	"bytes"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/ardnew/boardsh/pkg"
)

// Kernel uevent constants.
const (
	netlinkKObjectUEvent = 15   // NETLINK_KOBJECT_UEVENT
	ueventBufferSize     = 2048 // one event fits comfortably
	ueventGroupKernel    = 1    // kernel broadcast group
)

// watchEvents subscribes to kernel uevents over a netlink socket and
// forwards tty add/remove notifications.
func watchEvents() (<-chan Event, func(), error) {
	fd, err := unix.Socket(unix.AF_NETLINK,
		unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, netlinkKObjectUEvent)
	if err != nil {
		return nil, nil, err
	}
	addr := &unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Groups: ueventGroupKernel,
	}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, nil, err
	}
	// A receive timeout lets the reader notice the stop request.
	tv := unix.Timeval{Sec: 0, Usec: 500_000}
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd)
		return nil, nil, err
	}

	events := make(chan Event, 16)
	stop := make(chan struct{})
	go func() {
		defer close(events)
		defer unix.Close(fd)
		buf := make([]byte, ueventBufferSize)
		for {
			select {
			case <-stop:
				return
			default:
			}
			n, _, err := unix.Recvfrom(fd, buf, 0)
			if err != nil {
				if err == unix.EAGAIN || err == unix.EINTR {
					continue
				}
				pkg.LogWarn(pkg.ComponentHotplug, "uevent socket failed", "error", err)
				return
			}
			if ev, ok := parseUEvent(buf[:n]); ok {
				select {
				case events <- ev:
				default: // drop rather than stall the kernel socket
				}
			}
		}
	}()
	return events, func() { close(stop) }, nil
}

// parseUEvent extracts a tty add/remove event from one NUL-separated
// kernel message of the form "ACTION@DEVPATH\0KEY=VALUE\0...".
func parseUEvent(msg []byte) (Event, bool) {
	fields := bytes.Split(msg, []byte{0})
	if len(fields) == 0 {
		return Event{}, false
	}
	header := string(fields[0])
	at := strings.IndexByte(header, '@')
	if at < 0 {
		return Event{}, false
	}
	var action Action
	switch header[:at] {
	case "add":
		action = ActionAdd
	case "remove":
		action = ActionRemove
	default:
		return Event{}, false
	}

	var subsystem, devname string
	for _, f := range fields[1:] {
		s := string(f)
		switch {
		case strings.HasPrefix(s, "SUBSYSTEM="):
			subsystem = s[len("SUBSYSTEM="):]
		case strings.HasPrefix(s, "DEVNAME="):
			devname = s[len("DEVNAME="):]
		}
	}
	if subsystem != "tty" || devname == "" {
		return Event{}, false
	}
	if !strings.HasPrefix(devname, "/dev/") {
		devname = "/dev/" + devname
	}
	return Event{Action: action, Device: devname}, true
}
