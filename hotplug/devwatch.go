//go:build !linux

package hotplug

import (
	"strings"

	"github.com/fsnotify/fsnotify"
)

// watchEvents approximates kernel device events by watching /dev for
// serial nodes appearing and disappearing, on hosts without a netlink
// uevent interface.
func watchEvents() (<-chan Event, func(), error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	if err := w.Add("/dev"); err != nil {
		w.Close()
		return nil, nil, err
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		for ev := range w.Events {
			if !serialNode(ev.Name) {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create):
				events <- Event{Action: ActionAdd, Device: ev.Name}
			case ev.Has(fsnotify.Remove):
				events <- Event{Action: ActionRemove, Device: ev.Name}
			}
		}
	}()
	return events, func() { w.Close() }, nil
}

// serialNode reports whether a /dev entry names a serial adapter.
func serialNode(name string) bool {
	base := name[strings.LastIndexByte(name, '/')+1:]
	return strings.HasPrefix(base, "tty") || strings.HasPrefix(base, "cu.")
}
