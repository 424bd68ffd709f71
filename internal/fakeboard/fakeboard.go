// Package fakeboard emulates a board on the far end of an in-memory
// pipe: the raw-REPL handshake, the execute envelope, an in-memory
// filesystem, and the hex/ACK file-transfer protocol. Tests attach a
// real session to it and exercise the engine end to end without
// hardware.
package fakeboard

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ardnew/boardsh/link"
	"github.com/ardnew/boardsh/remote"
)

// Board is one emulated device.
type Board struct {
	Port   *link.Pipe
	FS     *FS
	Banner []byte

	// TimeSet records the tuple shipped by set_time, when any.
	TimeSet remote.Tuple

	// KillAfterAcks, when positive, makes the board fall silent after
	// acknowledging that many transfer windows, simulating an unplug
	// mid-copy.
	KillAfterAcks int

	// dead, when closed, makes the board stop answering mid-protocol,
	// simulating an unplug.
	dead chan struct{}
	once sync.Once
}

// New starts a board speaking on the returned host-side pipe end.
func New(roots ...string) (*Board, *link.Pipe) {
	host, devEnd := link.NewPipe()
	b := &Board{
		Port:   devEnd,
		FS:     NewFS(roots...),
		Banner: []byte("soft reboot\r\n"),
		dead:   make(chan struct{}),
	}
	go b.run()
	return b, host
}

// Kill makes the board fall silent, as if unplugged.
func (b *Board) Kill() {
	b.once.Do(func() { close(b.dead) })
}

func (b *Board) alive() bool {
	select {
	case <-b.dead:
		return false
	default:
		return true
	}
}

func (b *Board) write(p []byte) {
	if b.alive() {
		b.Port.Write(p)
	}
}

// run is the board's protocol loop.
func (b *Board) run() {
	b.Port.SetReadTimeout(10 * time.Second)
	raw := false
	var src bytes.Buffer
	one := make([]byte, 1)
	for {
		n, err := b.Port.Read(one)
		if err != nil || n == 0 {
			return
		}
		if !b.alive() {
			continue // swallow input silently
		}
		c := one[0]
		if !raw {
			switch c {
			case 0x03:
			case 0x01:
				raw = true
				src.Reset()
				b.write([]byte("raw REPL; CTRL-B to exit\r\n>"))
			case '\r':
				b.write([]byte(">>> "))
			default:
				b.write(one[:1]) // friendly REPL echoes
			}
			continue
		}
		switch c {
		case 0x02:
			raw = false
		case 0x03:
		case 0x04:
			if src.Len() == 0 {
				b.write(b.Banner)
				b.write([]byte("raw REPL; CTRL-B to exit\r\n>"))
				continue
			}
			b.write([]byte("OK"))
			out, errOut := b.exec(src.String())
			src.Reset()
			b.write(out)
			b.write([]byte{0x04})
			b.write(errOut)
			b.write([]byte{0x04, '>'})
		default:
			src.WriteByte(c)
		}
	}
}

// exec dispatches the snippet's trailer call against the in-memory
// filesystem and renders what the board would print.
func (b *Board) exec(src string) (out, errOut []byte) {
	name, args, err := parseCall(src)
	if err != nil {
		return nil, []byte(fmt.Sprintf("Traceback (most recent call last):\r\nSyntaxError: %v\r\n", err))
	}
	if name == "explode" {
		// An uncaught device-side failure: non-empty stderr.
		return nil, []byte("Traceback (most recent call last):\r\nMemoryError:\r\n")
	}
	v, err := b.dispatch(name, args)
	if err != nil {
		// The shipped trailer catches exceptions and prints them
		// followed by None.
		return []byte(fmt.Sprintf("%v\r\nNone\r\n", err)), nil
	}
	if v == nil {
		return []byte("None\r\n"), nil
	}
	return []byte(remote.Encode(v) + "\r\n"), nil
}

// parseCall extracts NAME and its literal arguments from the trailer
// line "  output = NAME(arg, ...)".
func parseCall(src string) (string, remote.Tuple, error) {
	for _, line := range strings.Split(src, "\n") {
		line = strings.TrimRight(line, "\r")
		rest, ok := strings.CutPrefix(line, "  output = ")
		if !ok {
			continue
		}
		open := strings.IndexByte(rest, '(')
		if open < 0 || !strings.HasSuffix(rest, ")") {
			return "", nil, fmt.Errorf("malformed call %q", rest)
		}
		name := rest[:open]
		argsLit := rest[open+1 : len(rest)-1]
		if strings.TrimSpace(argsLit) == "" {
			return name, remote.Tuple{}, nil
		}
		v, err := remote.Parse([]byte("(" + argsLit + ",)"))
		if err != nil {
			return "", nil, err
		}
		return name, v.(remote.Tuple), nil
	}
	return "", nil, fmt.Errorf("no call trailer in snippet")
}

func argStr(args remote.Tuple, i int) string {
	if i < len(args) {
		if s, ok := args[i].(string); ok {
			return s
		}
	}
	return ""
}

func argInt(args remote.Tuple, i int) int64 {
	if i < len(args) {
		if n, ok := args[i].(int64); ok {
			return n
		}
	}
	return 0
}

func argBool(args remote.Tuple, i int, def bool) bool {
	if i < len(args) {
		if v, ok := args[i].(bool); ok {
			return v
		}
	}
	return def
}

// dispatch implements the device side of every shipped helper.
func (b *Board) dispatch(name string, args remote.Tuple) (any, error) {
	switch name {
	case "identity":
		if len(args) == 0 {
			return nil, nil
		}
		return args[0], nil
	case "listdir":
		return b.FS.Listdir(argStr(args, 0))
	case "listdir_stat":
		return b.FS.ListdirStat(argStr(args, 0), argBool(args, 2, true))
	case "get_stat":
		st, err := b.FS.Stat(argStr(args, 0))
		if err != nil {
			return zeroTuple(), nil
		}
		return st, nil
	case "get_mode":
		st, err := b.FS.Stat(argStr(args, 0))
		if err != nil {
			return int64(0), nil
		}
		return st[0], nil
	case "get_filesize":
		st, err := b.FS.Stat(argStr(args, 0))
		if err != nil {
			return int64(-1), nil
		}
		return st[6], nil
	case "make_directory":
		return b.FS.Mkdir(argStr(args, 0)), nil
	case "remove_file":
		return b.FS.Remove(argStr(args, 0), argBool(args, 1, false), argBool(args, 2, false)), nil
	case "copy_file":
		data, err := b.FS.ReadFile(argStr(args, 0))
		if err != nil {
			return false, nil
		}
		b.FS.WriteFile(argStr(args, 1), data)
		return true, nil
	case "set_time":
		if len(args) > 0 {
			if t, ok := args[0].(remote.Tuple); ok {
				b.TimeSet = t
			}
		}
		return nil, nil
	case "recv_file_from_host":
		return b.recvFromHost(argStr(args, 1), argInt(args, 2), argInt(args, 3), argStr(args, 4))
	case "send_file_to_host":
		return b.sendToHost(argStr(args, 0), argInt(args, 2), argInt(args, 3))
	default:
		return nil, fmt.Errorf("name '%s' is not defined", name)
	}
}

// recvFromHost plays the board side of the host-to-device transfer: one
// ACK per window, then the window's hex characters from stdin.
func (b *Board) recvFromHost(dst string, filesize, bufSize int64, mode string) (any, error) {
	if !b.FS.DirExists(parentOf(clean(dst))) {
		// The open fails before the first ACK, like the real helper.
		return false, nil
	}
	var data []byte
	if mode == "ab" {
		if prev, err := b.FS.ReadFile(dst); err == nil {
			data = append(data, prev...)
		}
	}
	remaining := filesize * 2
	buf := make([]byte, bufSize)
	acked := 0
	for remaining > 0 {
		if !b.alive() {
			return false, nil
		}
		if b.KillAfterAcks > 0 && acked == b.KillAfterAcks {
			b.Kill()
			return false, nil
		}
		b.write([]byte{0x06})
		acked++
		window := bufSize
		if remaining < window {
			window = remaining
		}
		filled := int64(0)
		deadline := time.Now().Add(5 * time.Second)
		for filled < window {
			if time.Now().After(deadline) {
				return false, nil
			}
			n, err := b.Port.Read(buf[filled:window])
			if err != nil {
				return false, nil
			}
			filled += int64(n)
		}
		dec := make([]byte, window/2)
		if _, err := hex.Decode(dec, buf[:window]); err != nil {
			return false, nil
		}
		data = append(data, dec...)
		remaining -= window
	}
	b.FS.WriteFile(dst, data)
	return true, nil
}

// sendToHost plays the board side of the device-to-host transfer: hex
// windows out, one ACK back per window.
func (b *Board) sendToHost(src string, filesize, bufSize int64) (any, error) {
	data, err := b.FS.ReadFile(src)
	if err != nil {
		return false, nil
	}
	window := int(bufSize / 2)
	one := make([]byte, 1)
	for off := 0; off < int(filesize) && off < len(data); off += window {
		if !b.alive() {
			return false, nil
		}
		end := off + window
		if end > len(data) {
			end = len(data)
		}
		enc := make([]byte, 2*(end-off))
		hex.Encode(enc, data[off:end])
		b.write(enc)
		deadline := time.Now().Add(5 * time.Second)
		for {
			if time.Now().After(deadline) {
				return false, nil
			}
			n, err := b.Port.Read(one)
			if err != nil {
				return false, nil
			}
			if n == 1 && one[0] == 0x06 {
				break
			}
		}
	}
	return true, nil
}

func zeroTuple() remote.Tuple {
	t := make(remote.Tuple, 10)
	for i := range t {
		t[i] = int64(0)
	}
	return t
}

// =============================================================================
// In-memory device filesystem
// =============================================================================

// FS is the board's filesystem: a flat map of clean absolute paths.
type FS struct {
	mu    sync.Mutex
	dirs  map[string]bool
	files map[string][]byte
	mtime map[string]int64
	now   int64
}

// NewFS creates a filesystem with the given root mount points.
func NewFS(roots ...string) *FS {
	fs := &FS{
		dirs:  map[string]bool{"/": true},
		files: map[string][]byte{},
		mtime: map[string]int64{},
		now:   1_700_000_000,
	}
	for _, r := range roots {
		fs.Mkdir("/" + strings.Trim(r, "/"))
	}
	return fs
}

func clean(p string) string {
	if p == "" || p == "/" {
		return "/"
	}
	return "/" + strings.Trim(p, "/")
}

// tick advances the clock so successive writes get distinct mtimes.
func (f *FS) tick() int64 {
	f.now++
	return f.now
}

// Mkdir creates one directory level, reporting success like os.mkdir.
func (f *FS) Mkdir(p string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	p = clean(p)
	if f.dirs[p] || f.files[p] != nil {
		return false
	}
	parent := parentOf(p)
	if !f.dirs[parent] {
		return false
	}
	f.dirs[p] = true
	f.mtime[p] = f.tick()
	return true
}

// WriteFile creates or replaces a file. The parent must exist.
func (f *FS) WriteFile(p string, data []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	p = clean(p)
	if f.dirs[p] || !f.dirs[parentOf(p)] {
		return false
	}
	f.files[p] = append([]byte(nil), data...)
	f.mtime[p] = f.tick()
	return true
}

// DirExists reports whether p names a directory.
func (f *FS) DirExists(p string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirs[clean(p)]
}

// SetMtime pins a file's modification time, for sync tests.
func (f *FS) SetMtime(p string, mtime int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mtime[clean(p)] = mtime
}

// ReadFile returns a file's contents.
func (f *FS) ReadFile(p string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[clean(p)]
	if !ok {
		return nil, fmt.Errorf("[Errno 2] ENOENT: %s", p)
	}
	return append([]byte(nil), data...), nil
}

// Stat returns the 10-tuple the board's os.stat yields.
func (f *FS) Stat(p string) (remote.Tuple, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p = clean(p)
	var mode, size int64
	switch {
	case f.dirs[p]:
		mode = 0x4000
	case f.files[p] != nil:
		mode = 0x8000
		size = int64(len(f.files[p]))
	default:
		return nil, fmt.Errorf("[Errno 2] ENOENT: %s", p)
	}
	mt := f.mtime[p]
	return remote.Tuple{mode, int64(0), int64(0), int64(1), int64(0), int64(0),
		size, mt, mt, mt}, nil
}

// Listdir returns the names directly under p.
func (f *FS) Listdir(p string) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p = clean(p)
	if !f.dirs[p] {
		return nil, fmt.Errorf("[Errno 2] ENOENT: %s", p)
	}
	names := f.childNames(p)
	out := make([]any, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out, nil
}

// ListdirStat returns (name, stat) pairs, or nil for a missing
// directory, matching the listdir_stat helper.
func (f *FS) ListdirStat(p string, showHidden bool) (any, error) {
	f.mu.Lock()
	locked := true
	defer func() {
		if locked {
			f.mu.Unlock()
		}
	}()
	p = clean(p)
	if !f.dirs[p] {
		return nil, nil
	}
	names := f.childNames(p)
	f.mu.Unlock()
	locked = false

	out := []any{}
	for _, n := range names {
		if !showHidden && (strings.HasPrefix(n, ".") || strings.HasSuffix(n, "~")) {
			continue
		}
		child := p + "/" + n
		if p == "/" {
			child = "/" + n
		}
		st, err := f.Stat(child)
		if err != nil {
			continue
		}
		out = append(out, remote.Tuple{n, st})
	}
	return out, nil
}

// Remove unlinks a file, or a tree when recursive, with remove_file's
// force semantics.
func (f *FS) Remove(p string, recursive, force bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.removeLocked(clean(p), recursive, force)
}

func (f *FS) removeLocked(p string, recursive, force bool) bool {
	switch {
	case f.files[p] != nil:
		delete(f.files, p)
		delete(f.mtime, p)
		return true
	case f.dirs[p]:
		if !recursive {
			return force
		}
		for _, n := range f.childNames(p) {
			child := p + "/" + n
			if p == "/" {
				child = "/" + n
			}
			if !f.removeLocked(child, recursive, force) && !force {
				return false
			}
		}
		delete(f.dirs, p)
		delete(f.mtime, p)
		return true
	default:
		return force
	}
}

// childNames lists the immediate children of p, sorted.
func (f *FS) childNames(p string) []string {
	prefix := p + "/"
	if p == "/" {
		prefix = "/"
	}
	seen := map[string]bool{}
	for q := range f.dirs {
		if name, ok := directChild(q, prefix); ok {
			seen[name] = true
		}
	}
	for q := range f.files {
		if name, ok := directChild(q, prefix); ok {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func directChild(q, prefix string) (string, bool) {
	if q == "/" || !strings.HasPrefix(q, prefix) {
		return "", false
	}
	rest := q[len(prefix):]
	if rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

func parentOf(p string) string {
	idx := strings.LastIndexByte(p, '/')
	if idx <= 0 {
		return "/"
	}
	return p[:idx]
}
