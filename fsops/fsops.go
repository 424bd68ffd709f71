// Package fsops implements the filesystem operations the shell exposes,
// built entirely on the path router and the file-transfer hooks so every
// operation works identically on host paths and board paths.
package fsops

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/ardnew/boardsh/config"
	"github.com/ardnew/boardsh/remote"
	"github.com/ardnew/boardsh/route"
	"github.com/ardnew/boardsh/session"
	"github.com/ardnew/boardsh/xfer"
)

// Stat-tuple accessors, matching the field order of the board's os.stat.

// StatMode returns the mode field of a stat tuple.
func StatMode(st remote.Tuple) int64 {
	if len(st) > 0 {
		if m, ok := st[0].(int64); ok {
			return m
		}
	}
	return 0
}

// StatSize returns the size field of a stat tuple.
func StatSize(st remote.Tuple) int64 {
	if len(st) > 6 {
		if n, ok := st[6].(int64); ok {
			return n
		}
	}
	return 0
}

// StatMtime returns the mtime field of a stat tuple.
func StatMtime(st remote.Tuple) int64 {
	if len(st) > 8 {
		if n, ok := st[8].(int64); ok {
			return n
		}
	}
	return 0
}

// ModeExists reports whether a mode names an existing file or directory.
func ModeExists(mode int64) bool { return mode&0xc000 != 0 }

// ModeIsDir reports whether a mode names a directory.
func ModeIsDir(mode int64) bool { return mode&remote.ModeDir != 0 }

// ModeIsFile reports whether a mode names a regular file.
func ModeIsFile(mode int64) bool { return mode&remote.ModeFile != 0 }

// TimeOffset is the adjustment applied to board timestamps on firmware
// without lstat: the board keeps local time while the host compares in
// UTC seconds.
func TimeOffset() int64 {
	_, off := time.Now().Zone()
	return int64(-off)
}

// bufferSize returns the transfer window for a device, or the default
// for host-only operations.
func bufferSize(dev *session.Session) int {
	if dev != nil {
		if n := dev.Options().BufferSize; n > 0 {
			return n
		}
	}
	return config.DefaultBufferSize
}

// Mode returns the file mode at path, 0 when it does not exist.
func Mode(path string) (int64, error) {
	v, err := route.Auto(remote.GetMode, path)
	if err != nil {
		return 0, err
	}
	mode, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("mode %s: unexpected %T", path, v)
	}
	return mode, nil
}

// Stat returns the stat tuple at path; all zeroes when it does not
// exist.
func Stat(path string) (remote.Tuple, error) {
	v, err := route.Auto(remote.GetStat, path, TimeOffset())
	if err != nil {
		return nil, err
	}
	st, ok := v.(remote.Tuple)
	if !ok {
		return nil, fmt.Errorf("stat %s: unexpected %T", path, v)
	}
	return st, nil
}

// Filesize returns the size of the file at path, -1 when it cannot be
// stat'ed.
func Filesize(path string) (int64, error) {
	v, err := route.Auto(remote.GetFilesize, path)
	if err != nil {
		return 0, err
	}
	n, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("filesize %s: unexpected %T", path, v)
	}
	return n, nil
}

// Listdir returns the names in the directory at path.
func Listdir(path string) ([]string, error) {
	v, err := route.Auto(remote.Listdir, path)
	if err != nil {
		return nil, err
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("listdir %s: unexpected %T", path, v)
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			names = append(names, s)
		}
	}
	return names, nil
}

// Entry is one name/stat pair from a directory listing.
type Entry struct {
	Name string
	Stat remote.Tuple
}

// ListdirStat returns name/stat pairs for the directory at path, or nil
// when the directory does not exist.
func ListdirStat(path string, showHidden bool) ([]Entry, error) {
	v, err := route.Auto(remote.ListdirStat, path, TimeOffset(), showHidden)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("listdir %s: unexpected %T", path, v)
	}
	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		pair, ok := item.(remote.Tuple)
		if !ok || len(pair) != 2 {
			continue
		}
		name, ok := pair[0].(string)
		if !ok {
			continue
		}
		st, ok := pair[1].(remote.Tuple)
		if !ok {
			continue
		}
		entries = append(entries, Entry{Name: name, Stat: st})
	}
	return entries, nil
}

// Mkdir creates the directory at path.
func Mkdir(path string) error {
	v, err := route.Auto(remote.MakeDirectory, path)
	if err != nil {
		return err
	}
	if ok, _ := v.(bool); !ok {
		return fmt.Errorf("mkdir %s: cannot create", path)
	}
	return nil
}

// Rm removes the file at path, or the tree when recursive. With force,
// missing files and failures are ignored.
func Rm(path string, recursive, force bool) error {
	v, err := route.Auto(remote.RemoveFile, path, recursive, force)
	if err != nil {
		return err
	}
	if ok, _ := v.(bool); !ok {
		return fmt.Errorf("rm %s: cannot remove", path)
	}
	return nil
}

// Cat copies the contents of the file at path into w. Remote files
// stream through the hex transfer protocol.
func Cat(path string, w io.Writer) error {
	dev, rel, err := route.Resolve(path)
	if err != nil {
		return err
	}
	if dev == nil {
		f, err := os.Open(rel)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	}

	size, err := remoteFilesize(dev, rel)
	if err != nil {
		return err
	}
	bufSize := bufferSize(dev)
	return runTransfer(dev, remote.SendFileToHost,
		func() error { return xfer.Recv(dev.Link(), w, size, bufSize) },
		rel, nil, size, bufSize)
}

// Cp copies the file at src to dst; either side may be on the board.
// Copies within one side never cross the link.
func Cp(src, dst string) error {
	srcDev, srcRel, err := route.Resolve(src)
	if err != nil {
		return err
	}
	dstDev, dstRel, err := route.Resolve(dst)
	if err != nil {
		return err
	}

	bufSize := bufferSize(srcDev)
	if srcDev == nil {
		bufSize = bufferSize(dstDev)
	}

	switch {
	case srcDev == dstDev:
		// Same side: host to host, or board to board.
		var v any
		if srcDev == nil {
			v, err = remote.CopyFile.Local(srcRel, dstRel, int64(bufSize))
		} else {
			v, err = srcDev.InvokeEval(remote.CopyFile, srcRel, dstRel, int64(bufSize))
		}
		if err != nil {
			return err
		}
		if ok, _ := v.(bool); !ok {
			return fmt.Errorf("cp %s %s: copy failed", src, dst)
		}
		return nil

	case srcDev == nil:
		// Host to board.
		f, err := os.Open(srcRel)
		if err != nil {
			return err
		}
		defer f.Close()
		fi, err := f.Stat()
		if err != nil {
			return err
		}
		size := fi.Size()
		return runTransfer(dstDev, remote.RecvFileFromHost,
			func() error { return xfer.Send(dstDev.Link(), f, size, bufSize) },
			nil, dstRel, size, bufSize, "wb")

	default:
		// Board to host.
		size, err := remoteFilesize(srcDev, srcRel)
		if err != nil {
			return err
		}
		f, err := os.Create(dstRel)
		if err != nil {
			return err
		}
		xerr := runTransfer(srcDev, remote.SendFileToHost,
			func() error { return xfer.Recv(srcDev.Link(), f, size, bufSize) },
			srcRel, nil, size, bufSize)
		if cerr := f.Close(); xerr == nil {
			xerr = cerr
		}
		return xerr
	}
}

// remoteFilesize resolves the size of a board file, failing when it does
// not exist.
func remoteFilesize(dev *session.Session, rel string) (int64, error) {
	v, err := dev.InvokeEval(remote.GetFilesize, rel)
	if err != nil {
		return 0, err
	}
	size, ok := v.(int64)
	if !ok || size < 0 {
		return 0, fmt.Errorf("%s: no such file on %s", rel, dev.Name())
	}
	return size, nil
}

// runTransfer ships a transfer helper with its host-side hook and checks
// the board reported success.
func runTransfer(dev *session.Session, h *remote.Helper, hook func() error, args ...any) error {
	out, err := dev.Invoke(h, hook, args...)
	if err != nil {
		return err
	}
	if v, perr := remote.Parse(lastLine(out)); perr == nil {
		if ok, _ := v.(bool); ok {
			return nil
		}
	}
	return fmt.Errorf("transfer failed on %s: %s", dev.Name(), out)
}

// lastLine returns the final non-empty line of board output.
func lastLine(out []byte) []byte {
	end := len(out)
	for end > 0 && (out[end-1] == '\r' || out[end-1] == '\n') {
		end--
	}
	start := end
	for start > 0 && out[start-1] != '\n' {
		start--
	}
	return out[start:end]
}

// Edit copies the file at path to a host temp file, runs the editor on
// it, and writes it back only if the editor exited cleanly and changed
// the content. A failed write-back leaves the original untouched because
// nothing is shipped until the local save succeeded.
func Edit(path, editor string) error {
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}

	dev, rel, err := route.Resolve(path)
	if err != nil {
		return err
	}
	if dev == nil {
		cmd := exec.Command(editor, rel)
		cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
		return cmd.Run()
	}

	tmp, err := os.CreateTemp("", "boardsh-edit-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	var before []byte
	if size, err := dev.InvokeEval(remote.GetFilesize, rel); err == nil {
		if n, ok := size.(int64); ok && n >= 0 {
			if err := Cat(path, tmp); err != nil {
				tmp.Close()
				return err
			}
			before, _ = os.ReadFile(tmpName)
		}
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	cmd := exec.Command(editor, tmpName)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("editor: %w", err)
	}

	after, err := os.ReadFile(tmpName)
	if err != nil {
		return err
	}
	if before != nil && len(after) == len(before) && string(after) == string(before) {
		return nil // unchanged; nothing to ship
	}
	return Cp(tmpName, path)
}
