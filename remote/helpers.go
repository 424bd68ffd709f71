package remote

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"
)

// Mode bits shared with the board's stat tuples.
const (
	ModeDir  = 0x4000
	ModeFile = 0x8000
)

// Helper argument coercion. Remote calls carry dynamic values; these pin
// the types the host bodies expect.

func argString(args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("missing argument %d", i)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("argument %d: want string, got %T", i, args[i])
	}
	return s, nil
}

func argBool(args []any, i int, def bool) bool {
	if i >= len(args) {
		return def
	}
	b, ok := args[i].(bool)
	if !ok {
		return def
	}
	return b
}

// statTuple renders fi the way the board's os.stat does: a 10-tuple of
// (mode, ino, dev, nlink, uid, gid, size, atime, mtime, ctime).
func statTuple(fi fs.FileInfo) Tuple {
	mode := int64(fi.Mode().Perm())
	if fi.IsDir() {
		mode |= ModeDir
	} else {
		mode |= ModeFile
	}
	mtime := fi.ModTime().Unix()
	return Tuple{mode, int64(0), int64(0), int64(1), int64(0), int64(0),
		fi.Size(), mtime, mtime, mtime}
}

// zeroStat is the all-zero tuple returned for files that do not exist.
func zeroStat() Tuple {
	t := make(Tuple, 10)
	for i := range t {
		t[i] = int64(0)
	}
	return t
}

// Listdir returns the names contained in a directory.
var Listdir = &Helper{
	Name: "listdir",
	Source: `def listdir(dirname):
  import os
  return os.listdir(dirname)
`,
	Local: func(args ...any) (any, error) {
		dirname, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		entries, err := os.ReadDir(dirname)
		if err != nil {
			return nil, err
		}
		names := make([]any, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		return names, nil
	},
}

// statExtra is the shared stat body, prepended wherever a helper calls
// stat. The board lacks lstat; timestamps are shifted by the host/device
// offset when that is the case.
var statExtra = &Helper{
	Name: "stat",
	Source: `def stat(filename, time_offset):
  import os
  rstat = os.stat(filename)
  if hasattr(os, 'lstat'):
    return rstat
  return rstat[:7] + tuple(tim + time_offset for tim in rstat[7:])
`,
}

// isVisibleExtra filters dotfiles and editor backups from listings.
var isVisibleExtra = &Helper{
	Name: "is_visible",
	Source: `def is_visible(filename):
  return filename[0] != '.' and filename[-1] != '~'
`,
}

func hostVisible(name string) bool {
	return len(name) > 0 && name[0] != '.' && name[len(name)-1] != '~'
}

// GetStat returns the stat tuple for a file, or all zeroes if the file
// does not exist.
var GetStat = &Helper{
	Name:   "get_stat",
	Extras: []*Helper{statExtra},
	Source: `def get_stat(filename, time_offset):
  try:
    return stat(filename, time_offset)
  except OSError:
    return (0,) * 10
`,
	Local: func(args ...any) (any, error) {
		filename, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		fi, err := os.Stat(filename)
		if err != nil {
			return zeroStat(), nil
		}
		return statTuple(fi), nil
	},
}

// GetMode returns the mode field of a file's stat, or 0 if the file does
// not exist. Used to distinguish absent, file and directory without
// shipping the whole tuple.
var GetMode = &Helper{
	Name: "get_mode",
	Source: `def get_mode(filename):
  import os
  try:
    return os.stat(filename)[0]
  except OSError:
    return 0
`,
	Local: func(args ...any) (any, error) {
		filename, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		fi, err := os.Stat(filename)
		if err != nil {
			return int64(0), nil
		}
		mode := int64(fi.Mode().Perm())
		if fi.IsDir() {
			mode |= ModeDir
		} else {
			mode |= ModeFile
		}
		return mode, nil
	},
}

// ListdirStat returns (name, stat) pairs for a directory, or None if the
// directory does not exist.
var ListdirStat = &Helper{
	Name:   "listdir_stat",
	Extras: []*Helper{isVisibleExtra, statExtra},
	Source: `def listdir_stat(dirname, time_offset, show_hidden=True):
  import os
  try:
    files = os.listdir(dirname)
  except OSError:
    return None
  if dirname == '/':
    return list((file, stat('/' + file, time_offset)) for file in files if is_visible(file) or show_hidden)
  return list((file, stat(dirname + '/' + file, time_offset)) for file in files if is_visible(file) or show_hidden)
`,
	Local: func(args ...any) (any, error) {
		dirname, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		showHidden := argBool(args, 2, true)
		entries, err := os.ReadDir(dirname)
		if err != nil {
			return nil, nil
		}
		out := []any{}
		for _, e := range entries {
			if !showHidden && !hostVisible(e.Name()) {
				continue
			}
			fi, err := e.Info()
			if err != nil {
				continue
			}
			out = append(out, Tuple{e.Name(), statTuple(fi)})
		}
		return out, nil
	},
}

// GetFilesize returns the size of a file in bytes, or -1 if it cannot be
// stat'ed.
var GetFilesize = &Helper{
	Name: "get_filesize",
	Source: `def get_filesize(filename):
  import os
  try:
    return os.stat(filename)[6]
  except OSError:
    return -1
`,
	Local: func(args ...any) (any, error) {
		filename, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		fi, err := os.Stat(filename)
		if err != nil {
			return int64(-1), nil
		}
		return fi.Size(), nil
	},
}

// MakeDirectory creates a single directory, reporting success.
var MakeDirectory = &Helper{
	Name: "make_directory",
	Source: `def make_directory(dirname):
  import os
  try:
    os.mkdir(dirname)
  except OSError:
    return False
  return True
`,
	Local: func(args ...any) (any, error) {
		dirname, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		return os.Mkdir(dirname, 0o755) == nil, nil
	},
}

// RemoveFile removes a file, or a directory tree when recursive.
var RemoveFile = &Helper{
	Name: "remove_file",
	Source: `def remove_file(filename, recursive=False, force=False):
  import os
  try:
    mode = os.stat(filename)[0]
    if mode & 0x4000 != 0:
      if recursive:
        for file in os.listdir(filename):
          success = remove_file(filename + '/' + file, recursive, force)
          if not success and not force:
            return False
        os.rmdir(filename)
      else:
        if not force:
          return False
    else:
      os.remove(filename)
  except OSError:
    if not force:
      return False
  return True
`,
	Local: func(args ...any) (any, error) {
		filename, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		recursive := argBool(args, 1, false)
		force := argBool(args, 2, false)
		fi, err := os.Stat(filename)
		if err != nil {
			return force, nil
		}
		if fi.IsDir() && !recursive {
			return force, nil
		}
		if fi.IsDir() {
			err = os.RemoveAll(filename)
		} else {
			err = os.Remove(filename)
		}
		if err != nil {
			return force, nil
		}
		return true, nil
	},
}

// CopyFile copies a file to another path on the same side of the link.
var CopyFile = &Helper{
	Name: "copy_file",
	Source: `def copy_file(src_filename, dst_filename, buf_size):
  try:
    with open(src_filename, 'rb') as src_file:
      with open(dst_filename, 'wb') as dst_file:
        while True:
          buf = src_file.read(buf_size)
          if len(buf) > 0:
            dst_file.write(buf)
          if len(buf) < buf_size:
            break
    return True
  except OSError:
    return False
`,
	Local: func(args ...any) (any, error) {
		src, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		dst, err := argString(args, 1)
		if err != nil {
			return nil, err
		}
		in, err := os.Open(src)
		if err != nil {
			return false, nil
		}
		defer in.Close()
		out, err := os.Create(dst)
		if err != nil {
			return false, nil
		}
		_, err = io.Copy(out, in)
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		return err == nil, nil
	},
}

// SetTime sets the board clock from a 9-field time tuple
// (year, month, mday, hour, minute, second, weekday, yearday, isdst).
var SetTime = &Helper{
	Name: "set_time",
	Source: `def set_time(rtc_time):
  import rtc
  import time
  rtc.RTC().datetime = time.struct_time(rtc_time)
`,
}

// TimeTuple renders t as the record SetTime ships.
func TimeTuple(t time.Time) Tuple {
	return Tuple{
		int64(t.Year()), int64(t.Month()), int64(t.Day()),
		int64(t.Hour()), int64(t.Minute()), int64(t.Second()),
		int64(t.Weekday()), int64(t.YearDay()), int64(-1),
	}
}

// RecvFileFromHost runs on the board: for each window it writes one ACK,
// reads the window's worth of hex characters from stdin, decodes and
// writes them to the destination file. Device-only; the matching host
// hook is xfer.Send.
var RecvFileFromHost = &Helper{
	Name: "recv_file_from_host",
	Source: `def recv_file_from_host(src_file, dst_filename, filesize, buf_size, dst_mode='wb'):
  import sys
  import binascii
  import os
  try:
    import time
    with open(dst_filename, dst_mode) as dst_file:
      bytes_remaining = filesize
      bytes_remaining *= 2
      write_buf = bytearray(buf_size)
      read_buf = bytearray(buf_size)
      while bytes_remaining > 0:
        sys.stdout.write('\x06')
        read_size = min(bytes_remaining, buf_size)
        buf_remaining = read_size
        buf_index = 0
        while buf_remaining > 0:
          bytes_read = sys.stdin.readinto(read_buf, read_size)
          time.sleep(0.02)
          if bytes_read > 0:
            write_buf[buf_index:bytes_read] = read_buf[0:bytes_read]
            buf_index += bytes_read
            buf_remaining -= bytes_read
        dst_file.write(binascii.unhexlify(write_buf[0:read_size]))
        if hasattr(os, 'sync'):
          os.sync()
        bytes_remaining -= read_size
    return True
  except Exception as ex:
    print(ex)
    return False
`,
}

// SendFileToHost runs on the board: it writes each window of the source
// file hex-encoded to stdout, then blocks until the host answers with an
// ACK. Device-only; the matching host hook is xfer.Recv.
var SendFileToHost = &Helper{
	Name: "send_file_to_host",
	Source: `def send_file_to_host(src_filename, dst_file, filesize, buf_size):
  import sys
  import binascii
  try:
    with open(src_filename, 'rb') as src_file:
      bytes_remaining = filesize
      buf_size = buf_size // 2
      while bytes_remaining > 0:
        read_size = min(bytes_remaining, buf_size)
        buf = src_file.read(read_size)
        sys.stdout.write(binascii.hexlify(buf))
        bytes_remaining -= read_size
        while True:
          char = sys.stdin.read(1)
          if char:
            if char == '\x06':
              break
            sys.stdout.write(char)
    return True
  except OSError:
    return False
`,
}
