package fsops

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/boardsh/config"
	"github.com/ardnew/boardsh/internal/fakeboard"
	"github.com/ardnew/boardsh/link"
	"github.com/ardnew/boardsh/pkg"
	"github.com/ardnew/boardsh/session"
)

func attachFake(t *testing.T, roots ...string) (*session.Session, *fakeboard.Board) {
	t.Helper()
	board, host := fakeboard.New(roots...)
	opts := config.Default()
	opts.ChunkWait = 0
	opts.Follow = config.Duration(2 * time.Second)
	s, err := session.New(link.New(host, "ttyTEST"), opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Close()
		board.Port.Close()
	})
	return s, board
}

func noDevice(t *testing.T) {
	t.Helper()
	session.SetCurrent(nil)
}

func TestStatAccessors(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(file, []byte("12345"), 0o644))
	noDevice(t)

	st, err := Stat(file)
	require.NoError(t, err)
	assert.True(t, ModeIsFile(StatMode(st)))
	assert.True(t, ModeExists(StatMode(st)))
	assert.False(t, ModeIsDir(StatMode(st)))
	assert.Equal(t, int64(5), StatSize(st))
	assert.NotZero(t, StatMtime(st))

	st, err = Stat(filepath.Join(dir, "ghost"))
	require.NoError(t, err)
	assert.False(t, ModeExists(StatMode(st)))
}

func TestLocalOps(t *testing.T) {
	noDevice(t)
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")

	require.NoError(t, Mkdir(sub))
	assert.Error(t, Mkdir(sub), "mkdir over an existing directory fails")

	file := filepath.Join(sub, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("hello"), 0o644))

	size, err := Filesize(file)
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	names, err := Listdir(sub)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, names)

	entries, err := ListdirStat(sub, true)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.txt", entries[0].Name)
	assert.Equal(t, int64(5), StatSize(entries[0].Stat))

	assert.Error(t, Rm(sub, false, false), "directory needs recursive")
	require.NoError(t, Rm(sub, true, false))
	assert.NoDirExists(t, sub)
}

func TestCatLocal(t *testing.T) {
	noDevice(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("hello\r\n"), 0o644))

	var out bytes.Buffer
	require.NoError(t, Cat(file, &out))
	assert.Equal(t, "hello\r\n", out.String())

	assert.Error(t, Cat(filepath.Join(dir, "ghost"), &out))
}

// cat :/a.txt on a 7-byte remote file: the host sink receives exactly
// the source bytes.
func TestCatRemote(t *testing.T) {
	_, board := attachFake(t, "flash")
	board.FS.WriteFile("/flash/a.txt", []byte("hello\r\n"))

	var out bytes.Buffer
	require.NoError(t, Cat(":/flash/a.txt", &out))
	assert.Equal(t, []byte("hello\r\n"), out.Bytes())
}

func TestCatRemoteMissing(t *testing.T) {
	attachFake(t, "flash")
	var out bytes.Buffer
	err := Cat(":/flash/ghost.txt", &out)
	assert.Error(t, err)
	assert.Zero(t, out.Len(), "no bytes reach the sink")
}

func TestCpHostToBoard(t *testing.T) {
	_, board := attachFake(t, "flash")
	dir := t.TempDir()
	src := filepath.Join(dir, "main.py")
	payload := bytes.Repeat([]byte("import board\r\n"), 40) // several windows
	require.NoError(t, os.WriteFile(src, payload, 0o644))

	require.NoError(t, Cp(src, ":/flash/main.py"))
	got, err := board.FS.ReadFile("/flash/main.py")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestCpBoardToHost(t *testing.T) {
	_, board := attachFake(t, "flash")
	payload := bytes.Repeat([]byte{0x00, 0x04, 0xff, 'a'}, 100)
	board.FS.WriteFile("/flash/blob.bin", payload)

	dst := filepath.Join(t.TempDir(), "blob.bin")
	require.NoError(t, Cp(":/flash/blob.bin", dst))
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, payload, got, "binary content survives the hex framing")
}

func TestCpRoundTripPreservesBytes(t *testing.T) {
	_, board := attachFake(t, "flash")
	dir := t.TempDir()
	src := filepath.Join(dir, "data.bin")
	payload := make([]byte, 3333)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	require.NoError(t, os.WriteFile(src, payload, 0o644))

	require.NoError(t, Cp(src, ":/flash/data.bin"))
	back := filepath.Join(dir, "back.bin")
	require.NoError(t, Cp(":/flash/data.bin", back))

	got, err := os.ReadFile(back)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	onBoard, _ := board.FS.ReadFile("/flash/data.bin")
	assert.Len(t, onBoard, len(payload))
}

func TestCpBoardToBoard(t *testing.T) {
	_, board := attachFake(t, "flash")
	board.FS.WriteFile("/flash/a.py", []byte("A"))

	require.NoError(t, Cp(":/flash/a.py", ":/flash/b.py"))
	got, err := board.FS.ReadFile("/flash/b.py")
	require.NoError(t, err)
	assert.Equal(t, []byte("A"), got)
}

func TestCpLocalToLocal(t *testing.T) {
	noDevice(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "s")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	require.NoError(t, Cp(src, filepath.Join(dir, "d")))
	got, err := os.ReadFile(filepath.Join(dir, "d"))
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)
}

// Writing into a missing host directory fails before any file bytes
// cross the link.
func TestCpToMissingHostDir(t *testing.T) {
	_, board := attachFake(t, "flash")
	board.FS.WriteFile("/flash/a.txt", []byte("A"))

	err := Cp(":/flash/a.txt", filepath.Join(t.TempDir(), "missing", "out.txt"))
	assert.Error(t, err)
	assert.True(t, os.IsNotExist(errUnwrapAll(err)), "surfaces the host io error")
}

func errUnwrapAll(err error) error {
	for {
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		err = u.Unwrap()
	}
}

// A board that stops answering mid-transfer: the copy fails on the
// missed ACK, the session tears down, and the device slot empties.
func TestCpDesyncTearsDown(t *testing.T) {
	s, board := attachFake(t, "flash")
	dir := t.TempDir()
	src := filepath.Join(dir, "big.bin")
	require.NoError(t, os.WriteFile(src, make([]byte, 4096), 0o644))

	board.KillAfterAcks = 1
	start := time.Now()
	err := Cp(src, ":/flash/big.bin")
	assert.ErrorIs(t, err, pkg.ErrTransferDesync)
	assert.Less(t, time.Since(start), 10*time.Second,
		"the missed ACK is detected within its timeout")

	assert.True(t, s.Closed())
	assert.Nil(t, session.Current(), "slot empties after the failed transfer")

	// Subsequent remote operations report no device.
	_, err = Listdir(":/flash")
	assert.ErrorIs(t, err, pkg.ErrNoDevice)
}

func TestEditRemote(t *testing.T) {
	_, board := attachFake(t, "flash")
	board.FS.WriteFile("/flash/code.py", []byte("old\n"))

	editor := writeScript(t, "#!/bin/sh\nprintf 'new\\n' > \"$1\"\n")
	require.NoError(t, Edit(":/flash/code.py", editor))

	got, err := board.FS.ReadFile("/flash/code.py")
	require.NoError(t, err)
	assert.Equal(t, []byte("new\n"), got)
}

func TestEditUnchangedSkipsWriteBack(t *testing.T) {
	_, board := attachFake(t, "flash")
	board.FS.WriteFile("/flash/keep.py", []byte("same\n"))
	before, _ := board.FS.Stat("/flash/keep.py")

	editor := writeScript(t, "#!/bin/sh\nexit 0\n")
	require.NoError(t, Edit(":/flash/keep.py", editor))

	after, _ := board.FS.Stat("/flash/keep.py")
	assert.Equal(t, before, after, "untouched file is not rewritten")
}

func TestEditFailedEditorLeavesRemote(t *testing.T) {
	_, board := attachFake(t, "flash")
	board.FS.WriteFile("/flash/keep.py", []byte("orig\n"))

	editor := writeScript(t, "#!/bin/sh\nprintf 'junk' > \"$1\"\nexit 1\n")
	assert.Error(t, Edit(":/flash/keep.py", editor))

	got, _ := board.FS.ReadFile("/flash/keep.py")
	assert.Equal(t, []byte("orig\n"), got)
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "editor.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}
