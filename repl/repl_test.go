package repl

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/boardsh/link"
	"github.com/ardnew/boardsh/pkg"
)

func TestBannerLookup(t *testing.T) {
	assert.Equal(t, []byte("soft reboot\r\n"), Banner(""))
	assert.Equal(t, []byte("soft reboot\r\n"), Banner("en"))
	assert.Equal(t, []byte("soft reboot\r\n"), Banner("no-such-locale"))
	assert.Equal(t, []byte("weicher reboot\r\n"), Banner("de"))
	assert.Equal(t, []byte("ソフトリブート\r\n"), Banner("ja"))
	assert.NotEmpty(t, Locales())
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateUnknown, "unknown"},
		{StateFriendly, "friendly"},
		{StateRaw, "raw"},
		{StateRunning, "running"},
		{StateDrainStdout, "drain-stdout"},
		{StateDrainStderr, "drain-stderr"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

// scriptBoard runs a minimal board-side REPL emulation on the far pipe
// end: friendly prompts on CR, the raw-mode handshake with a soft-reset
// banner, and an exec handler invoked with the accumulated source.
type scriptBoard struct {
	port   *link.Pipe
	banner []byte
	// exec is called with the received snippet; it returns the stdout
	// and stderr payloads. A nil exec echoes nothing.
	exec func(src []byte) (out, errOut []byte)
	// rejectExec makes the board answer the execute request with
	// something other than OK.
	rejectExec bool
}

func (b *scriptBoard) run(t *testing.T) {
	t.Helper()
	b.port.SetReadTimeout(5 * time.Second)
	raw := false
	var src bytes.Buffer
	one := make([]byte, 1)
	for {
		n, err := b.port.Read(one)
		if err != nil {
			return
		}
		if n == 0 {
			return
		}
		c := one[0]
		if !raw {
			switch c {
			case 0x03:
			case 0x01:
				raw = true
				src.Reset()
				b.port.Write([]byte("raw REPL; CTRL-B to exit\r\n>"))
			case '\r':
				b.port.Write([]byte(">>> "))
			}
			continue
		}
		switch c {
		case 0x02:
			raw = false
		case 0x03:
		case 0x04:
			if src.Len() == 0 {
				// Soft reset request.
				b.port.Write(b.banner)
				b.port.Write([]byte("raw REPL; CTRL-B to exit\r\n>"))
				continue
			}
			if b.rejectExec {
				b.port.Write([]byte("ra"))
				return
			}
			b.port.Write([]byte("OK"))
			var out, errOut []byte
			if b.exec != nil {
				out, errOut = b.exec(src.Bytes())
			}
			src.Reset()
			b.port.Write(out)
			b.port.Write([]byte{0x04})
			b.port.Write(errOut)
			b.port.Write([]byte{0x04, '>'})
		case '\r':
			if src.Len() > 0 {
				src.WriteByte(c)
			}
		default:
			src.WriteByte(c)
		}
	}
}

func newBoard(t *testing.T, exec func([]byte) ([]byte, []byte)) (*Controller, *scriptBoard) {
	t.Helper()
	host, board := link.NewPipe()
	t.Cleanup(func() { host.Close(); board.Close() })

	sb := &scriptBoard{port: board, banner: Banner(""), exec: exec}
	go sb.run(t)

	l := link.New(host, "pipe")
	c := New(l, Config{ChunkSize: 64, ChunkWait: 0})
	return c, sb
}

func TestWake(t *testing.T) {
	c, _ := newBoard(t, nil)
	require.NoError(t, c.Wake(2))
	assert.Equal(t, StateFriendly, c.State())
}

func TestWakeNotReady(t *testing.T) {
	host, board := link.NewPipe()
	defer host.Close()
	defer board.Close()
	// Nothing answers on the board end.
	c := New(link.New(host, "pipe"), Config{})

	start := time.Now()
	err := c.Wake(2)
	assert.ErrorIs(t, err, pkg.ErrReplNotReady)
	assert.Equal(t, StateUnknown, c.State())
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestEnterExitRaw(t *testing.T) {
	c, _ := newBoard(t, nil)
	require.NoError(t, c.EnterRaw())
	assert.Equal(t, StateRaw, c.State())

	// Idempotent while already raw.
	require.NoError(t, c.EnterRaw())

	require.NoError(t, c.ExitRaw())
	assert.Equal(t, StateFriendly, c.State())
}

func TestEnterRawLocaleBanner(t *testing.T) {
	host, board := link.NewPipe()
	t.Cleanup(func() { host.Close(); board.Close() })
	sb := &scriptBoard{port: board, banner: Banner("de")}
	go sb.run(t)

	c := New(link.New(host, "pipe"), Config{Banner: Banner("de"), ChunkWait: 0})
	require.NoError(t, c.EnterRaw())
	assert.Equal(t, StateRaw, c.State())
}

func TestExecCollectsBothStreams(t *testing.T) {
	c, _ := newBoard(t, func(src []byte) ([]byte, []byte) {
		assert.Contains(t, string(src), "print(1+1)")
		return []byte("2\r\n"), nil
	})

	out, errOut, err := c.Exec([]byte("print(1+1)"), nil, time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("2\r\n"), out)
	assert.Empty(t, errOut)
	assert.Equal(t, StateRaw, c.State(), "board holds a raw prompt after exec")
}

func TestExecStderr(t *testing.T) {
	c, _ := newBoard(t, func(src []byte) ([]byte, []byte) {
		return nil, []byte("Traceback: boom\r\n")
	})
	out, errOut, err := c.Exec([]byte("raise"), nil, time.Second, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, []byte("Traceback: boom\r\n"), errOut)
}

func TestExecRejected(t *testing.T) {
	host, board := link.NewPipe()
	t.Cleanup(func() { host.Close(); board.Close() })
	sb := &scriptBoard{port: board, banner: Banner(""), rejectExec: true}
	go sb.run(t)

	c := New(link.New(host, "pipe"), Config{ChunkWait: 0})
	_, _, err := c.Exec([]byte("x=1"), nil, time.Second, nil)
	assert.ErrorIs(t, err, pkg.ErrExecRejected)
	assert.Equal(t, StateUnknown, c.State())
}

func TestExecChunkedUpload(t *testing.T) {
	var got []byte
	c, _ := newBoard(t, func(src []byte) ([]byte, []byte) {
		got = append([]byte(nil), src...)
		return []byte("None\r\n"), nil
	})
	c.chunkSize = 8 // force multiple chunks

	src := []byte("x = 'a long snippet that spans several chunks'\nprint(x)")
	_, _, err := c.Exec(src, nil, time.Second, nil)
	require.NoError(t, err)
	// Substring match: the scripted board drops a CR that arrives before
	// any source byte.
	assert.Contains(t, string(got), "several chunks")
}

func TestExecXferHookRunsBeforeFollow(t *testing.T) {
	hookRan := false
	c, _ := newBoard(t, func(src []byte) ([]byte, []byte) {
		return []byte("True\r\n"), nil
	})
	out, _, err := c.Exec([]byte("recv()"), func() error {
		hookRan = true
		return nil
	}, time.Second, nil)
	require.NoError(t, err)
	assert.True(t, hookRan)
	assert.Equal(t, []byte("True\r\n"), out)
}

func TestExecHookFailureDropsState(t *testing.T) {
	c, _ := newBoard(t, func(src []byte) ([]byte, []byte) {
		return []byte("ignored"), nil
	})
	_, _, err := c.Exec([]byte("recv()"), func() error {
		return pkg.ErrTransferDesync
	}, time.Second, nil)
	assert.ErrorIs(t, err, pkg.ErrTransferDesync)
	assert.Equal(t, StateUnknown, c.State())
}

func TestFollowSink(t *testing.T) {
	c, _ := newBoard(t, func(src []byte) ([]byte, []byte) {
		return []byte("streamed"), nil
	})
	var sink bytes.Buffer
	out, _, err := c.Exec([]byte("p()"), nil, time.Second, &sink)
	require.NoError(t, err)
	assert.Equal(t, []byte("streamed"), out)
	// The sink sees the terminator too; it is stripped only from the
	// returned buffer.
	assert.Equal(t, "streamed\x04", sink.String())
}

func TestRunRequiresRaw(t *testing.T) {
	host, board := link.NewPipe()
	t.Cleanup(func() { host.Close(); board.Close() })
	c := New(link.New(host, "pipe"), Config{})
	assert.ErrorIs(t, c.Run([]byte("x")), pkg.ErrNotRaw)
	_, _, err := c.Follow(time.Second, nil)
	assert.ErrorIs(t, err, pkg.ErrNotRaw)
}
