package remote

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallSourceTrailer(t *testing.T) {
	h := &Helper{
		Name: "identity",
		Source: `def identity(value):
  return value
`,
	}
	src := string(h.CallSource([]any{"x"}, nil))

	assert.Contains(t, src, "def identity(value):")
	assert.Contains(t, src, "output = identity('x')\n")
	want := strings.Join([]string{
		"try:",
		"  output = identity('x')",
		"except Exception as ex:",
		"  print(ex)",
		"  output = None",
		"if output is None:",
		"  print(\"None\")",
		"else:",
		"  print(output)",
		"",
	}, "\n")
	assert.True(t, strings.HasSuffix(src, want), "trailer mismatch:\n%s", src)
}

func TestCallSourceKwargs(t *testing.T) {
	src := string(ListdirStat.CallSource(
		[]any{"/lib", int64(0)},
		[]Kwarg{{Name: "show_hidden", Value: false}},
	))
	assert.Contains(t, src, "output = listdir_stat('/lib', 0, show_hidden=False)")
	// Extras precede the primary body.
	assert.Less(t, strings.Index(src, "def is_visible"), strings.Index(src, "def listdir_stat"))
	assert.Less(t, strings.Index(src, "def stat"), strings.Index(src, "def listdir_stat"))
}

func TestCallSourceDropsDecorators(t *testing.T) {
	h := &Helper{
		Name: "decorated",
		Source: `@extra_funcs(stat)
def decorated(x):
  return x
`,
	}
	src := string(h.CallSource(nil, nil))
	assert.NotContains(t, src, "@extra_funcs")
	assert.Contains(t, src, "def decorated(x):")
}

func TestCallSourceOpaqueArg(t *testing.T) {
	// Host file handles have no literal form; they cross as None.
	src := string(RecvFileFromHost.CallSource([]any{func() {}, "/main.py", int64(7), int64(32)}, nil))
	assert.Contains(t, src, "output = recv_file_from_host(None, '/main.py', 7, 32)")
}

func TestStripSourceComments(t *testing.T) {
	in := strings.Join([]string{
		"def f(x):",
		"  # full line comment",
		"  a = 1  # trailing comment",
		"  s = 'keep # this'",
		"  return a",
	}, "\n")
	got := StripSource(in)
	assert.NotContains(t, got, "comment")
	assert.Contains(t, got, "  a = 1\n")
	assert.Contains(t, got, "'keep # this'")
	assert.Contains(t, got, "  return a")
}

func TestStripSourceDocstrings(t *testing.T) {
	in := strings.Join([]string{
		"def f(x):",
		"  \"\"\"Docstring line one.",
		"  Line two.\"\"\"",
		"  return x",
	}, "\n")
	got := StripSource(in)
	assert.NotContains(t, got, "Docstring")
	assert.NotContains(t, got, "Line two")
	assert.Contains(t, got, "  return x")

	single := "def g():\n  '''one-liner'''\n  return 1\n"
	got = StripSource(single)
	assert.NotContains(t, got, "one-liner")
	assert.Contains(t, got, "  return 1")
}

func TestStripSourceIdempotent(t *testing.T) {
	for _, h := range []*Helper{Listdir, ListdirStat, GetStat, RemoveFile, SendFileToHost} {
		once := StripSource(h.Source)
		assert.Equal(t, once, StripSource(once), h.Name)
	}
}

func TestHelperSourcesAreCallable(t *testing.T) {
	// Every helper's synthesised call source must define the function it
	// invokes before the trailer calls it.
	for _, h := range []*Helper{
		Listdir, ListdirStat, GetStat, GetMode, GetFilesize,
		MakeDirectory, RemoveFile, CopyFile, SetTime,
		RecvFileFromHost, SendFileToHost,
	} {
		src := string(h.CallSource([]any{"/x"}, nil))
		def := "def " + h.Name + "("
		call := "output = " + h.Name + "("
		require.Contains(t, src, def, h.Name)
		require.Contains(t, src, call, h.Name)
		assert.Less(t, strings.Index(src, def), strings.Index(src, call), h.Name)
	}
}
