package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeScalars(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "None"},
		{"true", true, "True"},
		{"false", false, "False"},
		{"int", 42, "42"},
		{"negative", -7, "-7"},
		{"int64", int64(1 << 40), "1099511627776"},
		{"float", 1.5, "1.5"},
		{"float integral", 2.0, "2.0"},
		{"string", "hello", "'hello'"},
		{"string escapes", "a'b\\c\r\n", `'a\'b\\c\r\n'`},
		{"string control", "\x01", `'\x01'`},
		{"opaque", func() {}, "None"},
		{"opaque struct", struct{ X int }{1}, "None"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Encode(tt.in))
		})
	}
}

func TestEncodeContainers(t *testing.T) {
	assert.Equal(t, "[]", Encode([]any{}))
	assert.Equal(t, "['flash', 'sd']", Encode([]string{"flash", "sd"}))
	assert.Equal(t, "[1, 'two', True]", Encode([]any{1, "two", true}))
	assert.Equal(t, "(1, 2)", Encode(Tuple{1, 2}))
	assert.Equal(t, "(1,)", Encode(Tuple{1}))
	assert.Equal(t, "()", Encode(Tuple{}))
	assert.Equal(t, "{'a': 1, 'b': [2]}", Encode(map[string]any{"b": []any{2}, "a": 1}))
}

func TestParseScalars(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"None", nil},
		{"True", true},
		{"False", false},
		{"42", int64(42)},
		{"-7", int64(-7)},
		{"1.5", 1.5},
		{"-2.5e3", -2500.0},
		{"'hello'", "hello"},
		{`"double"`, "double"},
		{`'a\'b\\c\r\n\x01'`, "a'b\\c\r\n\x01"},
		{"b'bytes'", "bytes"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseContainers(t *testing.T) {
	got, err := Parse([]byte("['flash', 'sd']\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []any{"flash", "sd"}, got)

	got, err = Parse([]byte("(16384, 0, 0, 1, 0, 0, 42, 0, 1700000000, 0)"))
	require.NoError(t, err)
	st, ok := got.(Tuple)
	require.True(t, ok)
	assert.Len(t, st, 10)
	assert.Equal(t, int64(16384), st[0])
	assert.Equal(t, int64(42), st[6])

	got, err = Parse([]byte("(1,)"))
	require.NoError(t, err)
	assert.Equal(t, Tuple{int64(1)}, got)

	got, err = Parse([]byte("[('a.py', (32768,)), ('b', (16384,))]"))
	require.NoError(t, err)
	pairs := got.([]any)
	require.Len(t, pairs, 2)
	assert.Equal(t, "a.py", pairs[0].(Tuple)[0])

	got, err = Parse([]byte("{'x': 1, 'y': None}"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": int64(1), "y": nil}, got)
}

func TestParseErrors(t *testing.T) {
	for _, in := range []string{
		"", "Nope", "'unterminated", "[1, 2", "{1: 2}", "{'a' 2}", "1 2", "<Pin board.LED>",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := Parse([]byte(in))
			assert.ErrorIs(t, err, ErrBadLiteral)
		})
	}
}

// Round-trip: anything Encode emits, Parse must read back to an equal
// value (modulo int width normalisation to int64).
func TestRoundTrip(t *testing.T) {
	values := []any{
		nil,
		true,
		int64(0),
		int64(-123456),
		3.25,
		"hello world",
		"tricky ' \\ \r\n # chars",
		[]any{int64(1), "two", false, nil},
		Tuple{int64(2024), int64(1), int64(2)},
		Tuple{int64(9)},
		map[string]any{"name": "board", "size": int64(1024), "sub": []any{"a"}},
	}
	for _, v := range values {
		got, err := Parse([]byte(Encode(v)))
		require.NoError(t, err, "value %#v", v)
		assert.Equal(t, v, got)
	}
}
