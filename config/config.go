// Package config holds the engine's tunable options and the machinery
// to seed them from a YAML file and BOARDSH_* environment variables.
// Flag handling stays in the CLI; the engine only ever sees a populated
// Options value.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultBaud       = 115200
	DefaultBufferSize = 32
	DefaultChunkSize  = 64
	DefaultChunkWait  = Duration(500 * time.Millisecond)
	DefaultFollow     = Duration(20 * time.Second)
)

// Duration wraps time.Duration with YAML support for values like "500ms".
type Duration time.Duration

// UnmarshalYAML parses either a number of seconds or a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var f float64
	if err := node.Decode(&f); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	dd, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(dd)
	return nil
}

// MarshalYAML renders the duration in time.Duration notation.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Options carries everything the engine is configured with.
type Options struct {
	Port string `yaml:"port"` // serial device path; empty selects autoscan
	Baud int    `yaml:"baud"`
	Wait int    `yaml:"wait"` // seconds to wait for the port to appear

	BufferSize int      `yaml:"buffer_size"` // file-transfer window, bytes
	ChunkSize  int      `yaml:"chunk_size"`  // snippet upload chunk, bytes
	ChunkWait  Duration `yaml:"chunk_wait"`  // pause between chunks
	Follow     Duration `yaml:"follow_timeout"`

	Autoconnect bool   `yaml:"autoconnect"` // watch for boards coming and going
	Locale      string `yaml:"locale"`      // board firmware locale tag
	SyncTime    bool   `yaml:"sync_time"`   // set the board clock on attach

	Debug   bool `yaml:"debug"`
	Verbose bool `yaml:"verbose"`
}

// Default returns the baseline options.
func Default() Options {
	return Options{
		Baud:       DefaultBaud,
		BufferSize: DefaultBufferSize,
		ChunkSize:  DefaultChunkSize,
		ChunkWait:  DefaultChunkWait,
		Follow:     DefaultFollow,
	}
}

// Load layers a YAML config file over o. A missing file is not an error;
// a malformed one is.
func (o *Options) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, o); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv layers BOARDSH_* environment variables over o. Unparseable
// values are ignored so a stray variable cannot brick the tool.
func (o *Options) ApplyEnv() {
	if v, ok := os.LookupEnv("BOARDSH_PORT"); ok {
		o.Port = v
	}
	if v, ok := os.LookupEnv("BOARDSH_BAUD"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			o.Baud = n
		}
	}
	if v, ok := os.LookupEnv("BOARDSH_WAIT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			o.Wait = n
		}
	}
	if v, ok := os.LookupEnv("BOARDSH_BUFFER_SIZE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			o.BufferSize = n
		}
	}
	if v, ok := os.LookupEnv("BOARDSH_LOCALE"); ok {
		o.Locale = v
	}
	if v, ok := os.LookupEnv("BOARDSH_AUTOCONNECT"); ok {
		o.Autoconnect = v == "1" || v == "true"
	}
	if v, ok := os.LookupEnv("BOARDSH_SYNC_TIME"); ok {
		o.SyncTime = v == "1" || v == "true"
	}
	if v, ok := os.LookupEnv("BOARDSH_DEBUG"); ok {
		o.Debug = v == "1" || v == "true"
	}
}
