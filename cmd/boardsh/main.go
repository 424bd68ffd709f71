// Command boardsh is a shell for boards running CircuitPython: familiar
// file commands that work transparently on the host filesystem and on a
// board attached over serial USB.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/ardnew/boardsh/config"
	"github.com/ardnew/boardsh/hotplug"
	"github.com/ardnew/boardsh/pkg"
	"github.com/ardnew/boardsh/session"
)

// opts is the merged configuration: defaults, then config file, then
// environment, then flags.
var opts = config.Default()

var (
	flagConfig    string
	flagChunkWait float64
	supervisor    *hotplug.Supervisor
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "boardsh:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "boardsh",
		Short:         "remote shell for CircuitPython boards",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if supervisor != nil {
				supervisor.Stop()
			}
			if s := session.Current(); s != nil {
				s.Close()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.Port, "port", "p", opts.Port, "serial device of the board")
	pf.IntVarP(&opts.Baud, "baud", "b", opts.Baud, "baud rate of the serial device")
	pf.IntVarP(&opts.Wait, "wait", "w", opts.Wait, "seconds to wait for the port to exist")
	pf.IntVar(&opts.BufferSize, "buffer-size", opts.BufferSize, "file transfer buffer size")
	pf.IntVar(&opts.ChunkSize, "chunk-size", opts.ChunkSize, "snippet upload chunk size")
	pf.Float64Var(&flagChunkWait, "chunk-wait", opts.ChunkWait.Std().Seconds(), "pause between uploaded chunks, seconds")
	pf.StringVar(&opts.Locale, "locale", opts.Locale, "locale of the board firmware")
	pf.BoolVar(&opts.SyncTime, "sync-time", opts.SyncTime, "set the board clock on connect")
	pf.BoolVarP(&opts.Autoconnect, "autoconnect", "a", opts.Autoconnect, "attach boards as they are plugged in")
	pf.BoolVarP(&opts.Debug, "debug", "d", opts.Debug, "enable debug logging")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", opts.Verbose, "enable verbose logging")
	pf.StringVar(&flagConfig, "config", defaultConfigPath(), "config file")

	root.AddCommand(
		portsCmd(), lsCmd(), catCmd(), cpCmd(), rmCmd(), mkdirCmd(),
		rsyncCmd(), runCmd(), replCmd(),
	)
	return root
}

// setup layers configuration sources and installs logging, in flag
// precedence order: flags already hold their values, so file and
// environment fill only what the user did not pass explicitly.
func setup(cmd *cobra.Command) error {
	fromFile := config.Default()
	if err := fromFile.Load(flagConfig); err != nil {
		return err
	}
	fromFile.ApplyEnv()
	merge(cmd, &fromFile)

	if cmd.Root().PersistentFlags().Changed("chunk-wait") {
		opts.ChunkWait = config.Duration(time.Duration(flagChunkWait * float64(time.Second)))
	}

	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelInfo
	}
	if opts.Debug {
		level = slog.LevelDebug
	}
	pkg.SetLogLevel(level)
	pkg.SetLogger(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      pkg.LogLevelVar(),
		TimeFormat: time.Kitchen,
	})))

	if opts.Autoconnect {
		supervisor = &hotplug.Supervisor{Opts: opts}
		supervisor.Start()
	}
	return nil
}

// merge copies file/env values into opts for flags the user left alone.
func merge(cmd *cobra.Command, from *config.Options) {
	f := cmd.Root().PersistentFlags()
	if !f.Changed("port") {
		opts.Port = from.Port
	}
	if !f.Changed("baud") {
		opts.Baud = from.Baud
	}
	if !f.Changed("wait") {
		opts.Wait = from.Wait
	}
	if !f.Changed("buffer-size") {
		opts.BufferSize = from.BufferSize
	}
	if !f.Changed("chunk-size") {
		opts.ChunkSize = from.ChunkSize
	}
	if !f.Changed("chunk-wait") {
		opts.ChunkWait = from.ChunkWait
	}
	if !f.Changed("locale") {
		opts.Locale = from.Locale
	}
	if !f.Changed("sync-time") {
		opts.SyncTime = from.SyncTime
	}
	if !f.Changed("autoconnect") {
		opts.Autoconnect = from.Autoconnect
	}
	if !f.Changed("debug") {
		opts.Debug = from.Debug
	}
	if !f.Changed("verbose") {
		opts.Verbose = from.Verbose
	}
	opts.Follow = from.Follow // no flag sets it
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".boardsh.yaml"
	}
	return filepath.Join(dir, "boardsh", "config.yaml")
}

// ensureSession returns the attached session, attaching on demand: the
// configured port when one is set, otherwise the first enumerated
// adapter that looks like a board.
func ensureSession() (*session.Session, error) {
	if s := session.Current(); s != nil {
		return s, nil
	}
	if opts.Port != "" {
		return session.Attach(opts)
	}
	return hotplug.Autoscan(opts)
}
